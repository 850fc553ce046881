package storage

import (
	"context"
	"errors"

	"github.com/polisai/policyos/pkg/domain"
)

// ErrNotFound is returned when a requested record does not exist in the store.
var ErrNotFound = errors.New("record not found")

// Store is the persistent state container consumed by the policy registry and
// the decision engine. Implementations must return deep copies from getters;
// callers own what they receive.
//
// Save flushes any buffered state. The core calls it after every mutation;
// durability and fan-out are the implementation's problem.
type Store interface {
	GetDraft(ctx context.Context, draftID string) (*domain.Draft, error)
	PutDraft(ctx context.Context, draft *domain.Draft) error
	ListDrafts(ctx context.Context, merchantID string) ([]*domain.Draft, error)

	GetApproval(ctx context.Context, approvalID string) (*domain.Approval, error)
	// GetApprovalByDraft returns the newest approval issued for a draft.
	// At most one live approval exists per draft because re-approval requires
	// the draft to pass through SUBMITTED again.
	GetApprovalByDraft(ctx context.Context, draftID string) (*domain.Approval, error)
	PutApproval(ctx context.Context, approval *domain.Approval) error

	GetPolicy(ctx context.Context, policyID string) (*domain.Policy, error)
	PutPolicy(ctx context.Context, policy *domain.Policy) error
	ListPolicies(ctx context.Context, merchantID string) ([]*domain.Policy, error)
	// MaxVersion returns the highest published version for a policy key, or
	// zero when no version exists.
	MaxVersion(ctx context.Context, policyKey string) (int, error)

	// PublishedIndex lists the policy ids currently indexed as published for
	// a merchant, in publish order.
	PublishedIndex(ctx context.Context, merchantID string) ([]string, error)
	SetPublishedIndex(ctx context.Context, merchantID string, policyIDs []string) error

	GetPlan(ctx context.Context, policyID string) (*domain.ExecutionPlan, error)
	PutPlan(ctx context.Context, plan *domain.ExecutionPlan) error

	GetDecision(ctx context.Context, decisionID string) (*domain.Decision, error)
	PutDecision(ctx context.Context, decision *domain.Decision) error

	// Resource counters are the shared mutable state behind budget and
	// frequency constraint plugins.
	GetResource(ctx context.Context, key string) (float64, bool, error)
	SetResource(ctx context.Context, key string, value float64) error

	Save(ctx context.Context) error
	Close() error
}
