package policy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/polisai/policyos/pkg/approval"
	"github.com/polisai/policyos/pkg/domain"
	"github.com/polisai/policyos/pkg/schema"
	"github.com/polisai/policyos/pkg/storage"
)

// ScopePublish is the token scope required to publish a draft.
const ScopePublish = "publish"

// PlanCompiler compiles a published policy into its cached execution plan.
// The decision engine's execution adapter satisfies this.
type PlanCompiler interface {
	Compile(policy *domain.Policy, traceID string) (*domain.ExecutionPlan, error)
}

// Registry drives the policy lifecycle state machine.
type Registry struct {
	store    storage.Store
	schemas  *schema.Registry
	tokens   *approval.Service
	compiler PlanCompiler
	clock    domain.Clock
	ids      domain.IDGenerator
	logger   *slog.Logger
}

// Config holds the collaborators a Registry needs.
type Config struct {
	Store    storage.Store
	Schemas  *schema.Registry
	Tokens   *approval.Service
	Compiler PlanCompiler
	Clock    domain.Clock
	IDs      domain.IDGenerator
	Logger   *slog.Logger
}

// NewRegistry creates a lifecycle registry. Clock, IDs, and Logger default
// to the system implementations when nil.
func NewRegistry(cfg Config) *Registry {
	clock := cfg.Clock
	if clock == nil {
		clock = domain.SystemClock{}
	}
	ids := cfg.IDs
	if ids == nil {
		ids = domain.UUIDGenerator{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:    cfg.Store,
		schemas:  cfg.Schemas,
		tokens:   cfg.Tokens,
		compiler: cfg.Compiler,
		clock:    clock,
		ids:      ids,
		logger:   logger,
	}
}

// CreateDraft validates a raw specification payload and, if it passes, files
// a new draft for the merchant. The spec's resource scope must name the
// calling merchant.
func (r *Registry) CreateDraft(ctx context.Context, merchantID, operatorID string, payload any, templateID string) (*domain.Draft, error) {
	spec, err := r.schemas.ValidateSpec(payload)
	if err != nil {
		return nil, err
	}
	if spec.ResourceScope.MerchantID != merchantID {
		return nil, fmt.Errorf("spec targets merchant %s: %w", spec.ResourceScope.MerchantID, domain.ErrMerchantScope)
	}

	now := r.clock.Now()
	draft := &domain.Draft{
		DraftID:    r.ids.NewID(),
		MerchantID: merchantID,
		TemplateID: templateID,
		Status:     domain.DraftStatusDraft,
		Spec:       *spec,
		CreatedBy:  operatorID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.store.PutDraft(ctx, draft); err != nil {
		return nil, err
	}
	if err := r.store.Save(ctx); err != nil {
		return nil, err
	}
	r.logger.Info("draft created",
		"draft_id", draft.DraftID,
		"merchant_id", merchantID,
		"policy_key", spec.PolicyKey,
	)
	return draft.Clone(), nil
}

// SubmitDraft moves a DRAFT or REJECTED draft to SUBMITTED.
func (r *Registry) SubmitDraft(ctx context.Context, merchantID, operatorID, draftID string) (*domain.Draft, error) {
	draft, err := r.ownedDraft(ctx, merchantID, draftID)
	if err != nil {
		return nil, err
	}
	if draft.Status != domain.DraftStatusDraft && draft.Status != domain.DraftStatusRejected {
		return nil, fmt.Errorf("draft %s in state %s: %w", draftID, draft.Status, domain.ErrDraftNotSubmittable)
	}

	now := r.clock.Now()
	draft.Status = domain.DraftStatusSubmitted
	draft.SubmittedBy = operatorID
	draft.SubmittedAt = &now
	draft.UpdatedAt = now
	if err := r.persistDraft(ctx, draft); err != nil {
		return nil, err
	}
	r.logger.Info("draft submitted", "draft_id", draftID, "merchant_id", merchantID)
	return draft.Clone(), nil
}

// RejectDraft moves a SUBMITTED draft back to REJECTED with a reviewer note.
func (r *Registry) RejectDraft(ctx context.Context, merchantID, reviewerID, draftID, note string) (*domain.Draft, error) {
	draft, err := r.ownedDraft(ctx, merchantID, draftID)
	if err != nil {
		return nil, err
	}
	if draft.Status != domain.DraftStatusSubmitted {
		return nil, fmt.Errorf("draft %s in state %s: %w", draftID, draft.Status, domain.ErrDraftNotSubmitted)
	}

	now := r.clock.Now()
	draft.Status = domain.DraftStatusRejected
	draft.RejectedBy = reviewerID
	draft.RejectedAt = &now
	draft.RejectNote = note
	draft.UpdatedAt = now
	if err := r.persistDraft(ctx, draft); err != nil {
		return nil, err
	}
	r.logger.Info("draft rejected", "draft_id", draftID, "merchant_id", merchantID)
	return draft.Clone(), nil
}

// ApproveDraft moves a SUBMITTED draft to APPROVED and issues a single-use
// approval record carrying a freshly signed publish-scoped token.
func (r *Registry) ApproveDraft(ctx context.Context, merchantID, approverID, draftID, approvalLevel string) (*domain.Approval, error) {
	draft, err := r.ownedDraft(ctx, merchantID, draftID)
	if err != nil {
		return nil, err
	}
	if draft.Status != domain.DraftStatusSubmitted {
		return nil, fmt.Errorf("draft %s in state %s: %w", draftID, draft.Status, domain.ErrDraftNotSubmitted)
	}

	ttl := time.Duration(draft.Spec.Governance.ApprovalTokenTTLSec) * time.Second
	token, claims, err := r.tokens.IssueToken(approval.IssueRequest{
		MerchantID:    merchantID,
		DraftID:       draftID,
		ApproverID:    approverID,
		ApprovalLevel: approvalLevel,
		Scopes:        []string{ScopePublish},
		TTL:           ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("issue approval token: %w", err)
	}

	now := r.clock.Now()
	record := &domain.Approval{
		ApprovalID:    r.ids.NewID(),
		DraftID:       draftID,
		MerchantID:    merchantID,
		ApprovalLevel: approvalLevel,
		ApproverID:    approverID,
		Token:         token,
		Status:        domain.ApprovalStatusApproved,
		ApprovedAt:    now,
		ExpiresAt:     time.Unix(claims.ExpiresAt, 0).UTC(),
	}
	if err := r.store.PutApproval(ctx, record); err != nil {
		return nil, err
	}

	draft.Status = domain.DraftStatusApproved
	draft.ApprovedBy = approverID
	draft.ApprovedAt = &now
	draft.UpdatedAt = now
	if err := r.persistDraft(ctx, draft); err != nil {
		return nil, err
	}
	r.logger.Info("draft approved",
		"draft_id", draftID,
		"merchant_id", merchantID,
		"approval_id", record.ApprovalID,
		"approval_level", approvalLevel,
	)
	return record.Clone(), nil
}

// PublishDraft consumes an approval (by id or by bearer token) and turns an
// APPROVED draft into the next published version of its policy key.
func (r *Registry) PublishDraft(ctx context.Context, merchantID, operatorID, draftID, approvalID, approvalToken string) (*domain.Policy, error) {
	draft, err := r.ownedDraft(ctx, merchantID, draftID)
	if err != nil {
		return nil, err
	}
	if draft.Status != domain.DraftStatusApproved {
		return nil, fmt.Errorf("draft %s in state %s: %w", draftID, draft.Status, domain.ErrDraftNotApproved)
	}

	record, err := r.resolveApproval(ctx, merchantID, draftID, approvalID, approvalToken)
	if err != nil {
		return nil, err
	}

	now := r.clock.Now()

	maxVersion, err := r.store.MaxVersion(ctx, draft.Spec.PolicyKey)
	if err != nil {
		return nil, err
	}
	version := maxVersion + 1

	published := &domain.Policy{
		PolicySpec:    draft.Spec.Clone(),
		PolicyID:      domain.PolicyID(draft.Spec.PolicyKey, version),
		Version:       version,
		Status:        domain.PolicyPublished,
		PublishedAt:   now,
		ExpiresAt:     now.Add(time.Duration(draft.Spec.Program.TTLSec) * time.Second),
		SourceDraftID: draftID,
	}

	// Consume the approval before anything becomes visible; a concurrent
	// publish attempt on the same approval must lose here.
	record.Status = domain.ApprovalStatusPublished
	record.UsedAt = &now
	if err := r.store.PutApproval(ctx, record); err != nil {
		return nil, err
	}

	if err := r.store.PutPolicy(ctx, published); err != nil {
		return nil, err
	}

	plan, err := r.compiler.Compile(published, published.PolicyID)
	if err != nil {
		return nil, fmt.Errorf("compile execution plan: %w", err)
	}
	if err := r.store.PutPlan(ctx, plan); err != nil {
		return nil, err
	}

	index, err := r.store.PublishedIndex(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	if err := r.store.SetPublishedIndex(ctx, merchantID, append(index, published.PolicyID)); err != nil {
		return nil, err
	}

	draft.Status = domain.DraftStatusPublished
	draft.PublishedAt = &now
	draft.UpdatedAt = now
	if err := r.persistDraft(ctx, draft); err != nil {
		return nil, err
	}

	r.logger.Info("draft published",
		"draft_id", draftID,
		"merchant_id", merchantID,
		"policy_id", published.PolicyID,
		"version", version,
		"expires_at", published.ExpiresAt,
		"operator_id", operatorID,
	)
	return published.Clone(), nil
}

// resolveApproval locates and vets the approval being consumed, either by id
// or by verifying the bearer token against the token service.
func (r *Registry) resolveApproval(ctx context.Context, merchantID, draftID, approvalID, approvalToken string) (*domain.Approval, error) {
	var record *domain.Approval
	var err error

	switch {
	case approvalID != "":
		record, err = r.store.GetApproval(ctx, approvalID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", approvalID, domain.ErrApprovalNotFound)
		}
		if record.MerchantID != merchantID || record.DraftID != draftID {
			return nil, domain.ErrApprovalMismatch
		}
		if !r.clock.Now().Before(record.ExpiresAt) {
			return nil, domain.ErrApprovalExpired
		}
	case approvalToken != "":
		if _, err := r.tokens.VerifyToken(approvalToken, approval.VerifyOptions{
			ExpectedMerchantID: merchantID,
			ExpectedDraftID:    draftID,
			ExpectedScope:      ScopePublish,
		}); err != nil {
			return nil, err
		}
		record, err = r.store.GetApprovalByDraft(ctx, draftID)
		if err != nil {
			return nil, fmt.Errorf("draft %s: %w", draftID, domain.ErrApprovalNotFound)
		}
		if record.Token != approvalToken {
			return nil, domain.ErrApprovalMismatch
		}
	default:
		return nil, domain.ErrTokenRequired
	}

	if record.Status != domain.ApprovalStatusApproved || record.UsedAt != nil {
		return nil, domain.ErrApprovalUsed
	}
	return record, nil
}

// ListActivePolicies sweeps the merchant's published index, retiring any
// policy whose expires_at has passed, then returns the remaining published
// policies in publish order.
func (r *Registry) ListActivePolicies(ctx context.Context, merchantID string) ([]*domain.Policy, error) {
	index, err := r.store.PublishedIndex(ctx, merchantID)
	if err != nil {
		return nil, err
	}

	now := r.clock.Now()
	var active []*domain.Policy
	remaining := make([]string, 0, len(index))
	swept := false

	for _, policyID := range index {
		p, err := r.store.GetPolicy(ctx, policyID)
		if err != nil {
			return nil, err
		}
		if !p.ExpiresAt.After(now) {
			p.Status = domain.PolicyExpired
			if err := r.store.PutPolicy(ctx, p); err != nil {
				return nil, err
			}
			swept = true
			r.logger.Info("policy expired", "policy_id", policyID, "merchant_id", merchantID)
			continue
		}
		remaining = append(remaining, policyID)
		active = append(active, p)
	}

	if swept {
		if err := r.store.SetPublishedIndex(ctx, merchantID, remaining); err != nil {
			return nil, err
		}
		if err := r.store.Save(ctx); err != nil {
			return nil, err
		}
	}
	return active, nil
}

// ListDrafts returns a merchant's drafts, newest-updated first.
func (r *Registry) ListDrafts(ctx context.Context, merchantID string) ([]*domain.Draft, error) {
	return r.store.ListDrafts(ctx, merchantID)
}

// ListPolicies returns a merchant's published policy versions, newest first.
// Expired versions are included only when includeInactive is set.
func (r *Registry) ListPolicies(ctx context.Context, merchantID string, includeInactive bool) ([]*domain.Policy, error) {
	policies, err := r.store.ListPolicies(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	if includeInactive {
		return policies, nil
	}
	filtered := policies[:0]
	for _, p := range policies {
		if p.Status == domain.PolicyPublished {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}

// GetDraft returns one of the merchant's drafts.
func (r *Registry) GetDraft(ctx context.Context, merchantID, draftID string) (*domain.Draft, error) {
	return r.ownedDraft(ctx, merchantID, draftID)
}

// GetExecutionPlan returns the cached plan compiled at publish time.
func (r *Registry) GetExecutionPlan(ctx context.Context, policyID string) (*domain.ExecutionPlan, error) {
	plan, err := r.store.GetPlan(ctx, policyID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", policyID, domain.ErrPlanNotFound)
	}
	return plan, nil
}

func (r *Registry) ownedDraft(ctx context.Context, merchantID, draftID string) (*domain.Draft, error) {
	draft, err := r.store.GetDraft(ctx, draftID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", draftID, domain.ErrDraftNotFound)
	}
	if draft.MerchantID != merchantID {
		return nil, fmt.Errorf("draft %s belongs to another merchant: %w", draftID, domain.ErrMerchantScope)
	}
	return draft, nil
}

func (r *Registry) persistDraft(ctx context.Context, draft *domain.Draft) error {
	if err := r.store.PutDraft(ctx, draft); err != nil {
		return err
	}
	return r.store.Save(ctx)
}
