package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/polisai/policyos/pkg/domain"
)

// MemoryStore is an in-memory implementation of Store. Save is a no-op.
type MemoryStore struct {
	mu        sync.RWMutex
	drafts    map[string]*domain.Draft
	approvals map[string]*domain.Approval
	policies  map[string]*domain.Policy
	plans     map[string]*domain.ExecutionPlan
	decisions map[string]*domain.Decision
	published map[string][]string
	resources map[string]float64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		drafts:    make(map[string]*domain.Draft),
		approvals: make(map[string]*domain.Approval),
		policies:  make(map[string]*domain.Policy),
		plans:     make(map[string]*domain.ExecutionPlan),
		decisions: make(map[string]*domain.Decision),
		published: make(map[string][]string),
		resources: make(map[string]float64),
	}
}

// GetDraft retrieves a draft by id.
func (s *MemoryStore) GetDraft(_ context.Context, draftID string) (*domain.Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	draft, ok := s.drafts[draftID]
	if !ok {
		return nil, fmt.Errorf("draft %s: %w", draftID, ErrNotFound)
	}
	return draft.Clone(), nil
}

// PutDraft stores a draft, replacing any previous record with the same id.
func (s *MemoryStore) PutDraft(_ context.Context, draft *domain.Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[draft.DraftID] = draft.Clone()
	return nil
}

// ListDrafts returns a merchant's drafts, newest-updated first.
func (s *MemoryStore) ListDrafts(_ context.Context, merchantID string) ([]*domain.Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Draft
	for _, draft := range s.drafts {
		if draft.MerchantID == merchantID {
			out = append(out, draft.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].DraftID < out[j].DraftID
	})
	return out, nil
}

// GetApproval retrieves an approval by id.
func (s *MemoryStore) GetApproval(_ context.Context, approvalID string) (*domain.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	approval, ok := s.approvals[approvalID]
	if !ok {
		return nil, fmt.Errorf("approval %s: %w", approvalID, ErrNotFound)
	}
	return approval.Clone(), nil
}

// GetApprovalByDraft returns the newest approval issued for a draft.
func (s *MemoryStore) GetApprovalByDraft(_ context.Context, draftID string) (*domain.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var newest *domain.Approval
	for _, approval := range s.approvals {
		if approval.DraftID != draftID {
			continue
		}
		if newest == nil || approval.ApprovedAt.After(newest.ApprovedAt) {
			newest = approval
		}
	}
	if newest == nil {
		return nil, fmt.Errorf("approval for draft %s: %w", draftID, ErrNotFound)
	}
	return newest.Clone(), nil
}

// PutApproval stores an approval record.
func (s *MemoryStore) PutApproval(_ context.Context, approval *domain.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approvals[approval.ApprovalID] = approval.Clone()
	return nil
}

// GetPolicy retrieves a published policy by its versioned id.
func (s *MemoryStore) GetPolicy(_ context.Context, policyID string) (*domain.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	policy, ok := s.policies[policyID]
	if !ok {
		return nil, fmt.Errorf("policy %s: %w", policyID, ErrNotFound)
	}
	return policy.Clone(), nil
}

// PutPolicy stores a published policy.
func (s *MemoryStore) PutPolicy(_ context.Context, policy *domain.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[policy.PolicyID] = policy.Clone()
	return nil
}

// ListPolicies returns every stored policy version for a merchant, newest
// published first.
func (s *MemoryStore) ListPolicies(_ context.Context, merchantID string) ([]*domain.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Policy
	for _, policy := range s.policies {
		if policy.ResourceScope.MerchantID == merchantID {
			out = append(out, policy.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PublishedAt.Equal(out[j].PublishedAt) {
			return out[i].PublishedAt.After(out[j].PublishedAt)
		}
		return out[i].PolicyID < out[j].PolicyID
	})
	return out, nil
}

// MaxVersion returns the highest stored version for a policy key.
func (s *MemoryStore) MaxVersion(_ context.Context, policyKey string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	maxVersion := 0
	for _, policy := range s.policies {
		if policy.PolicyKey == policyKey && policy.Version > maxVersion {
			maxVersion = policy.Version
		}
	}
	return maxVersion, nil
}

// PublishedIndex lists a merchant's published policy ids in publish order.
func (s *MemoryStore) PublishedIndex(_ context.Context, merchantID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.published[merchantID]...), nil
}

// SetPublishedIndex replaces a merchant's published index.
func (s *MemoryStore) SetPublishedIndex(_ context.Context, merchantID string, policyIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published[merchantID] = append([]string(nil), policyIDs...)
	return nil
}

// GetPlan retrieves the cached execution plan for a policy.
func (s *MemoryStore) GetPlan(_ context.Context, policyID string) (*domain.ExecutionPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	plan, ok := s.plans[policyID]
	if !ok {
		return nil, fmt.Errorf("plan for %s: %w", policyID, ErrNotFound)
	}
	cloned := *plan
	cloned.Steps = append([]domain.PlanStep(nil), plan.Steps...)
	return &cloned, nil
}

// PutPlan caches an execution plan keyed by policy id.
func (s *MemoryStore) PutPlan(_ context.Context, plan *domain.ExecutionPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cloned := *plan
	cloned.Steps = append([]domain.PlanStep(nil), plan.Steps...)
	s.plans[plan.PolicyID] = &cloned
	return nil
}

// GetDecision retrieves a stored decision by id.
func (s *MemoryStore) GetDecision(_ context.Context, decisionID string) (*domain.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	decision, ok := s.decisions[decisionID]
	if !ok {
		return nil, fmt.Errorf("decision %s: %w", decisionID, ErrNotFound)
	}
	cloned := *decision
	return &cloned, nil
}

// PutDecision stores a decision record.
func (s *MemoryStore) PutDecision(_ context.Context, decision *domain.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cloned := *decision
	s.decisions[decision.DecisionID] = &cloned
	return nil
}

// GetResource reads a shared resource counter.
func (s *MemoryStore) GetResource(_ context.Context, key string) (float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.resources[key]
	return value, ok, nil
}

// SetResource writes a shared resource counter.
func (s *MemoryStore) SetResource(_ context.Context, key string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[key] = value
	return nil
}

// Save is a no-op for the memory store.
func (s *MemoryStore) Save(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error { return nil }
