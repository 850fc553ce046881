package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/policyos/pkg/domain"
)

func storedDraft(id, merchant string, updated time.Time) *domain.Draft {
	return &domain.Draft{
		DraftID:    id,
		MerchantID: merchant,
		Status:     domain.DraftStatusDraft,
		Spec: domain.PolicySpec{
			PolicyKey:     "k-" + id,
			ResourceScope: domain.ResourceScope{MerchantID: merchant},
		},
		UpdatedAt: updated,
	}
}

func storedPolicy(key string, version int, merchant string, published time.Time) *domain.Policy {
	return &domain.Policy{
		PolicySpec: domain.PolicySpec{
			PolicyKey:     key,
			ResourceScope: domain.ResourceScope{MerchantID: merchant},
		},
		PolicyID:    domain.PolicyID(key, version),
		Version:     version,
		Status:      domain.PolicyPublished,
		PublishedAt: published,
	}
}

func TestMemoryStoreDrafts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	_, err := store.GetDraft(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.PutDraft(ctx, storedDraft("d-1", "m-1", base)))
	require.NoError(t, store.PutDraft(ctx, storedDraft("d-2", "m-1", base.Add(time.Hour))))
	require.NoError(t, store.PutDraft(ctx, storedDraft("d-3", "m-2", base)))

	got, err := store.GetDraft(ctx, "d-1")
	require.NoError(t, err)
	assert.Equal(t, "m-1", got.MerchantID)

	drafts, err := store.ListDrafts(ctx, "m-1")
	require.NoError(t, err)
	require.Len(t, drafts, 2)
	assert.Equal(t, "d-2", drafts[0].DraftID, "newest-updated first")
}

func TestMemoryStoreGetReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	draft := storedDraft("d-1", "m-1", time.Now())
	require.NoError(t, store.PutDraft(ctx, draft))

	got, err := store.GetDraft(ctx, "d-1")
	require.NoError(t, err)
	got.Status = domain.DraftStatusPublished

	again, err := store.GetDraft(ctx, "d-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DraftStatusDraft, again.Status, "mutating a copy must not leak into the store")
}

func TestMemoryStoreApprovals(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	_, err := store.GetApprovalByDraft(ctx, "d-1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.PutApproval(ctx, &domain.Approval{
		ApprovalID: "a-1", DraftID: "d-1", ApprovedAt: base,
	}))
	require.NoError(t, store.PutApproval(ctx, &domain.Approval{
		ApprovalID: "a-2", DraftID: "d-1", ApprovedAt: base.Add(time.Minute),
	}))

	newest, err := store.GetApprovalByDraft(ctx, "d-1")
	require.NoError(t, err)
	assert.Equal(t, "a-2", newest.ApprovalID)
}

func TestMemoryStorePoliciesAndVersions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	maxVersion, err := store.MaxVersion(ctx, "promo")
	require.NoError(t, err)
	assert.Equal(t, 0, maxVersion)

	require.NoError(t, store.PutPolicy(ctx, storedPolicy("promo", 1, "m-1", base)))
	require.NoError(t, store.PutPolicy(ctx, storedPolicy("promo", 2, "m-1", base.Add(time.Hour))))
	require.NoError(t, store.PutPolicy(ctx, storedPolicy("other", 1, "m-1", base)))

	maxVersion, err = store.MaxVersion(ctx, "promo")
	require.NoError(t, err)
	assert.Equal(t, 2, maxVersion)

	policies, err := store.ListPolicies(ctx, "m-1")
	require.NoError(t, err)
	require.Len(t, policies, 3)
	assert.Equal(t, "promo@v2", policies[0].PolicyID, "newest published first")
}

func TestMemoryStorePublishedIndex(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	index, err := store.PublishedIndex(ctx, "m-1")
	require.NoError(t, err)
	assert.Empty(t, index)

	require.NoError(t, store.SetPublishedIndex(ctx, "m-1", []string{"a@v1", "b@v1"}))
	index, err = store.PublishedIndex(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a@v1", "b@v1"}, index)

	// Returned slice is a copy.
	index[0] = "mutated"
	again, err := store.PublishedIndex(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, "a@v1", again[0])
}

func TestMemoryStorePlansAndDecisions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.GetPlan(ctx, "promo@v1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetDecision(ctx, "dec-1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.PutPlan(ctx, &domain.ExecutionPlan{
		PlanID:   "plan-1",
		PolicyID: "promo@v1",
		Steps:    []domain.PlanStep{{Kind: "action", Name: "voucher"}},
	}))
	plan, err := store.GetPlan(ctx, "promo@v1")
	require.NoError(t, err)
	assert.Len(t, plan.Steps, 1)

	require.NoError(t, store.PutDecision(ctx, &domain.Decision{DecisionID: "dec-1", MerchantID: "m-1"}))
	decision, err := store.GetDecision(ctx, "dec-1")
	require.NoError(t, err)
	assert.Equal(t, "m-1", decision.MerchantID)
}

func TestMemoryStoreResources(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	value, ok, err := store.GetResource(ctx, "budget|m-1|promo")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0.0, value)

	require.NoError(t, store.SetResource(ctx, "budget|m-1|promo", 12.5))
	value, ok, err = store.GetResource(ctx, "budget|m-1|promo")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 12.5, value)
}
