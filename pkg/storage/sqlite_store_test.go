package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/policyos/pkg/domain"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "policyos.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStoreImplementsStore(t *testing.T) {
	var _ Store = newTestSQLiteStore(t)
}

func TestSQLiteStoreDraftRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	_, err := store.GetDraft(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	draft := storedDraft("d-1", "m-1", base)
	draft.Spec.Triggers = []domain.PluginRef{{Name: "event", Params: map[string]any{"event_type": "app.open"}}}
	require.NoError(t, store.PutDraft(ctx, draft))

	got, err := store.GetDraft(ctx, "d-1")
	require.NoError(t, err)
	assert.Equal(t, draft.Spec.PolicyKey, got.Spec.PolicyKey)
	require.Len(t, got.Spec.Triggers, 1)
	assert.Equal(t, "app.open", got.Spec.Triggers[0].Params["event_type"])

	// Upsert replaces.
	draft.Status = domain.DraftStatusSubmitted
	require.NoError(t, store.PutDraft(ctx, draft))
	got, err = store.GetDraft(ctx, "d-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DraftStatusSubmitted, got.Status)

	require.NoError(t, store.PutDraft(ctx, storedDraft("d-2", "m-1", base.Add(time.Hour))))
	drafts, err := store.ListDrafts(ctx, "m-1")
	require.NoError(t, err)
	require.Len(t, drafts, 2)
	assert.Equal(t, "d-2", drafts[0].DraftID)
}

func TestSQLiteStoreApprovalsByDraft(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.PutApproval(ctx, &domain.Approval{ApprovalID: "a-1", DraftID: "d-1", ApprovedAt: base}))
	require.NoError(t, store.PutApproval(ctx, &domain.Approval{ApprovalID: "a-2", DraftID: "d-1", ApprovedAt: base.Add(time.Minute)}))

	newest, err := store.GetApprovalByDraft(ctx, "d-1")
	require.NoError(t, err)
	assert.Equal(t, "a-2", newest.ApprovalID)

	_, err = store.GetApprovalByDraft(ctx, "d-9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStoreVersionsAndIndex(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	maxVersion, err := store.MaxVersion(ctx, "promo")
	require.NoError(t, err)
	assert.Equal(t, 0, maxVersion)

	require.NoError(t, store.PutPolicy(ctx, storedPolicy("promo", 1, "m-1", base)))
	require.NoError(t, store.PutPolicy(ctx, storedPolicy("promo", 2, "m-1", base.Add(time.Hour))))

	maxVersion, err = store.MaxVersion(ctx, "promo")
	require.NoError(t, err)
	assert.Equal(t, 2, maxVersion)

	policies, err := store.ListPolicies(ctx, "m-1")
	require.NoError(t, err)
	require.Len(t, policies, 2)
	assert.Equal(t, "promo@v2", policies[0].PolicyID)

	index, err := store.PublishedIndex(ctx, "m-1")
	require.NoError(t, err)
	assert.Empty(t, index)

	require.NoError(t, store.SetPublishedIndex(ctx, "m-1", []string{"promo@v1", "promo@v2"}))
	index, err = store.PublishedIndex(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"promo@v1", "promo@v2"}, index)

	require.NoError(t, store.SetPublishedIndex(ctx, "m-1", nil))
	index, err = store.PublishedIndex(ctx, "m-1")
	require.NoError(t, err)
	assert.Empty(t, index)
}

func TestSQLiteStorePlansDecisionsResources(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	require.NoError(t, store.PutPlan(ctx, &domain.ExecutionPlan{
		PlanID:   "plan-1",
		PolicyID: "promo@v1",
		Steps:    []domain.PlanStep{{Kind: "action", Name: "voucher", Params: map[string]any{"value": 5.0}}},
	}))
	plan, err := store.GetPlan(ctx, "promo@v1")
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, 5.0, plan.Steps[0].Params["value"])

	decision := &domain.Decision{
		DecisionID: "dec-1",
		MerchantID: "m-1",
		Executed:   []string{"promo@v1"},
		Rejected:   []domain.Rejection{{PolicyID: "other@v1", Reason: "allocation:hard_exclusive_conflict"}},
	}
	require.NoError(t, store.PutDecision(ctx, decision))
	got, err := store.GetDecision(ctx, "dec-1")
	require.NoError(t, err)
	assert.Equal(t, decision.Executed, got.Executed)
	assert.Equal(t, decision.Rejected, got.Rejected)

	require.NoError(t, store.SetResource(ctx, "budget|m-1|promo", 7.5))
	value, ok, err := store.GetResource(ctx, "budget|m-1|promo")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 7.5, value)

	value, ok, err = store.GetResource(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0.0, value)
}
