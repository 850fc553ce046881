package policy

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/polisai/policyos/pkg/approval"
	"github.com/polisai/policyos/pkg/domain"
	"github.com/polisai/policyos/pkg/schema"
	"github.com/polisai/policyos/pkg/storage"
)

const testMerchant = "m-1"

// stubCompiler counts compilations and emits a plan per policy.
type stubCompiler struct {
	compiled int
	fail     bool
}

func (c *stubCompiler) Compile(p *domain.Policy, traceID string) (*domain.ExecutionPlan, error) {
	if c.fail {
		return nil, fmt.Errorf("compiler unavailable")
	}
	c.compiled++
	return &domain.ExecutionPlan{
		PlanID:   fmt.Sprintf("plan-%d", c.compiled),
		PolicyID: p.PolicyID,
		Steps:    []domain.PlanStep{{Kind: "action", Name: "voucher"}},
	}, nil
}

type testHarness struct {
	registry *Registry
	store    *storage.MemoryStore
	tokens   *approval.Service
	compiler *stubCompiler
	now      time.Time
}

// advance moves the harness clock; the registry sees the new time on its
// next call.
func (h *testHarness) advance(d time.Duration) { h.now = h.now.Add(d) }

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	return mustHarness()
}

// mustHarness builds a harness without a *testing.T so property tests can
// construct fresh state per iteration.
func mustHarness() *testHarness {
	schemas, err := schema.NewRegistry()
	if err != nil {
		panic(err)
	}

	h := &testHarness{
		store:    storage.NewMemoryStore(),
		compiler: &stubCompiler{},
		now:      time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	clock := domain.ClockFunc(func() time.Time { return h.now })
	h.tokens = approval.NewService([]byte("lifecycle-test-secret"), clock)
	h.registry = NewRegistry(Config{
		Store:    h.store,
		Schemas:  schemas,
		Tokens:   h.tokens,
		Compiler: h.compiler,
		Clock:    clock,
		IDs:      domain.SequenceIDs("id"),
	})
	return h
}

func specPayload(key string) map[string]any {
	return map[string]any{
		"policy_key": key,
		"name":       "Policy " + key,
		"lane":       "NORMAL",
		"segment":    map[string]any{"name": "all"},
		"triggers": []any{
			map[string]any{"name": "event", "params": map[string]any{"event_type": "app.open"}},
		},
		"program": map[string]any{"ttl_sec": 3600},
		"actions": []any{
			map[string]any{"name": "voucher", "params": map[string]any{"value": 5}},
		},
		"scoring":        map[string]any{"name": "weighted"},
		"resource_scope": map[string]any{"merchant_id": testMerchant},
	}
}

// publishNew drives one payload through the full lifecycle.
func publishNew(t *testing.T, h *testHarness, key string) *domain.Policy {
	t.Helper()
	ctx := context.Background()

	draft, err := h.registry.CreateDraft(ctx, testMerchant, "op", specPayload(key), "")
	require.NoError(t, err)
	_, err = h.registry.SubmitDraft(ctx, testMerchant, "op", draft.DraftID)
	require.NoError(t, err)
	granted, err := h.registry.ApproveDraft(ctx, testMerchant, "approver", draft.DraftID, "single")
	require.NoError(t, err)
	published, err := h.registry.PublishDraft(ctx, testMerchant, "op", draft.DraftID, granted.ApprovalID, "")
	require.NoError(t, err)
	return published
}

func TestCreateDraftValidates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	draft, err := h.registry.CreateDraft(ctx, testMerchant, "op", specPayload("promo"), "tpl-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DraftStatusDraft, draft.Status)
	assert.Equal(t, "tpl-1", draft.TemplateID)
	assert.Equal(t, "op", draft.CreatedBy)
	assert.Equal(t, domain.TieUtilityDesc, draft.Spec.TieBreaker, "defaults applied")

	payload := specPayload("promo")
	delete(payload, "name")
	_, err = h.registry.CreateDraft(ctx, testMerchant, "op", payload, "")
	_, ok := domain.IsSchemaError(err)
	assert.True(t, ok)
}

func TestCreateDraftRejectsForeignMerchantScope(t *testing.T) {
	h := newHarness(t)

	payload := specPayload("promo")
	payload["resource_scope"] = map[string]any{"merchant_id": "someone-else"}
	_, err := h.registry.CreateDraft(context.Background(), testMerchant, "op", payload, "")
	assert.ErrorIs(t, err, domain.ErrMerchantScope)
}

func TestDraftOwnership(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	draft, err := h.registry.CreateDraft(ctx, testMerchant, "op", specPayload("promo"), "")
	require.NoError(t, err)

	_, err = h.registry.SubmitDraft(ctx, "m-2", "op", draft.DraftID)
	assert.ErrorIs(t, err, domain.ErrMerchantScope)

	_, err = h.registry.SubmitDraft(ctx, testMerchant, "op", "no-such-draft")
	assert.ErrorIs(t, err, domain.ErrDraftNotFound)
}

func TestSubmitRejectResubmitCycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	draft, err := h.registry.CreateDraft(ctx, testMerchant, "op", specPayload("promo"), "")
	require.NoError(t, err)

	submitted, err := h.registry.SubmitDraft(ctx, testMerchant, "op", draft.DraftID)
	require.NoError(t, err)
	assert.Equal(t, domain.DraftStatusSubmitted, submitted.Status)

	// Submitting twice is not allowed.
	_, err = h.registry.SubmitDraft(ctx, testMerchant, "op", draft.DraftID)
	assert.ErrorIs(t, err, domain.ErrDraftNotSubmittable)

	rejected, err := h.registry.RejectDraft(ctx, testMerchant, "reviewer", draft.DraftID, "budget too high")
	require.NoError(t, err)
	assert.Equal(t, domain.DraftStatusRejected, rejected.Status)
	assert.Equal(t, "budget too high", rejected.RejectNote)

	// A rejected draft can go around again.
	_, err = h.registry.SubmitDraft(ctx, testMerchant, "op", draft.DraftID)
	assert.NoError(t, err)
}

func TestApproveRequiresSubmitted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	draft, err := h.registry.CreateDraft(ctx, testMerchant, "op", specPayload("promo"), "")
	require.NoError(t, err)

	_, err = h.registry.ApproveDraft(ctx, testMerchant, "approver", draft.DraftID, "single")
	assert.ErrorIs(t, err, domain.ErrDraftNotSubmitted)
	_, err = h.registry.RejectDraft(ctx, testMerchant, "reviewer", draft.DraftID, "")
	assert.ErrorIs(t, err, domain.ErrDraftNotSubmitted)
}

func TestApproveIssuesPublishToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	draft, err := h.registry.CreateDraft(ctx, testMerchant, "op", specPayload("promo"), "")
	require.NoError(t, err)
	_, err = h.registry.SubmitDraft(ctx, testMerchant, "op", draft.DraftID)
	require.NoError(t, err)

	granted, err := h.registry.ApproveDraft(ctx, testMerchant, "approver", draft.DraftID, "dual")
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalStatusApproved, granted.Status)
	assert.Equal(t, "dual", granted.ApprovalLevel)
	// Spec default TTL is 300s.
	assert.Equal(t, h.now.Add(300*time.Second), granted.ExpiresAt)

	claims, err := h.tokens.VerifyToken(granted.Token, approval.VerifyOptions{
		ExpectedMerchantID: testMerchant,
		ExpectedDraftID:    draft.DraftID,
		ExpectedScope:      ScopePublish,
	})
	require.NoError(t, err)
	assert.Equal(t, "approver", claims.ApproverID)
}

func TestPublishLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	published := publishNew(t, h, "promo")
	assert.Equal(t, "promo@v1", published.PolicyID)
	assert.Equal(t, 1, published.Version)
	assert.Equal(t, domain.PolicyPublished, published.Status)
	assert.Equal(t, h.now.Add(time.Hour), published.ExpiresAt)

	plan, err := h.registry.GetExecutionPlan(ctx, published.PolicyID)
	require.NoError(t, err)
	assert.Equal(t, published.PolicyID, plan.PolicyID)

	active, err := h.registry.ListActivePolicies(ctx, testMerchant)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "promo@v1", active[0].PolicyID)

	// Same key again gets the next version; both stay active.
	again := publishNew(t, h, "promo")
	assert.Equal(t, "promo@v2", again.PolicyID)

	active, err = h.registry.ListActivePolicies(ctx, testMerchant)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestPublishRequiresApprovedDraft(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	draft, err := h.registry.CreateDraft(ctx, testMerchant, "op", specPayload("promo"), "")
	require.NoError(t, err)

	_, err = h.registry.PublishDraft(ctx, testMerchant, "op", draft.DraftID, "any", "")
	assert.ErrorIs(t, err, domain.ErrDraftNotApproved)
}

func TestPublishRequiresApprovalOrToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	draft, err := h.registry.CreateDraft(ctx, testMerchant, "op", specPayload("promo"), "")
	require.NoError(t, err)
	_, err = h.registry.SubmitDraft(ctx, testMerchant, "op", draft.DraftID)
	require.NoError(t, err)
	_, err = h.registry.ApproveDraft(ctx, testMerchant, "approver", draft.DraftID, "single")
	require.NoError(t, err)

	_, err = h.registry.PublishDraft(ctx, testMerchant, "op", draft.DraftID, "", "")
	assert.ErrorIs(t, err, domain.ErrTokenRequired)
}

func TestPublishByToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	draft, err := h.registry.CreateDraft(ctx, testMerchant, "op", specPayload("promo"), "")
	require.NoError(t, err)
	_, err = h.registry.SubmitDraft(ctx, testMerchant, "op", draft.DraftID)
	require.NoError(t, err)
	granted, err := h.registry.ApproveDraft(ctx, testMerchant, "approver", draft.DraftID, "single")
	require.NoError(t, err)

	published, err := h.registry.PublishDraft(ctx, testMerchant, "op", draft.DraftID, "", granted.Token)
	require.NoError(t, err)
	assert.Equal(t, "promo@v1", published.PolicyID)
}

func TestPublishByForeignTokenFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	draft, err := h.registry.CreateDraft(ctx, testMerchant, "op", specPayload("promo"), "")
	require.NoError(t, err)
	_, err = h.registry.SubmitDraft(ctx, testMerchant, "op", draft.DraftID)
	require.NoError(t, err)
	_, err = h.registry.ApproveDraft(ctx, testMerchant, "approver", draft.DraftID, "single")
	require.NoError(t, err)

	// A token for some other draft must not publish this one.
	foreign, _, err := h.tokens.IssueToken(approval.IssueRequest{
		MerchantID: testMerchant,
		DraftID:    "other-draft",
		Scopes:     []string{ScopePublish},
		TTL:        time.Minute,
	})
	require.NoError(t, err)

	_, err = h.registry.PublishDraft(ctx, testMerchant, "op", draft.DraftID, "", foreign)
	assert.ErrorIs(t, err, domain.ErrTokenMismatch)
}

func TestPublishApprovalMismatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := publishNew(t, h, "first")

	draft, err := h.registry.CreateDraft(ctx, testMerchant, "op", specPayload("second"), "")
	require.NoError(t, err)
	_, err = h.registry.SubmitDraft(ctx, testMerchant, "op", draft.DraftID)
	require.NoError(t, err)
	_, err = h.registry.ApproveDraft(ctx, testMerchant, "approver", draft.DraftID, "single")
	require.NoError(t, err)

	// Approval id belonging to the already-published first draft.
	used, err := h.store.GetApprovalByDraft(ctx, first.SourceDraftID)
	require.NoError(t, err)
	_, err = h.registry.PublishDraft(ctx, testMerchant, "op", draft.DraftID, used.ApprovalID, "")
	assert.ErrorIs(t, err, domain.ErrApprovalMismatch)
}

func TestPublishConsumesApproval(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	published := publishNew(t, h, "promo")

	record, err := h.store.GetApprovalByDraft(ctx, published.SourceDraftID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalStatusPublished, record.Status)
	require.NotNil(t, record.UsedAt)

	// Force the draft back to APPROVED; the consumed approval still refuses.
	draft, err := h.store.GetDraft(ctx, published.SourceDraftID)
	require.NoError(t, err)
	draft.Status = domain.DraftStatusApproved
	require.NoError(t, h.store.PutDraft(ctx, draft))

	_, err = h.registry.PublishDraft(ctx, testMerchant, "op", draft.DraftID, record.ApprovalID, "")
	assert.ErrorIs(t, err, domain.ErrApprovalUsed)
	_, err = h.registry.PublishDraft(ctx, testMerchant, "op", draft.DraftID, "", record.Token)
	assert.ErrorIs(t, err, domain.ErrApprovalUsed)
}

func TestPublishExpiredApproval(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	draft, err := h.registry.CreateDraft(ctx, testMerchant, "op", specPayload("promo"), "")
	require.NoError(t, err)
	_, err = h.registry.SubmitDraft(ctx, testMerchant, "op", draft.DraftID)
	require.NoError(t, err)
	granted, err := h.registry.ApproveDraft(ctx, testMerchant, "approver", draft.DraftID, "single")
	require.NoError(t, err)

	h.advance(10 * time.Minute) // past the 300s approval TTL

	_, err = h.registry.PublishDraft(ctx, testMerchant, "op", draft.DraftID, granted.ApprovalID, "")
	assert.ErrorIs(t, err, domain.ErrApprovalExpired)
	_, err = h.registry.PublishDraft(ctx, testMerchant, "op", draft.DraftID, "", granted.Token)
	assert.ErrorIs(t, err, domain.ErrTokenExpired)
}

func TestListActivePoliciesSweepsExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	published := publishNew(t, h, "promo")

	active, err := h.registry.ListActivePolicies(ctx, testMerchant)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	h.advance(2 * time.Hour) // past the 3600s program TTL

	active, err = h.registry.ListActivePolicies(ctx, testMerchant)
	require.NoError(t, err)
	assert.Empty(t, active)

	swept, err := h.store.GetPolicy(ctx, published.PolicyID)
	require.NoError(t, err)
	assert.Equal(t, domain.PolicyExpired, swept.Status)

	index, err := h.store.PublishedIndex(ctx, testMerchant)
	require.NoError(t, err)
	assert.Empty(t, index)

	// Expired versions stay visible through the inactive listing.
	all, err := h.registry.ListPolicies(ctx, testMerchant, true)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	onlyActive, err := h.registry.ListPolicies(ctx, testMerchant, false)
	require.NoError(t, err)
	assert.Empty(t, onlyActive)
}

func TestPublishCompilerFailureAborts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	draft, err := h.registry.CreateDraft(ctx, testMerchant, "op", specPayload("promo"), "")
	require.NoError(t, err)
	_, err = h.registry.SubmitDraft(ctx, testMerchant, "op", draft.DraftID)
	require.NoError(t, err)
	granted, err := h.registry.ApproveDraft(ctx, testMerchant, "approver", draft.DraftID, "single")
	require.NoError(t, err)

	h.compiler.fail = true
	_, err = h.registry.PublishDraft(ctx, testMerchant, "op", draft.DraftID, granted.ApprovalID, "")
	require.Error(t, err)

	// Nothing reached the published index.
	index, err := h.store.PublishedIndex(ctx, testMerchant)
	require.NoError(t, err)
	assert.Empty(t, index)
}

func TestVersionsAreGaplessPerKey(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		h := mustHarness()
		ctx := context.Background()

		keys := rapid.SliceOfN(rapid.SampledFrom([]string{"alpha", "beta", "gamma"}), 1, 12).Draw(t, "keys")
		next := map[string]int{"alpha": 1, "beta": 1, "gamma": 1}

		for _, key := range keys {
			draft, err := h.registry.CreateDraft(ctx, testMerchant, "op", specPayload(key), "")
			if err != nil {
				t.Fatalf("create draft: %v", err)
			}
			if _, err := h.registry.SubmitDraft(ctx, testMerchant, "op", draft.DraftID); err != nil {
				t.Fatalf("submit draft: %v", err)
			}
			granted, err := h.registry.ApproveDraft(ctx, testMerchant, "approver", draft.DraftID, "single")
			if err != nil {
				t.Fatalf("approve draft: %v", err)
			}
			published, err := h.registry.PublishDraft(ctx, testMerchant, "op", draft.DraftID, granted.ApprovalID, "")
			if err != nil {
				t.Fatalf("publish draft: %v", err)
			}
			if published.Version != next[key] {
				t.Fatalf("key %s: got version %d, want %d", key, published.Version, next[key])
			}
			if published.PolicyID != domain.PolicyID(key, next[key]) {
				t.Fatalf("key %s: got id %s", key, published.PolicyID)
			}
			next[key]++
		}
	})
}
