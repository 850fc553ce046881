package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/policyos/pkg/domain"
)

func candidate(key string, version int, lane domain.Lane, utility float64, mutate ...func(*domain.Policy)) *domain.Candidate {
	p := &domain.Policy{
		PolicySpec: domain.PolicySpec{
			PolicyKey:     key,
			Lane:          lane,
			TieBreaker:    domain.TieUtilityDesc,
			ResourceScope: domain.ResourceScope{MerchantID: "m-1"},
			OverlapPolicy: domain.OverlapPolicy{Mode: domain.OverlapHardExclusive, MaxWinners: 1},
		},
		PolicyID: domain.PolicyID(key, version),
		Version:  version,
		Status:   domain.PolicyPublished,
	}
	for _, m := range mutate {
		m(p)
	}
	return &domain.Candidate{Policy: p, Score: domain.ScoreResult{Utility: utility}}
}

func ids(candidates []*domain.Candidate) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.Policy.PolicyID
	}
	return out
}

func TestSortCandidatesLaneBeatsUtility(t *testing.T) {
	candidates := []*domain.Candidate{
		candidate("background", 1, domain.LaneBackground, 0.99),
		candidate("normal", 1, domain.LaneNormal, 0.5),
		candidate("emergency", 1, domain.LaneEmergency, 0.01),
		candidate("guarded", 1, domain.LaneGuarded, 0.2),
	}
	sortCandidates(candidates, &domain.EvalContext{})
	assert.Equal(t, []string{"emergency@v1", "guarded@v1", "normal@v1", "background@v1"}, ids(candidates))
}

func TestSortCandidatesUtilityWithinLane(t *testing.T) {
	candidates := []*domain.Candidate{
		candidate("low", 1, domain.LaneNormal, 0.2),
		candidate("high", 1, domain.LaneNormal, 0.8),
		candidate("mid", 1, domain.LaneNormal, 0.5),
	}
	sortCandidates(candidates, &domain.EvalContext{})
	assert.Equal(t, []string{"high@v1", "mid@v1", "low@v1"}, ids(candidates))
}

func TestSortCandidatesExpirySooner(t *testing.T) {
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	expiry := func(at time.Time) func(*domain.Policy) {
		return func(p *domain.Policy) {
			p.TieBreaker = domain.TieExpirySooner
			p.ExpiresAt = at
		}
	}

	candidates := []*domain.Candidate{
		candidate("later", 1, domain.LaneNormal, 0.5, expiry(base.Add(48*time.Hour))),
		candidate("never", 1, domain.LaneNormal, 0.5, expiry(time.Time{})),
		candidate("sooner", 1, domain.LaneNormal, 0.5, expiry(base.Add(time.Hour))),
	}
	sortCandidates(candidates, &domain.EvalContext{})
	// Missing expiry sorts as infinitely late.
	assert.Equal(t, []string{"sooner@v1", "later@v1", "never@v1"}, ids(candidates))
}

func TestSortCandidatesHigherMargin(t *testing.T) {
	setTB := func(p *domain.Policy) { p.TieBreaker = domain.TieHigherMargin }

	a := candidate("a", 1, domain.LaneNormal, 0.5, setTB)
	a.TriggerInstance = map[string]any{"margin": 0.1}
	b := candidate("b", 1, domain.LaneNormal, 0.5, setTB)
	b.TriggerInstance = map[string]any{"margin": 0.9}

	candidates := []*domain.Candidate{a, b}
	sortCandidates(candidates, &domain.EvalContext{})
	assert.Equal(t, []string{"b@v1", "a@v1"}, ids(candidates))
}

func TestSortCandidatesHigherMarginFromContext(t *testing.T) {
	setTB := func(p *domain.Policy) { p.TieBreaker = domain.TieHigherMargin }

	a := candidate("a", 1, domain.LaneNormal, 0.5, setTB)
	a.TriggerInstance = map[string]any{"margin": 0.9}
	b := candidate("b", 1, domain.LaneNormal, 0.5, setTB)

	eval := &domain.EvalContext{Event: domain.Event{Attributes: map[string]any{"margin": 0.3}}}
	candidates := []*domain.Candidate{b, a}
	sortCandidates(candidates, eval)
	assert.Equal(t, []string{"a@v1", "b@v1"}, ids(candidates))
}

func TestSortCandidatesRandomJitterIsDeterministic(t *testing.T) {
	jitter := func(p *domain.Policy) { p.TieBreaker = domain.TieRandomJitter }

	build := func() []*domain.Candidate {
		return []*domain.Candidate{
			candidate("zeta", 1, domain.LaneNormal, 0.5, jitter),
			candidate("alpha", 1, domain.LaneNormal, 0.5, jitter),
			candidate("mid", 1, domain.LaneNormal, 0.5, jitter),
		}
	}

	first := build()
	sortCandidates(first, &domain.EvalContext{})
	for i := 0; i < 10; i++ {
		again := build()
		sortCandidates(again, &domain.EvalContext{})
		require.Equal(t, ids(first), ids(again))
	}
	assert.Equal(t, []string{"alpha@v1", "mid@v1", "zeta@v1"}, ids(first))
}

func TestSortCandidatesDisagreeingTieBreakers(t *testing.T) {
	a := candidate("b-policy", 1, domain.LaneNormal, 0.5, func(p *domain.Policy) { p.TieBreaker = domain.TieExpirySooner })
	b := candidate("a-policy", 1, domain.LaneNormal, 0.5, func(p *domain.Policy) { p.TieBreaker = domain.TieHigherMargin })

	candidates := []*domain.Candidate{a, b}
	sortCandidates(candidates, &domain.EvalContext{})
	// No shared tie breaker: falls through to the id compare.
	assert.Equal(t, []string{"a-policy@v1", "b-policy@v1"}, ids(candidates))
}

func TestAllocateHardExclusive(t *testing.T) {
	conflict := func(p *domain.Policy) { p.OverlapPolicy.ConflictSet = "checkout" }

	winners, rejected := allocate([]*domain.Candidate{
		candidate("first", 1, domain.LaneNormal, 0.9, conflict),
		candidate("second", 1, domain.LaneNormal, 0.4, conflict),
	}, "u-1")

	require.Len(t, winners, 1)
	assert.Equal(t, "first@v1", winners[0].Policy.PolicyID)
	require.Len(t, rejected, 1)
	assert.Equal(t, domain.Rejection{PolicyID: "second@v1", Reason: "allocation:hard_exclusive_conflict"}, rejected[0])
}

func TestAllocateDistinctConflictSetsDoNotCompete(t *testing.T) {
	winners, rejected := allocate([]*domain.Candidate{
		candidate("voucher", 1, domain.LaneNormal, 0.9),
		candidate("story", 1, domain.LaneNormal, 0.4),
	}, "u-1")

	// Conflict set defaults to the policy key, so these never collide.
	assert.Len(t, winners, 2)
	assert.Empty(t, rejected)
}

func TestAllocateSoftExclusive(t *testing.T) {
	soft := func(p *domain.Policy) {
		p.OverlapPolicy = domain.OverlapPolicy{
			Mode:        domain.OverlapSoftExclusive,
			ConflictSet: "banner",
			MaxWinners:  2,
		}
	}

	winners, rejected := allocate([]*domain.Candidate{
		candidate("a", 1, domain.LaneNormal, 0.9, soft),
		candidate("b", 1, domain.LaneNormal, 0.8, soft),
		candidate("c", 1, domain.LaneNormal, 0.7, soft),
	}, "u-1")

	assert.Equal(t, []string{"a@v1", "b@v1"}, ids(winners))
	require.Len(t, rejected, 1)
	assert.Equal(t, "allocation:soft_exclusive_limit", rejected[0].Reason)
}

func TestAllocateStackable(t *testing.T) {
	stack := func(p *domain.Policy) {
		p.OverlapPolicy = domain.OverlapPolicy{Mode: domain.OverlapStackable, ConflictSet: "feed"}
	}

	winners, rejected := allocate([]*domain.Candidate{
		candidate("a", 1, domain.LaneNormal, 0.9, stack),
		candidate("b", 1, domain.LaneNormal, 0.8, stack),
		candidate("c", 1, domain.LaneNormal, 0.7, stack),
	}, "u-1")

	assert.Len(t, winners, 3)
	assert.Empty(t, rejected)
}

func TestAllocatePreemptive(t *testing.T) {
	preemptive := func(lane domain.Lane) func(*domain.Policy) {
		return func(p *domain.Policy) {
			p.Lane = lane
			p.OverlapPolicy = domain.OverlapPolicy{Mode: domain.OverlapPreemptive, ConflictSet: "alerts"}
		}
	}

	t.Run("emergency preempts", func(t *testing.T) {
		winners, rejected := allocate([]*domain.Candidate{
			candidate("quake", 1, domain.LaneEmergency, 0.1, preemptive(domain.LaneEmergency)),
			candidate("sale", 1, domain.LaneNormal, 0.9, preemptive(domain.LaneNormal)),
		}, "u-1")

		assert.Equal(t, []string{"quake@v1"}, ids(winners))
		require.Len(t, rejected, 1)
		assert.Equal(t, "allocation:preempted_by_emergency", rejected[0].Reason)
	})

	t.Run("two emergencies both win", func(t *testing.T) {
		winners, rejected := allocate([]*domain.Candidate{
			candidate("quake", 1, domain.LaneEmergency, 0.9, preemptive(domain.LaneEmergency)),
			candidate("flood", 1, domain.LaneEmergency, 0.8, preemptive(domain.LaneEmergency)),
		}, "u-1")

		assert.Len(t, winners, 2)
		assert.Empty(t, rejected)
	})

	t.Run("non-emergency conflict", func(t *testing.T) {
		winners, rejected := allocate([]*domain.Candidate{
			candidate("sale", 1, domain.LaneNormal, 0.9, preemptive(domain.LaneNormal)),
			candidate("promo", 1, domain.LaneNormal, 0.5, preemptive(domain.LaneNormal)),
		}, "u-1")

		assert.Equal(t, []string{"sale@v1"}, ids(winners))
		require.Len(t, rejected, 1)
		assert.Equal(t, "allocation:preemptive_conflict", rejected[0].Reason)
	})
}

func TestAllocateAnonymousUser(t *testing.T) {
	conflict := func(p *domain.Policy) { p.OverlapPolicy.ConflictSet = "checkout" }

	// Empty user id still produces a stable conflict key, so exclusivity
	// applies to anonymous traffic too.
	winners, rejected := allocate([]*domain.Candidate{
		candidate("first", 1, domain.LaneNormal, 0.9, conflict),
		candidate("second", 1, domain.LaneNormal, 0.4, conflict),
	}, "")

	assert.Len(t, winners, 1)
	assert.Len(t, rejected, 1)
}
