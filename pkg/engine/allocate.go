package engine

import (
	"context"
	"sort"
	"time"

	"github.com/polisai/policyos/pkg/domain"
	"github.com/polisai/policyos/pkg/plugin"
)

// Allocation rejection reasons.
const (
	reasonSoftExclusiveLimit   = "allocation:soft_exclusive_limit"
	reasonPreemptedByEmergency = "allocation:preempted_by_emergency"
	reasonPreemptiveConflict   = "allocation:preemptive_conflict"
	reasonHardExclusive        = "allocation:hard_exclusive_conflict"
	reasonReserveFailed        = "reserve_failed"
)

// sortCandidates orders candidates by lane rank descending, utility
// descending, then the policy's configured tie breaker. A final lexicographic
// policy-id compare makes the order total, so evaluation is reproducible.
func sortCandidates(candidates []*domain.Candidate, eval *domain.EvalContext) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]

		if ra, rb := a.Policy.Lane.Rank(), b.Policy.Lane.Rank(); ra != rb {
			return ra > rb
		}
		if a.Score.Utility != b.Score.Utility {
			return a.Score.Utility > b.Score.Utility
		}

		// The tie breaker only has a well-defined meaning when both sides
		// agree on it; otherwise fall through to the id compare.
		if tb := a.Policy.TieBreaker; tb == b.Policy.TieBreaker {
			switch tb {
			case domain.TieExpirySooner:
				ea, eb := expiryOrInfinity(a.Policy), expiryOrInfinity(b.Policy)
				if !ea.Equal(eb) {
					return ea.Before(eb)
				}
			case domain.TieHigherMargin:
				ma, mb := candidateMargin(a, eval), candidateMargin(b, eval)
				if ma != mb {
					return ma > mb
				}
			case domain.TieRandomJitter:
				// Deliberately deterministic: lexicographic policy id, not
				// actual randomness, so replays reproduce the same decision.
				if a.Policy.PolicyID != b.Policy.PolicyID {
					return a.Policy.PolicyID < b.Policy.PolicyID
				}
			}
		}

		return a.Policy.PolicyID < b.Policy.PolicyID
	})
}

// expiryOrInfinity treats a missing expiry as +infinity so an unexpiring
// policy loses EXPIRY_SOONER ties to an expiring one.
func expiryOrInfinity(p *domain.Policy) time.Time {
	if p.ExpiresAt.IsZero() {
		return time.Unix(1<<62, 0)
	}
	return p.ExpiresAt
}

// candidateMargin prefers a margin carried on the trigger instance, falling
// back to the evaluation context.
func candidateMargin(c *domain.Candidate, eval *domain.EvalContext) float64 {
	if m := domain.NumberAttr(c.TriggerInstance, "margin"); m != 0 {
		return m
	}
	return eval.Margin()
}

// conflictState tracks admissions per conflict key during the single pass.
type conflictState struct {
	winners      int
	emergencyWon bool
}

// allocate walks the sorted candidates once, admitting or rejecting each
// according to its overlap mode. Because the list is already sorted, the
// first candidate to reach a conflict key is always the highest-priority
// one, which is what makes one pass sufficient.
func allocate(sorted []*domain.Candidate, userID string) (winners []*domain.Candidate, rejected []domain.Rejection) {
	if userID == "" {
		userID = "anonymous"
	}
	states := make(map[string]*conflictState)

	for _, c := range sorted {
		key := c.Policy.ConflictSet() + "|" + userID
		state := states[key]
		if state == nil {
			state = &conflictState{}
			states[key] = state
		}

		var reason string
		switch c.Policy.OverlapPolicy.Mode {
		case domain.OverlapStackable:
			// Always wins.
		case domain.OverlapSoftExclusive:
			if state.winners >= c.Policy.OverlapPolicy.MaxWinners {
				reason = reasonSoftExclusiveLimit
			}
		case domain.OverlapPreemptive:
			switch {
			case state.emergencyWon && c.Policy.Lane != domain.LaneEmergency:
				reason = reasonPreemptedByEmergency
			case state.winners > 0 && c.Policy.Lane != domain.LaneEmergency:
				reason = reasonPreemptiveConflict
			}
		default: // HARD_EXCLUSIVE
			if state.winners > 0 {
				reason = reasonHardExclusive
			}
		}

		if reason != "" {
			rejected = append(rejected, domain.Rejection{PolicyID: c.Policy.PolicyID, Reason: reason})
			continue
		}

		state.winners++
		if c.Policy.Lane == domain.LaneEmergency {
			state.emergencyWon = true
		}
		winners = append(winners, c)
	}
	return winners, rejected
}

// heldReservation pairs a committed reservation with the constraint that
// made it, so release goes back through the same plugin.
type heldReservation struct {
	reserver    plugin.Reserver
	reservation *plugin.Reservation
}

// reserveCandidate runs the reserve phase for one winning candidate: every
// constraint implementing Reserver commits in declaration order. On the
// first failure all prior reservations are released in reverse order and the
// candidate is rejected; winners committed earlier in the walk stay
// committed — reservation failure is per-candidate, never transactional
// across the batch.
func (s *Service) reserveCandidate(ctx context.Context, c *domain.Candidate, eval *domain.EvalContext) ([]heldReservation, *domain.Rejection) {
	var held []heldReservation
	for _, constraintRef := range c.Policy.Constraints {
		constraint, ok := s.plugins.Constraint(constraintRef.Name)
		if !ok {
			continue
		}
		reserver, ok := constraint.(plugin.Reserver)
		if !ok {
			continue
		}
		reservation, err := reserver.Reserve(ctx, c.Policy, constraintRef, eval, c.Estimate)
		if err != nil || reservation == nil {
			s.releaseReservations(ctx, held, c.Policy)
			return nil, &domain.Rejection{PolicyID: c.Policy.PolicyID, Reason: reasonReserveFailed}
		}
		held = append(held, heldReservation{reserver: reserver, reservation: reservation})
	}
	return held, nil
}

// releaseReservations undoes held reservations in reverse acquisition order.
func (s *Service) releaseReservations(ctx context.Context, held []heldReservation, p *domain.Policy) {
	for i := len(held) - 1; i >= 0; i-- {
		if err := s.releaseOne(ctx, held[i], p); err != nil {
			s.logger.Warn("reservation release failed",
				"policy_id", p.PolicyID,
				"resource_key", held[i].reservation.Key,
				"error", err,
			)
		}
	}
}

func (s *Service) releaseOne(ctx context.Context, h heldReservation, p *domain.Policy) error {
	return h.reserver.Release(ctx, h.reservation, p)
}
