package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/polisai/policyos/pkg/domain"
	"github.com/polisai/policyos/pkg/plugin"
)

// generateCandidates runs triggers, segments, action estimation, constraint
// checks, and scoring over the active-policy snapshot. Every failure is
// per-candidate: it lands in rejected and the walk continues, because one
// merchant's broken policy must never block the others.
func (s *Service) generateCandidates(ctx context.Context, actives []*domain.Policy, eval *domain.EvalContext) ([]*domain.Candidate, []domain.Rejection) {
	var candidates []*domain.Candidate
	var rejected []domain.Rejection

policies:
	for _, p := range actives {
		instanceBudget := p.Program.MaxInstances

		for _, triggerRef := range p.Triggers {
			trigger, ok := s.plugins.Trigger(triggerRef.Name)
			if !ok {
				rejected = append(rejected, domain.Rejection{
					PolicyID: p.PolicyID,
					Reason:   "trigger plugin missing: " + triggerRef.Name,
				})
				continue policies
			}

			matched, err := trigger.Match(ctx, triggerRef, eval)
			if err != nil {
				rejected = append(rejected, domain.Rejection{
					PolicyID: p.PolicyID,
					Reason:   fmt.Sprintf("trigger_failed: %v", err),
				})
				continue policies
			}
			if !matched {
				continue
			}

			instances, err := expandInstances(ctx, trigger, triggerRef, eval)
			if err != nil {
				rejected = append(rejected, domain.Rejection{
					PolicyID: p.PolicyID,
					Reason:   fmt.Sprintf("trigger_failed: %v", err),
				})
				continue policies
			}

			for _, instance := range instances {
				if instanceBudget <= 0 {
					break
				}
				candidate, rejection := s.buildCandidate(ctx, p, triggerRef, instance, eval)
				if rejection != nil {
					rejected = append(rejected, rejection.Rejection)
					if rejection.InstanceOnly {
						// Segment mismatch only disqualifies this instance;
						// later instances may still match.
						continue
					}
					continue policies
				}
				candidates = append(candidates, candidate)
				instanceBudget--
			}
		}
	}
	return candidates, rejected
}

// expandInstances fans a matched trigger out into candidate instances; a
// trigger without the expander contract produces one anonymous instance.
func expandInstances(ctx context.Context, trigger plugin.Trigger, ref domain.PluginRef, eval *domain.EvalContext) ([]map[string]any, error) {
	expander, ok := trigger.(plugin.TriggerExpander)
	if !ok {
		return []map[string]any{nil}, nil
	}
	instances, err := expander.ExpandCandidates(ctx, ref, eval)
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return []map[string]any{nil}, nil
	}
	return instances, nil
}

// candidateRejection distinguishes failures that skip one trigger instance
// from failures that take the whole policy out of this evaluation.
type candidateRejection struct {
	domain.Rejection
	InstanceOnly bool
}

func rejectPolicy(policyID, reason string) *candidateRejection {
	return &candidateRejection{Rejection: domain.Rejection{PolicyID: policyID, Reason: reason}}
}

// buildCandidate runs the segment, action estimation, constraint check, and
// scoring stages for one trigger instance.
func (s *Service) buildCandidate(ctx context.Context, p *domain.Policy, triggerRef domain.PluginRef, instance map[string]any, eval *domain.EvalContext) (*domain.Candidate, *candidateRejection) {
	segment, ok := s.plugins.Segment(p.Segment.Name)
	if !ok {
		return nil, rejectPolicy(p.PolicyID, "segment plugin missing: "+p.Segment.Name)
	}
	segResult, err := segment.Eval(ctx, p.Segment, eval)
	if err != nil {
		return nil, rejectPolicy(p.PolicyID, fmt.Sprintf("segment_failed: %v", err))
	}
	if !segResult.Matched {
		return nil, &candidateRejection{
			Rejection:    domain.Rejection{PolicyID: p.PolicyID, Reason: "segment_mismatch"},
			InstanceOnly: true,
		}
	}

	var estimate domain.CostEstimate
	var missingActions []string
	for _, actionRef := range p.Actions {
		action, ok := s.plugins.Action(actionRef.Name)
		if !ok {
			missingActions = append(missingActions, actionRef.Name)
			continue
		}
		cost, err := action.EstimateCost(ctx, actionRef, p, eval)
		if err != nil {
			return nil, rejectPolicy(p.PolicyID, fmt.Sprintf("action_estimate_failed: %v", err))
		}
		estimate.Add(cost)
	}
	if len(missingActions) > 0 {
		return nil, rejectPolicy(p.PolicyID, "action plugin missing: "+strings.Join(missingActions, ", "))
	}

	var reasonCodes, riskFlags []string
	for _, constraintRef := range p.Constraints {
		constraint, ok := s.plugins.Constraint(constraintRef.Name)
		if !ok {
			return nil, rejectPolicy(p.PolicyID, "constraint plugin missing: "+constraintRef.Name)
		}
		result, err := constraint.Check(ctx, p, constraintRef, eval, estimate)
		if err != nil {
			return nil, rejectPolicy(p.PolicyID, fmt.Sprintf("constraint_failed: %v", err))
		}
		reasonCodes = append(reasonCodes, result.ReasonCodes...)
		riskFlags = append(riskFlags, result.RiskFlags...)
		if !result.OK {
			// First hard failure stops checking; findings so far are kept
			// for explainability.
			reason := "constraint_failed"
			if len(result.ReasonCodes) > 0 {
				reason = result.ReasonCodes[0]
			}
			return nil, rejectPolicy(p.PolicyID, reason)
		}
	}

	scorer, ok := s.plugins.Scorer(p.Scoring.Name)
	if !ok {
		return nil, rejectPolicy(p.PolicyID, "scorer plugin missing: "+p.Scoring.Name)
	}
	score, err := scorer.Score(ctx, p, eval)
	if err != nil {
		return nil, rejectPolicy(p.PolicyID, fmt.Sprintf("scorer_failed: %v", err))
	}

	return &domain.Candidate{
		Policy:          p,
		TriggerRef:      triggerRef,
		TriggerInstance: instance,
		Estimate:        estimate,
		ReasonCodes:     reasonCodes,
		RiskFlags:       riskFlags,
		Score:           score,
	}, nil
}
