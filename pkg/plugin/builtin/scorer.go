package builtin

import (
	"context"

	"github.com/polisai/policyos/pkg/domain"
)

// WeightedScorer computes utility as a configured base plus weighted event
// attributes, clamped to [0, 1]. Weights and base come from the policy's
// scoring params, so the same plugin serves arbitrarily many policies.
type WeightedScorer struct{}

// Score implements the scorer contract.
func (WeightedScorer) Score(_ context.Context, p *domain.Policy, eval *domain.EvalContext) (domain.ScoreResult, error) {
	params := p.Scoring.Params
	utility := domain.NumberAttr(params, "base")

	contributions := make(map[string]any)
	if weights, ok := params["weights"].(map[string]any); ok {
		for attr, rawWeight := range weights {
			weight := domain.NumberAttr(map[string]any{"w": rawWeight}, "w")
			value := domain.NumberAttr(eval.Event.Attributes, attr)
			if value == 0 {
				value = domain.NumberAttr(eval.User, attr)
			}
			if weight == 0 || value == 0 {
				continue
			}
			contribution := weight * value
			utility += contribution
			contributions[attr] = contribution
		}
	}

	if utility < 0 {
		utility = 0
	}
	if utility > 1 {
		utility = 1
	}

	result := domain.ScoreResult{Utility: utility}
	if len(contributions) > 0 {
		result.Details = contributions
	}
	if raw, ok := params["expected_range"].([]any); ok {
		for _, v := range raw {
			result.ExpectedRange = append(result.ExpectedRange, domain.NumberAttr(map[string]any{"v": v}, "v"))
		}
	}
	return result, nil
}
