package builtin

import (
	"context"

	"github.com/polisai/policyos/pkg/domain"
)

// VoucherAction estimates the cost of issuing a voucher. The face value of
// the voucher counts against the policy's budget; a fixed overhead can be
// layered on top via the "overhead" param.
type VoucherAction struct{}

// EstimateCost implements the action contract.
func (VoucherAction) EstimateCost(_ context.Context, action domain.PluginRef, _ *domain.Policy, _ *domain.EvalContext) (domain.CostEstimate, error) {
	value := domain.NumberAttr(action.Params, "value")
	overhead := domain.NumberAttr(action.Params, "overhead")
	return domain.CostEstimate{
		Cost:       value + overhead,
		BudgetCost: value,
	}, nil
}

// StoryAction estimates the cost of rendering a story card. Stories carry no
// budget spend by default; merchants can price impressions with "cost".
type StoryAction struct{}

// EstimateCost implements the action contract.
func (StoryAction) EstimateCost(_ context.Context, action domain.PluginRef, _ *domain.Policy, _ *domain.EvalContext) (domain.CostEstimate, error) {
	cost := domain.NumberAttr(action.Params, "cost")
	return domain.CostEstimate{
		Cost:       cost,
		BudgetCost: domain.NumberAttr(action.Params, "budget_cost"),
	}, nil
}
