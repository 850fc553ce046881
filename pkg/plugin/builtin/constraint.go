package builtin

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/polisai/policyos/pkg/domain"
	"github.com/polisai/policyos/pkg/plugin"
	"github.com/polisai/policyos/pkg/storage"
)

// BudgetConstraint guards a shared spend counter kept in the store. It
// participates in the two-phase reserve/release protocol so a winning
// candidate's budget is committed before execution and returned on failure.
type BudgetConstraint struct {
	store storage.Store
}

// NewBudgetConstraint creates a budget constraint over the given store.
func NewBudgetConstraint(store storage.Store) *BudgetConstraint {
	return &BudgetConstraint{store: store}
}

func budgetKey(p *domain.Policy, constraint domain.PluginRef) string {
	if key, ok := constraint.Params["resource_key"].(string); ok && key != "" {
		return key
	}
	return fmt.Sprintf("budget|%s|%s", p.ResourceScope.MerchantID, p.PolicyKey)
}

func budgetCap(constraint domain.PluginRef) float64 {
	return domain.NumberAttr(constraint.Params, "budget")
}

// Check reports whether the estimate still fits the budget.
func (c *BudgetConstraint) Check(ctx context.Context, p *domain.Policy, constraint domain.PluginRef, _ *domain.EvalContext, estimate domain.CostEstimate) (domain.ConstraintResult, error) {
	limit := budgetCap(constraint)
	spent, _, err := c.store.GetResource(ctx, budgetKey(p, constraint))
	if err != nil {
		return domain.ConstraintResult{}, err
	}

	if spent+estimate.BudgetCost > limit {
		return domain.ConstraintResult{
			OK:          false,
			ReasonCodes: []string{"budget_exhausted"},
		}, nil
	}

	result := domain.ConstraintResult{OK: true}
	if limit > 0 && (spent+estimate.BudgetCost) >= 0.8*limit {
		result.RiskFlags = []string{"budget_low"}
	}
	return result, nil
}

// Reserve re-checks the budget and commits the spend.
func (c *BudgetConstraint) Reserve(ctx context.Context, p *domain.Policy, constraint domain.PluginRef, _ *domain.EvalContext, estimate domain.CostEstimate) (*plugin.Reservation, error) {
	key := budgetKey(p, constraint)
	spent, _, err := c.store.GetResource(ctx, key)
	if err != nil {
		return nil, err
	}
	if spent+estimate.BudgetCost > budgetCap(constraint) {
		return nil, fmt.Errorf("budget exhausted for %s", key)
	}
	if err := c.store.SetResource(ctx, key, spent+estimate.BudgetCost); err != nil {
		return nil, err
	}
	return &plugin.Reservation{Key: key, Amount: estimate.BudgetCost}, nil
}

// Release returns a committed spend to the budget.
func (c *BudgetConstraint) Release(ctx context.Context, reservation *plugin.Reservation, _ *domain.Policy) error {
	spent, _, err := c.store.GetResource(ctx, reservation.Key)
	if err != nil {
		return err
	}
	remaining := spent - reservation.Amount
	if remaining < 0 {
		remaining = 0
	}
	return c.store.SetResource(ctx, reservation.Key, remaining)
}

// PacingConstraint enforces a per-policy admission rate. Check-only: pacing
// is consumed at check time and not returned, so it does not reserve.
type PacingConstraint struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewPacingConstraint creates a pacing constraint with no limiters yet.
func NewPacingConstraint() *PacingConstraint {
	return &PacingConstraint{limiters: make(map[string]*rate.Limiter)}
}

// Check admits the candidate while the policy's rate cap has tokens left.
func (c *PacingConstraint) Check(_ context.Context, p *domain.Policy, constraint domain.PluginRef, _ *domain.EvalContext, _ domain.CostEstimate) (domain.ConstraintResult, error) {
	perMinute := int(domain.NumberAttr(constraint.Params, "per_minute"))
	if perMinute <= 0 {
		perMinute = p.Program.PacingPerMinute
	}
	if perMinute <= 0 {
		return domain.ConstraintResult{OK: true}, nil
	}

	if !c.limiter(p.PolicyID, perMinute).Allow() {
		return domain.ConstraintResult{
			OK:          false,
			ReasonCodes: []string{"pacing_limited"},
		}, nil
	}
	return domain.ConstraintResult{OK: true}, nil
}

func (c *PacingConstraint) limiter(policyID string, perMinute int) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	limiter, ok := c.limiters[policyID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
		c.limiters[policyID] = limiter
	}
	return limiter
}
