package engine

import (
	"context"
	"fmt"

	"github.com/polisai/policyos/pkg/domain"
)

// ExecutionResponse is one action's contribution to an execution result.
type ExecutionResponse struct {
	StoryCards []domain.StoryCard `json:"story_cards,omitempty"`
	Grants     []domain.Grant     `json:"grants,omitempty"`
}

// ExecutionResult is the outcome of running one compiled plan.
type ExecutionResult struct {
	Success   bool                `json:"success"`
	Responses []ExecutionResponse `json:"responses,omitempty"`
}

// ExecutionAdapter compiles a policy into a runtime plan, executes it, and
// produces a human-readable explanation. Implementations live outside the
// core; LocalAdapter is the in-process default.
type ExecutionAdapter interface {
	Compile(policy *domain.Policy, traceID string) (*domain.ExecutionPlan, error)
	Explain(policy *domain.Policy, score domain.ScoreResult, reasonCodes, riskFlags []string) domain.ExplainRecord
	Execute(ctx context.Context, policy *domain.Policy, plan *domain.ExecutionPlan, traceID string) (ExecutionResult, error)
}

// LocalAdapter is a deterministic, side-effect-free execution adapter: plans
// are one step per action, execution synthesizes story cards from the
// policy's story payload and grants from voucher-shaped actions. The CLI
// simulator and the engine tests run on it.
type LocalAdapter struct {
	ids domain.IDGenerator
}

// NewLocalAdapter creates a local adapter. A nil generator defaults to UUIDs.
func NewLocalAdapter(ids domain.IDGenerator) *LocalAdapter {
	if ids == nil {
		ids = domain.UUIDGenerator{}
	}
	return &LocalAdapter{ids: ids}
}

// Compile projects a policy into a step list, one step per action.
func (a *LocalAdapter) Compile(policy *domain.Policy, traceID string) (*domain.ExecutionPlan, error) {
	if policy == nil {
		return nil, fmt.Errorf("compile: policy is nil")
	}
	steps := make([]domain.PlanStep, 0, len(policy.Actions)+1)
	for _, action := range policy.Actions {
		steps = append(steps, domain.PlanStep{
			Kind:   "action",
			Name:   action.Name,
			Params: domain.CloneAnyMap(action.Params),
		})
	}
	if policy.Story != nil {
		steps = append(steps, domain.PlanStep{
			Kind: "story",
			Name: policy.Story.TemplateID,
		})
	}
	return &domain.ExecutionPlan{
		PlanID:     a.ids.NewID(),
		PolicyID:   policy.PolicyID,
		Steps:      steps,
		CompiledAt: policy.PublishedAt,
	}, nil
}

// Explain folds the score and constraint findings into one explain record.
func (a *LocalAdapter) Explain(policy *domain.Policy, score domain.ScoreResult, reasonCodes, riskFlags []string) domain.ExplainRecord {
	return domain.ExplainRecord{
		PolicyID:      policy.PolicyID,
		Utility:       score.Utility,
		ReasonCodes:   append([]string(nil), reasonCodes...),
		RiskFlags:     append([]string(nil), riskFlags...),
		ExpectedRange: append([]float64(nil), score.ExpectedRange...),
		Details:       domain.CloneAnyMap(score.Details),
		Summary: fmt.Sprintf("%s (%s lane) scored %.3f for goal %q",
			policy.PolicyID, policy.Lane, score.Utility, policy.Goal),
	}
}

// Execute walks the plan steps and synthesizes their outputs.
func (a *LocalAdapter) Execute(_ context.Context, policy *domain.Policy, plan *domain.ExecutionPlan, _ string) (ExecutionResult, error) {
	result := ExecutionResult{Success: true}
	for _, step := range plan.Steps {
		switch step.Kind {
		case "story":
			if policy.Story == nil {
				continue
			}
			result.Responses = append(result.Responses, ExecutionResponse{
				StoryCards: []domain.StoryCard{{
					PolicyID:   policy.PolicyID,
					TemplateID: policy.Story.TemplateID,
					Narrative:  policy.Story.Narrative,
					Assets:     append([]domain.StoryAsset(nil), policy.Story.Assets...),
					Triggers:   append([]string(nil), policy.Story.Triggers...),
				}},
			})
		case "action":
			grant := grantFromStep(policy, step)
			if grant != nil {
				result.Responses = append(result.Responses, ExecutionResponse{Grants: []domain.Grant{*grant}})
			}
		}
	}
	return result, nil
}

func grantFromStep(policy *domain.Policy, step domain.PlanStep) *domain.Grant {
	kind, _ := step.Params["grant_kind"].(string)
	if kind == "" {
		kind = step.Name
	}
	value := domain.NumberAttr(step.Params, "value")
	if value == 0 {
		return nil
	}
	return &domain.Grant{
		PolicyID: policy.PolicyID,
		Kind:     kind,
		Value:    value,
	}
}
