package builtin

import (
	"context"

	"github.com/polisai/policyos/pkg/domain"
)

// EventTrigger matches when the event type equals the configured type (or
// one of the configured types). With no configuration it matches everything.
type EventTrigger struct{}

// Match implements the trigger contract.
func (EventTrigger) Match(_ context.Context, trigger domain.PluginRef, eval *domain.EvalContext) (bool, error) {
	accepted := acceptedTypes(trigger.Params)
	if len(accepted) == 0 {
		return true, nil
	}
	for _, t := range accepted {
		if t == eval.Event.Type {
			return true, nil
		}
	}
	return false, nil
}

// FanoutTrigger matches like EventTrigger and expands one candidate instance
// per element of a list attribute on the event ("for each nearby inventory
// item" and similar shapes).
type FanoutTrigger struct{}

// Match implements the trigger contract.
func (FanoutTrigger) Match(ctx context.Context, trigger domain.PluginRef, eval *domain.EvalContext) (bool, error) {
	return EventTrigger{}.Match(ctx, trigger, eval)
}

// ExpandCandidates implements the optional expander contract.
func (FanoutTrigger) ExpandCandidates(_ context.Context, trigger domain.PluginRef, eval *domain.EvalContext) ([]map[string]any, error) {
	attr, _ := trigger.Params["items_attr"].(string)
	if attr == "" {
		attr = "items"
	}
	raw, _ := eval.Event.Attributes[attr].([]any)
	instances := make([]map[string]any, 0, len(raw))
	for i, item := range raw {
		instance, ok := item.(map[string]any)
		if !ok {
			instance = map[string]any{"item": item}
		}
		instance["instance_index"] = i
		instances = append(instances, instance)
	}
	return instances, nil
}

func acceptedTypes(params map[string]any) []string {
	if single, ok := params["event_type"].(string); ok && single != "" {
		return []string{single}
	}
	raw, _ := params["event_types"].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
