package plugin

import (
	"context"

	"github.com/polisai/policyos/pkg/domain"
)

// Kind is one of the five capability kinds a policy references.
type Kind string

// Capability kinds.
const (
	KindTrigger    Kind = "trigger"
	KindSegment    Kind = "segment"
	KindConstraint Kind = "constraint"
	KindScorer     Kind = "scorer"
	KindAction     Kind = "action"
)

// Kinds lists every capability kind in registration order.
func Kinds() []Kind {
	return []Kind{KindTrigger, KindSegment, KindConstraint, KindScorer, KindAction}
}

// Trigger decides whether a policy reacts to the current event.
type Trigger interface {
	// Match reports whether the trigger fires for the event context.
	Match(ctx context.Context, trigger domain.PluginRef, eval *domain.EvalContext) (bool, error)
}

// TriggerExpander is optionally implemented by triggers that fan out into
// multiple candidate instances (one per nearby inventory item, say). Triggers
// without it produce a single anonymous instance.
type TriggerExpander interface {
	ExpandCandidates(ctx context.Context, trigger domain.PluginRef, eval *domain.EvalContext) ([]map[string]any, error)
}

// SegmentResult is the outcome of a segment evaluation.
type SegmentResult struct {
	Matched bool           `json:"matched"`
	Details map[string]any `json:"details,omitempty"`
}

// Segment decides whether the event's user belongs to a policy's audience.
type Segment interface {
	Eval(ctx context.Context, segment domain.PluginRef, eval *domain.EvalContext) (SegmentResult, error)
}

// Constraint checks a hard precondition (budget, inventory, frequency cap)
// against a candidate's cost estimate.
type Constraint interface {
	Check(ctx context.Context, policy *domain.Policy, constraint domain.PluginRef, eval *domain.EvalContext, estimate domain.CostEstimate) (domain.ConstraintResult, error)
}

// Reservation is an opaque handle to resources a constraint has committed.
type Reservation struct {
	Key    string         `json:"key"`
	Amount float64        `json:"amount"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// Reserver is optionally implemented by constraints that participate in the
// two-phase reserve/release protocol. Release must undo exactly one Reserve.
type Reserver interface {
	Reserve(ctx context.Context, policy *domain.Policy, constraint domain.PluginRef, eval *domain.EvalContext, estimate domain.CostEstimate) (*Reservation, error)
	Release(ctx context.Context, reservation *Reservation, policy *domain.Policy) error
}

// Scorer produces the utility that ranks candidates.
type Scorer interface {
	Score(ctx context.Context, policy *domain.Policy, eval *domain.EvalContext) (domain.ScoreResult, error)
}

// Action estimates what executing one action of a policy would cost.
// Side effects happen through the execution adapter, never here.
type Action interface {
	EstimateCost(ctx context.Context, action domain.PluginRef, policy *domain.Policy, eval *domain.EvalContext) (domain.CostEstimate, error)
}
