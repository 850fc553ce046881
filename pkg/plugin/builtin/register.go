package builtin

import (
	"github.com/polisai/policyos/pkg/plugin"
	"github.com/polisai/policyos/pkg/storage"
)

// Register wires the default plugin set into reg. The budget constraint
// shares the store used by the rest of the engine so reservations and
// decision persistence see the same counters.
func Register(reg *plugin.Registry, store storage.Store) error {
	entries := []struct {
		kind plugin.Kind
		name string
		impl any
	}{
		{plugin.KindTrigger, "event", EventTrigger{}},
		{plugin.KindTrigger, "fanout", FanoutTrigger{}},
		{plugin.KindSegment, "all", AllSegment{}},
		{plugin.KindSegment, "expr", NewExprSegment()},
		{plugin.KindConstraint, "budget", NewBudgetConstraint(store)},
		{plugin.KindConstraint, "pacing", NewPacingConstraint()},
		{plugin.KindScorer, "weighted", WeightedScorer{}},
		{plugin.KindAction, "voucher", VoucherAction{}},
		{plugin.KindAction, "story", StoryAction{}},
	}
	for _, e := range entries {
		if err := reg.Register(e.kind, e.name, e.impl); err != nil {
			return err
		}
	}
	return nil
}
