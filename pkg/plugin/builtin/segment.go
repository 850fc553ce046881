package builtin

import (
	"context"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/polisai/policyos/pkg/domain"
	"github.com/polisai/policyos/pkg/plugin"
)

// AllSegment matches every user.
type AllSegment struct{}

// Eval implements the segment contract.
func (AllSegment) Eval(context.Context, domain.PluginRef, *domain.EvalContext) (plugin.SegmentResult, error) {
	return plugin.SegmentResult{Matched: true}, nil
}

// ExprSegment evaluates a merchant-authored boolean expression over the
// user, event, and context attributes. Programs are compiled once per
// expression and cached.
type ExprSegment struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
}

// NewExprSegment creates an expression segment with an empty program cache.
func NewExprSegment() *ExprSegment {
	return &ExprSegment{programs: make(map[string]*vm.Program)}
}

// Eval implements the segment contract.
func (s *ExprSegment) Eval(_ context.Context, segment domain.PluginRef, eval *domain.EvalContext) (plugin.SegmentResult, error) {
	source, _ := segment.Params["expression"].(string)
	if source == "" {
		return plugin.SegmentResult{}, fmt.Errorf("expr segment requires an expression param")
	}

	program, err := s.compiled(source)
	if err != nil {
		return plugin.SegmentResult{}, fmt.Errorf("compile segment expression: %w", err)
	}

	env := map[string]any{
		"user":  eval.User,
		"event": eval.Event.Attributes,
		"vars":  eval.Vars,
	}
	output, err := expr.Run(program, env)
	if err != nil {
		return plugin.SegmentResult{}, fmt.Errorf("run segment expression: %w", err)
	}

	matched, ok := output.(bool)
	if !ok {
		return plugin.SegmentResult{}, fmt.Errorf("segment expression returned %T, want bool", output)
	}
	return plugin.SegmentResult{Matched: matched}, nil
}

func (s *ExprSegment) compiled(source string) (*vm.Program, error) {
	s.mu.RLock()
	program, ok := s.programs[source]
	s.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := expr.Compile(source, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.programs[source] = program
	s.mu.Unlock()
	return program, nil
}
