package plugin

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is a typed lookup table mapping (kind, name) to a plugin
// implementation. It is populated at startup and read-mostly afterwards.
type Registry struct {
	mu      sync.RWMutex
	entries map[Kind]map[string]any
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	entries := make(map[Kind]map[string]any, len(Kinds()))
	for _, kind := range Kinds() {
		entries[kind] = make(map[string]any)
	}
	return &Registry{entries: entries}
}

// Register stores a plugin under (kind, name). The implementation must
// satisfy the interface matching the kind; a mismatch is a wiring bug and
// fails immediately rather than at evaluation time.
func (r *Registry) Register(kind Kind, name string, impl any) error {
	if name == "" {
		return fmt.Errorf("plugin name must not be empty")
	}
	if err := checkContract(kind, impl); err != nil {
		return fmt.Errorf("register %s/%s: %w", kind, name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	bucket, ok := r.entries[kind]
	if !ok {
		return fmt.Errorf("register %s/%s: unknown plugin kind", kind, name)
	}
	bucket[name] = impl
	return nil
}

func checkContract(kind Kind, impl any) error {
	var ok bool
	switch kind {
	case KindTrigger:
		_, ok = impl.(Trigger)
	case KindSegment:
		_, ok = impl.(Segment)
	case KindConstraint:
		_, ok = impl.(Constraint)
	case KindScorer:
		_, ok = impl.(Scorer)
	case KindAction:
		_, ok = impl.(Action)
	default:
		return fmt.Errorf("unknown plugin kind")
	}
	if !ok {
		return fmt.Errorf("implementation does not satisfy the %s contract", kind)
	}
	return nil
}

// Trigger resolves a trigger plugin by name.
func (r *Registry) Trigger(name string) (Trigger, bool) {
	impl, ok := r.lookup(KindTrigger, name)
	if !ok {
		return nil, false
	}
	return impl.(Trigger), true
}

// Segment resolves a segment plugin by name.
func (r *Registry) Segment(name string) (Segment, bool) {
	impl, ok := r.lookup(KindSegment, name)
	if !ok {
		return nil, false
	}
	return impl.(Segment), true
}

// Constraint resolves a constraint plugin by name.
func (r *Registry) Constraint(name string) (Constraint, bool) {
	impl, ok := r.lookup(KindConstraint, name)
	if !ok {
		return nil, false
	}
	return impl.(Constraint), true
}

// Scorer resolves a scorer plugin by name.
func (r *Registry) Scorer(name string) (Scorer, bool) {
	impl, ok := r.lookup(KindScorer, name)
	if !ok {
		return nil, false
	}
	return impl.(Scorer), true
}

// Action resolves an action plugin by name.
func (r *Registry) Action(name string) (Action, bool) {
	impl, ok := r.lookup(KindAction, name)
	if !ok {
		return nil, false
	}
	return impl.(Action), true
}

// List enumerates the registered names for a kind, sorted. Used by catalog
// and validation tooling.
func (r *Registry) List(kind Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bucket := r.entries[kind]
	names := make([]string, 0, len(bucket))
	for name := range bucket {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) lookup(kind Kind, name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	impl, ok := r.entries[kind][name]
	return impl, ok
}
