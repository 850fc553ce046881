package telemetry

import "sync"

// Sink is the optional counter bag the embedding system may hand the engine.
// Counter names are stable strings (decisions_total, decision_latency_ms and
// friends). A nil Sink is tolerated everywhere.
type Sink interface {
	Add(name string, delta float64)
}

// NopSink discards everything.
type NopSink struct{}

// Add is a no-op.
func (NopSink) Add(string, float64) {}

// CounterBag is an in-memory Sink. Handy in tests and for embedders that
// scrape counters themselves.
type CounterBag struct {
	mu       sync.RWMutex
	counters map[string]float64
}

// NewCounterBag creates an empty counter bag.
func NewCounterBag() *CounterBag {
	return &CounterBag{counters: make(map[string]float64)}
}

// Add increments a named counter.
func (b *CounterBag) Add(name string, delta float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counters[name] += delta
}

// Get reads a named counter.
func (b *CounterBag) Get(name string) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.counters[name]
}
