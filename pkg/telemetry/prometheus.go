package telemetry

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink exposes the engine's counter bag through a dedicated
// Prometheus registry. Counters are created lazily on first increment.
type PrometheusSink struct {
	mu       sync.Mutex
	registry *prometheus.Registry
	counters map[string]prometheus.Counter
}

// NewPrometheusSink creates a sink with its own registry.
func NewPrometheusSink() *PrometheusSink {
	return &PrometheusSink{
		registry: prometheus.NewRegistry(),
		counters: make(map[string]prometheus.Counter),
	}
}

// Registry returns the underlying registry for scraping or test gathering.
func (s *PrometheusSink) Registry() *prometheus.Registry {
	return s.registry
}

// Add increments a named counter, registering it on first use.
func (s *PrometheusSink) Add(name string, delta float64) {
	if delta < 0 {
		return
	}
	s.mu.Lock()
	counter, ok := s.counters[name]
	if !ok {
		counter = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "policyos",
			Name:      sanitizeMetricName(name),
			Help:      "PolicyOS decision engine counter " + name,
		})
		if err := s.registry.Register(counter); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				counter = already.ExistingCollector.(prometheus.Counter)
			} else {
				s.mu.Unlock()
				return
			}
		}
		s.counters[name] = counter
	}
	s.mu.Unlock()
	counter.Add(delta)
}

func sanitizeMetricName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == ':':
			return r
		default:
			return '_'
		}
	}, name)
}
