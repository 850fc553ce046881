package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce              sync.Once
	metricsInitErr           error
	decisionCounter          metric.Int64Counter
	decisionExecutedCounter  metric.Int64Counter
	decisionRejectedCounter  metric.Int64Counter
	decisionLatencyHistogram metric.Float64Histogram
)

// DecisionMetrics captures the fields recorded after one evaluation call.
type DecisionMetrics struct {
	MerchantID string
	EventType  string
	Executed   int
	Rejected   int
	Duration   time.Duration
}

// RecordDecisionMetrics emits the counters and latency histogram describing
// one decision.
func RecordDecisionMetrics(ctx context.Context, m DecisionMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("merchant.id", m.MerchantID),
		attribute.String("event.type", m.EventType),
	}

	decisionCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	decisionExecutedCounter.Add(ctx, int64(m.Executed), metric.WithAttributes(attrs...))
	decisionRejectedCounter.Add(ctx, int64(m.Rejected), metric.WithAttributes(attrs...))
	if m.Duration > 0 {
		decisionLatencyHistogram.Record(ctx, float64(m.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("policyos.decision")

		decisionCounter, metricsInitErr = meter.Int64Counter(
			"policyos.decisions_total",
			metric.WithDescription("Evaluation calls completed"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		decisionExecutedCounter, metricsInitErr = meter.Int64Counter(
			"policyos.decisions_executed_total",
			metric.WithDescription("Policies executed across decisions"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		decisionRejectedCounter, metricsInitErr = meter.Int64Counter(
			"policyos.decisions_rejected_total",
			metric.WithDescription("Per-candidate rejections across decisions"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		decisionLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"policyos.decision_duration",
			metric.WithDescription("Evaluation latency"),
			metric.WithUnit("ms"),
		)
	})
	return metricsInitErr
}
