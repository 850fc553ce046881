// Package telemetry is the engine's observability surface: OpenTelemetry
// counters and latency histograms for decision evaluation, plus the optional
// counter-bag sink the embedding system may supply (a Prometheus-backed
// implementation ships here).
package telemetry
