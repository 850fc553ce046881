package telemetry

import "sync"

// ResetMetricsForTest clears cached metric instruments so tests can
// reinitialize them against a fresh MeterProvider. Test code only.
func ResetMetricsForTest() {
	metricsOnce = sync.Once{}
	metricsInitErr = nil
	decisionCounter = nil
	decisionExecutedCounter = nil
	decisionRejectedCounter = nil
	decisionLatencyHistogram = nil
}
