// Package engine implements the decision pipeline that turns one runtime
// event into an auditable Decision.
//
// Architecture:
//
// service.go    - evaluation orchestrator (token guard, pipeline, recording)
// candidates.go - candidate generation over the published-policy snapshot
// allocate.go   - deterministic sort, conflict-key allocation, reservation
// adapter.go    - ExecutionAdapter boundary and the local default adapter
//
// Nothing persists across calls: each EvaluateEvent is a pure pipeline over
// a frozen snapshot of the merchant's active policies. The engine does not
// lock; embedders must serialize calls per merchant or reservation counters
// can be corrupted by interleaved reserve/release pairs.
package engine
