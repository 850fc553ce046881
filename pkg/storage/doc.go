// Package storage provides the persistent state container behind PolicyOS.
//
// The Store interface exposes namespaced accessors for drafts, approvals,
// published policies, execution plans, decisions, the per-merchant published
// index, and the shared resource counters used by constraint plugins. Two
// implementations ship: an RWMutex-guarded in-memory store and a SQLite
// store backed by the pure-Go modernc.org/sqlite driver.
package storage
