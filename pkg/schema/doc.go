// Package schema validates policy specifications against versioned JSON
// Schemas before they may become drafts.
//
// The registry compiles its schema documents once at construction and is the
// single enforcement point for structural invariants: required fields, enum
// membership, numeric bounds, and the nested story payload shape. Validation
// is all-or-nothing; a failure carries the full flattened issue list and
// nothing is applied.
package schema
