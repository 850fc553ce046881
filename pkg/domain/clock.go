package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Clock supplies the current time. Injectable so lifecycle and expiry tests
// can run against a fixed or stepped clock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now invokes the wrapped function.
func (f ClockFunc) Now() time.Time { return f() }

// FixedClock always returns the same instant.
func FixedClock(t time.Time) Clock { return ClockFunc(func() time.Time { return t }) }

// IDGenerator mints opaque identifiers for drafts, approvals, decisions and
// traces. Injectable for deterministic tests.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator produces random UUIDv4 strings.
type UUIDGenerator struct{}

// NewID returns a fresh UUID string.
func (UUIDGenerator) NewID() string { return uuid.NewString() }

// IDFunc adapts a function to the IDGenerator interface.
type IDFunc func() string

// NewID invokes the wrapped function.
func (f IDFunc) NewID() string { return f() }

// SequenceIDs returns a generator yielding prefix-1, prefix-2, ... Useful in
// tests that assert on identifiers.
func SequenceIDs(prefix string) IDGenerator {
	n := 0
	return IDFunc(func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	})
}
