// Package domain defines the core business types for PolicyOS.
//
// This package contains pure domain logic with no external dependencies
// outside the Go standard library and the uuid generator. All other packages
// (schema, plugin, policy, engine, storage) implement interfaces defined
// here and depend on these types; the dependency direction is always
// infrastructure → domain, never the reverse.
package domain
