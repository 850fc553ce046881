// Package builtin is the default plugin set registered at startup: event and
// fan-out triggers, expression-based segments, store-backed budget and
// pacing constraints, a weighted scorer, and voucher/story cost estimators.
//
// The decision engine depends only on the plugin contracts; this package is
// one collaborator that happens to fill the registry.
package builtin
