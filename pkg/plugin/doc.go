// Package plugin defines the five capability contracts policies are built
// from (trigger, segment, constraint, scorer, action) and the typed registry
// the decision engine resolves them through.
//
// A missing plugin is an expected condition, not an error: lookups return an
// ok flag and the engine turns a miss into a per-candidate rejection so one
// merchant's misconfigured policy cannot block evaluation of others.
package plugin
