// Package policy owns the policy lifecycle: drafts move through
// DRAFT → SUBMITTED → APPROVED → PUBLISHED under merchant scoping, every
// publish is gated by a single-use cryptographic approval, and published
// policies are versioned gaplessly per policy key.
//
// Expiry is lazy: ListActivePolicies sweeps the merchant's published index
// and retires anything past its expires_at before answering, so no
// background timer exists and callers never see stale-but-expired policies.
package policy
