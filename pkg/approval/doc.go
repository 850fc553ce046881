// Package approval issues and verifies the short-lived, scoped capability
// tokens that gate publishing and execution.
//
// Tokens are stateless: a compact base64url(payload).base64url(signature)
// pair signed with HMAC-SHA256. Replay resistance is the consumer's job via
// single-use bookkeeping on the Approval record; a token itself verifies any
// number of times until it expires.
package approval
