package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Fatal lifecycle and lookup errors. These abort the calling operation and
// surface to the caller; per-candidate failures never use them.
var (
	ErrDraftNotFound    = errors.New("draft not found")
	ErrPolicyNotFound   = errors.New("policy not found")
	ErrApprovalNotFound = errors.New("approval not found")
	ErrDecisionNotFound = errors.New("decision not found")
	ErrPlanNotFound     = errors.New("execution plan not found")
	ErrSchemaNotFound   = errors.New("schema version not registered")

	ErrDraftNotSubmittable = errors.New("draft cannot be submitted")
	ErrDraftNotSubmitted   = errors.New("draft is not submitted")
	ErrDraftNotApproved    = errors.New("draft is not approved")
	ErrMerchantScope       = errors.New("resource scope does not match merchant")

	ErrApprovalExpired  = errors.New("approval expired")
	ErrApprovalUsed     = errors.New("approval already used")
	ErrApprovalMismatch = errors.New("approval does not match draft")
)

// Approval-token verification errors.
var (
	ErrTokenRequired    = errors.New("APPROVAL_TOKEN_REQUIRED")
	ErrTokenInvalid     = errors.New("APPROVAL_TOKEN_INVALID")
	ErrTokenExpired     = errors.New("APPROVAL_TOKEN_EXPIRED")
	ErrTokenMismatch    = errors.New("APPROVAL_TOKEN_MISMATCH")
	ErrTokenScopeDenied = errors.New("APPROVAL_TOKEN_SCOPE_DENIED")
)

// Issue is one flattened schema validation finding.
type Issue struct {
	Path    string `json:"path" yaml:"path"`
	Message string `json:"message" yaml:"message"`
}

// SchemaError carries the full issue list of a failed validation. Validation
// is all-or-nothing: a SchemaError means nothing was applied.
type SchemaError struct {
	Version string
	Issues  []Issue
}

// Error renders the error code and a compact issue summary.
func (e *SchemaError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "SCHEMA_INVALID: %s (%d issues)", e.Version, len(e.Issues))
	for i, issue := range e.Issues {
		if i >= 3 {
			b.WriteString("; ...")
			break
		}
		fmt.Fprintf(&b, "; %s: %s", issue.Path, issue.Message)
	}
	return b.String()
}

// IsSchemaError reports whether err is (or wraps) a SchemaError and returns it.
func IsSchemaError(err error) (*SchemaError, bool) {
	var se *SchemaError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
