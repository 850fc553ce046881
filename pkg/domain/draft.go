package domain

import "time"

// DraftStatus is the lifecycle state of a policy draft.
type DraftStatus string

// DraftStatus values.
const (
	DraftStatusDraft     DraftStatus = "DRAFT"
	DraftStatusSubmitted DraftStatus = "SUBMITTED"
	DraftStatusApproved  DraftStatus = "APPROVED"
	DraftStatusRejected  DraftStatus = "REJECTED"
	DraftStatusPublished DraftStatus = "PUBLISHED"
)

// Draft is a policy specification under negotiation. Drafts are append-only:
// they are never deleted, only moved through lifecycle transitions.
type Draft struct {
	DraftID    string      `json:"draft_id" yaml:"draft_id"`
	MerchantID string      `json:"merchant_id" yaml:"merchant_id"`
	TemplateID string      `json:"template_id,omitempty" yaml:"template_id,omitempty"`
	Status     DraftStatus `json:"status" yaml:"status"`
	Spec       PolicySpec  `json:"spec" yaml:"spec"`

	CreatedBy   string     `json:"created_by" yaml:"created_by"`
	CreatedAt   time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" yaml:"updated_at"`
	SubmittedBy string     `json:"submitted_by,omitempty" yaml:"submitted_by,omitempty"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty" yaml:"submitted_at,omitempty"`
	ApprovedBy  string     `json:"approved_by,omitempty" yaml:"approved_by,omitempty"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty" yaml:"approved_at,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty" yaml:"published_at,omitempty"`
	RejectedBy  string     `json:"rejected_by,omitempty" yaml:"rejected_by,omitempty"`
	RejectedAt  *time.Time `json:"rejected_at,omitempty" yaml:"rejected_at,omitempty"`
	RejectNote  string     `json:"reject_note,omitempty" yaml:"reject_note,omitempty"`
}

// Clone returns a deep copy of the draft.
func (d *Draft) Clone() *Draft {
	if d == nil {
		return nil
	}
	clone := *d
	clone.Spec = d.Spec.Clone()
	return &clone
}

// ApprovalStatus is the lifecycle state of an approval record.
type ApprovalStatus string

// ApprovalStatus values.
const (
	ApprovalStatusApproved  ApprovalStatus = "APPROVED"
	ApprovalStatusPublished ApprovalStatus = "PUBLISHED"
)

// Approval is a single-use authorization record binding an approver's signed
// token to one draft. It is created on draft approval and consumed exactly
// once by publish.
type Approval struct {
	ApprovalID    string         `json:"approval_id" yaml:"approval_id"`
	DraftID       string         `json:"draft_id" yaml:"draft_id"`
	MerchantID    string         `json:"merchant_id" yaml:"merchant_id"`
	ApprovalLevel string         `json:"approval_level" yaml:"approval_level"`
	ApproverID    string         `json:"approver_id" yaml:"approver_id"`
	Token         string         `json:"token" yaml:"token"`
	Status        ApprovalStatus `json:"status" yaml:"status"`
	ApprovedAt    time.Time      `json:"approved_at" yaml:"approved_at"`
	ExpiresAt     time.Time      `json:"expires_at" yaml:"expires_at"`
	UsedAt        *time.Time     `json:"used_at,omitempty" yaml:"used_at,omitempty"`
}

// Clone returns a copy of the approval record.
func (a *Approval) Clone() *Approval {
	if a == nil {
		return nil
	}
	clone := *a
	if a.UsedAt != nil {
		used := *a.UsedAt
		clone.UsedAt = &used
	}
	return &clone
}
