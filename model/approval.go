package model

import "time"

// Approval request status constants. PENDING transitions to APPROVED or
// REJECTED exactly once; both outcomes are terminal.
const (
	ApprovalStatusPending  = "PENDING"
	ApprovalStatusApproved = "APPROVED"
	ApprovalStatusRejected = "REJECTED"
)

// ApprovalRequest is the member-journey's private approval record, distinct
// from any generic approvals bounded context. KanbanCardID links the
// best-effort external board projection; the request itself is the source of
// truth.
type ApprovalRequest struct {
	ID                string         `json:"id"`
	TenantID          string         `json:"tenant_id"`
	JourneyInstanceID string         `json:"journey_instance_id"`
	MemberID          string         `json:"member_id"`
	JourneyTrigger    string         `json:"journey_trigger"`
	PolicyCode        string         `json:"policy_code"`
	Status            string         `json:"status"`
	KanbanCardID      string         `json:"kanban_card_id,omitempty"`
	ResolvedBy        string         `json:"resolved_by,omitempty"`
	ResolvedAt        *time.Time     `json:"resolved_at,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// IsResolved reports whether the request has reached a terminal status.
func (r *ApprovalRequest) IsResolved() bool {
	return r.Status != ApprovalStatusPending
}

// ValidDecision reports whether status is an acceptable resolution decision.
func ValidDecision(status string) bool {
	return status == ApprovalStatusApproved || status == ApprovalStatusRejected
}
