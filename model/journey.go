package model

import "time"

// Transition origin constants.
const (
	OriginDirect         = "DIRECT"
	OriginApprovalEngine = "APPROVAL_ENGINE"
)

// CreationTrigger is the synthetic trigger recorded on the log entry written
// when an instance is created. It is not a declared trigger of any graph.
const CreationTrigger = "<created>"

// JourneyInstance is one running occurrence of a journey bound to a single
// (tenant, member, journey code) triple. CurrentState is mutated exclusively
// by the transition engine; Version is the optimistic-concurrency token.
type JourneyInstance struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id"`
	MemberID       string         `json:"member_id"`
	JourneyCode    string         `json:"journey_code"`
	JourneyVersion int            `json:"journey_version"`
	CurrentState   string         `json:"current_state"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Version        int            `json:"version"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// TransitionLogEntry is one immutable record of the append-only transition
// ledger. FromState is empty only for the synthetic creation entry. Ordered
// by creation time, the entries of an instance reconstruct its full state
// history.
type TransitionLogEntry struct {
	ID                string         `json:"id"`
	TenantID          string         `json:"tenant_id"`
	JourneyInstanceID string         `json:"journey_instance_id"`
	MemberID          string         `json:"member_id"`
	FromState         string         `json:"from_state,omitempty"`
	ToState           string         `json:"to_state"`
	Trigger           string         `json:"trigger"`
	Origin            string         `json:"origin"`
	ActorID           string         `json:"actor_id"`
	ApprovalRequestID string         `json:"approval_request_id,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// IsCreation reports whether the entry is the synthetic creation marker.
func (e *TransitionLogEntry) IsCreation() bool {
	return e.FromState == "" && e.Trigger == CreationTrigger
}
