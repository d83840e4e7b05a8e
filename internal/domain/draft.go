package domain

import "time"

// DraftStatus enumerates lifecycle states for draft tickets.
type DraftStatus string

const (
	DraftStatusPendingConfirmation DraftStatus = "PENDING_CONFIRMATION"
	DraftStatusConfirming          DraftStatus = "CONFIRMING"
	DraftStatusCreated             DraftStatus = "CREATED"
	DraftStatusCancelled           DraftStatus = "CANCELLED"
	DraftStatusFailed              DraftStatus = "FAILED"
)

// IsTerminal reports whether the status admits no further transitions.
func (s DraftStatus) IsTerminal() bool {
	switch s {
	case DraftStatusCreated, DraftStatusCancelled, DraftStatusFailed:
		return true
	}
	return false
}

// DraftPriority enumerates proposed ticket urgency, ordered LOW < NORMAL < HIGH < CRITICAL.
type DraftPriority string

const (
	DraftPriorityLow      DraftPriority = "LOW"
	DraftPriorityNormal   DraftPriority = "NORMAL"
	DraftPriorityHigh     DraftPriority = "HIGH"
	DraftPriorityCritical DraftPriority = "CRITICAL"
)

// Rank returns the ordinal position of the priority for comparisons.
func (p DraftPriority) Rank() int {
	switch p {
	case DraftPriorityLow:
		return 0
	case DraftPriorityNormal:
		return 1
	case DraftPriorityHigh:
		return 2
	case DraftPriorityCritical:
		return 3
	}
	return -1
}

// ContactInfo identifies the caller on a draft.
type ContactInfo struct {
	Phone string `json:"phone,omitempty"`
	Name  string `json:"name,omitempty"`
}

// AgentInfo identifies the handling agent on a draft.
type AgentInfo struct {
	Extension string `json:"extension"`
	Name      string `json:"name,omitempty"`
}

// CallInfo carries telephony metadata attached to a draft.
type CallInfo struct {
	DurationSeconds int       `json:"duration_seconds"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	RecordingURL    string    `json:"recording_url,omitempty"`
	Direction       string    `json:"direction,omitempty"`
}

// DraftContent is the editable payload of a draft ticket.
type DraftContent struct {
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	Priority     DraftPriority     `json:"priority"`
	Contact      *ContactInfo      `json:"contact,omitempty"`
	Agent        AgentInfo         `json:"agent"`
	Call         CallInfo          `json:"call"`
	Transcript   string            `json:"transcript,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`
}

// TicketRef references the ticket created in the external ticketing platform.
type TicketRef struct {
	ExternalID   string `json:"external_id"`
	TicketNumber string `json:"ticket_number,omitempty"`
}

// Draft is a time-boxed proposal for a ticket awaiting confirmation.
//
// At most one non-terminal draft exists per call id; terminal drafts are
// immutable. Transitions are driven only by the lifecycle manager.
type Draft struct {
	ID              string       `json:"id"`
	CallID          string       `json:"call_id"`
	TargetExtension string       `json:"target_extension"`
	Content         DraftContent `json:"content"`
	Status          DraftStatus  `json:"status"`
	ExpiresAt       time.Time    `json:"expires_at"`
	Ticket          *TicketRef   `json:"ticket,omitempty"`
	FailureReason   string       `json:"failure_reason,omitempty"`
	DecidedBy       string       `json:"decided_by,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}
