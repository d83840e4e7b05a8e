package events

import (
	"time"

	"github.com/spec-kit/callbridge/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventDraftCreated        EventType = "draft.created"
	EventDraftOutcome        EventType = "draft.outcome"
	EventSessionConnected    EventType = "session.connected"
	EventSessionDisconnected EventType = "session.disconnected"
)

// Event represents a domain event emitted by the orchestrator core.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	DraftID   string      `json:"draft_id,omitempty"`
	Actor     string      `json:"actor,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// DraftCreatedPayload payload.
type DraftCreatedPayload struct {
	CallID          string               `json:"call_id"`
	TargetExtension string               `json:"target_extension"`
	Priority        domain.DraftPriority `json:"priority"`
	Title           string               `json:"title"`
	ExpiresAt       time.Time            `json:"expires_at"`
}

// DraftOutcomePayload payload.
type DraftOutcomePayload struct {
	CallID          string             `json:"call_id"`
	TargetExtension string             `json:"target_extension"`
	Status          domain.DraftStatus `json:"status"`
	Ticket          *domain.TicketRef  `json:"ticket,omitempty"`
	FailureReason   string             `json:"failure_reason,omitempty"`
}

// SessionPayload payload for connect/disconnect events.
type SessionPayload struct {
	ConnectionID string                 `json:"connection_id"`
	Class        domain.ConnectionClass `json:"class"`
	Extension    string                 `json:"extension,omitempty"`
}
