package realtime

import (
	"encoding/json"
	"time"

	"github.com/spec-kit/callbridge/internal/domain"
)

// Message types pushed to clients.
const (
	MsgConnected      = "connected"
	MsgNewDraft       = "newDraft"
	MsgDraftOutcome   = "draftOutcome"
	MsgPong           = "pong"
	MsgError          = "error"
	MsgActiveSessions = "activeSessions"
)

// Message types accepted from clients.
const (
	MsgPing              = "ping"
	MsgConfirmDraft      = "confirmDraft"
	MsgCancelDraft       = "cancelDraft"
	MsgGetActiveSessions = "getActiveSessions"
	MsgCallEvent         = "callEvent"
)

// Envelope is the wire frame for server-to-client pushes.
type Envelope struct {
	Type      string    `json:"type"`
	ID        string    `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Inbound is the wire frame for client-to-server messages.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// WelcomePayload is sent once after a successful accept.
type WelcomePayload struct {
	ConnectionID string                 `json:"connection_id"`
	Class        domain.ConnectionClass `json:"class"`
	Extension    string                 `json:"extension,omitempty"`
}

// PingPayload carries the client timestamp, echoed back verbatim so the
// client can compute round-trip latency.
type PingPayload struct {
	SentAt int64 `json:"sent_at"`
}

// ConfirmDraftPayload is the agent's confirmation, optionally with edits.
type ConfirmDraftPayload struct {
	DraftID string               `json:"draft_id"`
	Edits   *domain.DraftContent `json:"edits,omitempty"`
}

// CancelDraftPayload is the agent's cancellation.
type CancelDraftPayload struct {
	DraftID string `json:"draft_id"`
}

// ErrorPayload is the explicit reply for rejected or unknown messages.
type ErrorPayload struct {
	Error string `json:"error"`
}
