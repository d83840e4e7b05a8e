package domain

import "time"

// TranscribedCall is the inbound event that starts the draft lifecycle:
// a finished call with its speech-to-text transcript attached.
type TranscribedCall struct {
	CallID          string    `json:"call_id"`
	Extension       string    `json:"extension"`
	AgentName       string    `json:"agent_name,omitempty"`
	CallerName      string    `json:"caller_name,omitempty"`
	CallerNumber    string    `json:"caller_number,omitempty"`
	DurationSeconds int       `json:"duration_seconds"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	RecordingURL    string    `json:"recording_url,omitempty"`
	Direction       string    `json:"direction,omitempty"`
	Transcript      string    `json:"transcript"`
}
