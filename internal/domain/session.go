package domain

import "time"

// ConnectionClass distinguishes agent desktops from wallboard displays.
type ConnectionClass string

const (
	ConnectionClassAgent   ConnectionClass = "AGENT"
	ConnectionClassDisplay ConnectionClass = "DISPLAY"
)

// SessionInfo describes one live authenticated connection as seen by the hub.
type SessionInfo struct {
	ConnectionID  string          `json:"connection_id"`
	Class         ConnectionClass `json:"class"`
	Extension     string          `json:"extension,omitempty"`
	ConnectedAt   time.Time       `json:"connected_at"`
	LastHeartbeat time.Time       `json:"last_heartbeat"`
}
