package realtime

import (
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/callbridge/internal/domain"
)

// Conn is the server side of one transport connection. The hub only needs
// ordered JSON writes, control pings, and an explicit close with a reason.
type Conn interface {
	WriteJSON(v any) error
	Ping(deadline time.Time) error
	CloseWithReason(code int, reason string) error
	Close() error
}

// Session is one live authenticated connection.
type Session struct {
	ID        string
	Class     domain.ConnectionClass
	Extension string

	conn        Conn
	send        chan Envelope
	done        chan struct{}
	connectedAt time.Time

	// guarded by the hub mutex
	missedProbes  int
	lastHeartbeat time.Time
}

func newSession(id string, class domain.ConnectionClass, extension string, conn Conn, sendBuffer int) *Session {
	if sendBuffer <= 0 {
		sendBuffer = 32
	}
	now := time.Now()
	return &Session{
		ID:            id,
		Class:         class,
		Extension:     extension,
		conn:          conn,
		send:          make(chan Envelope, sendBuffer),
		done:          make(chan struct{}),
		connectedAt:   now,
		lastHeartbeat: now,
	}
}

// Info returns the session attributes for presence and diagnostics.
func (s *Session) Info() domain.SessionInfo {
	return domain.SessionInfo{
		ConnectionID:  s.ID,
		Class:         s.Class,
		Extension:     s.Extension,
		ConnectedAt:   s.connectedAt,
		LastHeartbeat: s.lastHeartbeat,
	}
}

// writePump serializes all writes for the session so messages reach the
// client in send order.
func (s *Session) writePump(logger *zap.Logger) {
	for {
		select {
		case env := <-s.send:
			if err := s.conn.WriteJSON(env); err != nil {
				logger.Warn("session write failed",
					zap.String("connection_id", s.ID),
					zap.String("type", env.Type),
					zap.Error(err))
				return
			}
		case <-s.done:
			return
		}
	}
}
