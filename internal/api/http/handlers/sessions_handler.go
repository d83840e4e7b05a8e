package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/callbridge/internal/realtime"
)

// SessionsHandler exposes the presence mirror so dashboards can list live
// connections without holding a websocket session.
type SessionsHandler struct {
	presence realtime.PresenceStore
}

// NewSessionsHandler returns a new handler instance.
func NewSessionsHandler(presence realtime.PresenceStore) *SessionsHandler {
	return &SessionsHandler{presence: presence}
}

// List returns every live session recorded in the presence store.
func (h *SessionsHandler) List(c *fiber.Ctx) error {
	infos, err := h.presence.List(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"sessions": infos, "count": len(infos)})
}
