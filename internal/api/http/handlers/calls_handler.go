package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/callbridge/internal/domain"
	"github.com/spec-kit/callbridge/internal/draft"
	apperrors "github.com/spec-kit/callbridge/pkg/util"
)

// CallsHandler receives transcribed call webhooks from the telephony side.
type CallsHandler struct {
	manager *draft.Manager
}

// NewCallsHandler returns a new handler instance.
func NewCallsHandler(manager *draft.Manager) *CallsHandler {
	return &CallsHandler{manager: manager}
}

// Transcribed accepts a finished call with its transcript and opens a
// draft ticket for the agent who handled it.
func (h *CallsHandler) Transcribed(c *fiber.Ctx) error {
	var call domain.TranscribedCall
	if err := c.BodyParser(&call); err != nil {
		return apperrors.NewValidationError("invalid request body", nil)
	}

	call.CallID = strings.TrimSpace(call.CallID)
	call.Extension = strings.TrimSpace(call.Extension)
	if call.CallID == "" {
		return apperrors.NewValidationError("call_id is required", nil)
	}
	if call.Extension == "" {
		return apperrors.NewValidationError("extension is required", nil)
	}

	created, err := h.manager.CreateDraft(c.Context(), call)
	if err != nil {
		if errors.Is(err, draft.ErrActiveDraftExists) {
			return apperrors.NewConflict("an active draft already exists for this call", fiber.Map{"call_id": call.CallID})
		}
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}
