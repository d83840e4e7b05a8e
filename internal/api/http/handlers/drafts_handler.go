package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/callbridge/internal/domain"
	"github.com/spec-kit/callbridge/internal/draft"
	"github.com/spec-kit/callbridge/internal/repository"
	apperrors "github.com/spec-kit/callbridge/pkg/util"
)

// DraftsHandler exposes draft reads and decisions over REST, mirroring the
// websocket confirm/cancel path for integrations without a live session.
type DraftsHandler struct {
	repo    repository.DraftRepository
	manager *draft.Manager
}

// NewDraftsHandler returns a new handler instance.
func NewDraftsHandler(repo repository.DraftRepository, manager *draft.Manager) *DraftsHandler {
	return &DraftsHandler{repo: repo, manager: manager}
}

// Get returns a single draft by id.
func (h *DraftsHandler) Get(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return apperrors.NewValidationError("draft id is required", nil)
	}

	d, err := h.repo.GetByID(c.Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(d)
}

// ListPending returns all drafts still awaiting a decision.
func (h *DraftsHandler) ListPending(c *fiber.Ctx) error {
	drafts, err := h.repo.ListPending(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"drafts": drafts, "count": len(drafts)})
}

type decisionRequest struct {
	Actor string               `json:"actor"`
	Edits *domain.DraftContent `json:"edits,omitempty"`
}

// Confirm promotes a draft into a ticket.
func (h *DraftsHandler) Confirm(c *fiber.Ctx) error {
	var req decisionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid request body", nil)
	}
	if req.Actor == "" {
		return apperrors.NewValidationError("actor is required", nil)
	}

	d, err := h.manager.Confirm(c.Context(), c.Params("id"), req.Actor, req.Edits)
	if err != nil {
		return mapDecisionError(d, err)
	}
	return c.JSON(d)
}

// Cancel discards a pending draft.
func (h *DraftsHandler) Cancel(c *fiber.Ctx) error {
	var req decisionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid request body", nil)
	}
	if req.Actor == "" {
		return apperrors.NewValidationError("actor is required", nil)
	}

	d, err := h.manager.Cancel(c.Context(), c.Params("id"), req.Actor)
	if err != nil {
		return mapDecisionError(d, err)
	}
	return c.JSON(d)
}

func mapDecisionError(d *domain.Draft, err error) error {
	switch {
	case errors.Is(err, draft.ErrConfirmationInFlight):
		return apperrors.NewConflict("draft decision already in progress", nil)
	case d != nil && d.Status == domain.DraftStatusFailed:
		return apperrors.NewTicketCreationFailed(err)
	}
	return err
}
