package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/callbridge/internal/auth"
	"github.com/spec-kit/callbridge/internal/config"
	"github.com/spec-kit/callbridge/internal/domain"
	apperrors "github.com/spec-kit/callbridge/pkg/util"
)

// AuthHandler issues time-boxed connection tokens for the realtime hub.
type AuthHandler struct {
	tokens *auth.TokenManager
	cfg    config.AuthConfig
}

// NewAuthHandler returns a new handler instance.
func NewAuthHandler(tokens *auth.TokenManager, cfg config.AuthConfig) *AuthHandler {
	return &AuthHandler{tokens: tokens, cfg: cfg}
}

type tokenRequest struct {
	Class     domain.ConnectionClass `json:"class"`
	Extension string                 `json:"extension,omitempty"`
	APIKey    string                 `json:"api_key"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssueToken validates the API key and returns a signed connection token.
func (h *AuthHandler) IssueToken(c *fiber.Ctx) error {
	var req tokenRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid request body", nil)
	}

	var hash string
	switch req.Class {
	case domain.ConnectionClassAgent:
		if req.Extension == "" {
			return apperrors.NewValidationError("extension is required for agent tokens", nil)
		}
		hash = h.cfg.AgentAPIKeyHash
	case domain.ConnectionClassDisplay:
		hash = h.cfg.DisplayAPIKeyHash
	default:
		return apperrors.NewValidationError("unknown connection class", fiber.Map{"class": req.Class})
	}

	if hash == "" {
		return apperrors.NewUnauthorized("connection class not enabled")
	}
	if err := auth.CompareAPIKey(hash, req.APIKey); err != nil {
		return apperrors.NewUnauthorized("invalid api key")
	}

	token, expiresAt, err := h.tokens.GenerateToken(req.Class, req.Extension)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	return c.JSON(tokenResponse{Token: token, ExpiresAt: expiresAt})
}
