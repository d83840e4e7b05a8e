package ticketing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/callbridge/internal/config"
	"github.com/spec-kit/callbridge/internal/domain"
)

// TicketCreator creates a ticket in the external ticketing platform. The
// call is side-effecting and is never retried by the draft lifecycle;
// failures surface as a FAILED draft.
type TicketCreator interface {
	CreateTicket(ctx context.Context, content domain.DraftContent) (domain.TicketRef, error)
}

// httpCreator posts draft content to the configured ticketing endpoint.
// Field mapping and OAuth refresh live behind that endpoint.
type httpCreator struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPCreator builds the REST-backed creator.
func NewHTTPCreator(cfg config.TicketConfig, logger *zap.Logger) TicketCreator {
	timeout := 30 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &httpCreator{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type createTicketRequest struct {
	Subject     string            `json:"subject"`
	Description string            `json:"description"`
	Priority    string            `json:"priority"`
	Tags        []string          `json:"tags,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

type createTicketResponse struct {
	ID           string `json:"id"`
	TicketNumber string `json:"ticket_number"`
}

func (c *httpCreator) CreateTicket(ctx context.Context, content domain.DraftContent) (domain.TicketRef, error) {
	payload, err := json.Marshal(createTicketRequest{
		Subject:     content.Title,
		Description: content.Description,
		Priority:    string(content.Priority),
		Tags:        content.Tags,
		Fields:      content.CustomFields,
	})
	if err != nil {
		return domain.TicketRef{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tickets", bytes.NewReader(payload))
	if err != nil {
		return domain.TicketRef{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.TicketRef{}, fmt.Errorf("ticketing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.TicketRef{}, fmt.Errorf("ticketing returned status %d", resp.StatusCode)
	}

	var created createTicketResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return domain.TicketRef{}, fmt.Errorf("decode ticketing response: %w", err)
	}

	c.logger.Info("ticket created in external platform",
		zap.String("external_id", created.ID),
		zap.String("ticket_number", created.TicketNumber))
	return domain.TicketRef{ExternalID: created.ID, TicketNumber: created.TicketNumber}, nil
}
