package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/callbridge/internal/domain"
)

// DraftRepository encapsulates draft persistence. Implementations are
// expected to be durable and strongly consistent per draft id.
type DraftRepository interface {
	Create(ctx context.Context, draft *domain.Draft) error
	GetByID(ctx context.Context, id string) (*domain.Draft, error)
	// GetActiveByCallID returns the non-terminal draft for a call id, or
	// pgx.ErrNoRows when none exists.
	GetActiveByCallID(ctx context.Context, callID string) (*domain.Draft, error)
	Update(ctx context.Context, draft *domain.Draft) error
	ListPending(ctx context.Context) ([]domain.Draft, error)
}

type draftRepository struct {
	pool *pgxpool.Pool
}

// NewDraftRepository instantiates the postgres-backed repository.
func NewDraftRepository(pool *pgxpool.Pool) DraftRepository {
	return &draftRepository{pool: pool}
}

func (r *draftRepository) Create(ctx context.Context, draft *domain.Draft) error {
	content, err := json.Marshal(draft.Content)
	if err != nil {
		return err
	}
	const query = `
        INSERT INTO drafts (id, call_id, target_extension, content, status, expires_at, decided_by)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		draft.ID,
		draft.CallID,
		draft.TargetExtension,
		content,
		draft.Status,
		draft.ExpiresAt,
		draft.DecidedBy,
	).Scan(&draft.CreatedAt, &draft.UpdatedAt)
}

func (r *draftRepository) GetByID(ctx context.Context, id string) (*domain.Draft, error) {
	const query = `
        SELECT id, call_id, target_extension, content, status, expires_at,
               ticket_external_id, ticket_number, failure_reason, decided_by, created_at, updated_at
        FROM drafts WHERE id=$1`
	return r.scanDraft(r.pool.QueryRow(ctx, query, id))
}

func (r *draftRepository) GetActiveByCallID(ctx context.Context, callID string) (*domain.Draft, error) {
	const query = `
        SELECT id, call_id, target_extension, content, status, expires_at,
               ticket_external_id, ticket_number, failure_reason, decided_by, created_at, updated_at
        FROM drafts WHERE call_id=$1 AND status IN ('PENDING_CONFIRMATION','CONFIRMING')
        ORDER BY created_at DESC LIMIT 1`
	return r.scanDraft(r.pool.QueryRow(ctx, query, callID))
}

func (r *draftRepository) Update(ctx context.Context, draft *domain.Draft) error {
	content, err := json.Marshal(draft.Content)
	if err != nil {
		return err
	}
	var externalID, ticketNumber *string
	if draft.Ticket != nil {
		externalID = &draft.Ticket.ExternalID
		ticketNumber = &draft.Ticket.TicketNumber
	}
	const query = `
        UPDATE drafts SET content=$1, status=$2, ticket_external_id=$3, ticket_number=$4,
            failure_reason=$5, decided_by=$6, updated_at=NOW()
        WHERE id=$7`
	cmd, err := r.pool.Exec(ctx, query,
		content,
		draft.Status,
		externalID,
		ticketNumber,
		draft.FailureReason,
		draft.DecidedBy,
		draft.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *draftRepository) ListPending(ctx context.Context) ([]domain.Draft, error) {
	const query = `
        SELECT id, call_id, target_extension, content, status, expires_at,
               ticket_external_id, ticket_number, failure_reason, decided_by, created_at, updated_at
        FROM drafts WHERE status='PENDING_CONFIRMATION' ORDER BY expires_at ASC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drafts []domain.Draft
	for rows.Next() {
		draft, err := r.scanDraft(rows)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, *draft)
	}
	return drafts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *draftRepository) scanDraft(row rowScanner) (*domain.Draft, error) {
	var (
		draft        domain.Draft
		content      []byte
		externalID   *string
		ticketNumber *string
		failure      *string
		decidedBy    *string
		expiresAt    time.Time
	)
	if err := row.Scan(
		&draft.ID,
		&draft.CallID,
		&draft.TargetExtension,
		&content,
		&draft.Status,
		&expiresAt,
		&externalID,
		&ticketNumber,
		&failure,
		&decidedBy,
		&draft.CreatedAt,
		&draft.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(content, &draft.Content); err != nil {
		return nil, err
	}
	draft.ExpiresAt = expiresAt
	if externalID != nil {
		draft.Ticket = &domain.TicketRef{ExternalID: *externalID}
		if ticketNumber != nil {
			draft.Ticket.TicketNumber = *ticketNumber
		}
	}
	if failure != nil {
		draft.FailureReason = *failure
	}
	if decidedBy != nil {
		draft.DecidedBy = *decidedBy
	}
	return &draft, nil
}
