package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/callbridge/internal/domain"
)

// memoryDraftRepository keeps drafts in process memory. Used when no
// POSTGRES_DSN is provided and by tests.
type memoryDraftRepository struct {
	mu     sync.RWMutex
	drafts map[string]domain.Draft
}

// NewMemoryDraftRepository instantiates the in-memory repository.
func NewMemoryDraftRepository() DraftRepository {
	return &memoryDraftRepository{drafts: make(map[string]domain.Draft)}
}

func (r *memoryDraftRepository) Create(_ context.Context, draft *domain.Draft) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	draft.CreatedAt = now
	draft.UpdatedAt = now
	r.drafts[draft.ID] = cloneDraft(*draft)
	return nil
}

func (r *memoryDraftRepository) GetByID(_ context.Context, id string) (*domain.Draft, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	draft, ok := r.drafts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := cloneDraft(draft)
	return &copied, nil
}

func (r *memoryDraftRepository) GetActiveByCallID(_ context.Context, callID string) (*domain.Draft, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, draft := range r.drafts {
		if draft.CallID == callID && !draft.Status.IsTerminal() {
			copied := cloneDraft(draft)
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memoryDraftRepository) Update(_ context.Context, draft *domain.Draft) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.drafts[draft.ID]; !ok {
		return pgx.ErrNoRows
	}
	draft.UpdatedAt = time.Now()
	r.drafts[draft.ID] = cloneDraft(*draft)
	return nil
}

func (r *memoryDraftRepository) ListPending(_ context.Context) ([]domain.Draft, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var pending []domain.Draft
	for _, draft := range r.drafts {
		if draft.Status == domain.DraftStatusPendingConfirmation {
			pending = append(pending, cloneDraft(draft))
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].ExpiresAt.Before(pending[j].ExpiresAt)
	})
	return pending, nil
}

func cloneDraft(d domain.Draft) domain.Draft {
	if d.Ticket != nil {
		ref := *d.Ticket
		d.Ticket = &ref
	}
	if d.Content.Contact != nil {
		contact := *d.Content.Contact
		d.Content.Contact = &contact
	}
	d.Content.Tags = append([]string(nil), d.Content.Tags...)
	if d.Content.CustomFields != nil {
		fields := make(map[string]string, len(d.Content.CustomFields))
		for k, v := range d.Content.CustomFields {
			fields[k] = v
		}
		d.Content.CustomFields = fields
	}
	return d
}
