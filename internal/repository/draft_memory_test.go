package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/callbridge/internal/domain"
	"github.com/spec-kit/callbridge/internal/repository"
)

func pendingDraft(id, callID string, expiresIn time.Duration) *domain.Draft {
	return &domain.Draft{
		ID:              id,
		CallID:          callID,
		TargetExtension: "101",
		Status:          domain.DraftStatusPendingConfirmation,
		ExpiresAt:       time.Now().Add(expiresIn),
	}
}

func TestMemoryRepository_CreateAndGet(t *testing.T) {
	repo := repository.NewMemoryDraftRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, pendingDraft("d1", "call-1", time.Minute)))

	got, err := repo.GetByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "call-1", got.CallID)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestMemoryRepository_GetActiveByCallID(t *testing.T) {
	repo := repository.NewMemoryDraftRepository()
	ctx := context.Background()

	draft := pendingDraft("d1", "call-1", time.Minute)
	require.NoError(t, repo.Create(ctx, draft))

	active, err := repo.GetActiveByCallID(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, "d1", active.ID)

	// terminal drafts stop blocking the call id
	draft.Status = domain.DraftStatusCancelled
	require.NoError(t, repo.Update(ctx, draft))
	_, err = repo.GetActiveByCallID(ctx, "call-1")
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestMemoryRepository_ListPendingOrderedByDeadline(t *testing.T) {
	repo := repository.NewMemoryDraftRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, pendingDraft("late", "call-1", time.Hour)))
	require.NoError(t, repo.Create(ctx, pendingDraft("soon", "call-2", time.Minute)))
	done := pendingDraft("done", "call-3", time.Minute)
	done.Status = domain.DraftStatusCreated
	require.NoError(t, repo.Create(ctx, done))

	pending, err := repo.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "soon", pending[0].ID)
	assert.Equal(t, "late", pending[1].ID)
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := repository.NewMemoryDraftRepository()
	ctx := context.Background()

	draft := pendingDraft("d1", "call-1", time.Minute)
	draft.Content.Tags = []string{"telephony"}
	require.NoError(t, repo.Create(ctx, draft))

	got, err := repo.GetByID(ctx, "d1")
	require.NoError(t, err)
	got.Content.Tags[0] = "mutated"
	got.Status = domain.DraftStatusFailed

	fresh, err := repo.GetByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "telephony", fresh.Content.Tags[0])
	assert.Equal(t, domain.DraftStatusPendingConfirmation, fresh.Status)
}
