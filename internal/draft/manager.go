package draft

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/spec-kit/callbridge/internal/domain"
	"github.com/spec-kit/callbridge/internal/events"
	"github.com/spec-kit/callbridge/internal/observability"
	"github.com/spec-kit/callbridge/internal/realtime"
	"github.com/spec-kit/callbridge/internal/repository"
	"github.com/spec-kit/callbridge/internal/ticketing"
)

// SystemActor is recorded when the expiry timer promotes a draft.
const SystemActor = "system"

var (
	// ErrActiveDraftExists is returned when a call already has a
	// non-terminal draft.
	ErrActiveDraftExists = errors.New("an active draft already exists for this call")
	// ErrConfirmationInFlight is returned when a draft is mid-confirmation,
	// which is only observable after a crash during ticket creation.
	ErrConfirmationInFlight = errors.New("draft confirmation already in progress")
)

// Pusher is the slice of the realtime hub the manager needs.
type Pusher interface {
	SendToExtension(extension string, msgType string, data any) int
}

// Outcome is pushed to the originating agent session when a draft reaches a
// terminal state.
type Outcome struct {
	DraftID       string             `json:"draft_id"`
	CallID        string             `json:"call_id"`
	Status        domain.DraftStatus `json:"status"`
	Ticket        *domain.TicketRef  `json:"ticket,omitempty"`
	FailureReason string             `json:"failure_reason,omitempty"`
	DecidedBy     string             `json:"decided_by,omitempty"`
}

// Manager owns the draft lifecycle. All transitions for a given draft id are
// serialized through a keyed mutex so the expiry timer and a human action
// can never both invoke ticket creation.
type Manager struct {
	repo       repository.DraftRepository
	pusher     Pusher
	creator    ticketing.TicketCreator
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
	ttl        time.Duration

	locks *keyedMutex

	timerMu sync.Mutex
	timers  map[string]*time.Timer
}

// ManagerOptions bundles the manager's collaborators.
type ManagerOptions struct {
	Repo       repository.DraftRepository
	Pusher     Pusher
	Creator    ticketing.TicketCreator
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	TTL        time.Duration
}

// NewManager constructs the lifecycle manager.
func NewManager(logger *zap.Logger, opts ManagerOptions) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	return &Manager{
		repo:       opts.Repo,
		pusher:     opts.Pusher,
		creator:    opts.Creator,
		dispatcher: opts.Dispatcher,
		logger:     logger,
		metrics:    opts.Metrics,
		ttl:        opts.TTL,
		locks:      newKeyedMutex(),
		timers:     make(map[string]*time.Timer),
	}
}

// CreateDraft persists a new pending draft for a transcribed call, pushes it
// to the agent sessions for the call's extension, and arms the expiry timer.
// A call that already has a non-terminal draft is rejected.
func (m *Manager) CreateDraft(ctx context.Context, call domain.TranscribedCall) (*domain.Draft, error) {
	existing, err := m.repo.GetActiveByCallID(ctx, call.CallID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if existing != nil {
		m.logger.Warn("rejecting duplicate draft for call",
			zap.String("call_id", call.CallID),
			zap.String("existing_draft_id", existing.ID))
		return existing, ErrActiveDraftExists
	}

	draft := &domain.Draft{
		ID:              uuid.NewString(),
		CallID:          call.CallID,
		TargetExtension: call.Extension,
		Content:         ComposeContent(call),
		Status:          domain.DraftStatusPendingConfirmation,
		ExpiresAt:       time.Now().Add(m.ttl),
	}
	if err := m.repo.Create(ctx, draft); err != nil {
		// Concurrent duplicate webhooks can both pass the active-draft check;
		// the partial unique index on (call_id, non-terminal status) catches
		// the loser here.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if existing, lookupErr := m.repo.GetActiveByCallID(ctx, call.CallID); lookupErr == nil {
				return existing, ErrActiveDraftExists
			}
			return nil, ErrActiveDraftExists
		}
		return nil, err
	}

	m.pusher.SendToExtension(draft.TargetExtension, realtime.MsgNewDraft, draft)
	m.publish(ctx, events.Event{
		Type:    events.EventDraftCreated,
		DraftID: draft.ID,
		Payload: events.DraftCreatedPayload{
			CallID:          draft.CallID,
			TargetExtension: draft.TargetExtension,
			Priority:        draft.Content.Priority,
			Title:           draft.Content.Title,
			ExpiresAt:       draft.ExpiresAt,
		},
	})
	m.scheduleExpiry(draft.ID, draft.ExpiresAt)

	m.logger.Info("draft created",
		zap.String("draft_id", draft.ID),
		zap.String("call_id", draft.CallID),
		zap.String("extension", draft.TargetExtension),
		zap.Time("expires_at", draft.ExpiresAt))
	return draft, nil
}

// Confirm promotes a draft to a ticket. Idempotent: a draft that already
// reached a terminal state returns its recorded outcome without re-invoking
// ticket creation.
func (m *Manager) Confirm(ctx context.Context, draftID, actorID string, edits *domain.DraftContent) (*domain.Draft, error) {
	unlock := m.locks.Lock(draftID)
	defer unlock()

	draft, err := m.repo.GetByID(ctx, draftID)
	if err != nil {
		return nil, err
	}
	if draft.Status.IsTerminal() {
		return draft, nil
	}
	if draft.Status == domain.DraftStatusConfirming {
		return draft, ErrConfirmationInFlight
	}
	return m.confirmLocked(ctx, draft, actorID, edits)
}

// confirmLocked runs the side-effecting confirmation path. The caller must
// hold the draft's lock and have verified the draft is PENDING_CONFIRMATION.
func (m *Manager) confirmLocked(ctx context.Context, draft *domain.Draft, actorID string, edits *domain.DraftContent) (*domain.Draft, error) {
	m.cancelExpiry(draft.ID)

	draft.Status = domain.DraftStatusConfirming
	draft.DecidedBy = actorID
	draft.Content = mergeEdits(draft.Content, edits)
	if err := m.repo.Update(ctx, draft); err != nil {
		return nil, err
	}

	ref, err := m.creator.CreateTicket(ctx, draft.Content)
	if err != nil {
		m.logger.Error("ticket creation failed",
			zap.String("draft_id", draft.ID),
			zap.String("call_id", draft.CallID),
			zap.Error(err))
		draft.Status = domain.DraftStatusFailed
		draft.FailureReason = err.Error()
		if updateErr := m.repo.Update(ctx, draft); updateErr != nil {
			m.logger.Error("failed to persist FAILED status", zap.String("draft_id", draft.ID), zap.Error(updateErr))
		}
		m.finish(ctx, draft)
		return draft, err
	}

	draft.Status = domain.DraftStatusCreated
	draft.Ticket = &ref
	if err := m.repo.Update(ctx, draft); err != nil {
		// the external ticket exists; keep the reference in the in-memory
		// copy and surface the persistence failure
		m.logger.Error("failed to persist CREATED status", zap.String("draft_id", draft.ID), zap.Error(err))
		m.finish(ctx, draft)
		return draft, err
	}

	m.logger.Info("draft confirmed",
		zap.String("draft_id", draft.ID),
		zap.String("actor", actorID),
		zap.String("external_id", ref.ExternalID))
	m.finish(ctx, draft)
	return draft, nil
}

// Cancel discards a pending draft. Idempotent no-op on terminal drafts.
func (m *Manager) Cancel(ctx context.Context, draftID, actorID string) (*domain.Draft, error) {
	unlock := m.locks.Lock(draftID)
	defer unlock()

	draft, err := m.repo.GetByID(ctx, draftID)
	if err != nil {
		return nil, err
	}
	if draft.Status.IsTerminal() {
		return draft, nil
	}
	if draft.Status == domain.DraftStatusConfirming {
		return draft, ErrConfirmationInFlight
	}

	m.cancelExpiry(draftID)
	draft.Status = domain.DraftStatusCancelled
	draft.DecidedBy = actorID
	if err := m.repo.Update(ctx, draft); err != nil {
		return nil, err
	}

	m.logger.Info("draft cancelled", zap.String("draft_id", draftID), zap.String("actor", actorID))
	m.finish(ctx, draft)
	return draft, nil
}

// OnExpiry fires when a draft's confirmation window lapses. If a human
// already acted the draft has left PENDING_CONFIRMATION and this is a no-op;
// otherwise the draft is promoted exactly as an automatic confirmation.
func (m *Manager) OnExpiry(ctx context.Context, draftID string) {
	unlock := m.locks.Lock(draftID)
	defer unlock()

	draft, err := m.repo.GetByID(ctx, draftID)
	if err != nil {
		m.logger.Error("expiry lookup failed", zap.String("draft_id", draftID), zap.Error(err))
		return
	}
	if draft.Status != domain.DraftStatusPendingConfirmation {
		return
	}

	m.logger.Info("draft expired, auto-creating ticket", zap.String("draft_id", draftID))
	if _, err := m.confirmLocked(ctx, draft, SystemActor, nil); err != nil {
		m.logger.Error("auto-creation failed", zap.String("draft_id", draftID), zap.Error(err))
	}
}

// Restore re-arms expiry timers for pending drafts after a restart. Drafts
// already past their deadline fire immediately.
func (m *Manager) Restore(ctx context.Context) error {
	pending, err := m.repo.ListPending(ctx)
	if err != nil {
		return err
	}
	for _, draft := range pending {
		m.scheduleExpiry(draft.ID, draft.ExpiresAt)
	}
	if len(pending) > 0 {
		m.logger.Info("restored pending draft timers", zap.Int("count", len(pending)))
	}
	return nil
}

// Stop cancels all armed expiry timers.
func (m *Manager) Stop() {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	for id, timer := range m.timers {
		timer.Stop()
		delete(m.timers, id)
	}
}

func (m *Manager) scheduleExpiry(draftID string, expiresAt time.Time) {
	timer := time.AfterFunc(time.Until(expiresAt), func() {
		m.OnExpiry(context.Background(), draftID)
	})
	m.timerMu.Lock()
	m.timers[draftID] = timer
	m.timerMu.Unlock()
}

// cancelExpiry stops the draft's timer. Stopping a timer that already fired
// is a safe no-op; the status check under the draft lock is what prevents a
// double side effect.
func (m *Manager) cancelExpiry(draftID string) {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	if timer, ok := m.timers[draftID]; ok {
		timer.Stop()
		delete(m.timers, draftID)
	}
}

// finish reports a terminal transition: pushes the outcome to the agent
// sessions for the draft's extension and publishes the outcome event for
// display broadcast.
func (m *Manager) finish(ctx context.Context, draft *domain.Draft) {
	m.metrics.RecordDraftOutcome(string(draft.Status))

	outcome := Outcome{
		DraftID:       draft.ID,
		CallID:        draft.CallID,
		Status:        draft.Status,
		Ticket:        draft.Ticket,
		FailureReason: draft.FailureReason,
		DecidedBy:     draft.DecidedBy,
	}
	m.pusher.SendToExtension(draft.TargetExtension, realtime.MsgDraftOutcome, outcome)

	m.publish(ctx, events.Event{
		Type:    events.EventDraftOutcome,
		DraftID: draft.ID,
		Actor:   draft.DecidedBy,
		Payload: events.DraftOutcomePayload{
			CallID:          draft.CallID,
			TargetExtension: draft.TargetExtension,
			Status:          draft.Status,
			Ticket:          draft.Ticket,
			FailureReason:   draft.FailureReason,
		},
	})
}

func (m *Manager) publish(ctx context.Context, event events.Event) {
	if m.dispatcher == nil {
		return
	}
	if err := m.dispatcher.Publish(ctx, event); err != nil {
		m.logger.Warn("event publish failed", zap.String("type", string(event.Type)), zap.Error(err))
	}
}
