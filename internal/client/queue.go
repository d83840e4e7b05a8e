package client

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/callbridge/internal/config"
)

// OutboundItem is one unit of work the agent must eventually deliver.
type OutboundItem struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	RetryCount  int             `json:"retry_count"`
	LastAttempt *time.Time      `json:"last_attempt,omitempty"`
}

// Submitter delivers one outbound item to the server.
type Submitter interface {
	Submit(ctx context.Context, kind string, payload json.RawMessage) error
}

type queueFile struct {
	Items   []OutboundItem `json:"items"`
	SavedAt time.Time      `json:"saved_at"`
}

// Queue is the durable offline queue: an oldest-first log of undelivered
// outbound items, persisted atomically on every mutation so a crash loses
// nothing that was acknowledged to the caller.
type Queue struct {
	cfg       config.QueueConfig
	submitter Submitter
	emit      Emitter
	logger    *zap.Logger

	mu         sync.Mutex
	items      []OutboundItem
	processing bool
	online     bool
}

// NewQueue builds the queue and reloads any persisted items from disk.
func NewQueue(cfg config.QueueConfig, submitter Submitter, emit Emitter, logger *zap.Logger) (*Queue, error) {
	if emit == nil {
		emit = func(Event) {}
	}
	q := &Queue{cfg: cfg, submitter: submitter, emit: emit, logger: logger}
	if err := q.load(); err != nil {
		return nil, err
	}
	return q, nil
}

// Len returns the number of undelivered items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Items returns a snapshot of the queue in delivery order.
func (q *Queue) Items() []OutboundItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]OutboundItem(nil), q.items...)
}

// SetOnline records connectivity. Transitioning online kicks off delivery.
func (q *Queue) SetOnline(ctx context.Context, online bool) {
	q.mu.Lock()
	was := q.online
	q.online = online
	q.mu.Unlock()
	if online && !was {
		q.ProcessQueue(ctx)
	}
}

// Enqueue appends an item, persists the queue before returning, and
// attempts immediate delivery when online.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload json.RawMessage) (*OutboundItem, error) {
	item := OutboundItem{
		ID:         uuid.NewString(),
		Kind:       kind,
		Payload:    payload,
		EnqueuedAt: time.Now(),
	}

	q.mu.Lock()
	q.items = append(q.items, item)
	err := q.persistLocked()
	online := q.online
	q.mu.Unlock()
	if err != nil {
		return nil, err
	}

	q.emit(Event{Kind: EventQueueItemAdded, Item: &item})
	q.logger.Info("queued outbound item", zap.String("id", item.ID), zap.String("kind", kind))

	if online {
		q.ProcessQueue(ctx)
	}
	return &item, nil
}

// ProcessQueue delivers up to one batch of the oldest items. Single-flight:
// concurrent invocations and offline periods are no-ops.
func (q *Queue) ProcessQueue(ctx context.Context) {
	q.mu.Lock()
	if q.processing || !q.online || len(q.items) == 0 {
		q.mu.Unlock()
		return
	}
	q.processing = true
	batch := append([]OutboundItem(nil), q.items...)
	if len(batch) > q.cfg.BatchSize && q.cfg.BatchSize > 0 {
		batch = batch[:q.cfg.BatchSize]
	}
	q.mu.Unlock()

	delivered := make(map[string]struct{})
	failed := make(map[string]struct{})
	for _, item := range batch {
		if err := q.submitter.Submit(ctx, item.Kind, item.Payload); err != nil {
			q.logger.Warn("delivery failed",
				zap.String("id", item.ID),
				zap.Int("retry_count", item.RetryCount+1),
				zap.Error(err))
			failed[item.ID] = struct{}{}
			continue
		}
		delivered[item.ID] = struct{}{}
	}

	q.mu.Lock()
	now := time.Now()
	kept := q.items[:0]
	var dropped []OutboundItem
	for _, item := range q.items {
		if _, ok := delivered[item.ID]; ok {
			q.emit(Event{Kind: EventQueueItemDelivered, Item: &item})
			continue
		}
		if _, ok := failed[item.ID]; ok {
			item.RetryCount++
			item.LastAttempt = &now
			if item.RetryCount >= q.cfg.MaxRetries {
				dropped = append(dropped, item)
				continue
			}
		}
		kept = append(kept, item)
	}
	q.items = kept
	if err := q.persistLocked(); err != nil {
		q.logger.Error("failed to persist queue", zap.Error(err))
	}
	q.processing = false
	q.mu.Unlock()

	for i := range dropped {
		q.logger.Error("dropping item after max retries", zap.String("id", dropped[i].ID))
		q.emit(Event{Kind: EventQueueItemDropped, Item: &dropped[i], Err: errors.New("max retries exceeded")})
	}
}

// Run drives the periodic retry and cleanup timers until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) {
	retryEvery := time.Duration(q.cfg.RetryIntervalSeconds) * time.Second
	if retryEvery <= 0 {
		retryEvery = 30 * time.Second
	}
	cleanupEvery := time.Duration(q.cfg.CleanupIntervalSec) * time.Second
	if cleanupEvery <= 0 {
		cleanupEvery = time.Minute
	}

	retry := time.NewTicker(retryEvery)
	cleanup := time.NewTicker(cleanupEvery)
	defer retry.Stop()
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-retry.C:
			q.ProcessQueue(ctx)
		case <-cleanup.C:
			q.Cleanup()
		}
	}
}

// ForceSync triggers an immediate delivery pass.
func (q *Queue) ForceSync(ctx context.Context) {
	q.ProcessQueue(ctx)
}

// Cleanup evicts stale and exhausted items, then enforces the storage cap
// by evicting the oldest remaining items until usage falls to 80% of the
// cap (hysteresis so the boundary does not thrash).
func (q *Queue) Cleanup() {
	maxAge := time.Duration(q.cfg.MaxAgeHours) * time.Hour
	now := time.Now()

	q.mu.Lock()
	var dropped []OutboundItem
	kept := q.items[:0]
	for _, item := range q.items {
		if maxAge > 0 && now.Sub(item.EnqueuedAt) > maxAge {
			dropped = append(dropped, item)
			continue
		}
		if q.cfg.MaxRetries > 0 && item.RetryCount >= q.cfg.MaxRetries {
			dropped = append(dropped, item)
			continue
		}
		kept = append(kept, item)
	}
	q.items = kept

	if q.cfg.MaxStorageBytes > 0 && q.serializedSizeLocked() > q.cfg.MaxStorageBytes {
		target := q.cfg.MaxStorageBytes * 8 / 10
		for len(q.items) > 0 && q.serializedSizeLocked() > target {
			dropped = append(dropped, q.items[0])
			q.items = q.items[1:]
		}
	}

	var err error
	if len(dropped) > 0 {
		err = q.persistLocked()
	}
	q.mu.Unlock()

	if err != nil {
		q.logger.Error("failed to persist queue after cleanup", zap.Error(err))
	}
	for i := range dropped {
		q.emit(Event{Kind: EventQueueItemDropped, Item: &dropped[i], Err: errors.New("evicted by retention policy")})
	}
	if len(dropped) > 0 {
		q.logger.Info("evicted queue items", zap.Int("count", len(dropped)))
	}
}

// persistLocked atomically replaces the on-disk log. Caller holds q.mu.
func (q *Queue) persistLocked() error {
	data, err := json.Marshal(queueFile{Items: q.items, SavedAt: time.Now()})
	if err != nil {
		return err
	}
	return renameio.WriteFile(q.cfg.Path, data, 0o600)
}

func (q *Queue) serializedSizeLocked() int64 {
	data, err := json.Marshal(queueFile{Items: q.items})
	if err != nil {
		return 0
	}
	return int64(len(data))
}

func (q *Queue) load() error {
	data, err := os.ReadFile(q.cfg.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var file queueFile
	if err := json.Unmarshal(data, &file); err != nil {
		return err
	}
	q.items = file.Items
	if len(q.items) > 0 {
		q.logger.Info("reloaded offline queue", zap.Int("items", len(q.items)))
	}
	return nil
}
