package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/callbridge/internal/config"
)

type fakeSubmitter struct {
	mu        sync.Mutex
	delivered []string
	failKinds map[string]bool
	err       error
}

func (f *fakeSubmitter) Submit(_ context.Context, kind string, _ json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.failKinds[kind] {
		return errors.New("submit failed")
	}
	f.delivered = append(f.delivered, kind)
	return nil
}

func (f *fakeSubmitter) deliveredKinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.delivered...)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) byKind(kind EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func testQueueConfig(t *testing.T) config.QueueConfig {
	t.Helper()
	return config.QueueConfig{
		Path:       filepath.Join(t.TempDir(), "queue.json"),
		MaxRetries: 3,
		BatchSize:  10,
	}
}

func TestQueue_EnqueuePersistsBeforeReturn(t *testing.T) {
	cfg := testQueueConfig(t)
	sub := &fakeSubmitter{}

	q, err := NewQueue(cfg, sub, nil, zap.NewNop())
	require.NoError(t, err)

	_, err = q.Enqueue(context.Background(), "confirmDraft", json.RawMessage(`{"draft_id":"d1"}`))
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), "cancelDraft", json.RawMessage(`{"draft_id":"d2"}`))
	require.NoError(t, err)

	// a fresh instance sees exactly what was acknowledged, in order
	reloaded, err := NewQueue(cfg, sub, nil, zap.NewNop())
	require.NoError(t, err)
	items := reloaded.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "confirmDraft", items[0].Kind)
	assert.Equal(t, "cancelDraft", items[1].Kind)
}

func TestQueue_DeliversInOrderWhenOnline(t *testing.T) {
	cfg := testQueueConfig(t)
	sub := &fakeSubmitter{}
	ctx := context.Background()

	q, err := NewQueue(cfg, sub, nil, zap.NewNop())
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := q.Enqueue(ctx, fmt.Sprintf("kind-%d", i), json.RawMessage(`{}`))
		require.NoError(t, err)
	}
	require.Equal(t, 4, q.Len())

	q.SetOnline(ctx, true)
	assert.Equal(t, []string{"kind-0", "kind-1", "kind-2", "kind-3"}, sub.deliveredKinds())
	assert.Equal(t, 0, q.Len())
}

func TestQueue_OfflineProcessIsNoOp(t *testing.T) {
	cfg := testQueueConfig(t)
	sub := &fakeSubmitter{}
	ctx := context.Background()

	q, err := NewQueue(cfg, sub, nil, zap.NewNop())
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "confirmDraft", json.RawMessage(`{}`))
	require.NoError(t, err)

	q.ProcessQueue(ctx)
	assert.Empty(t, sub.deliveredKinds())
	assert.Equal(t, 1, q.Len())
}

func TestQueue_FailedItemsRetryThenDrop(t *testing.T) {
	cfg := testQueueConfig(t)
	cfg.MaxRetries = 2
	sub := &fakeSubmitter{err: errors.New("network down")}
	rec := &eventRecorder{}
	ctx := context.Background()

	q, err := NewQueue(cfg, sub, rec.record, zap.NewNop())
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "confirmDraft", json.RawMessage(`{}`))
	require.NoError(t, err)
	q.SetOnline(ctx, true)

	// SetOnline already ran one failing pass
	items := q.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].RetryCount)

	q.ProcessQueue(ctx)
	assert.Equal(t, 0, q.Len())

	dropped := rec.byKind(EventQueueItemDropped)
	require.Len(t, dropped, 1)
	assert.Equal(t, "confirmDraft", dropped[0].Item.Kind)
}

func TestQueue_PartialBatchKeepsFailed(t *testing.T) {
	cfg := testQueueConfig(t)
	sub := &fakeSubmitter{failKinds: map[string]bool{"cancelDraft": true}}
	ctx := context.Background()

	q, err := NewQueue(cfg, sub, nil, zap.NewNop())
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "confirmDraft", json.RawMessage(`{}`))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "cancelDraft", json.RawMessage(`{}`))
	require.NoError(t, err)

	q.SetOnline(ctx, true)

	assert.Equal(t, []string{"confirmDraft"}, sub.deliveredKinds())
	items := q.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "cancelDraft", items[0].Kind)
	assert.Equal(t, 1, items[0].RetryCount)
}

func TestQueue_CleanupEvictsByAge(t *testing.T) {
	cfg := testQueueConfig(t)
	cfg.MaxAgeHours = 24
	rec := &eventRecorder{}
	ctx := context.Background()

	q, err := NewQueue(cfg, &fakeSubmitter{}, rec.record, zap.NewNop())
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "fresh", json.RawMessage(`{}`))
	require.NoError(t, err)

	// backdate an item past the retention window
	q.mu.Lock()
	q.items = append(q.items, OutboundItem{
		ID:         "stale-1",
		Kind:       "stale",
		Payload:    json.RawMessage(`{}`),
		EnqueuedAt: time.Now().Add(-25 * time.Hour),
	})
	q.mu.Unlock()

	q.Cleanup()

	items := q.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "fresh", items[0].Kind)
	require.Len(t, rec.byKind(EventQueueItemDropped), 1)
}

func TestQueue_CleanupEnforcesStorageCap(t *testing.T) {
	cfg := testQueueConfig(t)
	cfg.MaxStorageBytes = 2048
	ctx := context.Background()

	q, err := NewQueue(cfg, &fakeSubmitter{}, nil, zap.NewNop())
	require.NoError(t, err)

	payload, err := json.Marshal(map[string]string{"blob": strings.Repeat("x", 200)})
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		_, err := q.Enqueue(ctx, fmt.Sprintf("item-%d", i), payload)
		require.NoError(t, err)
	}

	q.Cleanup()

	q.mu.Lock()
	size := q.serializedSizeLocked()
	q.mu.Unlock()
	assert.LessOrEqual(t, size, cfg.MaxStorageBytes*8/10)
	require.NotEmpty(t, q.Items())
	// oldest items are evicted first, so the survivors are the newest
	assert.Equal(t, "item-19", q.Items()[len(q.Items())-1].Kind)
	assert.NotEqual(t, "item-0", q.Items()[0].Kind)
}

func TestQueue_LoadToleratesMissingFile(t *testing.T) {
	cfg := testQueueConfig(t)
	q, err := NewQueue(cfg, &fakeSubmitter{}, nil, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 0, q.Len())
}
