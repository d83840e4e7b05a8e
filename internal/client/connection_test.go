package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/callbridge/internal/config"
)

// fakeMsgConn is a scriptable connection: frames pushed to in are returned
// by ReadJSON, writes are recorded, and a ping is answered with an echoed
// pong when autoPong is set.
type fakeMsgConn struct {
	in       chan frame
	autoPong bool

	mu     sync.Mutex
	writes []frame
	closed bool
}

func newFakeMsgConn(autoPong bool) *fakeMsgConn {
	return &fakeMsgConn{in: make(chan frame, 16), autoPong: autoPong}
}

func (c *fakeMsgConn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("write on closed connection")
	}
	c.writes = append(c.writes, f)
	echo := c.autoPong && f.Type == "ping"
	c.mu.Unlock()

	if echo {
		c.in <- frame{Type: "pong", Data: f.Data}
	}
	return nil
}

func (c *fakeMsgConn) ReadJSON(v any) error {
	f, ok := <-c.in
	if !ok {
		return io.EOF
	}
	*(v.(*frame)) = f
	return nil
}

func (c *fakeMsgConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// dropServer simulates the server side going away.
func (c *fakeMsgConn) dropServer() {
	close(c.in)
}

// fakeTransport hands out scripted dial results in order, repeating the
// last one once the script is exhausted.
type fakeTransport struct {
	mu    sync.Mutex
	dials int
	seq   []func() (MsgConn, error)
}

func (t *fakeTransport) Dial(_ context.Context, _, _ string) (MsgConn, error) {
	t.mu.Lock()
	idx := t.dials
	t.dials++
	if idx >= len(t.seq) {
		idx = len(t.seq) - 1
	}
	next := t.seq[idx]
	t.mu.Unlock()
	return next()
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func acceptedConn() func() (MsgConn, error) {
	return func() (MsgConn, error) {
		conn := newFakeMsgConn(true)
		conn.in <- frame{Type: "connected"}
		return conn, nil
	}
}

func testClientConfig() config.ClientConfig {
	return config.ClientConfig{
		ServerURL:             "ws://test.invalid/ws",
		Extension:             "101",
		ReconnectBaseDelayMS:  10,
		ReconnectMaxDelayMS:   100,
		ReconnectMaxAttempts:  5,
		ConnectTimeoutSeconds: 2,
	}
}

func staticToken(_ context.Context) (string, error) { return "token", nil }

func TestConnect_Authenticates(t *testing.T) {
	rec := &eventRecorder{}
	transport := &fakeTransport{seq: []func() (MsgConn, error){acceptedConn()}}

	c := NewConnection(testClientConfig(), zap.NewNop(), ConnectionOptions{
		Transport: transport,
		Tokens:    staticToken,
		Emit:      rec.record,
	})
	t.Cleanup(c.Disconnect)

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, StateAuthenticated, c.State())
	assert.Len(t, rec.byKind(EventConnected), 1)
	assert.Len(t, rec.byKind(EventAuthenticated), 1)
}

func TestConnect_SecondCallRejected(t *testing.T) {
	transport := &fakeTransport{seq: []func() (MsgConn, error){acceptedConn()}}
	c := NewConnection(testClientConfig(), zap.NewNop(), ConnectionOptions{
		Transport: transport,
		Tokens:    staticToken,
	})
	t.Cleanup(c.Disconnect)

	require.NoError(t, c.Connect(context.Background()))
	assert.ErrorIs(t, c.Connect(context.Background()), ErrAlreadyConnected)
}

func TestConnect_FirstFailureSurfacesWithoutRetry(t *testing.T) {
	rec := &eventRecorder{}
	dialErr := errors.New("connection refused")
	transport := &fakeTransport{seq: []func() (MsgConn, error){
		func() (MsgConn, error) { return nil, dialErr },
	}}

	c := NewConnection(testClientConfig(), zap.NewNop(), ConnectionOptions{
		Transport: transport,
		Tokens:    staticToken,
		Emit:      rec.record,
	})

	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, dialErr)
	assert.Equal(t, StateDisconnected, c.State())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, transport.dialCount())
	assert.Empty(t, rec.byKind(EventReconnecting))
}

func TestConnect_AuthRejected(t *testing.T) {
	transport := &fakeTransport{seq: []func() (MsgConn, error){
		func() (MsgConn, error) { return nil, ErrAuthRejected },
	}}
	c := NewConnection(testClientConfig(), zap.NewNop(), ConnectionOptions{
		Transport: transport,
		Tokens:    staticToken,
	})

	assert.ErrorIs(t, c.Connect(context.Background()), ErrAuthRejected)
}

func TestDrop_ReconnectsWithBackoff(t *testing.T) {
	rec := &eventRecorder{}
	first := newFakeMsgConn(true)
	first.in <- frame{Type: "connected"}

	transport := &fakeTransport{seq: []func() (MsgConn, error){
		func() (MsgConn, error) { return first, nil },
		acceptedConn(),
	}}

	c := NewConnection(testClientConfig(), zap.NewNop(), ConnectionOptions{
		Transport: transport,
		Tokens:    staticToken,
		Emit:      rec.record,
	})
	t.Cleanup(c.Disconnect)

	require.NoError(t, c.Connect(context.Background()))
	first.dropServer()

	require.Eventually(t, func() bool {
		return c.State() == StateAuthenticated && transport.dialCount() == 2
	}, 2*time.Second, 5*time.Millisecond)

	reconnects := rec.byKind(EventReconnecting)
	require.Len(t, reconnects, 1)
	assert.Equal(t, 1, reconnects[0].Attempt)
	assert.Equal(t, 10*time.Millisecond, reconnects[0].Delay)
	assert.Len(t, rec.byKind(EventDisconnected), 1)
}

func TestDrop_GivesUpAfterMaxAttempts(t *testing.T) {
	rec := &eventRecorder{}
	first := newFakeMsgConn(true)
	first.in <- frame{Type: "connected"}

	cfg := testClientConfig()
	cfg.ReconnectMaxAttempts = 2

	transport := &fakeTransport{seq: []func() (MsgConn, error){
		func() (MsgConn, error) { return first, nil },
		func() (MsgConn, error) { return nil, errors.New("connection refused") },
	}}

	c := NewConnection(cfg, zap.NewNop(), ConnectionOptions{
		Transport: transport,
		Tokens:    staticToken,
		Emit:      rec.record,
	})
	t.Cleanup(c.Disconnect)

	require.NoError(t, c.Connect(context.Background()))
	first.dropServer()

	require.Eventually(t, func() bool {
		return len(rec.byKind(EventReconnectGaveUp)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	gaveUp := rec.byKind(EventReconnectGaveUp)[0]
	assert.Equal(t, 2, gaveUp.Attempt)
	assert.Len(t, rec.byKind(EventReconnecting), 2)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestDrop_AuthRejectionStopsRetrying(t *testing.T) {
	rec := &eventRecorder{}
	first := newFakeMsgConn(true)
	first.in <- frame{Type: "connected"}

	transport := &fakeTransport{seq: []func() (MsgConn, error){
		func() (MsgConn, error) { return first, nil },
		func() (MsgConn, error) { return nil, ErrAuthRejected },
	}}

	c := NewConnection(testClientConfig(), zap.NewNop(), ConnectionOptions{
		Transport: transport,
		Tokens:    staticToken,
		Emit:      rec.record,
	})
	t.Cleanup(c.Disconnect)

	require.NoError(t, c.Connect(context.Background()))
	first.dropServer()

	require.Eventually(t, func() bool {
		return len(rec.byKind(EventReconnectGaveUp)) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, transport.dialCount())
}

func TestDisconnect_Intentional(t *testing.T) {
	rec := &eventRecorder{}
	transport := &fakeTransport{seq: []func() (MsgConn, error){acceptedConn()}}
	c := NewConnection(testClientConfig(), zap.NewNop(), ConnectionOptions{
		Transport: transport,
		Tokens:    staticToken,
		Emit:      rec.record,
	})

	require.NoError(t, c.Connect(context.Background()))
	c.Disconnect()

	assert.Equal(t, StateDisconnected, c.State())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, transport.dialCount())
	assert.Empty(t, rec.byKind(EventReconnecting))
}

func TestTestConnection_MeasuresLatency(t *testing.T) {
	rec := &eventRecorder{}
	transport := &fakeTransport{seq: []func() (MsgConn, error){acceptedConn()}}
	c := NewConnection(testClientConfig(), zap.NewNop(), ConnectionOptions{
		Transport: transport,
		Tokens:    staticToken,
		Emit:      rec.record,
	})
	t.Cleanup(c.Disconnect)

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.TestConnection(context.Background()))

	require.Eventually(t, func() bool {
		return len(rec.byKind(EventLatency)) >= 1
	}, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, c.Latency(), time.Duration(0))
}

func TestTestConnection_RequiresSession(t *testing.T) {
	c := NewConnection(testClientConfig(), zap.NewNop(), ConnectionOptions{
		Transport: &fakeTransport{seq: []func() (MsgConn, error){acceptedConn()}},
		Tokens:    staticToken,
	})
	assert.ErrorIs(t, c.TestConnection(context.Background()), ErrNotConnected)
}

func TestSubmit_RequiresSession(t *testing.T) {
	c := NewConnection(testClientConfig(), zap.NewNop(), ConnectionOptions{
		Transport: &fakeTransport{seq: []func() (MsgConn, error){acceptedConn()}},
		Tokens:    staticToken,
	})
	assert.ErrorIs(t, c.Submit(context.Background(), "confirmDraft", nil), ErrNotConnected)
}

func TestServerPushReachesHandler(t *testing.T) {
	conn := newFakeMsgConn(true)
	conn.in <- frame{Type: "connected"}
	transport := &fakeTransport{seq: []func() (MsgConn, error){
		func() (MsgConn, error) { return conn, nil },
	}}

	var mu sync.Mutex
	var got []string
	c := NewConnection(testClientConfig(), zap.NewNop(), ConnectionOptions{
		Transport: transport,
		Tokens:    staticToken,
		OnMessage: func(msgType string, _ json.RawMessage) {
			mu.Lock()
			got = append(got, msgType)
			mu.Unlock()
		},
	})
	t.Cleanup(c.Disconnect)

	require.NoError(t, c.Connect(context.Background()))
	conn.in <- frame{Type: "newDraft", Data: json.RawMessage(`{"id":"d1"}`)}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0] == "newDraft"
	}, time.Second, 5*time.Millisecond)
}

func (c *fakeMsgConn) writesByType(msgType string) []frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []frame
	for _, f := range c.writes {
		if f.Type == msgType {
			out = append(out, f)
		}
	}
	return out
}

// Wires a connection and a durable queue the way cmd/agent does: the event
// stream flips the queue online on authentication, and the queue drains
// through the connection. Both the first connect and the reconnect after a
// drop must complete while the queue submits.
func TestConnect_QueueDrainsThroughEventStream(t *testing.T) {
	first := newFakeMsgConn(true)
	first.in <- frame{Type: "connected"}
	second := newFakeMsgConn(true)
	second.in <- frame{Type: "connected"}
	transport := &fakeTransport{seq: []func() (MsgConn, error){
		func() (MsgConn, error) { return first, nil },
		func() (MsgConn, error) { return second, nil },
	}}

	var queue *Queue
	emit := func(ev Event) {
		switch ev.Kind {
		case EventAuthenticated:
			queue.SetOnline(context.Background(), true)
		case EventDisconnected:
			queue.SetOnline(context.Background(), false)
		}
	}
	c := NewConnection(testClientConfig(), zap.NewNop(), ConnectionOptions{
		Transport: transport,
		Tokens:    staticToken,
		Emit:      emit,
	})
	t.Cleanup(c.Disconnect)

	var err error
	queue, err = NewQueue(testQueueConfig(t), c, emit, zap.NewNop())
	require.NoError(t, err)

	_, err = queue.Enqueue(context.Background(), "confirmDraft", json.RawMessage(`{"draft_id":"d-1"}`))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- c.Connect(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return while the queue drained")
	}
	require.Eventually(t, func() bool { return queue.Len() == 0 }, time.Second, 10*time.Millisecond)
	assert.Len(t, first.writesByType("confirmDraft"), 1)

	// Drop the link, queue more work, and let the reconnect drain it.
	first.dropServer()
	_, err = queue.Enqueue(context.Background(), "cancelDraft", json.RawMessage(`{"draft_id":"d-2"}`))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return c.State() == StateAuthenticated && queue.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, second.writesByType("cancelDraft"), 1)
}

func TestHeartbeat_SilenceTriggersReconnect(t *testing.T) {
	rec := &eventRecorder{}
	first := newFakeMsgConn(false)
	first.in <- frame{Type: "connected"}
	transport := &fakeTransport{seq: []func() (MsgConn, error){
		func() (MsgConn, error) { return first, nil },
		acceptedConn(),
	}}

	cfg := testClientConfig()
	cfg.HeartbeatIntervalSeconds = 1
	cfg.HeartbeatWindowSeconds = 1

	c := NewConnection(cfg, zap.NewNop(), ConnectionOptions{
		Transport: transport,
		Tokens:    staticToken,
		Emit:      rec.record,
	})
	t.Cleanup(c.Disconnect)

	require.NoError(t, c.Connect(context.Background()))

	// No pongs ever arrive, so the window elapses and the drop path runs.
	require.Eventually(t, func() bool {
		return len(rec.byKind(EventDisconnected)) >= 1
	}, 5*time.Second, 20*time.Millisecond)
	drops := rec.byKind(EventDisconnected)
	require.ErrorIs(t, drops[0].Err, errHeartbeatLost)
	assert.NotEmpty(t, rec.byKind(EventReconnecting))

	require.Eventually(t, func() bool {
		return c.State() == StateAuthenticated
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, transport.dialCount())
}

func TestTestConnection_NoWaiterLeftWhenDisconnected(t *testing.T) {
	c := NewConnection(testClientConfig(), zap.NewNop(), ConnectionOptions{
		Transport: &fakeTransport{seq: []func() (MsgConn, error){acceptedConn()}},
		Tokens:    staticToken,
	})

	require.ErrorIs(t, c.TestConnection(context.Background()), ErrNotConnected)

	c.mu.Lock()
	waiter := c.testPong
	c.mu.Unlock()
	assert.Nil(t, waiter)
}
