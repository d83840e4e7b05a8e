package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/callbridge/internal/config"
)

// State enumerates the connection machine's states.
type State string

const (
	StateDisconnected   State = "DISCONNECTED"
	StateConnecting     State = "CONNECTING"
	StateConnected      State = "CONNECTED"
	StateAuthenticating State = "AUTHENTICATING"
	StateAuthenticated  State = "AUTHENTICATED"
)

var (
	// ErrAlreadyConnected is returned by Connect when the machine is not idle.
	ErrAlreadyConnected = errors.New("connection already established or in progress")
	// ErrNotConnected is returned for operations that need a live session.
	ErrNotConnected = errors.New("not connected")
	errHeartbeatLost  = errors.New("no heartbeat response within window")
	errWelcomeTimeout = errors.New("timed out waiting for server welcome")
)

// TokenProvider obtains a fresh connection token before each dial.
type TokenProvider func(ctx context.Context) (string, error)

// MessageHandler receives server pushes that are not handled internally
// (draft pushes, outcome notifications).
type MessageHandler func(msgType string, data json.RawMessage)

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type pingData struct {
	SentAt int64 `json:"sent_at"`
}

// Connection is the agent-side resilient connection. A single mutex guards
// the state machine so connect attempts, reconnect timers, and heartbeat
// checks never interleave.
type Connection struct {
	cfg       config.ClientConfig
	transport Transport
	tokens    TokenProvider
	onMessage MessageHandler
	emit      Emitter
	logger    *zap.Logger
	backoff   Backoff

	mu             sync.Mutex
	writeMu        sync.Mutex
	state          State
	conn           MsgConn
	gen            int
	attempts       int
	intentional    bool
	reconnectTimer *time.Timer
	lastPong       time.Time
	latency        time.Duration
	testPong       chan struct{}
	pending        []Event
}

// ConnectionOptions bundles the connection's collaborators.
type ConnectionOptions struct {
	Transport Transport
	Tokens    TokenProvider
	OnMessage MessageHandler
	Emit      Emitter
}

// NewConnection builds a connection in DISCONNECTED state.
func NewConnection(cfg config.ClientConfig, logger *zap.Logger, opts ConnectionOptions) *Connection {
	emit := opts.Emit
	if emit == nil {
		emit = func(Event) {}
	}
	return &Connection{
		cfg:       cfg,
		transport: opts.Transport,
		tokens:    opts.Tokens,
		onMessage: opts.OnMessage,
		emit:      emit,
		logger:    logger,
		backoff: Backoff{
			Base: time.Duration(cfg.ReconnectBaseDelayMS) * time.Millisecond,
			Max:  time.Duration(cfg.ReconnectMaxDelayMS) * time.Millisecond,
		},
		state: StateDisconnected,
	}
}

// State returns the current machine state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Latency returns the last measured round-trip time.
func (c *Connection) Latency() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latency
}

// Connect opens the transport and authenticates. A failed first attempt is
// surfaced to the caller without retrying; involuntary drops after a
// successful connect reconnect automatically.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.unlockAndEmit()
	if c.state != StateDisconnected {
		return ErrAlreadyConnected
	}
	c.intentional = false
	return c.connectLocked(ctx)
}

// queueEvent records an event for delivery once c.mu is released. Caller
// holds c.mu.
func (c *Connection) queueEvent(ev Event) {
	c.pending = append(c.pending, ev)
}

// unlockAndEmit releases c.mu, then delivers the events queued while it was
// held. Handlers run without the lock, so they may call back into Submit or
// TestConnection without deadlocking.
func (c *Connection) unlockAndEmit() {
	events := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, ev := range events {
		c.emit(ev)
	}
}

// connectLocked drives one dial-and-authenticate attempt. Caller holds c.mu.
func (c *Connection) connectLocked(ctx context.Context) error {
	c.state = StateConnecting

	dialCtx := ctx
	if c.cfg.ConnectTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, time.Duration(c.cfg.ConnectTimeoutSeconds)*time.Second)
		defer cancel()
	}

	token, err := c.tokens(dialCtx)
	if err != nil {
		c.state = StateDisconnected
		return err
	}

	conn, err := c.transport.Dial(dialCtx, c.cfg.ServerURL, token)
	if err != nil {
		c.state = StateDisconnected
		return err
	}

	c.state = StateConnected
	c.queueEvent(Event{Kind: EventConnected})
	c.state = StateAuthenticating

	welcome, err := readFrameTimeout(conn, c.connectTimeout())
	if err != nil {
		_ = conn.Close()
		c.state = StateDisconnected
		return err
	}
	if welcome.Type != "connected" {
		_ = conn.Close()
		c.state = StateDisconnected
		return ErrAuthRejected
	}

	c.conn = conn
	c.state = StateAuthenticated
	c.attempts = 0
	c.lastPong = time.Now()
	c.gen++
	gen := c.gen
	c.queueEvent(Event{Kind: EventAuthenticated})
	c.logger.Info("connected and authenticated", zap.String("server", c.cfg.ServerURL))

	go c.readLoop(gen, conn)
	go c.heartbeatLoop(gen, conn)
	return nil
}

// Disconnect closes intentionally. No auto-reconnect follows.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	defer c.unlockAndEmit()
	c.intentional = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.gen++
	if c.state != StateDisconnected {
		c.state = StateDisconnected
		c.queueEvent(Event{Kind: EventDisconnected})
	}
}

// Submit sends one typed message to the server. Fails when the session is
// not authenticated; callers fall back to the offline queue.
func (c *Connection) Submit(_ context.Context, kind string, payload json.RawMessage) error {
	c.mu.Lock()
	conn := c.conn
	ok := c.state == StateAuthenticated && conn != nil
	c.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}
	return c.write(conn, outFrame{Type: kind, Data: payload})
}

// TestConnection runs a one-shot liveness probe with its own short timeout,
// independent of the heartbeat cadence.
func (c *Connection) TestConnection(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	ok := c.state == StateAuthenticated && conn != nil
	var ch chan struct{}
	if ok {
		ch = make(chan struct{}, 1)
		c.testPong = ch
	}
	c.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}

	if err := c.write(conn, outFrame{Type: "ping", Data: pingData{SentAt: time.Now().UnixMilli()}}); err != nil {
		return err
	}

	select {
	case <-ch:
		return nil
	case <-time.After(5 * time.Second):
		return errors.New("connection test timed out")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Connection) readLoop(gen int, conn MsgConn) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			c.handleDrop(gen, err)
			return
		}
		switch f.Type {
		case "pong":
			c.handlePong(f.Data)
		case "error":
			c.logger.Warn("server error reply", zap.ByteString("data", f.Data))
		default:
			if c.onMessage != nil {
				c.onMessage(f.Type, f.Data)
			}
		}
	}
}

func (c *Connection) handlePong(data json.RawMessage) {
	var ping pingData
	if err := json.Unmarshal(data, &ping); err != nil || ping.SentAt == 0 {
		return
	}
	latency := time.Since(time.UnixMilli(ping.SentAt))

	c.mu.Lock()
	c.lastPong = time.Now()
	c.latency = latency
	waiter := c.testPong
	c.testPong = nil
	c.mu.Unlock()

	if waiter != nil {
		select {
		case waiter <- struct{}{}:
		default:
		}
	}
	c.emit(Event{Kind: EventLatency, Latency: latency})
}

func (c *Connection) heartbeatLoop(gen int, conn MsgConn) {
	interval := time.Duration(c.cfg.HeartbeatIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	window := time.Duration(c.cfg.HeartbeatWindowSeconds) * time.Second
	if window <= 0 {
		window = 3 * interval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		stale := gen != c.gen || c.state != StateAuthenticated
		silent := time.Since(c.lastPong) > window
		c.mu.Unlock()
		if stale {
			return
		}
		if silent {
			c.handleDrop(gen, errHeartbeatLost)
			return
		}
		if err := c.write(conn, outFrame{Type: "ping", Data: pingData{SentAt: time.Now().UnixMilli()}}); err != nil {
			c.handleDrop(gen, err)
			return
		}
	}
}

// handleDrop processes an involuntary drop detected by the read loop or the
// heartbeat. Stale generations are ignored so a single drop is handled once.
func (c *Connection) handleDrop(gen int, err error) {
	c.mu.Lock()
	defer c.unlockAndEmit()
	if gen != c.gen {
		return
	}
	c.gen++
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.state = StateDisconnected
	c.queueEvent(Event{Kind: EventDisconnected, Err: err})
	c.logger.Warn("connection dropped", zap.Error(err))

	if c.intentional {
		return
	}
	c.scheduleReconnectLocked()
}

// scheduleReconnectLocked arms the backoff timer for the next attempt.
// Caller holds c.mu.
func (c *Connection) scheduleReconnectLocked() {
	c.attempts++
	if c.cfg.ReconnectMaxAttempts > 0 && c.attempts > c.cfg.ReconnectMaxAttempts {
		c.logger.Error("reconnect attempts exhausted", zap.Int("attempts", c.attempts-1))
		c.queueEvent(Event{Kind: EventReconnectGaveUp, Attempt: c.attempts - 1, Err: errors.New("reconnect attempts exhausted")})
		return
	}

	delay := c.backoff.Delay(c.attempts)
	c.logger.Info("scheduling reconnect", zap.Int("attempt", c.attempts), zap.Duration("delay", delay))
	c.queueEvent(Event{Kind: EventReconnecting, Attempt: c.attempts, Delay: delay})

	c.reconnectTimer = time.AfterFunc(delay, c.reconnect)
}

func (c *Connection) reconnect() {
	c.mu.Lock()
	defer c.unlockAndEmit()
	if c.intentional || c.state != StateDisconnected {
		return
	}
	if err := c.connectLocked(context.Background()); err != nil {
		if errors.Is(err, ErrAuthRejected) {
			c.logger.Error("reconnect rejected by server", zap.Error(err))
			c.queueEvent(Event{Kind: EventReconnectGaveUp, Attempt: c.attempts, Err: err})
			return
		}
		c.scheduleReconnectLocked()
	}
}

func (c *Connection) write(conn MsgConn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (c *Connection) connectTimeout() time.Duration {
	if c.cfg.ConnectTimeoutSeconds > 0 {
		return time.Duration(c.cfg.ConnectTimeoutSeconds) * time.Second
	}
	return 10 * time.Second
}

// readFrameTimeout reads one frame with a deadline, for the welcome
// handshake where the read loop is not running yet.
func readFrameTimeout(conn MsgConn, timeout time.Duration) (frame, error) {
	type result struct {
		f   frame
		err error
	}
	ch := make(chan result, 1)
	go func() {
		var f frame
		err := conn.ReadJSON(&f)
		ch <- result{f: f, err: err}
	}()
	select {
	case res := <-ch:
		return res.f, res.err
	case <-time.After(timeout):
		return frame{}, errWelcomeTimeout
	}
}
