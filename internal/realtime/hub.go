package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/callbridge/internal/domain"
	"github.com/spec-kit/callbridge/internal/events"
	"github.com/spec-kit/callbridge/internal/observability"
)

// CloseProbeTimeout is the close code sent when a session is terminated for
// missing consecutive liveness probes. Auth rejections never reach the hub;
// they are refused with a 401 before the upgrade.
const CloseProbeTimeout = 4002

// maxMissedProbes is the number of consecutive unanswered liveness probes
// after which a session is forcibly terminated.
const maxMissedProbes = 2

// InboundHandler processes one typed inbound message from a session.
type InboundHandler func(ctx context.Context, session *Session, data json.RawMessage) error

// PresenceStore mirrors the live session table to an external store so
// dashboards can query it without talking to the hub.
type PresenceStore interface {
	Set(ctx context.Context, info domain.SessionInfo) error
	Remove(ctx context.Context, connectionID string) error
	List(ctx context.Context) ([]domain.SessionInfo, error)
}

// Hub maintains the session registry and routes messages to live sessions.
// Delivery is fire-and-forget: when no session matches a routing key the
// message is dropped and the draft expiry timer is the correctness backstop.
type Hub struct {
	logger        *zap.Logger
	metrics       *observability.Metrics
	presence      PresenceStore
	dispatcher    events.Dispatcher
	writeTimeout  time.Duration
	probeInterval time.Duration
	sendBuffer    int

	mu          sync.RWMutex
	sessions    map[string]*Session
	byExtension map[string]map[string]struct{}

	handlerMu sync.RWMutex
	handlers  map[string]InboundHandler
}

// HubOptions configures a hub.
type HubOptions struct {
	ProbeInterval time.Duration
	WriteTimeout  time.Duration
	SendBuffer    int
	Presence      PresenceStore
	Dispatcher    events.Dispatcher
	Metrics       *observability.Metrics
}

// NewHub creates a hub with the given options.
func NewHub(logger *zap.Logger, opts HubOptions) *Hub {
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	h := &Hub{
		logger:        logger,
		metrics:       opts.Metrics,
		presence:      opts.Presence,
		dispatcher:    opts.Dispatcher,
		writeTimeout:  opts.WriteTimeout,
		probeInterval: opts.ProbeInterval,
		sendBuffer:    opts.SendBuffer,
		sessions:      make(map[string]*Session),
		byExtension:   make(map[string]map[string]struct{}),
	}
	h.registerBuiltins()
	return h
}

// Handle registers a handler for an inbound message type.
func (h *Hub) Handle(msgType string, handler InboundHandler) {
	h.handlerMu.Lock()
	defer h.handlerMu.Unlock()
	h.handlers[msgType] = handler
}

func (h *Hub) registerBuiltins() {
	h.handlers = make(map[string]InboundHandler)
	h.handlers[MsgPing] = func(_ context.Context, session *Session, data json.RawMessage) error {
		h.Touch(session.ID)
		h.deliver(session, Envelope{Type: MsgPong, Timestamp: time.Now(), Data: data})
		return nil
	}
	h.handlers[MsgGetActiveSessions] = func(ctx context.Context, session *Session, _ json.RawMessage) error {
		if session.Class != domain.ConnectionClassDisplay {
			h.sendError(session, "getActiveSessions is display-only")
			return nil
		}
		h.deliver(session, Envelope{Type: MsgActiveSessions, Timestamp: time.Now(), Data: h.ActiveSessions()})
		return nil
	}
}

// Register adds an accepted session to the registry, starts its writer, and
// sends the welcome message.
func (h *Hub) Register(ctx context.Context, session *Session) {
	h.mu.Lock()
	h.sessions[session.ID] = session
	if session.Extension != "" {
		set, ok := h.byExtension[session.Extension]
		if !ok {
			set = make(map[string]struct{})
			h.byExtension[session.Extension] = set
		}
		set[session.ID] = struct{}{}
	}
	h.mu.Unlock()

	go session.writePump(h.logger)

	h.deliver(session, Envelope{
		Type:      MsgConnected,
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Data: WelcomePayload{
			ConnectionID: session.ID,
			Class:        session.Class,
			Extension:    session.Extension,
		},
	})

	h.metrics.SessionOpened()
	if h.presence != nil {
		if err := h.presence.Set(ctx, session.Info()); err != nil {
			h.logger.Warn("presence set failed", zap.String("connection_id", session.ID), zap.Error(err))
		}
	}
	h.publishSessionEvent(ctx, events.EventSessionConnected, session)
	h.logger.Info("session registered",
		zap.String("connection_id", session.ID),
		zap.String("class", string(session.Class)),
		zap.String("extension", session.Extension))
}

// Unregister removes a session and releases its writer.
func (h *Hub) Unregister(ctx context.Context, connectionID string) {
	h.mu.Lock()
	session, ok := h.sessions[connectionID]
	if ok {
		delete(h.sessions, connectionID)
		if session.Extension != "" {
			if set, ok := h.byExtension[session.Extension]; ok {
				delete(set, connectionID)
				if len(set) == 0 {
					delete(h.byExtension, session.Extension)
				}
			}
		}
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	close(session.done)
	_ = session.conn.Close()

	h.metrics.SessionClosed()
	if h.presence != nil {
		if err := h.presence.Remove(ctx, connectionID); err != nil {
			h.logger.Warn("presence remove failed", zap.String("connection_id", connectionID), zap.Error(err))
		}
	}
	h.publishSessionEvent(ctx, events.EventSessionDisconnected, session)
	h.logger.Info("session unregistered", zap.String("connection_id", connectionID))
}

func (h *Hub) publishSessionEvent(ctx context.Context, eventType events.EventType, session *Session) {
	if h.dispatcher == nil {
		return
	}
	err := h.dispatcher.Publish(ctx, events.Event{
		Type: eventType,
		Payload: events.SessionPayload{
			ConnectionID: session.ID,
			Class:        session.Class,
			Extension:    session.Extension,
		},
	})
	if err != nil {
		h.logger.Warn("session event publish failed", zap.String("type", string(eventType)), zap.Error(err))
	}
}

// SendToExtension fans the message out to every live session registered for
// the extension. Returns the number of sessions the message was handed to.
func (h *Hub) SendToExtension(extension string, msgType string, data any) int {
	env := Envelope{Type: msgType, ID: uuid.NewString(), Timestamp: time.Now(), Data: data}

	h.mu.RLock()
	targets := make([]*Session, 0, 2)
	for id := range h.byExtension[extension] {
		if session, ok := h.sessions[id]; ok {
			targets = append(targets, session)
		}
	}
	h.mu.RUnlock()

	for _, session := range targets {
		h.deliver(session, env)
	}
	if len(targets) == 0 {
		h.logger.Warn("no live session for extension, message dropped",
			zap.String("extension", extension),
			zap.String("type", msgType))
	}
	h.metrics.RecordPush(len(targets))
	return len(targets)
}

// Broadcast sends the message to every live session of the given class.
func (h *Hub) Broadcast(class domain.ConnectionClass, msgType string, data any) int {
	env := Envelope{Type: msgType, ID: uuid.NewString(), Timestamp: time.Now(), Data: data}

	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, session := range h.sessions {
		if session.Class == class {
			targets = append(targets, session)
		}
	}
	h.mu.RUnlock()

	for _, session := range targets {
		h.deliver(session, env)
	}
	h.metrics.RecordPush(len(targets))
	return len(targets)
}

// HandleInbound dispatches a typed inbound message to its registered
// handler. Unknown types produce an explicit error reply.
func (h *Hub) HandleInbound(ctx context.Context, connectionID string, msg Inbound) {
	h.mu.RLock()
	session, ok := h.sessions[connectionID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	h.handlerMu.RLock()
	handler, ok := h.handlers[msg.Type]
	h.handlerMu.RUnlock()
	if !ok {
		h.logger.Warn("unknown message type",
			zap.String("connection_id", connectionID),
			zap.String("type", msg.Type))
		h.sendError(session, "unknown message type: "+msg.Type)
		return
	}

	if err := handler(ctx, session, msg.Data); err != nil {
		h.logger.Error("inbound handler failed",
			zap.String("connection_id", connectionID),
			zap.String("type", msg.Type),
			zap.Error(err))
		h.sendError(session, "failed to process "+msg.Type)
	}
}

// Touch marks a session alive, resetting its missed-probe count.
func (h *Hub) Touch(connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if session, ok := h.sessions[connectionID]; ok {
		session.missedProbes = 0
		session.lastHeartbeat = time.Now()
	}
}

// Run drives the liveness probe loop until the context is cancelled. A
// session that fails to answer maxMissedProbes consecutive probes is
// forcibly terminated so half-open connections cannot receive phantom pushes.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll(context.Background())
			return
		case <-ticker.C:
			h.probe(ctx)
		}
	}
}

func (h *Hub) probe(ctx context.Context) {
	h.mu.Lock()
	stale := make([]*Session, 0)
	live := make([]*Session, 0, len(h.sessions))
	for _, session := range h.sessions {
		if session.missedProbes >= maxMissedProbes {
			stale = append(stale, session)
			continue
		}
		session.missedProbes++
		live = append(live, session)
	}
	h.mu.Unlock()

	for _, session := range stale {
		h.logger.Warn("terminating unresponsive session", zap.String("connection_id", session.ID))
		_ = session.conn.CloseWithReason(CloseProbeTimeout, "heartbeat timeout")
		h.Unregister(ctx, session.ID)
	}
	deadline := time.Now().Add(h.writeTimeout)
	for _, session := range live {
		if err := session.conn.Ping(deadline); err != nil {
			h.logger.Warn("probe write failed", zap.String("connection_id", session.ID), zap.Error(err))
		}
	}
}

func (h *Hub) closeAll(ctx context.Context) {
	h.mu.RLock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	for _, id := range ids {
		h.Unregister(ctx, id)
	}
}

// ActiveSessions returns a snapshot of the registry.
func (h *Hub) ActiveSessions() []domain.SessionInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	infos := make([]domain.SessionInfo, 0, len(h.sessions))
	for _, session := range h.sessions {
		infos = append(infos, session.Info())
	}
	return infos
}

// deliver hands an envelope to the session writer without blocking the
// caller. A full send buffer drops the message; delivery here is
// fire-and-forget.
func (h *Hub) deliver(session *Session, env Envelope) {
	select {
	case session.send <- env:
	default:
		h.logger.Warn("session send buffer full, message dropped",
			zap.String("connection_id", session.ID),
			zap.String("type", env.Type))
	}
}

func (h *Hub) sendError(session *Session, message string) {
	h.deliver(session, Envelope{Type: MsgError, Timestamp: time.Now(), Data: ErrorPayload{Error: message}})
}
