package realtime

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/spec-kit/callbridge/internal/auth"
	"github.com/spec-kit/callbridge/internal/config"
)

// Server accepts websocket connections, authenticates them, and feeds their
// inbound streams into the hub. It listens on its own address, separate from
// the REST surface.
type Server struct {
	hub      *Hub
	tokens   *auth.TokenManager
	logger   *zap.Logger
	cfg      config.RealtimeConfig
	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// NewServer builds the websocket endpoint.
func NewServer(hub *Hub, tokens *auth.TokenManager, logger *zap.Logger, cfg config.RealtimeConfig) *Server {
	s := &Server{
		hub:    hub,
		tokens: tokens,
		logger: logger,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// agents and displays connect from desktop shells, not browsers
				return true
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.httpSrv = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving websocket upgrades.
func (s *Server) ListenAndServe() error {
	s.logger.Info("realtime server listening", zap.String("addr", s.cfg.Addr()))
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// handleWS authenticates the upgrade request and runs the session read loop.
// Rejections are explicit: a bad token gets a 401 before upgrade so the
// client can distinguish auth failure from transport failure.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}
	claims, err := s.tokens.ParseToken(token)
	if err != nil {
		s.logger.Warn("connection auth failed", zap.Error(err))
		http.Error(w, "invalid connection token", http.StatusUnauthorized)
		return
	}

	wsc, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	session := newSession(uuid.NewString(), claims.Class, claims.Extension, newWSConn(wsc, s.cfg.WriteTimeout()), s.cfg.SendBuffer)

	wsc.SetPongHandler(func(string) error {
		s.hub.Touch(session.ID)
		return nil
	})

	ctx := r.Context()
	s.hub.Register(ctx, session)
	defer s.hub.Unregister(context.Background(), session.ID)

	for {
		var msg Inbound
		if err := wsc.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("session read failed", zap.String("connection_id", session.ID), zap.Error(err))
			}
			return
		}
		s.hub.HandleInbound(ctx, session.ID, msg)
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}
