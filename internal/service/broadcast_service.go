package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/callbridge/internal/domain"
	"github.com/spec-kit/callbridge/internal/events"
	"github.com/spec-kit/callbridge/internal/realtime"
)

// Broadcaster is the slice of the realtime hub the service needs.
type Broadcaster interface {
	Broadcast(class domain.ConnectionClass, msgType string, data any) int
}

// BroadcastService relays domain events to display-class sessions so
// wallboards stay current without polling.
type BroadcastService struct {
	dispatcher events.Dispatcher
	hub        Broadcaster
	logger     *zap.Logger
}

// NewBroadcastService creates the service.
func NewBroadcastService(dispatcher events.Dispatcher, hub Broadcaster, logger *zap.Logger) *BroadcastService {
	return &BroadcastService{
		dispatcher: dispatcher,
		hub:        hub,
		logger:     logger,
	}
}

// RegisterHandlers subscribes to events.
func (b *BroadcastService) RegisterHandlers() {
	if b.dispatcher == nil {
		return
	}
	b.dispatcher.Subscribe(events.EventDraftCreated, b.handleDraftCreated)
	b.dispatcher.Subscribe(events.EventDraftOutcome, b.handleDraftOutcome)
	b.dispatcher.Subscribe(events.EventSessionConnected, b.handleSessionChanged)
	b.dispatcher.Subscribe(events.EventSessionDisconnected, b.handleSessionChanged)
}

func (b *BroadcastService) handleDraftCreated(_ context.Context, event events.Event) error {
	b.logger.Debug("broadcasting draft created", zap.String("draft_id", event.DraftID))
	b.hub.Broadcast(domain.ConnectionClassDisplay, realtime.MsgNewDraft, event)
	return nil
}

func (b *BroadcastService) handleDraftOutcome(_ context.Context, event events.Event) error {
	b.logger.Debug("broadcasting draft outcome", zap.String("draft_id", event.DraftID))
	b.hub.Broadcast(domain.ConnectionClassDisplay, realtime.MsgDraftOutcome, event)
	return nil
}

func (b *BroadcastService) handleSessionChanged(_ context.Context, event events.Event) error {
	b.hub.Broadcast(domain.ConnectionClassDisplay, realtime.MsgActiveSessions, event)
	return nil
}
