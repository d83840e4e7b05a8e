package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/callbridge/internal/api/http"
	"github.com/spec-kit/callbridge/internal/api/http/handlers"
	"github.com/spec-kit/callbridge/internal/auth"
	"github.com/spec-kit/callbridge/internal/config"
	"github.com/spec-kit/callbridge/internal/domain"
	"github.com/spec-kit/callbridge/internal/draft"
	"github.com/spec-kit/callbridge/internal/events"
	"github.com/spec-kit/callbridge/internal/observability"
	"github.com/spec-kit/callbridge/internal/persistence"
	"github.com/spec-kit/callbridge/internal/realtime"
	"github.com/spec-kit/callbridge/internal/repository"
	"github.com/spec-kit/callbridge/internal/service"
	"github.com/spec-kit/callbridge/internal/ticketing"
	"github.com/spec-kit/callbridge/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		pg        *persistence.Postgres
		draftRepo repository.DraftRepository
	)
	if cfg.Postgres.DSN != "" {
		pg, err = persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			logger.Fatal("failed to connect postgres", zap.Error(err))
		}
		defer pg.Close()

		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		draftRepo = repository.NewDraftRepository(pg.PoolHandle())
	} else {
		logger.Warn("POSTGRES_DSN not set, drafts will not survive restarts")
		draftRepo = repository.NewMemoryDraftRepository()
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTLMinutes)

	presence := realtime.NewRedisPresence(redis.Client)
	hub := realtime.NewHub(logger, realtime.HubOptions{
		ProbeInterval: cfg.Realtime.HeartbeatInterval(),
		WriteTimeout:  cfg.Realtime.WriteTimeout(),
		SendBuffer:    cfg.Realtime.SendBuffer,
		Presence:      presence,
		Dispatcher:    dispatcher,
		Metrics:       metrics,
	})

	manager := draft.NewManager(logger, draft.ManagerOptions{
		Repo:       draftRepo,
		Pusher:     hub,
		Creator:    ticketing.NewHTTPCreator(cfg.Ticket, logger),
		Dispatcher: dispatcher,
		Metrics:    metrics,
		TTL:        cfg.Draft.TTL(),
	})
	defer manager.Stop()

	registerHubHandlers(hub, manager)

	if err := manager.Restore(ctx); err != nil {
		logger.Error("failed to restore pending drafts", zap.Error(err))
	}

	broadcastService := service.NewBroadcastService(dispatcher, hub, logger)
	worker.StartBroadcastWorker(broadcastService)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:   handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis, metrics),
		Auth:     handlers.NewAuthHandler(tokens, cfg.Auth),
		Calls:    handlers.NewCallsHandler(manager),
		Drafts:   handlers.NewDraftsHandler(draftRepo, manager),
		Sessions: handlers.NewSessionsHandler(presence),
	})

	wsServer := realtime.NewServer(hub, tokens, logger, cfg.Realtime)

	go hub.Run(ctx)
	go func() {
		if err := wsServer.ListenAndServe(); err != nil {
			logger.Fatal("realtime listen", zap.Error(err))
		}
	}()
	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	_ = app.Shutdown()
	_ = wsServer.Shutdown(context.Background())
}

// registerHubHandlers binds agent-originated realtime messages to the draft
// lifecycle. The sender's own extension is recorded as the deciding actor.
func registerHubHandlers(hub *realtime.Hub, manager *draft.Manager) {
	hub.Handle(realtime.MsgConfirmDraft, func(ctx context.Context, session *realtime.Session, data json.RawMessage) error {
		var payload realtime.ConfirmDraftPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return err
		}
		_, err := manager.Confirm(ctx, payload.DraftID, session.Extension, payload.Edits)
		return err
	})

	hub.Handle(realtime.MsgCancelDraft, func(ctx context.Context, session *realtime.Session, data json.RawMessage) error {
		var payload realtime.CancelDraftPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return err
		}
		_, err := manager.Cancel(ctx, payload.DraftID, session.Extension)
		return err
	})

	hub.Handle(realtime.MsgCallEvent, func(ctx context.Context, session *realtime.Session, data json.RawMessage) error {
		var call domain.TranscribedCall
		if err := json.Unmarshal(data, &call); err != nil {
			return err
		}
		if call.Extension == "" {
			call.Extension = session.Extension
		}
		_, err := manager.CreateDraft(ctx, call)
		return err
	})
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
