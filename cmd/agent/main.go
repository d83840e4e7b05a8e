package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/callbridge/internal/client"
	"github.com/spec-kit/callbridge/internal/config"
	"github.com/spec-kit/callbridge/internal/domain"
	"github.com/spec-kit/callbridge/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Client.Extension == "" {
		log.Fatal("AGENT_EXTENSION is required")
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var queue *client.Queue
	emit := func(ev client.Event) {
		switch ev.Kind {
		case client.EventAuthenticated:
			logger.Info("session authenticated")
			if queue != nil {
				queue.SetOnline(ctx, true)
			}
		case client.EventDisconnected:
			logger.Warn("connection lost", zap.Error(ev.Err))
			if queue != nil {
				queue.SetOnline(ctx, false)
			}
		case client.EventReconnecting:
			logger.Info("reconnecting",
				zap.Int("attempt", ev.Attempt),
				zap.Duration("delay", ev.Delay))
		case client.EventReconnectGaveUp:
			logger.Error("reconnect attempts exhausted", zap.Int("attempt", ev.Attempt))
		case client.EventLatency:
			logger.Debug("heartbeat latency", zap.Duration("latency", ev.Latency))
		case client.EventQueueItemDropped:
			logger.Warn("queued item dropped", zap.Error(ev.Err))
		}
	}

	conn := client.NewConnection(cfg.Client, logger, client.ConnectionOptions{
		Transport: client.NewWebsocketTransport(time.Duration(cfg.Client.ConnectTimeoutSeconds) * time.Second),
		Tokens:    tokenProvider(cfg.Client),
		OnMessage: func(msgType string, data json.RawMessage) {
			logger.Info("server push", zap.String("type", msgType), zap.ByteString("data", data))
		},
		Emit: emit,
	})

	queue, err = client.NewQueue(cfg.Queue, conn, emit, logger)
	if err != nil {
		logger.Fatal("failed to open offline queue", zap.Error(err))
	}
	go queue.Run(ctx)

	if err := conn.Connect(ctx); err != nil {
		logger.Fatal("initial connect failed", zap.Error(err))
	}

	waitForShutdown(logger)

	cancel()
	conn.Disconnect()
}

// tokenProvider fetches a fresh connection token from the orchestrator's
// REST API before each dial.
func tokenProvider(cfg config.ClientConfig) client.TokenProvider {
	httpClient := &http.Client{Timeout: 10 * time.Second}
	return func(ctx context.Context) (string, error) {
		body, err := json.Marshal(map[string]any{
			"class":     domain.ConnectionClassAgent,
			"extension": cfg.Extension,
			"api_key":   cfg.APIKey,
		})
		if err != nil {
			return "", err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenURL, bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := httpClient.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return "", fmt.Errorf("token request failed: %s: %s", resp.Status, payload)
		}

		var parsed struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return "", err
		}
		return parsed.Token, nil
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
