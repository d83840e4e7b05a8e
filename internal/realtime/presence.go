package realtime

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/callbridge/internal/domain"
)

const presenceKey = "callbridge:sessions"

// redisPresence mirrors the session table into a Redis hash keyed by
// connection id so dashboards can read presence without the hub.
type redisPresence struct {
	client *redis.Client
}

// NewRedisPresence builds a Redis-backed presence store.
func NewRedisPresence(client *redis.Client) PresenceStore {
	return &redisPresence{client: client}
}

func (p *redisPresence) Set(ctx context.Context, info domain.SessionInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return p.client.HSet(ctx, presenceKey, info.ConnectionID, data).Err()
}

func (p *redisPresence) Remove(ctx context.Context, connectionID string) error {
	return p.client.HDel(ctx, presenceKey, connectionID).Err()
}

func (p *redisPresence) List(ctx context.Context) ([]domain.SessionInfo, error) {
	entries, err := p.client.HGetAll(ctx, presenceKey).Result()
	if err != nil {
		return nil, err
	}
	infos := make([]domain.SessionInfo, 0, len(entries))
	for _, raw := range entries {
		var info domain.SessionInfo
		if err := json.Unmarshal([]byte(raw), &info); err != nil {
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}
