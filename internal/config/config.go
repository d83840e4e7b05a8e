package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the orchestrator and agent.
type Config struct {
	App      AppConfig
	Realtime RealtimeConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	Draft    DraftConfig
	Ticket   TicketConfig
	Client   ClientConfig
	Queue    QueueConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// RealtimeConfig controls the websocket hub.
type RealtimeConfig struct {
	Host                     string
	Port                     string
	HeartbeatIntervalSeconds int
	WriteTimeoutSeconds      int
	SendBuffer               int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines connection-token parameters.
type AuthConfig struct {
	JWTSecret         string
	TokenTTLMinutes   int
	AgentAPIKeyHash   string
	DisplayAPIKeyHash string
	BcryptCost        int
}

// DraftConfig controls draft lifecycle behavior.
type DraftConfig struct {
	TTLMinutes int
}

// TicketConfig points at the external ticketing endpoint.
type TicketConfig struct {
	BaseURL        string
	Token          string
	TimeoutSeconds int
}

// ClientConfig controls agent-side connection behavior.
type ClientConfig struct {
	ServerURL                string
	TokenURL                 string
	Extension                string
	APIKey                   string
	HeartbeatIntervalSeconds int
	HeartbeatWindowSeconds   int
	ReconnectBaseDelayMS     int
	ReconnectMaxDelayMS      int
	ReconnectMaxAttempts     int
	ConnectTimeoutSeconds    int
}

// QueueConfig controls the agent-side durable offline queue.
type QueueConfig struct {
	Path                 string
	MaxRetries           int
	MaxAgeHours          int
	MaxStorageBytes      int64
	BatchSize            int
	RetryIntervalSeconds int
	CleanupIntervalSec   int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "callbridge-orchestrator"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Realtime: RealtimeConfig{
			Host:                     getEnv("REALTIME_HOST", "0.0.0.0"),
			Port:                     getEnv("REALTIME_PORT", "8081"),
			HeartbeatIntervalSeconds: getEnvAsInt("REALTIME_HEARTBEAT_INTERVAL_SECONDS", 30),
			WriteTimeoutSeconds:      getEnvAsInt("REALTIME_WRITE_TIMEOUT_SECONDS", 10),
			SendBuffer:               getEnvAsInt("REALTIME_SEND_BUFFER", 32),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:         getEnv("AUTH_JWT_SECRET", "dev-secret"),
			TokenTTLMinutes:   getEnvAsInt("AUTH_TOKEN_TTL_MINUTES", 480),
			AgentAPIKeyHash:   os.Getenv("AUTH_AGENT_API_KEY_HASH"),
			DisplayAPIKeyHash: os.Getenv("AUTH_DISPLAY_API_KEY_HASH"),
			BcryptCost:        getEnvAsInt("AUTH_BCRYPT_COST", 12),
		},
		Draft: DraftConfig{
			TTLMinutes: getEnvAsInt("DRAFT_TTL_MINUTES", 5),
		},
		Ticket: TicketConfig{
			BaseURL:        os.Getenv("TICKET_API_BASE_URL"),
			Token:          os.Getenv("TICKET_API_TOKEN"),
			TimeoutSeconds: getEnvAsInt("TICKET_API_TIMEOUT_SECONDS", 30),
		},
		Client: ClientConfig{
			ServerURL:                getEnv("AGENT_SERVER_URL", "ws://127.0.0.1:8081/ws"),
			TokenURL:                 getEnv("AGENT_TOKEN_URL", "http://127.0.0.1:8080/auth/token"),
			Extension:                os.Getenv("AGENT_EXTENSION"),
			APIKey:                   os.Getenv("AGENT_API_KEY"),
			HeartbeatIntervalSeconds: getEnvAsInt("AGENT_HEARTBEAT_INTERVAL_SECONDS", 30),
			HeartbeatWindowSeconds:   getEnvAsInt("AGENT_HEARTBEAT_WINDOW_SECONDS", 90),
			ReconnectBaseDelayMS:     getEnvAsInt("AGENT_RECONNECT_BASE_DELAY_MS", 5000),
			ReconnectMaxDelayMS:      getEnvAsInt("AGENT_RECONNECT_MAX_DELAY_MS", 300000),
			ReconnectMaxAttempts:     getEnvAsInt("AGENT_RECONNECT_MAX_ATTEMPTS", 10),
			ConnectTimeoutSeconds:    getEnvAsInt("AGENT_CONNECT_TIMEOUT_SECONDS", 10),
		},
		Queue: QueueConfig{
			Path:                 getEnv("QUEUE_PATH", "offline-queue.json"),
			MaxRetries:           getEnvAsInt("QUEUE_MAX_RETRIES", 5),
			MaxAgeHours:          getEnvAsInt("QUEUE_MAX_AGE_HOURS", 24),
			MaxStorageBytes:      int64(getEnvAsInt("QUEUE_MAX_STORAGE_BYTES", 100*1024*1024)),
			BatchSize:            getEnvAsInt("QUEUE_BATCH_SIZE", 10),
			RetryIntervalSeconds: getEnvAsInt("QUEUE_RETRY_INTERVAL_SECONDS", 30),
			CleanupIntervalSec:   getEnvAsInt("QUEUE_CLEANUP_INTERVAL_SECONDS", 60),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Addr returns the websocket bind address.
func (r RealtimeConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// HeartbeatInterval returns the liveness probe cadence.
func (r RealtimeConfig) HeartbeatInterval() time.Duration {
	if r.HeartbeatIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(r.HeartbeatIntervalSeconds) * time.Second
}

// WriteTimeout returns the per-message write deadline.
func (r RealtimeConfig) WriteTimeout() time.Duration {
	if r.WriteTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(r.WriteTimeoutSeconds) * time.Second
}

// TTL returns the draft confirmation window.
func (d DraftConfig) TTL() time.Duration {
	if d.TTLMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(d.TTLMinutes) * time.Minute
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
