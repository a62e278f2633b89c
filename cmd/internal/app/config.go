package app

import (
	"time"

	"parley/cmd/internal/chat"
	"parley/cmd/internal/persist"
	"parley/cmd/internal/realtime"

	"github.com/joho/godotenv"
)

// Snapshot backends.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	Chat chat.Config

	SnapshotBackend  string
	SnapshotPath     string
	SnapshotKey      string
	SnapshotInterval time.Duration

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	RedisURL string

	// If true, /readyz returns 503 unless the snapshot store is reachable.
	ReadinessRequireStore bool

	// RequireAuth guards the chat routes and /ws with a bearer access token.
	RequireAuth bool

	WS realtime.GatewayConfig

	// OTPRequestLimit caps OTP requests per client address per OTPRequestWindow.
	OTPRequestLimit  int
	OTPRequestWindow time.Duration
}

// LoadDotEnv loads a .env file from the working directory when present.
// Variables already set in the environment win.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	def := chat.DefaultConfig()

	return Config{
		HTTPAddr:  EnvString("PARLEY_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("PARLEY_LOG_LEVEL", "info"),
		LogFormat: EnvString("PARLEY_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("PARLEY_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("PARLEY_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("PARLEY_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("PARLEY_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("PARLEY_HTTP_MAX_HEADER_BYTES", 1<<20),

		Chat: chat.Config{
			PageSize:       EnvInt("PARLEY_PAGE_SIZE", def.PageSize),
			MaxPages:       EnvInt("PARLEY_MAX_PAGES", def.MaxPages),
			PageLatency:    EnvDuration("PARLEY_PAGE_LATENCY", def.PageLatency),
			TypingDelay:    EnvDuration("PARLEY_TYPING_DELAY", def.TypingDelay),
			ReplyDelayMin:  EnvDuration("PARLEY_REPLY_DELAY_MIN", def.ReplyDelayMin),
			ReplyDelayMax:  EnvDuration("PARLEY_REPLY_DELAY_MAX", def.ReplyDelayMax),
			EventQueueSize: EnvInt("PARLEY_EVENT_QUEUE", def.EventQueueSize),
		},

		SnapshotBackend:  EnvString("PARLEY_SNAPSHOT_BACKEND", BackendNone),
		SnapshotPath:     EnvString("PARLEY_SNAPSHOT_PATH", "parley-snapshot.json"),
		SnapshotKey:      EnvString("PARLEY_SNAPSHOT_KEY", persist.DefaultKey),
		SnapshotInterval: EnvDuration("PARLEY_SNAPSHOT_INTERVAL", time.Second),

		DatabaseURL: EnvString("PARLEY_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("PARLEY_DB_MAX_CONNS", persist.DefaultPoolMaxConns),
		DBMinConns:  EnvInt32("PARLEY_DB_MIN_CONNS", 0),

		RedisURL: EnvString("PARLEY_REDIS_URL", ""),

		ReadinessRequireStore: EnvBool("PARLEY_READINESS_REQUIRE_STORE", false),

		RequireAuth: EnvBool("PARLEY_REQUIRE_AUTH", true),

		WS: realtime.GatewayConfig{
			DevInsecure:      EnvBool("PARLEY_WS_DEV_INSECURE", false),
			OriginRequired:   EnvBool("PARLEY_WS_ORIGIN_REQUIRED", true),
			AllowedOrigins:   EnvCSV("PARLEY_WS_ALLOWED_ORIGINS", realtime.DefaultAllowedOrigins),
			WriteTimeout:     EnvDuration("PARLEY_WS_WRITE_TIMEOUT", 5*time.Second),
			ReadIdleTimeout:  EnvDuration("PARLEY_WS_READ_IDLE_TIMEOUT", 2*time.Minute),
			SendQueueSize:    EnvInt("PARLEY_WS_SEND_QUEUE", 256),
			HeartbeatEvery:   EnvDuration("PARLEY_WS_HEARTBEAT_INTERVAL", 25*time.Second),
			HeartbeatTimeout: EnvDuration("PARLEY_WS_HEARTBEAT_TIMEOUT", 5*time.Second),
			RateEvents:       EnvInt("PARLEY_RATE_EVENTS", 120),
			RateWindow:       EnvDuration("PARLEY_RATE_WINDOW", 10*time.Second),
		},

		OTPRequestLimit:  EnvInt("PARLEY_OTP_REQUEST_LIMIT", 5),
		OTPRequestWindow: EnvDuration("PARLEY_OTP_REQUEST_WINDOW", time.Minute),
	}
}
