package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ModeAll        = "all"
	ModeGateway    = "gateway"
	ModeDispatcher = "dispatcher"

	StoreMemory    = "memory"
	StoreFirestore = "firestore"

	PushLog = "log"
	PushFCM = "fcm"
)

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Store     StoreConfig
	AMQP      AMQPConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	Push      PushConfig
	JWT       JWTConfig
	Telemetry TelemetryConfig
	Chat      ChatConfig
}

type ServerConfig struct {
	Port        string
	GRPCPort    string
	Mode        string
	Env         string
	DebugRoutes bool
}

type LogConfig struct {
	Level  string
	Format string
}

type StoreConfig struct {
	Backend   string
	ProjectID string
}

type AMQPConfig struct {
	URL      string
	Exchange string
	Queue    string
}

type RedisConfig struct {
	URL string
	TTL time.Duration
}

type DatabaseConfig struct {
	DSN string
}

type PushConfig struct {
	Backend string
	Sound   string
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

type TelemetryConfig struct {
	OTLPEndpoint string
}

type ChatConfig struct {
	TypingIdleTimeout  time.Duration
	TypingPushCooldown time.Duration
	FriendRequestGrace time.Duration
}

// Load reads the process environment after applying an optional .env file.
func Load() *Config {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the process environment only.
func FromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8083"),
			GRPCPort:    getEnv("GRPC_PORT", "9083"),
			Mode:        oneOf(getEnv("APP_MODE", ModeAll), ModeAll, ModeAll, ModeGateway, ModeDispatcher),
			Env:         getEnv("ENV", "development"),
			DebugRoutes: getEnvAsBool("DEBUG_ROUTES", false),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Store: StoreConfig{
			Backend:   oneOf(getEnv("STORE_BACKEND", StoreMemory), StoreMemory, StoreMemory, StoreFirestore),
			ProjectID: getEnv("FIRESTORE_PROJECT_ID", ""),
		},
		AMQP: AMQPConfig{
			URL:      getEnv("AMQP_URL", ""),
			Exchange: getEnv("AMQP_EXCHANGE", "nexchat.events"),
			Queue:    getEnv("AMQP_QUEUE", "nexchat.triggers"),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
			TTL: getEnvAsDuration("REDIS_EVENT_TTL", 24*time.Hour),
		},
		Database: DatabaseConfig{
			DSN: getEnv("DB_DSN", ""),
		},
		Push: PushConfig{
			Backend: oneOf(getEnv("PUSH_BACKEND", PushLog), PushLog, PushLog, PushFCM),
			Sound:   getEnv("PUSH_SOUND", "rizz-sound-effect.wav"),
		},
		JWT: JWTConfig{
			Secret:     getEnv("JWT_SECRET", "dev-secret-change-me"),
			Expiration: getEnvAsDuration("JWT_EXPIRATION", 7*24*time.Hour),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		},
		Chat: ChatConfig{
			TypingIdleTimeout:  getEnvAsDuration("TYPING_IDLE_TIMEOUT", 2*time.Second),
			TypingPushCooldown: getEnvAsDuration("TYPING_PUSH_COOLDOWN", 30*time.Second),
			FriendRequestGrace: getEnvAsDuration("FRIEND_REQUEST_GRACE", time.Second),
		},
	}
}

// RunsGateway reports whether the HTTP and websocket surface is enabled.
func (c *Config) RunsGateway() bool {
	return c.Server.Mode == ModeAll || c.Server.Mode == ModeGateway
}

// RunsDispatcher reports whether the trigger watcher and reactor are enabled.
func (c *Config) RunsDispatcher() bool {
	return c.Server.Mode == ModeAll || c.Server.Mode == ModeDispatcher
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("2s") or whole seconds ("2").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	if secs := getEnvAsInt(key, -1); secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// oneOf lowercases value and returns fallback when it is not allowed.
func oneOf(value, fallback string, allowed ...string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	for _, a := range allowed {
		if value == a {
			return value
		}
	}
	return fallback
}
