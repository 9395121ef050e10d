package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store drivers understood by the gateway.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Config holds runtime configuration values for the chat gateway and terminal client.
type Config struct {
	AppName  string
	AppEnv   string
	AppPort  string
	LogLevel string

	StoreDriver string
	DatabaseURL string
	SQLitePath  string
	RedisURL    string
	RedisPrefix string
	NATSURL     string
	NATSSubject string

	JWTSecret string

	TypingIdleTimeout time.Duration
	TypingStaleAfter  time.Duration
	DeleteWindow      time.Duration
	RoomCreateLimit   int

	GatewayURL string
	SessionDB  string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("CHAT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Chat")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("store.driver", StoreMemory)
	v.SetDefault("sqlite.path", "chat.db")
	v.SetDefault("redis.prefix", "chat")
	v.SetDefault("nats.subject", "chat.changes")
	v.SetDefault("typing.idle_timeout", "1500ms")
	v.SetDefault("typing.stale_after", "2000ms")
	v.SetDefault("delete.window", "5m")
	v.SetDefault("room.create_limit", 10)
	v.SetDefault("gateway.url", "http://localhost:8080")
	v.SetDefault("session.db", "chat-session.db")

	idle, err := parsePositiveDuration(v, "typing.idle_timeout")
	if err != nil {
		return Config{}, err
	}
	stale, err := parsePositiveDuration(v, "typing.stale_after")
	if err != nil {
		return Config{}, err
	}
	window, err := parsePositiveDuration(v, "delete.window")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppName:           v.GetString("app.name"),
		AppEnv:            v.GetString("app.env"),
		AppPort:           v.GetString("app.port"),
		LogLevel:          strings.ToLower(v.GetString("log.level")),
		StoreDriver:       strings.ToLower(strings.TrimSpace(v.GetString("store.driver"))),
		DatabaseURL:       v.GetString("database.url"),
		SQLitePath:        v.GetString("sqlite.path"),
		RedisURL:          v.GetString("redis.url"),
		RedisPrefix:       v.GetString("redis.prefix"),
		NATSURL:           v.GetString("nats.url"),
		NATSSubject:       v.GetString("nats.subject"),
		JWTSecret:         v.GetString("jwt.secret"),
		TypingIdleTimeout: idle,
		TypingStaleAfter:  stale,
		DeleteWindow:      window,
		RoomCreateLimit:   v.GetInt("room.create_limit"),
		GatewayURL:        strings.TrimRight(v.GetString("gateway.url"), "/"),
		SessionDB:         v.GetString("session.db"),
	}

	switch cfg.StoreDriver {
	case StoreMemory, StoreSQLite:
	case StoreRedis:
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("redis store requires CHAT_REDIS_URL")
		}
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("postgres store requires CHAT_DATABASE_URL")
		}
	default:
		return Config{}, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	if cfg.RoomCreateLimit <= 0 {
		cfg.RoomCreateLimit = 10
	}

	return cfg, nil
}

func parsePositiveDuration(v *viper.Viper, key string) (time.Duration, error) {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}
