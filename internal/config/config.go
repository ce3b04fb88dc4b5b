package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers.
const (
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
)

// Backplanes.
const (
	BackplaneNone  = "none"
	BackplaneRedis = "redis"
	BackplaneNATS  = "nats"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	AuthMode       string   `mapstructure:"AUTH_MODE"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit      string   `mapstructure:"BODY_LIMIT"`

	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	StoreDriver   string `mapstructure:"STORE_DRIVER"`
	MongoURI      string `mapstructure:"MONGO_URI"`
	MongoDatabase string `mapstructure:"MONGO_DATABASE"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32  `mapstructure:"DB_MIN_CONNS"`

	Backplane string `mapstructure:"BACKPLANE"`
	RedisURL  string `mapstructure:"REDIS_URL"`
	NATSURL   string `mapstructure:"NATS_URL"`

	ChatSendRPS           float64       `mapstructure:"CHAT_SEND_RPS"`
	ChatSendBurst         int           `mapstructure:"CHAT_SEND_BURST"`
	ChangefeedSettleDelay time.Duration `mapstructure:"CHANGEFEED_SETTLE_DELAY"`
	WSLegacyEvents        bool          `mapstructure:"WS_LEGACY_EVENTS"`
}

var keys = []string{
	"PORT", "ENV", "AUTH_MODE", "AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "BODY_LIMIT", "REQUEST_TIMEOUT",
	"STORE_DRIVER", "MONGO_URI", "MONGO_DATABASE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"BACKPLANE", "REDIS_URL", "NATS_URL",
	"CHAT_SEND_RPS", "CHAT_SEND_BURST", "CHANGEFEED_SETTLE_DELAY", "WS_LEGACY_EVENTS",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // "" -> inferred from ENV
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("STORE_DRIVER", StoreMongo)
	v.SetDefault("MONGO_DATABASE", "carelink")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("BACKPLANE", BackplaneNone)
	v.SetDefault("CHAT_SEND_RPS", 5)
	v.SetDefault("CHAT_SEND_BURST", 10)
	v.SetDefault("CHANGEFEED_SETTLE_DELAY", "5s")
	v.SetDefault("WS_LEGACY_EVENTS", true)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if origins := v.GetString("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}
	cfg.StoreDriver = strings.ToLower(cfg.StoreDriver)
	cfg.Backplane = strings.ToLower(cfg.Backplane)

	switch cfg.StoreDriver {
	case StoreMongo:
		if cfg.MongoURI == "" {
			return nil, fmt.Errorf("MONGO_URI is required when STORE_DRIVER is %q", StoreMongo)
		}
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", StorePostgres)
		}
	}

	if cfg.IsDev() && cfg.ResolvedAuthMode() == "development" {
		log.Println("WARNING: DevAuthMiddleware is active; unauthenticated requests get admin access")
		log.Println("WARNING: and socket authenticate trusts the claimed user id. Do NOT use in production.")
	}

	return cfg, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns AUTH_MODE when set, otherwise "development" for
// ENV=development and "token" for everything else.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "token"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	mode := c.ResolvedAuthMode()
	if mode != "development" && mode != "token" {
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"token\", got %q", mode)
	}
	if mode == "token" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 characters when AUTH_MODE is \"token\"")
	}
	if c.IsProduction() && mode == "development" {
		return fmt.Errorf("AUTH_MODE=development is not allowed when ENV=production")
	}

	if c.StoreDriver != StoreMongo && c.StoreDriver != StorePostgres {
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreMongo, StorePostgres, c.StoreDriver)
	}

	switch c.Backplane {
	case BackplaneNone, "":
	case BackplaneRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when BACKPLANE is %q", BackplaneRedis)
		}
	case BackplaneNATS:
		if c.NATSURL == "" {
			return fmt.Errorf("NATS_URL is required when BACKPLANE is %q", BackplaneNATS)
		}
	default:
		return fmt.Errorf("BACKPLANE must be none, redis or nats, got %q", c.Backplane)
	}

	if c.DBMaxConns < 0 || c.DBMinConns < 0 || (c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns) {
		return fmt.Errorf("DB_MIN_CONNS and DB_MAX_CONNS must not be negative and DB_MIN_CONNS must not exceed DB_MAX_CONNS")
	}
	if c.ChatSendRPS < 0 || c.ChatSendBurst < 0 {
		return fmt.Errorf("CHAT_SEND_RPS and CHAT_SEND_BURST must not be negative")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must not be negative")
	}
	if c.ChangefeedSettleDelay < 0 {
		return fmt.Errorf("CHANGEFEED_SETTLE_DELAY must not be negative")
	}
	return nil
}
