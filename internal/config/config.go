// config.go

// Environment variable loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ProviderConfig holds connection settings for one classification provider.
// Empty APIKey means the provider is not configured and is skipped.
type ProviderConfig struct {
	Name       string
	BaseURL    string
	APIKey     string
	QuickModel string
	DeepModel  string
}

// Config holds all env configuration vars for Provenance.
// Built once at startup and passed by pointer into constructors; never mutated afterwards.
type Config struct {
	DatabaseURL string
	RedisURL    string
	Port        string
	LogLevel    slog.Level

	// TokenSecret is the HMAC key for session tokens. Must be at least 32 bytes.
	TokenSecret []byte
	// TokenTTL is the lifetime of an issued session token. Default 8760h (one year).
	TokenTTL time.Duration

	// Google identity provider. ClientSecret + RedirectURL are only needed for
	// the server-side code flow; the ID-token assertion flow needs just ClientID.
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// DailyLimit caps classification requests per identity per calendar day.
	DailyLimit int
	// QuotaLocation decides where "midnight" is for the daily window.
	QuotaLocation *time.Location

	// CacheTTL is how long a classification result stays valid. Default 24h.
	CacheTTL time.Duration

	// Providers in fallback order. Only entries with an APIKey are kept.
	Providers       []ProviderConfig
	ProviderTimeout time.Duration
	ProviderRPS     int

	// Task queue tuning.
	CleanupDebounce time.Duration
	TaskQueueMax    int64
}

// CodeFlowEnabled reports whether the Google redirect/callback routes can be mounted.
func (c *Config) CodeFlowEnabled() bool {
	return c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

// minSecretLen is the minimum TOKEN_SECRET length in bytes (HS256 key size).
const minSecretLen = 32

// LoadConfig reads environment variables and returns a validated Config.
// Returns an error if required variables are missing or unusable.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "7865"
	}

	// Parse log level, default to info
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	secret := os.Getenv("TOKEN_SECRET")
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("TOKEN_SECRET must be at least %d bytes", minSecretLen)
	}
	cfg.TokenSecret = []byte(secret)
	cfg.TokenTTL = envDuration("TOKEN_TTL", 8760*time.Hour)

	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	if cfg.GoogleClientID == "" {
		return nil, fmt.Errorf("GOOGLE_CLIENT_ID is required")
	}
	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.GoogleRedirectURL = os.Getenv("GOOGLE_REDIRECT_URL")
	// Code flow sends the authorization code back over this URL.
	if cfg.GoogleRedirectURL != "" && !strings.HasPrefix(cfg.GoogleRedirectURL, "https://") {
		return nil, fmt.Errorf("GOOGLE_REDIRECT_URL must start with https://")
	}

	cfg.DailyLimit = envInt("DAILY_LIMIT", 50)

	cfg.QuotaLocation = time.UTC
	if tz := os.Getenv("QUOTA_TIMEZONE"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("QUOTA_TIMEZONE: %w", err)
		}
		cfg.QuotaLocation = loc
	}

	cfg.CacheTTL = envDuration("CACHE_TTL", 24*time.Hour)

	cfg.Providers = loadProviders()
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("at least one provider API key (OPENAI_API_KEY, ANTHROPIC_API_KEY) is required")
	}
	cfg.ProviderTimeout = envDuration("PROVIDER_TIMEOUT", 30*time.Second)
	cfg.ProviderRPS = envInt("PROVIDER_RPS", 5)

	cfg.CleanupDebounce = envDuration("CLEANUP_DEBOUNCE", 10*time.Minute)
	cfg.TaskQueueMax = int64(envInt("TASK_QUEUE_MAX", 1000))

	return cfg, nil
}

// loadProviders builds provider configs in PROVIDER_ORDER, dropping any without an API key.
// Unknown names in PROVIDER_ORDER are logged and ignored.
func loadProviders() []ProviderConfig {
	known := map[string]ProviderConfig{
		"openai": {
			Name:       "openai",
			BaseURL:    envString("OPENAI_BASE_URL", "https://api.openai.com"),
			APIKey:     os.Getenv("OPENAI_API_KEY"),
			QuickModel: envString("OPENAI_QUICK_MODEL", "gpt-4o-mini"),
			DeepModel:  envString("OPENAI_DEEP_MODEL", "gpt-4o"),
		},
		"anthropic": {
			Name:       "anthropic",
			BaseURL:    envString("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
			APIKey:     os.Getenv("ANTHROPIC_API_KEY"),
			QuickModel: envString("ANTHROPIC_QUICK_MODEL", "claude-3-5-haiku-latest"),
			DeepModel:  envString("ANTHROPIC_DEEP_MODEL", "claude-3-5-sonnet-latest"),
		},
	}

	order := envString("PROVIDER_ORDER", "openai,anthropic")
	var out []ProviderConfig
	seen := make(map[string]bool)
	for _, name := range strings.Split(order, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		p, ok := known[name]
		if !ok {
			slog.Warn("unknown provider in PROVIDER_ORDER, ignoring", "provider", name)
			continue
		}
		if p.APIKey == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// envString reads an env var, returning def if missing.
func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envInt reads an env var as int, returning def if missing or unparseable.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

// envDuration reads an env var as time.Duration, returning def if missing or unparseable.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}
