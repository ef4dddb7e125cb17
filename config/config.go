// Package config loads the relay configuration once at start-up: a TOML file
// (optional) overlaid with environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/bureauzwartjes/intake"
	"github.com/bureauzwartjes/intake/claim"
	"github.com/bureauzwartjes/intake/openrouter"
)

// Config is the whole relay configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Supabase SupabaseConfig `toml:"supabase"`
	Claims   ClaimsConfig   `toml:"claims"`
	Log      LogConfig      `toml:"log"`
}

// ServerConfig configures the HTTP listener and its middleware.
type ServerConfig struct {
	Addr           string   `toml:"addr"`
	AllowedOrigins []string `toml:"allowed_origins"`
	RatePerMinute  int      `toml:"rate_per_minute"`
	RateBurst      int      `toml:"rate_burst"`
	MaxMessages    int      `toml:"max_messages"`
	HistoryTokens  int      `toml:"history_tokens"`  // 0 disables trimming by tokens
	HistoryLimit   int      `toml:"history_limit"`   // 0 disables trimming by count
	SaveTimeout    Duration `toml:"save_timeout"`
}

// UpstreamConfig configures the model provider.
type UpstreamConfig struct {
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	Model     string `toml:"model"`
	MaxTokens int    `toml:"max_tokens"`
	SiteURL   string `toml:"site_url"`
	Title     string `toml:"title"`
}

// SupabaseConfig configures persistence. Empty URL or key disables it.
type SupabaseConfig struct {
	URL        string `toml:"url"`
	ServiceKey string `toml:"service_key"`
	Table      string `toml:"table"`
}

// ClaimsConfig selects the claim store driver.
type ClaimsConfig struct {
	Driver    string   `toml:"driver"` // memory or redis
	RedisAddr string   `toml:"redis_addr"`
	RedisDB   int      `toml:"redis_db"`
	TTL       Duration `toml:"ttl"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `toml:"level"`
	Pretty bool   `toml:"pretty"`
}

// Duration is a time.Duration that decodes from TOML strings like "10s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:          ":3100",
			RatePerMinute: 30,
			RateBurst:     10,
			MaxMessages:   200,
			HistoryTokens: 60000,
			HistoryLimit:  120,
			SaveTimeout:   Duration{10 * time.Second},
		},
		Upstream: UpstreamConfig{
			BaseURL:   openrouter.DefaultBaseURL,
			Model:     openrouter.DefaultModel,
			MaxTokens: openrouter.DefaultMaxTokens,
			SiteURL:   "http://localhost:3100",
			Title:     "Bureau Zwartjes Intake",
		},
		Supabase: SupabaseConfig{
			Table: "intakes",
		},
		Claims: ClaimsConfig{
			Driver: string(claim.StoreTypeMemory),
			TTL:    Duration{30 * 24 * time.Hour},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path (skipped when empty or missing), applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("%w: %s: %v", intake.ErrInvalidConfig, path, err)
		}
	}

	applyEnv(&cfg, os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables. The Supabase names match the
// ones the site's frontend already uses.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}

	str(&cfg.Server.Addr, "LISTEN_ADDR")
	str(&cfg.Upstream.APIKey, "OPENROUTER_API_KEY")
	str(&cfg.Upstream.BaseURL, "OPENROUTER_BASE_URL")
	str(&cfg.Upstream.Model, "OPENROUTER_MODEL")
	str(&cfg.Upstream.SiteURL, "SITE_URL", "NEXT_PUBLIC_SITE_URL")
	str(&cfg.Supabase.URL, "SUPABASE_URL", "NEXT_PUBLIC_SUPABASE_URL")
	str(&cfg.Supabase.ServiceKey, "SUPABASE_SERVICE_ROLE_KEY")
	str(&cfg.Claims.RedisAddr, "REDIS_ADDR")
	str(&cfg.Log.Level, "LOG_LEVEL")

	if v, ok := lookup("REDIS_ADDR"); ok && v != "" {
		cfg.Claims.Driver = string(claim.StoreTypeRedis)
	}
	if v, ok := lookup("LOG_PRETTY"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Log.Pretty = b
		}
	}
}

// Validate checks the configuration. A missing upstream API key is not an
// error: the chat endpoint reports it per request.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("%w: server.addr is required", intake.ErrInvalidConfig)
	}
	if c.Upstream.MaxTokens <= 0 {
		return fmt.Errorf("%w: upstream.max_tokens must be positive", intake.ErrInvalidConfig)
	}
	if c.Server.RatePerMinute < 0 || c.Server.RateBurst < 0 {
		return fmt.Errorf("%w: rate limits must not be negative", intake.ErrInvalidConfig)
	}
	switch claim.StoreType(c.Claims.Driver) {
	case claim.StoreTypeMemory:
	case claim.StoreTypeRedis:
		if c.Claims.RedisAddr == "" {
			return fmt.Errorf("%w: claims.redis_addr is required for the redis driver", intake.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown claims.driver %q", intake.ErrInvalidConfig, c.Claims.Driver)
	}
	return nil
}

// PersistenceEnabled reports whether Supabase credentials are present.
func (c Config) PersistenceEnabled() bool {
	return c.Supabase.URL != "" && c.Supabase.ServiceKey != ""
}
