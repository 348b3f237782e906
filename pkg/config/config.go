package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pario-ai/relay/pkg/cache"
	"github.com/pario-ai/relay/pkg/models"
	"github.com/pario-ai/relay/pkg/ratelimit"
)

// Config holds all relay configuration.
type Config struct {
	Log       LogConfig             `yaml:"log"`
	Remote    RemoteConfig          `yaml:"remote"`
	RateLimit RateLimitConfig       `yaml:"rate_limit"`
	Cache     CacheConfig           `yaml:"cache"`
	Cost      CostConfig            `yaml:"cost"`
	Journal   JournalConfig         `yaml:"journal"`
	Status    StatusConfig          `yaml:"status"`
	Pricing   []models.ModelPricing `yaml:"pricing"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RemoteConfig points at the OpenAI-compatible model API.
type RemoteConfig struct {
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"api_key"`
	Model           string        `yaml:"model"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxOutputTokens int64         `yaml:"max_output_tokens"`
}

// RateLimitConfig selects the tier and shapes backoff and queueing.
type RateLimitConfig struct {
	Tier               string        `yaml:"tier"`
	InitialRetryDelay  time.Duration `yaml:"initial_retry_delay"`
	MaxRetryDelay      time.Duration `yaml:"max_retry_delay"`
	MaxRetries         int           `yaml:"max_retries"`
	MaxPendingRequests int           `yaml:"max_pending_requests"`
	PendingTimeout     time.Duration `yaml:"pending_timeout"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// CostConfig controls the session spending ceiling.
type CostConfig struct {
	LimitUSD     float64 `yaml:"limit_usd"`
	EnforceLimit bool    `yaml:"enforce_limit"`
	MaxRecords   int     `yaml:"max_records"`
}

// JournalConfig controls the SQLite cost journal. PruneSchedule is a
// standard cron expression; empty disables scheduled pruning.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	DBPath        string        `yaml:"db_path"`
	Retention     time.Duration `yaml:"retention"`
	PruneSchedule string        `yaml:"prune_schedule"`
}

// StatusConfig controls the HTTP status server. An empty Listen disables it.
type StatusConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	rl := ratelimit.DefaultOptions()
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Remote: RemoteConfig{
			BaseURL:         "https://api.x.ai/v1",
			Model:           "grok-3-mini",
			Timeout:         60 * time.Second,
			MaxOutputTokens: 1024,
		},
		RateLimit: RateLimitConfig{
			Tier:               rl.Tier,
			InitialRetryDelay:  rl.InitialRetryDelay,
			MaxRetryDelay:      rl.MaxRetryDelay,
			MaxRetries:         rl.MaxRetries,
			MaxPendingRequests: rl.MaxPendingRequests,
			PendingTimeout:     rl.PendingTimeout,
		},
		Cache: CacheConfig{
			Enabled:    true,
			TTL:        5 * time.Minute,
			MaxEntries: 500,
		},
		Cost: CostConfig{
			LimitUSD:     10,
			EnforceLimit: true,
			MaxRecords:   1000,
		},
		Journal: JournalConfig{
			DBPath:        "relay.db",
			Retention:     30 * 24 * time.Hour,
			PruneSchedule: "0 * * * *",
		},
	}
}

// Load builds a Config from defaults, then RELAY_* environment variables,
// then the YAML file at path with ${VAR} expansion. An empty path skips the
// file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides fields from RELAY_* environment variables.
func (c *Config) ApplyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	str("RELAY_LOG_LEVEL", &c.Log.Level)
	str("RELAY_LOG_FORMAT", &c.Log.Format)
	str("RELAY_BASE_URL", &c.Remote.BaseURL)
	str("RELAY_API_KEY", &c.Remote.APIKey)
	str("RELAY_MODEL", &c.Remote.Model)
	str("RELAY_RATE_TIER", &c.RateLimit.Tier)
	str("RELAY_STATUS_LISTEN", &c.Status.Listen)
	str("RELAY_JOURNAL_PATH", &c.Journal.DBPath)

	if v := os.Getenv("RELAY_CACHE_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("RELAY_CACHE_ENABLED: %w", err)
		}
		c.Cache.Enabled = b
	}
	if v := os.Getenv("RELAY_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("RELAY_CACHE_TTL: %w", err)
		}
		c.Cache.TTL = d
	}
	if v := os.Getenv("RELAY_COST_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RELAY_COST_LIMIT: %w", err)
		}
		c.Cost.LimitUSD = f
	}
	if v := os.Getenv("RELAY_ENFORCE_LIMIT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("RELAY_ENFORCE_LIMIT: %w", err)
		}
		c.Cost.EnforceLimit = b
	}
	if v := os.Getenv("RELAY_JOURNAL_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("RELAY_JOURNAL_ENABLED: %w", err)
		}
		c.Journal.Enabled = b
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if err := c.RateLimitOptions().Validate(); err != nil {
		return fmt.Errorf("rate_limit: %w", err)
	}
	switch {
	case c.Remote.Model == "":
		return errors.New("remote.model is required")
	case c.Remote.Timeout <= 0:
		return errors.New("remote.timeout must be positive")
	case c.Remote.MaxOutputTokens < 0:
		return errors.New("remote.max_output_tokens must not be negative")
	case c.Cache.Enabled && c.Cache.TTL <= 0:
		return errors.New("cache.ttl must be positive")
	case c.Cache.MaxEntries < 0:
		return errors.New("cache.max_entries must not be negative")
	case c.Cost.LimitUSD < 0:
		return errors.New("cost.limit_usd must not be negative")
	case c.Cost.MaxRecords <= 0:
		return errors.New("cost.max_records must be positive")
	case c.Journal.Enabled && c.Journal.DBPath == "":
		return errors.New("journal.db_path is required when the journal is enabled")
	case c.Journal.Retention < 0:
		return errors.New("journal.retention must not be negative")
	}
	for _, p := range c.Pricing {
		if p.Model == "" || p.InputPerMTokens < 0 || p.OutputPerMTokens < 0 {
			return fmt.Errorf("pricing: invalid entry for model %q", p.Model)
		}
	}
	return nil
}

// RateLimitOptions converts the rate limit section.
func (c *Config) RateLimitOptions() ratelimit.Options {
	return ratelimit.Options{
		Tier:               c.RateLimit.Tier,
		InitialRetryDelay:  c.RateLimit.InitialRetryDelay,
		MaxRetryDelay:      c.RateLimit.MaxRetryDelay,
		MaxRetries:         c.RateLimit.MaxRetries,
		MaxPendingRequests: c.RateLimit.MaxPendingRequests,
		PendingTimeout:     c.RateLimit.PendingTimeout,
	}
}

// CacheOptions converts the cache section.
func (c *Config) CacheOptions() cache.Options {
	return cache.Options{
		Enabled:    c.Cache.Enabled,
		TTL:        c.Cache.TTL,
		MaxEntries: c.Cache.MaxEntries,
	}
}

// Masked returns a copy safe to print: the API key is reduced to a hint.
func (c *Config) Masked() *Config {
	out := *c
	out.Pricing = append([]models.ModelPricing(nil), c.Pricing...)
	out.Remote.APIKey = MaskKey(c.Remote.APIKey)
	return &out
}

// MaskKey keeps the first four characters of a key.
func MaskKey(key string) string {
	switch {
	case key == "":
		return ""
	case len(key) <= 8:
		return "****"
	default:
		return key[:4] + "****"
	}
}
