package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/clubindex/clubindex/server/internal/freshness"
)

// Default values.
const (
	DefaultHTTPPort        = 8080
	DefaultCacheFile       = "data/vereine_cache.json"
	DefaultTTLMinutes      = 1440
	DefaultMaxStaleMinutes = 10080
	DefaultCheckInterval   = 5 * time.Minute
	DefaultStatusInterval  = 5 * time.Second
	DefaultListURL         = "https://www.hfv.de/vereine"
	DefaultConcurrency     = 8
	DefaultScrapeTimeout   = 30 * time.Second
	DefaultUserAgent       = "clubindex/1.0 (+https://github.com/clubindex/clubindex)"
	DefaultRetryAttempts   = 3
	DefaultRetryInitial    = 500 * time.Millisecond
	DefaultRetryMax        = 10 * time.Second
	DefaultNotifyCooldown  = time.Hour
	DefaultAuthHeader      = "x-api-key"
)

// Config is the complete service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Cache   CacheConfig   `yaml:"cache"`
	Scraper ScraperConfig `yaml:"scraper"`
	Notify  NotifyConfig  `yaml:"notify"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API, metrics and WebSocket hub listen on.
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`

	// CORSOrigins lists allowed origins; "*" allows any.
	CORSOrigins []string `yaml:"cors_origins" env:"CORS_ORIGINS"`

	// StatusInterval is how often the WebSocket hub pushes status.
	StatusInterval time.Duration `yaml:"status_interval"`

	// Auth protects the admin routes.
	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig controls authentication of admin requests.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header to read the key from. Defaults to "x-api-key".
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return DefaultAuthHeader
}

// CacheConfig controls the snapshot cache file and its freshness tiers.
type CacheConfig struct {
	File            string        `yaml:"file" env:"CACHE_FILE"`
	TTLMinutes      int           `yaml:"ttl_minutes" env:"CACHE_TTL_MINUTES"`
	MaxStaleMinutes int           `yaml:"max_stale_minutes" env:"CACHE_MAX_STALE_MINUTES"`
	CheckInterval   time.Duration `yaml:"check_interval" env:"CACHE_CHECK_INTERVAL"`
}

// Policy converts the minute-based TTLs into a freshness policy.
func (c CacheConfig) Policy() freshness.Policy {
	return freshness.Policy{
		SoftTTL: time.Duration(c.TTLMinutes) * time.Minute,
		HardTTL: time.Duration(c.MaxStaleMinutes) * time.Minute,
	}
}

// ScraperConfig controls how the club directory is fetched.
type ScraperConfig struct {
	// ListURL is the page listing every club.
	ListURL string `yaml:"list_url" env:"BASE_LIST_URL"`

	// AllowedHost restricts list links and marks internal links on detail
	// pages. Derived from ListURL when empty ("www." stripped).
	AllowedHost string `yaml:"allowed_host"`

	// Concurrency bounds in-flight detail page fetches.
	Concurrency int `yaml:"concurrency" env:"SCRAPE_CONCURRENCY"`

	Timeout            time.Duration `yaml:"timeout" env:"SCRAPE_TIMEOUT"`
	UserAgent          string        `yaml:"user_agent" env:"SCRAPE_USER_AGENT"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	Retry              RetryConfig   `yaml:"retry"`
}

// EffectiveHost returns AllowedHost, or the ListURL host without "www.".
func (s ScraperConfig) EffectiveHost() string {
	if s.AllowedHost != "" {
		return s.AllowedHost
	}
	u, err := url.Parse(s.ListURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

// RetryConfig is the per-request retry policy.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" env:"SCRAPE_RETRY_ATTEMPTS"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// NotifyConfig holds webhook targets for refresh failure/recovery events.
type NotifyConfig struct {
	Webhooks []WebhookConfig `yaml:"webhooks"`

	// Cooldown suppresses repeated failure notifications.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// LogConfig sets the log level: debug | info | warn | error.
type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL"`
}

// SlogLevel maps Level onto slog. Unknown values yield info.
func (l LogConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Load returns the configuration read from path, overridden by the
// environment. An empty path skips the file and uses defaults plus
// environment only.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:       DefaultHTTPPort,
			CORSOrigins:    []string{"*"},
			StatusInterval: DefaultStatusInterval,
			Auth:           AuthConfig{Mode: "none"},
		},
		Cache: CacheConfig{
			File:            DefaultCacheFile,
			TTLMinutes:      DefaultTTLMinutes,
			MaxStaleMinutes: DefaultMaxStaleMinutes,
			CheckInterval:   DefaultCheckInterval,
		},
		Scraper: ScraperConfig{
			ListURL:     DefaultListURL,
			Concurrency: DefaultConcurrency,
			Timeout:     DefaultScrapeTimeout,
			UserAgent:   DefaultUserAgent,
			Retry: RetryConfig{
				MaxAttempts:  DefaultRetryAttempts,
				InitialDelay: DefaultRetryInitial,
				MaxDelay:     DefaultRetryMax,
			},
		},
		Notify: NotifyConfig{
			Cooldown: DefaultNotifyCooldown,
		},
		Log: LogConfig{Level: "info"},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	switch cfg.Server.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", cfg.Server.Auth.Mode)
	}
	if cfg.Server.Auth.Mode == "apikey" && cfg.Server.Auth.KeyEnv == "" {
		return fmt.Errorf("server.auth.key_env is required when mode is apikey")
	}
	if cfg.Server.StatusInterval <= 0 {
		return fmt.Errorf("server.status_interval must be positive")
	}

	if cfg.Cache.File == "" {
		return fmt.Errorf("cache.file must not be empty")
	}
	if cfg.Cache.TTLMinutes <= 0 {
		return fmt.Errorf("cache.ttl_minutes must be positive, got %d", cfg.Cache.TTLMinutes)
	}
	if cfg.Cache.MaxStaleMinutes <= 0 {
		return fmt.Errorf("cache.max_stale_minutes must be positive, got %d", cfg.Cache.MaxStaleMinutes)
	}
	if cfg.Cache.Policy().Misconfigured() {
		slog.Warn("config: cache.max_stale_minutes is below cache.ttl_minutes; stale data will be rebuilt synchronously",
			"ttl_minutes", cfg.Cache.TTLMinutes,
			"max_stale_minutes", cfg.Cache.MaxStaleMinutes,
		)
	}
	if cfg.Cache.CheckInterval < 0 {
		return fmt.Errorf("cache.check_interval must not be negative")
	}

	u, err := url.Parse(cfg.Scraper.ListURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("scraper.list_url %q is not an absolute http(s) URL", cfg.Scraper.ListURL)
	}
	if cfg.Scraper.Concurrency < 1 {
		return fmt.Errorf("scraper.concurrency must be at least 1, got %d", cfg.Scraper.Concurrency)
	}
	if cfg.Scraper.Timeout <= 0 {
		return fmt.Errorf("scraper.timeout must be positive")
	}
	if cfg.Scraper.Retry.MaxAttempts < 1 {
		return fmt.Errorf("scraper.retry.max_attempts must be at least 1, got %d", cfg.Scraper.Retry.MaxAttempts)
	}
	if cfg.Scraper.Retry.InitialDelay < 0 || cfg.Scraper.Retry.MaxDelay < 0 {
		return fmt.Errorf("scraper.retry delays must not be negative")
	}

	for i, w := range cfg.Notify.Webhooks {
		switch w.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("notify.webhooks[%d].type %q unknown: want slack|teams|http", i, w.Type)
		}
		if w.URLEnv == "" {
			return fmt.Errorf("notify.webhooks[%d].url_env must be set", i)
		}
	}
	if cfg.Notify.Cooldown < 0 {
		return fmt.Errorf("notify.cooldown must not be negative")
	}
	return nil
}
