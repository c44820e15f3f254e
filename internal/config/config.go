// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Session store backends.
const (
	SessionStoreMemory = "memory"
	SessionStoreSQLite = "sqlite"
	SessionStoreRedis  = "redis"
)

// Config holds all application configuration.
// It is passed explicitly to constructors; the API key is never logged.
type Config struct {
	API      APIConfig      `yaml:"api"`
	Tracking TrackingConfig `yaml:"tracking"`
	Session  SessionConfig  `yaml:"session"`
	Stub     StubConfig     `yaml:"stub"`
	Browser  BrowserConfig  `yaml:"browser"`

	BridgeAddr     string `yaml:"bridge_addr"`
	BridgeOrigin   string `yaml:"bridge_origin"`
	MetricsAddr    string `yaml:"metrics_addr"`
	TracingEnabled bool   `yaml:"tracing_enabled"`
	LogLevel       string `yaml:"log_level"`
}

// APIConfig describes the intent backend.
type APIConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Key            string        `yaml:"key"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// TrackingConfig controls the behavior tracker and intent poller.
type TrackingConfig struct {
	TickInterval    time.Duration `yaml:"tick_interval"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	PollMaxFailures int           `yaml:"poll_max_failures"`
	ClickRate       float64       `yaml:"click_rate"`
	ClickBurst      int           `yaml:"click_burst"`
	CTAClass        string        `yaml:"cta_class"`
}

// SessionConfig selects where the tab-scoped session id lives.
type SessionConfig struct {
	Store      string        `yaml:"store"`
	SQLitePath string        `yaml:"sqlite_path"`
	RedisAddr  string        `yaml:"redis_addr"`
	TabID      string        `yaml:"tab_id"`
	TabTTL     time.Duration `yaml:"tab_ttl"`
}

// StubConfig configures the development backend.
type StubConfig struct {
	Port           string        `yaml:"port"`
	DBPath         string        `yaml:"db_path"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	DevRoutes      bool          `yaml:"dev_routes"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
}

// BrowserConfig selects the browser the sensor attaches to.
type BrowserConfig struct {
	Bin        string `yaml:"bin"`
	ControlURL string `yaml:"control_url"`
	Headless   bool   `yaml:"headless"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		API: APIConfig{
			BaseURL:        getEnv("INTENT_API_BASE_URL", "http://localhost:8080"),
			Key:            getEnv("INTENT_API_KEY", ""),
			RequestTimeout: getEnvDuration("INTENT_REQUEST_TIMEOUT", 10*time.Second),
		},
		Tracking: TrackingConfig{
			TickInterval:    getEnvDuration("INTENT_TRACKING_INTERVAL", 5*time.Second),
			PollInterval:    getEnvDuration("INTENT_POLL_INTERVAL", 10*time.Second),
			PollMaxFailures: getEnvInt("INTENT_POLL_MAX_FAILURES", 30),
			ClickRate:       getEnvFloat("INTENT_CLICK_RATE", 5),
			ClickBurst:      getEnvInt("INTENT_CLICK_BURST", 10),
			CTAClass:        getEnv("INTENT_CTA_CLASS", "cta"),
		},
		Session: SessionConfig{
			Store:      getEnv("INTENT_SESSION_STORE", SessionStoreMemory),
			SQLitePath: getEnv("INTENT_SQLITE_PATH", "./data/tabs.db"),
			RedisAddr:  getEnv("INTENT_REDIS_ADDR", "localhost:6379"),
			TabID:      getEnv("INTENT_TAB_ID", "default"),
			TabTTL:     getEnvDuration("INTENT_TAB_TTL", 30*time.Minute),
		},
		Stub: StubConfig{
			Port:           getEnv("STUB_PORT", "8080"),
			DBPath:         getEnv("STUB_DB_PATH", "./data/stub.db"),
			AllowedOrigins: getEnvList("STUB_ALLOWED_ORIGINS", "*"),
			DevRoutes:      getEnvBool("STUB_DEV_ROUTES", true),
			SessionTTL:     getEnvDuration("STUB_SESSION_TTL", 24*time.Hour),
		},
		Browser: BrowserConfig{
			Bin:        getEnv("INTENT_BROWSER_BIN", ""),
			ControlURL: getEnv("INTENT_BROWSER_CONTROL_URL", ""),
			Headless:   getEnvBool("INTENT_BROWSER_HEADLESS", false),
		},
		BridgeAddr:     getEnv("BRIDGE_ADDR", ""),
		BridgeOrigin:   getEnv("BRIDGE_ALLOWED_ORIGIN", "*"),
		MetricsAddr:    getEnv("METRICS_ADDR", ""),
		TracingEnabled: getEnvBool("TRACING_ENABLED", false),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFile reads configuration from the environment and overlays the YAML
// file at path. Values present in the file win.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("INTENT_API_BASE_URL cannot be empty")
	}
	if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("INTENT_API_BASE_URL must be an absolute URL")
	}
	if c.API.RequestTimeout <= 0 {
		return fmt.Errorf("INTENT_REQUEST_TIMEOUT must be > 0")
	}
	if c.Tracking.TickInterval <= 0 {
		return fmt.Errorf("INTENT_TRACKING_INTERVAL must be > 0")
	}
	if c.Tracking.PollInterval <= 0 {
		return fmt.Errorf("INTENT_POLL_INTERVAL must be > 0")
	}
	if c.Tracking.PollMaxFailures < 0 {
		return fmt.Errorf("INTENT_POLL_MAX_FAILURES must be >= 0")
	}
	if c.Tracking.ClickRate <= 0 || c.Tracking.ClickBurst <= 0 {
		return fmt.Errorf("INTENT_CLICK_RATE and INTENT_CLICK_BURST must be > 0")
	}
	switch c.Session.Store {
	case SessionStoreMemory:
	case SessionStoreSQLite:
		if c.Session.SQLitePath == "" {
			return fmt.Errorf("INTENT_SQLITE_PATH cannot be empty")
		}
	case SessionStoreRedis:
		if c.Session.RedisAddr == "" {
			return fmt.Errorf("INTENT_REDIS_ADDR cannot be empty")
		}
	default:
		return fmt.Errorf("unknown INTENT_SESSION_STORE %q", c.Session.Store)
	}
	if c.Session.TabID == "" {
		return fmt.Errorf("INTENT_TAB_ID cannot be empty")
	}
	if c.Session.TabTTL <= 0 {
		return fmt.Errorf("INTENT_TAB_TTL must be > 0")
	}
	return nil
}

// SlogLevel maps LogLevel onto a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogValue implements slog.LogValuer. The API key is reported only as set/unset.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("api_base_url", c.API.BaseURL),
		slog.Bool("api_key_set", c.API.Key != ""),
		slog.Duration("tick_interval", c.Tracking.TickInterval),
		slog.Duration("poll_interval", c.Tracking.PollInterval),
		slog.Int("poll_max_failures", c.Tracking.PollMaxFailures),
		slog.String("session_store", c.Session.Store),
	)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvList(key, fallback string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, fallback), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("10s") or bare milliseconds ("10000").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
