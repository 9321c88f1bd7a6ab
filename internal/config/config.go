package config

import (
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	API             APIConfig         `yaml:"api"`
	Watch           WatchConfig       `yaml:"watch"`
	Cache           CacheConfig       `yaml:"cache"`
	Database        DatabaseConfig    `yaml:"database"`
	Audit           AuditConfig       `yaml:"audit"`
	Notify          NotifyConfig      `yaml:"notify"`
	Log             LogConfig         `yaml:"log"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	Webhook         WebhookConfig     `yaml:"webhook"`
	EventBus        EventBusConfig    `yaml:"eventbus"`
	RateLimitRPS    float64           `yaml:"rate_limit_rps"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// APIConfig contains backend API connection settings
type APIConfig struct {
	BaseURL   string   `yaml:"base_url"`
	Token     string   `yaml:"token"`      // Static bearer token; overrides token_file when set
	TokenFile string   `yaml:"token_file"` // Path to the saved login token (default: user config dir)
	Timeout   Duration `yaml:"timeout"`    // HTTP timeout for backend API requests

	// Event stream reconnect settings
	StreamEnabled   bool     `yaml:"stream_enabled"`
	MinRetryBackoff Duration `yaml:"min_retry_backoff"` // Minimum backoff between reconnects (default: 1s)
	MaxRetryBackoff Duration `yaml:"max_retry_backoff"` // Maximum backoff between reconnects (default: 2m)
	RetryMultiplier float64  `yaml:"retry_multiplier"`  // Backoff multiplier (default: 2.0)
	MaxReconnects   int      `yaml:"max_reconnects"`    // Max reconnect attempts, 0 = infinite (default: 0)
}

// WatchConfig contains the watched client set and its poll cadence
type WatchConfig struct {
	Clients      []string `yaml:"clients"`       // Client ids to monitor; empty = watch the whole directory
	PollInterval Duration `yaml:"poll_interval"` // Full refresh interval (default: 5m)
}

// CacheConfig contains bulk validity cache settings
type CacheConfig struct {
	Capacity           int      `yaml:"capacity"`
	Shards             int      `yaml:"shards"`
	TTL                Duration `yaml:"ttl"`
	EvictionPercentage int      `yaml:"eviction_percentage"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuditConfig contains audit ledger settings
type AuditConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// NotifyConfig contains notification center settings
type NotifyConfig struct {
	Capacity int      `yaml:"capacity"`
	TTL      Duration `yaml:"ttl"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	JSON   bool   `yaml:"json"`
	Colors bool   `yaml:"colors"`
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// WebhookConfig contains inbound webhook server settings
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./clientd.sqlite"
	}

	// API defaults
	if cfg.API.Timeout == 0 {
		cfg.API.Timeout = Duration(30 * time.Second)
	}
	if cfg.API.MinRetryBackoff == 0 {
		cfg.API.MinRetryBackoff = Duration(1 * time.Second)
	}
	if cfg.API.MaxRetryBackoff == 0 {
		cfg.API.MaxRetryBackoff = Duration(2 * time.Minute)
	}
	if cfg.API.RetryMultiplier == 0 {
		cfg.API.RetryMultiplier = 2.0
	}
	// MaxReconnects defaults to 0 (infinite), no need to set

	// Watch defaults
	if cfg.Watch.PollInterval == 0 {
		cfg.Watch.PollInterval = Duration(5 * time.Minute)
	}

	// Cache defaults
	if cfg.Cache.Capacity == 0 {
		cfg.Cache.Capacity = 10000
	}
	if cfg.Cache.Shards == 0 {
		cfg.Cache.Shards = 16
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = Duration(30 * time.Second)
	}
	if cfg.Cache.EvictionPercentage == 0 {
		cfg.Cache.EvictionPercentage = 10
	}

	// Audit defaults
	if cfg.Audit.CleanupInterval == 0 {
		cfg.Audit.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Audit.RetentionDays == 0 {
		cfg.Audit.RetentionDays = 30
	}

	// Notify defaults
	if cfg.Notify.Capacity == 0 {
		cfg.Notify.Capacity = 1
	}
	if cfg.Notify.TTL == 0 {
		cfg.Notify.TTL = Duration(4 * time.Second)
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}

	// Webhook defaults
	if cfg.Webhook.Port == 0 {
		cfg.Webhook.Port = 9091
	}
	if cfg.Webhook.Host == "" {
		cfg.Webhook.Host = "0.0.0.0"
	}

	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 10.0 // 10 requests per second
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}

	return &cfg, nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
