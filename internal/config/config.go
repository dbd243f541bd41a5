// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SuperAdminRole is granted every product feature without being listed in
// auth.roles.
const SuperAdminRole = "super_administrator"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig            `mapstructure:"server"`
	Region    RegionConfig            `mapstructure:"region"`
	Regions   map[string]RemoteRegion `mapstructure:"regions"`
	Auth      AuthConfig              `mapstructure:"auth"`
	Queue     QueueConfig             `mapstructure:"queue"`
	Workers   WorkersConfig           `mapstructure:"workers"`
	RateLimit RateLimitConfig         `mapstructure:"ratelimit"`
	Database  DatabaseConfig          `mapstructure:"database"`
	PubSub    PubSubConfig            `mapstructure:"pubsub"`
	Storage   StorageConfig           `mapstructure:"storage"`
	Progress  ProgressConfig          `mapstructure:"progress"`
	Logging   LoggingConfig           `mapstructure:"logging"`
	Inventory InventoryConfig         `mapstructure:"inventory"`
	Telemetry TelemetryConfig         `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int    `mapstructure:"port"`
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// RegionConfig identifies the region this process serves.
type RegionConfig struct {
	Number   int64 `mapstructure:"number"`
	ServerID int64 `mapstructure:"server_id"`
}

// RemoteRegion describes how to reach another region's API for central
// administration.
type RemoteRegion struct {
	URL      string `mapstructure:"url"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// AuthConfig lists API users and the product features granted to each role.
type AuthConfig struct {
	Users []UserConfig        `mapstructure:"users"`
	Roles map[string][]string `mapstructure:"roles"`
}

// UserConfig is one API account.
type UserConfig struct {
	UserID       string `mapstructure:"userid"`
	PasswordHash string `mapstructure:"password_hash"`
	Role         string `mapstructure:"role"`
}

// QueueConfig sizes the task queue.
type QueueConfig struct {
	Depth            int `mapstructure:"depth"`
	EnqueueTimeoutMs int `mapstructure:"enqueue_timeout_ms"`
}

// WorkersConfig governs the worker pool executing queued tasks.
type WorkersConfig struct {
	Concurrency        int `mapstructure:"concurrency"`
	TaskTimeoutSeconds int `mapstructure:"task_timeout_seconds"`
}

// RateLimitConfig throttles adapter calls per provider.
type RateLimitConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	ProviderRPS   float64 `mapstructure:"provider_rps"`
	ProviderBurst int     `mapstructure:"provider_burst"`
}

// DatabaseConfig controls access to Postgres.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	TaskTable       string        `mapstructure:"task_table"`
	EventTable      string        `mapstructure:"event_table"`
	LifecycleTable  string        `mapstructure:"lifecycle_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for task notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// StorageConfig selects where finished tasks are archived.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	Bucket      string `mapstructure:"bucket"`
	Prefix      string `mapstructure:"prefix"`
	BaseDir     string `mapstructure:"base_dir"`
	ContentType string `mapstructure:"content_type"`
}

// ProgressConfig controls the task event hub.
type ProgressConfig struct {
	Enabled        bool        `mapstructure:"enabled"`
	LogEnabled     bool        `mapstructure:"log_enabled"`
	BufferSize     int         `mapstructure:"buffer_size"`
	Batch          BatchConfig `mapstructure:"batch"`
	TerminalWaitMs int         `mapstructure:"terminal_wait_ms"`
	SinkTimeoutMs  int         `mapstructure:"sink_timeout_ms"`
}

// BatchConfig sizes hub batches.
type BatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// InventoryConfig points at the YAML file seeding the in-memory inventory.
type InventoryConfig struct {
	SeedFile string `mapstructure:"seed_file"`
}

// TelemetryConfig names the service for trace resources.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INFRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("region.number", 0)
	v.SetDefault("region.server_id", 1)
	v.SetDefault("queue.depth", 256)
	v.SetDefault("queue.enqueue_timeout_ms", 5000)
	v.SetDefault("workers.concurrency", 4)
	v.SetDefault("workers.task_timeout_seconds", 600)
	v.SetDefault("ratelimit.enabled", false)
	v.SetDefault("ratelimit.provider_rps", 5)
	v.SetDefault("ratelimit.provider_burst", 5)
	v.SetDefault("database.task_table", "miq_tasks")
	v.SetDefault("database.event_table", "ems_events")
	v.SetDefault("database.lifecycle_table", "lifecycle_events")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "tasks")
	v.SetDefault("storage.content_type", "application/json")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.batch.max_events", 100)
	v.SetDefault("progress.batch.max_wait_ms", 250)
	v.SetDefault("progress.terminal_wait_ms", 100)
	v.SetDefault("progress.sink_timeout_ms", 5000)
	v.SetDefault("logging.development", true)
	v.SetDefault("telemetry.service_name", "infra-api")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Queue.Depth <= 0 {
		return fmt.Errorf("queue.depth must be > 0")
	}
	if c.Workers.Concurrency <= 0 {
		return fmt.Errorf("workers.concurrency must be > 0")
	}
	if c.RateLimit.Enabled && c.RateLimit.ProviderRPS <= 0 {
		return fmt.Errorf("ratelimit.provider_rps must be > 0 when rate limiting is enabled")
	}
	switch c.Storage.Backend {
	case "", "memory":
	case "local":
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	for i, u := range c.Auth.Users {
		if u.UserID == "" || u.PasswordHash == "" {
			return fmt.Errorf("auth.users[%d] requires userid and password_hash", i)
		}
		if _, ok := c.Auth.Roles[u.Role]; !ok && u.Role != SuperAdminRole {
			return fmt.Errorf("auth.users[%d] references unknown role %q", i, u.Role)
		}
	}
	for key, r := range c.Regions {
		if _, err := strconv.ParseInt(key, 10, 64); err != nil {
			return fmt.Errorf("regions.%s: region key must be numeric", key)
		}
		if r.URL == "" {
			return fmt.Errorf("regions.%s.url must be set", key)
		}
	}
	return nil
}

// RemoteRegion returns the configured remote region by number.
func (c Config) RemoteRegion(number int64) (RemoteRegion, bool) {
	r, ok := c.Regions[strconv.FormatInt(number, 10)]
	return r, ok
}

// TaskTimeout converts the worker budget into a duration.
func (c Config) TaskTimeout() time.Duration {
	return time.Duration(c.Workers.TaskTimeoutSeconds) * time.Second
}

// EnqueueTimeout converts the enqueue budget into a duration.
func (c Config) EnqueueTimeout() time.Duration {
	return time.Duration(c.Queue.EnqueueTimeoutMs) * time.Millisecond
}
