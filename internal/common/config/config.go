// Package config provides configuration management for the queue core.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the queue core.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Registry    RegistryConfig    `mapstructure:"registry"`
	Backend     BackendConfig     `mapstructure:"backend"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
	Events      EventsConfig      `mapstructure:"events"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig holds the caller-facing HTTP API and outbound dashboard sync configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds

	// URL is the remote dashboard's base URL consumed by the Server Client.
	// Empty disables outbound sync entirely.
	URL string `mapstructure:"url"`
	// MaxQueueSize bounds the Server Client's outbound request queue.
	MaxQueueSize int `mapstructure:"maxQueueSize"`
}

// QueueConfig holds Task Queue Manager configuration.
type QueueConfig struct {
	// Enabled controls whether the Queue Executor is started at all.
	Enabled bool `mapstructure:"enabled"`
	// MaxConcurrency is the number of tasks the Executor may run at once.
	MaxConcurrency int `mapstructure:"maxConcurrency"`
	// DefaultPriority is used when an enqueued task omits a priority.
	DefaultPriority string `mapstructure:"defaultPriority"`
	// MaxQueueSize bounds the number of queued tasks; 0 means unbounded.
	MaxQueueSize int `mapstructure:"maxQueueSize"`
	// KeepHistory controls whether terminal tasks are retained in the history deque.
	KeepHistory bool `mapstructure:"keepHistory"`
	// MaxHistorySize bounds the history deque.
	MaxHistorySize int `mapstructure:"maxHistorySize"`
}

// PersistenceConfig holds Queue Persistence configuration.
type PersistenceConfig struct {
	// DebounceMs is the coalescing window before a queue snapshot is written.
	DebounceMs int `mapstructure:"debounceMs"`
	// Backend selects the KVStore implementation: "file" (default) or "postgres".
	Backend string `mapstructure:"backend"`
	// DataDir is the directory holding queue.json / process-registry.json for the file backend.
	DataDir string `mapstructure:"dataDir"`
	// PostgresDSN is the connection string for the postgres backend.
	PostgresDSN string `mapstructure:"postgresDSN"`
}

// RegistryConfig holds Process Registry configuration.
type RegistryConfig struct {
	// DebounceMs is the coalescing window before a registry snapshot is written.
	DebounceMs int `mapstructure:"debounceMs"`
	// HistoryLimit bounds how many terminal processes are retained on save.
	HistoryLimit int `mapstructure:"historyLimit"`
}

// BackendConfig holds Backend Invoker and Session Pool configuration.
type BackendConfig struct {
	// Type selects the default backend: copilot-sdk, copilot-cli, or clipboard.
	Type string    `mapstructure:"type"`
	SDK  SDKConfig `mapstructure:"sdk"`
}

// SDKConfig holds configuration for the in-process SDK backend and its Session Pool.
type SDKConfig struct {
	MaxSessions      int    `mapstructure:"maxSessions"`
	SessionTimeoutMs int    `mapstructure:"sessionTimeoutMs"`
	RequestTimeoutMs int    `mapstructure:"requestTimeoutMs"`
	LoadMcpConfig    bool   `mapstructure:"loadMcpConfig"`
	CLIUrl           string `mapstructure:"cliURL"`
}

// MonitorConfig holds Process Monitor configuration.
type MonitorConfig struct {
	PollIntervalMs int `mapstructure:"pollIntervalMs"`
}

// EventsConfig holds event bus selection.
type EventsConfig struct {
	// Backend selects the EventBus implementation: "memory" (default) or "nats".
	Backend string `mapstructure:"backend"`
	NatsURL string `mapstructure:"natsURL"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// DebounceDuration returns the persistence debounce window as a time.Duration.
func (p *PersistenceConfig) DebounceDuration() time.Duration {
	return time.Duration(p.DebounceMs) * time.Millisecond
}

// DebounceDuration returns the registry debounce window as a time.Duration.
func (r *RegistryConfig) DebounceDuration() time.Duration {
	return time.Duration(r.DebounceMs) * time.Millisecond
}

// PollInterval returns the monitor poll interval as a time.Duration.
func (m *MonitorConfig) PollInterval() time.Duration {
	return time.Duration(m.PollIntervalMs) * time.Millisecond
}

// SessionTimeout returns the SDK session idle timeout as a time.Duration.
func (s *SDKConfig) SessionTimeout() time.Duration {
	return time.Duration(s.SessionTimeoutMs) * time.Millisecond
}

// RequestTimeout returns the SDK per-request timeout as a time.Duration.
func (s *SDKConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutMs) * time.Millisecond
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("QUEUECORE_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.url", "")
	v.SetDefault("server.maxQueueSize", 500)

	// Queue defaults
	v.SetDefault("queue.enabled", true)
	v.SetDefault("queue.maxConcurrency", 1)
	v.SetDefault("queue.defaultPriority", "normal")
	v.SetDefault("queue.maxQueueSize", 0)
	v.SetDefault("queue.keepHistory", true)
	v.SetDefault("queue.maxHistorySize", 100)

	// Persistence defaults
	v.SetDefault("persistence.debounceMs", 300)
	v.SetDefault("persistence.backend", "file")
	v.SetDefault("persistence.dataDir", "./data")
	v.SetDefault("persistence.postgresDSN", "")

	// Registry defaults
	v.SetDefault("registry.debounceMs", 500)
	v.SetDefault("registry.historyLimit", 100)

	// Backend defaults
	v.SetDefault("backend.type", "copilot-sdk")
	v.SetDefault("backend.sdk.maxSessions", 5)
	v.SetDefault("backend.sdk.sessionTimeoutMs", 600000)
	v.SetDefault("backend.sdk.requestTimeoutMs", 600000)
	v.SetDefault("backend.sdk.loadMcpConfig", false)
	v.SetDefault("backend.sdk.cliURL", "")

	// Monitor defaults
	v.SetDefault("monitor.pollIntervalMs", 2000)

	// Events defaults - events.backend selects the bus; the default is the
	// in-memory bus, and natsURL is only used when the backend is nats
	v.SetDefault("events.backend", "memory")
	v.SetDefault("events.natsURL", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix QUEUECORE_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/queuecore/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("QUEUECORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys).
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion,
	// so keys where env var naming differs from config key naming are bound explicitly.
	_ = v.BindEnv("logging.level", "QUEUECORE_LOG_LEVEL")
	_ = v.BindEnv("server.url", "QUEUECORE_SERVER_URL")
	_ = v.BindEnv("backend.type", "QUEUECORE_BACKEND_TYPE")
	_ = v.BindEnv("events.natsURL", "QUEUECORE_NATS_URL")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/queuecore/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Queue.MaxConcurrency <= 0 {
		errs = append(errs, "queue.maxConcurrency must be positive")
	}
	validPriorities := map[string]bool{"high": true, "normal": true, "low": true}
	if !validPriorities[cfg.Queue.DefaultPriority] {
		errs = append(errs, "queue.defaultPriority must be one of: high, normal, low")
	}

	validPersistenceBackends := map[string]bool{"file": true, "postgres": true}
	if !validPersistenceBackends[cfg.Persistence.Backend] {
		errs = append(errs, "persistence.backend must be one of: file, postgres")
	}
	if cfg.Persistence.Backend == "postgres" && cfg.Persistence.PostgresDSN == "" {
		errs = append(errs, "persistence.postgresDSN is required when persistence.backend=postgres")
	}

	validBackendTypes := map[string]bool{"copilot-sdk": true, "copilot-cli": true, "clipboard": true}
	if !validBackendTypes[cfg.Backend.Type] {
		errs = append(errs, "backend.type must be one of: copilot-sdk, copilot-cli, clipboard")
	}

	validEventsBackends := map[string]bool{"memory": true, "nats": true}
	if !validEventsBackends[cfg.Events.Backend] {
		errs = append(errs, "events.backend must be one of: memory, nats")
	}
	if cfg.Events.Backend == "nats" && cfg.Events.NatsURL == "" {
		errs = append(errs, "events.natsURL is required when events.backend=nats")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text, console")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
