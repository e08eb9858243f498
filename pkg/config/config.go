// Package config loads and validates the engine configuration.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Resolver  ResolverConfig  `yaml:"resolver"`
	Sanitizer SanitizerConfig `yaml:"sanitizer"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Storage   StorageConfig   `yaml:"storage"`
}

// ResolverConfig holds the query engine settings.
type ResolverConfig struct {
	Server        string        `yaml:"server"`
	Port          int           `yaml:"port"`
	Timeout       time.Duration `yaml:"timeout"`
	Transports    []string      `yaml:"transports"`
	DoHEndpoint   string        `yaml:"doh_endpoint"`
	DoHSkipHosts  []string      `yaml:"doh_skip_hosts"`
	PoolSize      int           `yaml:"pool_size"`
	QueueCapacity int           `yaml:"queue_capacity"`
}

// RegexRule is one sanitizer regex descriptor.
type RegexRule struct {
	Pattern string `yaml:"pattern"`
	Flags   string `yaml:"flags"`
}

// SanitizerConfig is the YAML shape of the sanitizer rule set. The deep
// validation (regex compilation, range checks) happens at apply time in the
// sanitize package; this struct only carries the payload.
type SanitizerConfig struct {
	SpaceReplacement     string               `yaml:"space_replacement"`
	MaxLabelLength       int                  `yaml:"max_label_length"`
	UnicodeNormalization string               `yaml:"unicode_normalization"`
	AllowedServers       []string             `yaml:"allowed_servers"`
	Rules                map[string]RegexRule `yaml:"rules"`
}

// IsZero reports whether the sanitizer section was omitted entirely.
func (s *SanitizerConfig) IsZero() bool {
	return s.SpaceReplacement == "" && s.MaxLabelLength == 0 &&
		s.UnicodeNormalization == "" && len(s.AllowedServers) == 0 && len(s.Rules) == 0
}

// ToMap renders the section as the loosely-typed payload the resolver's
// ConfigureSanitizer boundary expects.
func (s *SanitizerConfig) ToMap() map[string]any {
	m := map[string]any{
		"spaceReplacement":     s.SpaceReplacement,
		"maxLabelLength":       s.MaxLabelLength,
		"unicodeNormalization": s.UnicodeNormalization,
	}
	if len(s.AllowedServers) > 0 {
		servers := make([]any, len(s.AllowedServers))
		for i, host := range s.AllowedServers {
			servers[i] = host
		}
		m["allowedServers"] = servers
	}
	for key, rule := range s.Rules {
		m[key] = map[string]any{"pattern": rule.Pattern, "flags": rule.Flags}
	}
	return m
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level     string `yaml:"level"`     // debug, info, warn, error
	Format    string `yaml:"format"`    // json, text
	Output    string `yaml:"output"`    // stdout, stderr, file
	FilePath  string `yaml:"file_path"` // if output=file
	AddSource bool   `yaml:"add_source"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled           bool   `yaml:"enabled"`
	ServiceName       string `yaml:"service_name"`
	ServiceVersion    string `yaml:"service_version"`
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	PrometheusPort    int    `yaml:"prometheus_port"`
}

// StorageConfig holds query-log storage settings.
type StorageConfig struct {
	Backend       string `yaml:"backend"` // sqlite, none
	DatabasePath  string `yaml:"database_path"`
	LogQueries    bool   `yaml:"log_queries"`
	RetentionDays int    `yaml:"retention_days"`
	BufferSize    int    `yaml:"buffer_size"`
	Workers       int    `yaml:"workers"`
}

// Load reads, defaults and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// LoadWithDefaults creates a configuration with the built-in defaults.
func LoadWithDefaults() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Resolver.Server == "" {
		c.Resolver.Server = "ch.at"
	}
	if c.Resolver.Port == 0 {
		c.Resolver.Port = 53
	}
	if c.Resolver.Timeout == 0 {
		c.Resolver.Timeout = 10 * time.Second
	}
	if len(c.Resolver.Transports) == 0 {
		c.Resolver.Transports = []string{"native", "udp", "doh", "legacy"}
	}
	if len(c.Resolver.DoHSkipHosts) == 0 {
		c.Resolver.DoHSkipHosts = []string{"ch.at"}
	}
	if c.Resolver.PoolSize == 0 {
		c.Resolver.PoolSize = max(2, runtime.NumCPU())
	}
	if c.Resolver.QueueCapacity == 0 {
		c.Resolver.QueueCapacity = 50
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "dnschat"
	}
	if c.Telemetry.ServiceVersion == "" {
		c.Telemetry.ServiceVersion = "dev"
	}
	if c.Telemetry.PrometheusPort == 0 {
		c.Telemetry.PrometheusPort = 9090
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = "none"
	}
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "dnschat.db"
	}
	if c.Storage.RetentionDays == 0 {
		c.Storage.RetentionDays = 30
	}
	if c.Storage.BufferSize == 0 {
		c.Storage.BufferSize = 256
	}
	if c.Storage.Workers == 0 {
		c.Storage.Workers = 2
	}
}

// Validate checks structural configuration constraints. Sanitizer rule
// payloads are validated separately when applied.
func (c *Config) Validate() error {
	if c.Resolver.Port < 1 || c.Resolver.Port > 65535 {
		return fmt.Errorf("invalid resolver port: %d", c.Resolver.Port)
	}
	if c.Resolver.Timeout <= 0 {
		return fmt.Errorf("resolver timeout must be positive")
	}
	for _, name := range c.Resolver.Transports {
		switch name {
		case "native", "udp", "doh", "legacy":
		default:
			return fmt.Errorf("unknown transport: %q", name)
		}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}
	if c.Logging.Output == "file" && c.Logging.FilePath == "" {
		return fmt.Errorf("log output is file but file_path is empty")
	}
	switch c.Storage.Backend {
	case "sqlite", "none":
	default:
		return fmt.Errorf("unknown storage backend: %q", c.Storage.Backend)
	}
	return nil
}
