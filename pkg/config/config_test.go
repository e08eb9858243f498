package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	cfg, err := Load("testdata/config.yml")
	require.NoError(t, err)

	assert.Equal(t, "ch.at", cfg.Resolver.Server)
	assert.Equal(t, 53, cfg.Resolver.Port)
	assert.Equal(t, 5*time.Second, cfg.Resolver.Timeout)
	assert.Equal(t, []string{"native", "udp", "doh", "legacy"}, cfg.Resolver.Transports)
	assert.Equal(t, []string{"ch.at"}, cfg.Resolver.DoHSkipHosts)
	assert.Equal(t, 4, cfg.Resolver.PoolSize)
	assert.Equal(t, 25, cfg.Resolver.QueueCapacity)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, 9091, cfg.Telemetry.PrometheusPort)

	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.True(t, cfg.Storage.LogQueries)
	assert.Equal(t, 7, cfg.Storage.RetentionDays)

	require.False(t, cfg.Sanitizer.IsZero())
	assert.Equal(t, 63, cfg.Sanitizer.MaxLabelLength)
	assert.Contains(t, cfg.Sanitizer.Rules, "whitespace")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("testdata/does-not-exist.yml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yml")
	require.NoError(t, os.WriteFile(path, []byte("resolver: [not a map"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config YAML")
}

func TestLoadWithDefaults(t *testing.T) {
	cfg := LoadWithDefaults()

	assert.Equal(t, "ch.at", cfg.Resolver.Server)
	assert.Equal(t, 53, cfg.Resolver.Port)
	assert.Equal(t, 10*time.Second, cfg.Resolver.Timeout)
	assert.Equal(t, []string{"native", "udp", "doh", "legacy"}, cfg.Resolver.Transports)
	assert.GreaterOrEqual(t, cfg.Resolver.PoolSize, 2)
	assert.Equal(t, 50, cfg.Resolver.QueueCapacity)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "none", cfg.Storage.Backend)
	assert.True(t, cfg.Sanitizer.IsZero())
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{
			name:   "bad port",
			mutate: func(c *Config) { c.Resolver.Port = 70000 },
			errMsg: "invalid resolver port",
		},
		{
			name:   "unknown transport",
			mutate: func(c *Config) { c.Resolver.Transports = []string{"carrier-pigeon"} },
			errMsg: "unknown transport",
		},
		{
			name:   "bad log level",
			mutate: func(c *Config) { c.Logging.Level = "verbose" },
			errMsg: "invalid log level",
		},
		{
			name:   "bad log format",
			mutate: func(c *Config) { c.Logging.Format = "xml" },
			errMsg: "invalid log format",
		},
		{
			name:   "file output without path",
			mutate: func(c *Config) { c.Logging.Output = "file" },
			errMsg: "file_path is empty",
		},
		{
			name:   "unknown storage backend",
			mutate: func(c *Config) { c.Storage.Backend = "postgres" },
			errMsg: "unknown storage backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := LoadWithDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestSanitizerToMap(t *testing.T) {
	cfg, err := Load("testdata/config.yml")
	require.NoError(t, err)

	m := cfg.Sanitizer.ToMap()
	assert.Equal(t, "-", m["spaceReplacement"])
	assert.Equal(t, 63, m["maxLabelLength"])
	assert.Equal(t, "NFKD", m["unicodeNormalization"])
	assert.Equal(t, []any{"ch.at", "llm.pieter.com"}, m["allowedServers"])

	rule, ok := m["whitespace"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, `\s+`, rule["pattern"])
}

func writeConfig(t *testing.T, path, server string) {
	t.Helper()
	content := "resolver:\n  server: " + server + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestWatcherReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	writeConfig(t, path, "ch.at")

	w, err := NewWatcher(path)
	require.NoError(t, err)
	assert.Equal(t, "ch.at", w.Config().Resolver.Server)

	reloaded := make(chan *Config, 1)
	w.OnChange(func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	// Give the watcher a moment to arm before rewriting the file.
	time.Sleep(50 * time.Millisecond)
	writeConfig(t, path, "llm.pieter.com")

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "llm.pieter.com", cfg.Resolver.Server)
		assert.Equal(t, "llm.pieter.com", w.Config().Resolver.Server)
	case <-time.After(3 * time.Second):
		t.Fatal("config reload did not fire")
	}
}

func TestWatcherKeepsConfigOnBrokenEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	writeConfig(t, path, "ch.at")

	w, err := NewWatcher(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("resolver: [broken"), 0o644))
	time.Sleep(300 * time.Millisecond)

	assert.Equal(t, "ch.at", w.Config().Resolver.Server)
}
