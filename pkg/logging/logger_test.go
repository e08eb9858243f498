package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dnschat/pkg/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.LoggingConfig
		wantErr bool
	}{
		{name: "text stdout", cfg: &config.LoggingConfig{Level: "info", Format: "text", Output: "stdout"}},
		{name: "json stderr", cfg: &config.LoggingConfig{Level: "debug", Format: "json", Output: "stderr"}},
		{name: "unknown level falls back to info", cfg: &config.LoggingConfig{Level: "chatty", Format: "text", Output: "stdout"}},
		{name: "file output without path", cfg: &config.LoggingConfig{Level: "info", Format: "text", Output: "file"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
		})
	}
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	logger, err := New(&config.LoggingConfig{
		Level:    "info",
		Format:   "json",
		Output:   "file",
		FilePath: path,
	})
	require.NoError(t, err)

	logger.Info("query completed", "query", "hello-world.ch.at")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "hello-world.ch.at"))
}

func TestWith(t *testing.T) {
	base := NewDiscard()
	child := base.With("component", "resolver")
	require.NotNil(t, child)
	assert.NotSame(t, base, child)
}

func TestSetGlobal(t *testing.T) {
	prev := Global()
	defer SetGlobal(prev)

	logger := NewDiscard()
	SetGlobal(logger)
	assert.Same(t, logger, Global())
}
