// ABOUTME: Tests for configuration loading
// ABOUTME: Covers YAML and TOML parsing, env expansion, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "chat.yaml", `
database:
  path: /tmp/chat.db
chat:
  auto_public_threshold: 5
  auto_public_enabled: false
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/chat.db", cfg.Database.Path)
	assert.Equal(t, 5, cfg.Chat.AutoPublicThreshold)
	assert.False(t, cfg.Chat.AutoPublicEnabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "chat.toml", `
[database]
path = "/tmp/chat.db"

[chat]
auto_public_threshold = 4
auto_public_enabled = true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/chat.db", cfg.Database.Path)
	assert.Equal(t, 4, cfg.Chat.AutoPublicThreshold)
	assert.True(t, cfg.Chat.AutoPublicEnabled)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "chat.yaml", `
database:
  path: chat.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Chat.AutoPublicThreshold)
	assert.True(t, cfg.Chat.AutoPublicEnabled)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("CHAT_TEST_DB", "/data/expanded.db")

	path := writeConfig(t, "chat.yaml", `
database:
  path: ${CHAT_TEST_DB}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/expanded.db", cfg.Database.Path)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing database path", "database:\n  path: \"\"\n"},
		{"threshold below two", "database:\n  path: x.db\nchat:\n  auto_public_threshold: 1\n"},
		{"bad log level", "database:\n  path: x.db\nlogging:\n  level: loud\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "chat.yaml", tt.content)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
