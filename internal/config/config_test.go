package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CONFIG_PATH", filepath.Join(dir, "config.yaml"))
	t.Setenv("ENV_FILE", filepath.Join(dir, ".env"))
	for _, key := range []string{"DISCORD_TOKEN", "LOG_LEVEL", "DATABASE_DRIVER", "DATABASE_DSN", "DATABASE_PATH", "HEALTH_ENABLED"} {
		t.Setenv(key, "")
	}
	return dir
}

func TestDefaultsAreValid(t *testing.T) {
	require.NoError(t, Validate(DefaultConfig()))
}

func TestLoadRequiresToken(t *testing.T) {
	isolate(t)
	_, err := Load()
	assert.True(t, errors.Is(err, ErrMissingToken))

	cfg, err := Read()
	require.NoError(t, err)
	assert.Equal(t, 300, cfg.Captcher.TimeoutSeconds)
	assert.True(t, cfg.Cooldown.DefaultIgnoreBot)
}

func TestLoadLayersYAMLAndEnv(t *testing.T) {
	dir := isolate(t)
	yamlBody := "discord_token: from-yaml\nlog:\n  level: DEBUG\nreputation:\n  page_size: 10\ncaptcher:\n  timeout_seconds: 120\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yamlBody), 0o600))
	t.Setenv("DATABASE_DSN", "file:test.db")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-yaml", cfg.DiscordToken)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 10, cfg.Reputation.PageSize)
	assert.Equal(t, 120, cfg.Captcher.TimeoutSeconds)
	assert.Equal(t, "file:test.db", cfg.Database.DSN)
	assert.Equal(t, 5, cfg.Captcher.ResultLingerSeconds)
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.Unsetenv("DISCORD_TOKEN"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DISCORD_TOKEN=from-dotenv\n"), 0o600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.DiscordToken)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.Driver = "oracle"
	cfg.Log.Level = "loud"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Driver")
	assert.Contains(t, err.Error(), "Level")

	cfg = DefaultConfig()
	cfg.Health.Enabled = true
	cfg.Health.Addr = ""
	require.Error(t, Validate(cfg))
}

func TestBuildLoggerWithFile(t *testing.T) {
	dir := t.TempDir()
	logger, err := BuildLogger(LogConfig{Level: "info", File: filepath.Join(dir, "bot.log"), MaxSizeMB: 1})
	require.NoError(t, err)
	logger.Info("hello")
	_ = logger.Sync()

	data, err := os.ReadFile(filepath.Join(dir, "bot.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"hello"`)
}
