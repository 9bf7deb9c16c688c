package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "0.0.0.0:461", cfg.ListenAddr())
	assert.Equal(t, []string{"csv"}, cfg.EnabledSinks)
	assert.Zero(t, cfg.ReadTimeout, "idle meters stay connected by default")
	assert.Equal(t, 4096, cfg.Session().ReadBufferSize)
	assert.Equal(t, 90*24*time.Hour, cfg.RedisTTL)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("LISTEN_PORT", "5461")
	t.Setenv("ENABLED_SINKS", " CSV , sqlite ,, redis")
	t.Setenv("READ_TIMEOUT", "15m")
	t.Setenv("SMTP_USE_TLS", "false")
	t.Setenv("SMTP_TO", "a@example.com,b@example.com")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 5461, cfg.ListenPort)
	assert.Equal(t, []string{"CSV", "sqlite", "redis"}, cfg.EnabledSinks)
	assert.Equal(t, 15*time.Minute, cfg.Session().ReadTimeout)
	assert.False(t, cfg.SMTPUseTLS)
	assert.Len(t, cfg.SMTPTo, 2)
}

func TestLoadConfig_InvalidEnv(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("LISTEN_PORT", "not-a-port")

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "LISTEN_PORT")
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meterhub.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_port = 7000
enabled_sinks = ["csv", "nats"]
read_timeout = "30s"
admin_port = 0

[nats]
subject = "plant.meters"

[redis]
ttl = "24h"
`), 0o644))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("LISTEN_PORT", "7001")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 7001, cfg.ListenPort, "env wins over file")
	assert.Equal(t, []string{"csv", "nats"}, cfg.EnabledSinks)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, "plant.meters", cfg.NATSSubject)
	assert.Equal(t, 24*time.Hour, cfg.RedisTTL)
	assert.Empty(t, cfg.AdminAddr())
}

func TestLoadConfig_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte(`read_timeout = "soon"`), 0o644))
	t.Setenv("CONFIG_FILE", path)

	_, err := LoadConfig()
	assert.Error(t, err)

	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))
	_, err = LoadConfig()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.ListenPort = 0 }, "LISTEN_PORT"},
		{"admin port clash", func(c *Config) { c.AdminPort = c.ListenPort }, "ADMIN_PORT"},
		{"buffer", func(c *Config) { c.MaxBufferSize = 10 }, "MAX_BUFFER_SIZE"},
		{"log level", func(c *Config) { c.LogLevel = "trace" }, "LOG_LEVEL"},
		{"short secret", func(c *Config) { c.AdminJWTSecret = "short" }, "ADMIN_JWT_SECRET"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "warn"
	logger := cfg.NewLogger()
	assert.False(t, logger.Enabled(t.Context(), slog.LevelInfo))
	assert.True(t, logger.Enabled(t.Context(), slog.LevelError))
}
