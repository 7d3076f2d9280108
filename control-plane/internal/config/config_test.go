package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Alerting.EscalationEnabled)
	assert.Equal(t, "auto", cfg.Secrets.Backend)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pulse.yaml")
	content := `
server:
  port: 9090
  read_timeout: 5s
database:
  url: postgres://db/pulse
redis:
  url: redis://cache:6379/1
ingest:
  secret: s3cret
alerting:
  escalation_enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	// Untouched defaults survive.
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "postgres://db/pulse", cfg.Database.URL)
	assert.Equal(t, "redis://cache:6379/1", cfg.Redis.URL)
	assert.Equal(t, "s3cret", cfg.Ingest.Secret)
	assert.False(t, cfg.Alerting.EscalationEnabled)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("PULSE_PORT", "7070")
	t.Setenv("PULSE_INGEST_SECRET", "from-env")
	t.Setenv("PULSE_ESCALATION_ENABLED", "false")
	t.Setenv("PULSE_REDIS_URL", "redis://env:6379/0")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Ingest.Secret)
	assert.False(t, cfg.Alerting.EscalationEnabled)
	assert.Equal(t, "redis://env:6379/0", cfg.Redis.URL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, true},
		{"missing database", func(c *Config) { c.Database.URL = "" }, true},
		{"negative rate", func(c *Config) { c.Ingest.RateLimit = -1 }, true},
		{"unknown backend", func(c *Config) { c.Secrets.Backend = "vault" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
