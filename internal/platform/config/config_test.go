package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Empty(t, cfg.Database.URL)
	assert.True(t, cfg.UsesDevSigningKey())
	assert.Equal(t, 3, cfg.Alerts.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Push.Timeout)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "safezone.yaml")
	contents := `
server:
  addr: ":9090"
log:
  level: debug
  format: text
push:
  timeout: 2s
history:
  default_limit: 20
  max_limit: 40
kafka:
  brokers: ["localhost:9092"]
  delivery_timeout: 4s
directory:
  - id: 7f8e2b64-1c0a-4a53-9a7e-4f1a8d9c2b11
    first_name: Pat
    caregivers:
      - id: 0c1d2e3f-4a5b-4c6d-8e7f-9a0b1c2d3e4f
        push_token: ExponentPushToken[abc]
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 2*time.Second, cfg.Push.Timeout)
	assert.Equal(t, 20, cfg.History.DefaultLimit)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 4*time.Second, cfg.Kafka.DeliveryTimeout)
	require.Len(t, cfg.Directory, 1)
	assert.Equal(t, "Pat", cfg.Directory[0].FirstName)
	require.Len(t, cfg.Directory[0].Caregivers, 1)
	assert.Equal(t, "ExponentPushToken[abc]", cfg.Directory[0].Caregivers[0].PushToken)
	// untouched sections keep their defaults
	assert.Equal(t, DefaultAlertTopic, cfg.Kafka.AlertTopic)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"SAFEZONE_ADDR":      ":7000",
		"DATABASE_URL":       "postgres://localhost/safezone",
		"KAFKA_BROKERS":      "a:9092, b:9092,",
		"ALERT_MAX_ATTEMPTS": "5",
		"PUSH_TIMEOUT":       "750ms",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, applyEnv(cfg, lookup))
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "postgres://localhost/safezone", cfg.Database.URL)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5, cfg.Alerts.MaxAttempts)
	assert.Equal(t, 750*time.Millisecond, cfg.Push.Timeout)

	env["ALERT_MAX_ATTEMPTS"] = "three"
	require.Error(t, applyEnv(Default(), lookup))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing addr", func(c *Config) { c.Server.Addr = "" }},
		{"missing signing key", func(c *Config) { c.Auth.JWTSigningKey = "" }},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"zero push timeout", func(c *Config) { c.Push.Timeout = 0 }},
		{"zero attempts", func(c *Config) { c.Alerts.MaxAttempts = 0 }},
		{"default above max", func(c *Config) { c.History.DefaultLimit = 600 }},
		{"brokers without topic", func(c *Config) {
			c.Kafka.Brokers = []string{"localhost:9092"}
			c.Kafka.AlertTopic = ""
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
