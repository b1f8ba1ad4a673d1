package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"tutorhub/backend/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.App.Addr)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "local", cfg.Broker.Driver)
	assert.Equal(t, 60*time.Second, cfg.Hub.IdleTimeout)
	assert.False(t, cfg.RedisEnabled())
	assert.True(t, cfg.Hub.MirrorPresence)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("TUTORHUB_DATABASE_DRIVER", "sqlite")
	t.Setenv("TUTORHUB_DATABASE_DSN", "file:dev.db")
	t.Setenv("TUTORHUB_REDIS_ADDR", "localhost:6379")
	t.Setenv("TUTORHUB_BROKER_DRIVER", "redis")
	t.Setenv("TUTORHUB_HUB_IDLE_TIMEOUT", "90s")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "file:dev.db", cfg.Database.DSN)
	assert.True(t, cfg.RedisEnabled())
	assert.Equal(t, "redis", cfg.Broker.Driver)
	assert.Equal(t, 90*time.Second, cfg.Hub.IdleTimeout)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
app:
  addr: ":9090"
broker:
  driver: nats
nats:
  url: nats://broker:4222
auth:
  secret: s3cret
  required: true
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.App.Addr)
	assert.Equal(t, "nats", cfg.Broker.Driver)
	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)
	assert.True(t, cfg.Auth.Required)
	assert.Equal(t, "tutorhub", cfg.Auth.Issuer)
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() config.Config {
		return config.Config{
			Database: config.DatabaseConfig{Driver: "sqlite", DSN: "file::memory:"},
			Broker:   config.BrokerConfig{Driver: "local"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*config.Config) {}},
		{name: "unknown database driver", mutate: func(c *config.Config) { c.Database.Driver = "mysql" }, wantErr: true},
		{name: "empty dsn", mutate: func(c *config.Config) { c.Database.DSN = "" }, wantErr: true},
		{name: "unknown broker", mutate: func(c *config.Config) { c.Broker.Driver = "kafka" }, wantErr: true},
		{name: "redis broker without redis", mutate: func(c *config.Config) { c.Broker.Driver = "redis" }, wantErr: true},
		{name: "nats broker", mutate: func(c *config.Config) { c.Broker.Driver = "nats"; c.NATS.URL = "nats://x:4222" }},
		{name: "auth required without secret", mutate: func(c *config.Config) { c.Auth.Required = true }, wantErr: true},
		{name: "negative idle timeout", mutate: func(c *config.Config) { c.Hub.IdleTimeout = -time.Second }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
