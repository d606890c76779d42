package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("APP_POSTGRES_DSN", "postgres://localhost/concreterp")
	t.Setenv("APP_AUTH_ENABLED", "false")
	t.Setenv("APP_WORKER_POLL_INTERVAL", "2s")

	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/concreterp", c.Postgres.DSN)
	assert.False(t, c.Auth.Enabled)
	assert.Equal(t, 2*time.Second, c.Worker.PollInterval)
	assert.Equal(t, 50, c.Worker.BatchSize)
	assert.Equal(t, int32(20), c.Postgres.MaxConns)
	assert.Equal(t, 24*time.Hour, c.Idempotency.TTL)
	assert.True(t, c.IsDevelopment())
	assert.False(t, c.RedisEnabled())
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  env: production
postgres:
  dsn: postgres://db/concreterp
auth:
  jwt_secret: s3cret
redis:
  addr: localhost:6379
fifo:
  lock_ttl: 10s
`), 0o600))

	c, err := Load(path)
	require.NoError(t, err)

	assert.False(t, c.IsDevelopment())
	assert.True(t, c.RedisEnabled())
	assert.Equal(t, 10*time.Second, c.FIFO.LockTTL)
	assert.Equal(t, "s3cret", c.Auth.JWTSecret)
}

func TestLoad_RequiresSecretWhenAuthEnabled(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("APP_POSTGRES_DSN", "postgres://localhost/concreterp")

	_, err := Load("")
	assert.ErrorContains(t, err, "jwt_secret")
}
