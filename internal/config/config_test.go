package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waitlist_backend/internal/models"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV_CHEK", "1")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "app")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_NAME", "waitlist")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "memory", cfg.LockBackend)
	assert.Equal(t, 30*time.Second, cfg.LockTTL)
	assert.Equal(t, "*/30 * * * * *", cfg.SweepSpec)
	assert.Equal(t, "host=db port=5432 user=app password=secret dbname=waitlist sslmode=disable", cfg.DB.DSN())
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("ENV_CHEK", "1")

	t.Setenv("LOCK_BACKEND", "etcd")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("LOCK_BACKEND", "redis")
	t.Setenv("LOCK_TTL", "soon")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("LOCK_TTL", "5s")
	t.Setenv("REDIS_DB", "x")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoadFromEnvFile(t *testing.T) {
	t.Setenv("ENV_CHEK", "")
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("HTTP_ADDR=:9090\nLOCK_BACKEND=redis\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("HTTP_ADDR")
		os.Unsetenv("LOCK_BACKEND")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "redis", cfg.LockBackend)

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func writePolicy(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadPolicy(t *testing.T) {
	p, err := LoadPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy(), p)

	path := writePolicy(t, t.TempDir(), `
default_confirmation_minutes: 15
default_processing_time: 20m
reminder_before: 2m
chain_on_confirm: true
tier_multipliers:
  EXTERNAL: 2.0
  ADMIN: 0.1
`)
	p, err = LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, 15, p.DefaultConfirmationMinutes)
	assert.Equal(t, 20*time.Minute, p.DefaultProcessingTime)
	assert.Equal(t, 2*time.Minute, p.ReminderBefore)
	assert.True(t, p.ChainOnConfirm)
	assert.Equal(t, 2.0, p.Multiplier(models.PriorityExternal))
	assert.Equal(t, 1.0, p.Multiplier(models.PriorityStudent), "Уровень без коэффициента не масштабируется")
	assert.Equal(t, 10, p.LongQueuePosition, "Незаданные поля берутся по умолчанию")
}

func TestLoadPolicyInvalid(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadPolicy(writePolicy(t, dir, "default_confirmation_minutes: 0\n"))
	assert.Error(t, err)

	_, err = LoadPolicy(writePolicy(t, dir, "tier_multipliers:\n  VIP: 0.1\n"))
	assert.Error(t, err)

	_, err = LoadPolicy(writePolicy(t, dir, "low_confidence_samples: 20\nhigh_confidence_samples: 3\n"))
	assert.Error(t, err)

	_, err = LoadPolicy(filepath.Join(dir, "none.yaml"))
	assert.Error(t, err)
}

func TestWatchPolicyReloads(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, "default_confirmation_minutes: 10\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var minutes atomic.Int64
	require.NoError(t, WatchPolicy(ctx, path, func(p Policy) {
		minutes.Store(int64(p.DefaultConfirmationMinutes))
	}))

	// невалидный файл пропускается
	writePolicy(t, dir, "default_confirmation_minutes: -1\n")
	writePolicy(t, dir, "default_confirmation_minutes: 25\n")

	require.Eventually(t, func() bool { return minutes.Load() == 25 }, 5*time.Second, 20*time.Millisecond)
}

func TestWatchPolicyWithoutFile(t *testing.T) {
	assert.NoError(t, WatchPolicy(context.Background(), "", func(Policy) {
		t.Fatal("не должна вызываться")
	}))
}
