package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/ledgerly")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com, ,http://localhost:3000")
	t.Setenv("QUEUE_BACKEND", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, "redis", cfg.QueueBackend)
	require.Equal(t, 2*time.Minute, cfg.JobLease)
	require.Equal(t, []string{"https://app.example.com", "http://localhost:3000"}, cfg.CORSAllowedOrigins)
	require.False(t, cfg.ObjectStorage())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/ledgerly")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("QUEUE_BACKEND", "AMQP")
	t.Setenv("WORKER_COUNT", "8")
	t.Setenv("JOB_LEASE", "45s")
	t.Setenv("S3_USE_SSL", "true")
	t.Setenv("PROGRESS_STEP", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "amqp", cfg.QueueBackend)
	require.Equal(t, 8, cfg.WorkerCount)
	require.Equal(t, 45*time.Second, cfg.JobLease)
	require.True(t, cfg.S3UseSSL)
	require.Equal(t, 25, cfg.ProgressStep)
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.EqualError(t, err, "missing env: DATABASE_URL, JWT_SECRET")
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/ledgerly")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("QUEUE_BACKEND", "kafka")

	_, err := Load()
	require.Error(t, err)
}
