package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pressreel-worker/internal/config"
)

func TestNew_Defaults(t *testing.T) {
	cfg, err := config.New()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.JobStore)
	assert.Equal(t, "minio", cfg.Storage.Backend)
	assert.Equal(t, 4, cfg.Worker.Workers)
	assert.Equal(t, 3, cfg.Worker.MaxAttempts)
	assert.Equal(t, 2*time.Minute, cfg.Worker.StageTimeout)
	assert.Equal(t, "jobs:processing:map", cfg.ProcessingMapKey())
	assert.Equal(t, []string{"*"}, cfg.Service.CorsOrigins)
}

func TestNew_FromEnv(t *testing.T) {
	t.Setenv("WORKERS", "8")
	t.Setenv("RETRY_BASE_DELAY", "2s")
	t.Setenv("REDIS_PROCESSING_MAP_KEY", "custom:map")
	t.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")

	cfg, err := config.New()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Worker.Workers)
	assert.Equal(t, 2*time.Second, cfg.Worker.RetryBaseDelay)
	assert.Equal(t, "custom:map", cfg.ProcessingMapKey())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Service.CorsOrigins)
}

func TestNew_Rejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown store", map[string]string{"JOB_STORE": "mongo"}},
		{"supabase store without url", map[string]string{"JOB_STORE": "supabase"}},
		{"supabase storage without key", map[string]string{"STORAGE_BACKEND": "supabase", "SUPABASE_URL": "https://x.supabase.co"}},
		{"unknown assembler", map[string]string{"ASSEMBLER": "remote"}},
		{"no workers", map[string]string{"WORKERS": "0"}},
		{"heartbeat too slow", map[string]string{"HEARTBEAT_INTERVAL": "5m"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.New()
			assert.Error(t, err)
		})
	}
}

func TestRedactDSN(t *testing.T) {
	assert.Equal(t,
		"postgres://app:****@db:5432/pressreel?sslmode=disable",
		config.RedactDSN("postgres://app:s3cret@db:5432/pressreel?sslmode=disable"))
	assert.Equal(t, "postgres://db:5432/pressreel", config.RedactDSN("postgres://db:5432/pressreel"))
}
