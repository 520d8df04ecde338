package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, "default_user", cfg.DefaultUserID)
	assert.True(t, cfg.Insights.Enabled)
	assert.Equal(t, "gemini-2.5-flash", cfg.Insights.Model)
	assert.Equal(t, 30*time.Second, cfg.Insights.Timeout)
	assert.Equal(t, time.Hour, cfg.Insights.Freshness)
	assert.Equal(t, 50, cfg.Insights.MaxTransactionLines)
	assert.Equal(t, 1.0, cfg.Insights.RequestsPerSecond)
	assert.Equal(t, 100, cfg.Queue.BufferSize)
	assert.Equal(t, 5, cfg.Queue.Workers)
	assert.Equal(t, 3, cfg.Queue.MaxRetries)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "counters.yaml")
	yaml := `
project_id: demo-project
store: firestore
insights:
  timeout: 45s
  requests_per_second: 0.5
queue:
  workers: 2
export:
  gcs_bucket: reports
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("COUNTERS_QUEUE_WORKERS", "8")
	t.Setenv("COUNTERS_LOGGING_FORMAT", "json")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "demo-project", cfg.ProjectID)
	assert.Equal(t, StoreFirestore, cfg.Store)
	assert.Equal(t, 45*time.Second, cfg.Insights.Timeout)
	assert.Equal(t, 0.5, cfg.Insights.RequestsPerSecond)
	assert.Equal(t, 8, cfg.Queue.Workers, "environment overrides the file")
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "reports", cfg.Export.GCSBucket)

	oc := cfg.OrchestratorConfig()
	assert.Equal(t, 45*time.Second, oc.Timeout)
	assert.Equal(t, time.Hour, oc.Freshness)

	qo := cfg.QueueOptions()
	assert.Equal(t, 8, qo.Workers)
	assert.Equal(t, 3, qo.MaxRetries)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Store:         StoreMemory,
			DefaultUserID: "default_user",
			Insights:      InsightsConfig{Timeout: time.Second},
			Queue:         QueueConfig{Workers: 1},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid memory", mutate: func(c *Config) {}},
		{name: "firestore needs project", mutate: func(c *Config) { c.Store = StoreFirestore }, wantErr: true},
		{name: "firestore with project", mutate: func(c *Config) { c.Store = StoreFirestore; c.ProjectID = "p" }},
		{name: "unknown store", mutate: func(c *Config) { c.Store = "redis" }, wantErr: true},
		{name: "empty default user", mutate: func(c *Config) { c.DefaultUserID = "" }, wantErr: true},
		{name: "zero workers", mutate: func(c *Config) { c.Queue.Workers = 0 }, wantErr: true},
		{name: "negative buffer", mutate: func(c *Config) { c.Queue.BufferSize = -1 }, wantErr: true},
		{name: "zero timeout", mutate: func(c *Config) { c.Insights.Timeout = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
