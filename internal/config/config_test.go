package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "topicflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func loadFresh(t *testing.T, body string) (*Config, error) {
	t.Helper()
	Reset()
	t.Cleanup(Reset)
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("DATABASE_URL", "")
	return Load(writeConfig(t, body))
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadFresh(t, "embedding_model: hashing-v1\n")
	require.NoError(t, err)

	assert.Equal(t, 768, cfg.EmbeddingDims)
	assert.Equal(t, 15, cfg.MinTopicSize)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, 60*time.Second, cfg.StoreTimeoutDuration())
	assert.Equal(t, 6*time.Hour, cfg.LockTTLDuration())
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Empty(t, cfg.Server.CORSOrigins)
	assert.Equal(t, 256, cfg.Server.MaxConnections)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "127.0.0.1:8080", cfg.ServerAddr())
}

func TestLoadInfersPostgres(t *testing.T) {
	cfg, err := loadFresh(t, `
embedding_model: hashing-v1
database:
  url: postgres://topicflow@localhost/topicflow?sslmode=disable
server:
  cors_origins:
    - https://dashboard.example.org
`)
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, []string{"https://dashboard.example.org"}, cfg.Server.CORSOrigins)
}

func TestGettersFollowLoadedConfig(t *testing.T) {
	cfg, err := loadFresh(t, `
embedding_model: hashing-v1
database:
  url: postgres://topicflow@localhost/topicflow?sslmode=disable
logging:
  level: debug
  format: console
server:
  port: 9090
`)
	require.NoError(t, err)

	assert.Equal(t, cfg.Database, GetDatabase())
	assert.Equal(t, DriverPostgres, GetDatabase().Driver)
	assert.Equal(t, "debug", GetLogging().Level)
	assert.Equal(t, "console", GetLogging().Format)
	assert.Equal(t, 9090, GetServer().Port)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "test-key")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("TOPICFLOW_MIN_TOPIC_SIZE", "4")

	cfg, err := Load(writeConfig(t, "seed: 9\n"))
	require.NoError(t, err)
	assert.Equal(t, "test-key", cfg.Gemini.APIKey)
	assert.Equal(t, 4, cfg.MinTopicSize)
	assert.Equal(t, int64(9), cfg.Seed)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"gemini without key", "embedding_model: gemini-embedding-001\n", "Gemini API key is required"},
		{"small topics", "embedding_model: hashing-v1\nmin_topic_size: 1\n", "min_topic_size must be at least 2"},
		{"decay range", "embedding_model: hashing-v1\ndecay: 1.5\n", "decay must be within [0, 1]"},
		{"reduction", "embedding_model: hashing-v1\nreduction: umap\n", "Unknown reduction: umap"},
		{"driver", "embedding_model: hashing-v1\ndatabase:\n  driver: mysql\n", "Unknown database driver: mysql"},
		{"duration", "embedding_model: hashing-v1\nlock_ttl: soon\n", "invalid duration for lock_ttl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadFresh(t, tt.body)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestPipelineConfig(t *testing.T) {
	cfg, err := loadFresh(t, `
embedding_model: hashing-v1
embedding_concurrency: 2
min_topic_size: 5
similarity_threshold: 0.7
topic_terms_top_n: 8
store_timeout: 10s
lock_ttl: 1h
state:
  snapshot_path: /tmp/topicflow/state.json
`)
	require.NoError(t, err)

	pc := cfg.Pipeline()
	assert.Equal(t, 2, pc.Embedding.Concurrency)
	assert.Equal(t, 3, pc.Embedding.MaxRetries)
	assert.Equal(t, 5, pc.Cluster.MinTopicSize)
	assert.Equal(t, 8, pc.Cluster.TopN)
	assert.Equal(t, 8, pc.Reconcile.TopN)
	assert.InDelta(t, 0.7, pc.Reconcile.SimilarityThreshold, 1e-9)
	assert.Equal(t, 10*time.Second, pc.StoreTimeout)
	assert.Equal(t, time.Hour, pc.LockTTL)
	assert.Equal(t, "/tmp/topicflow/state.json", pc.SnapshotPath)
}

func TestIsValidAPIKey(t *testing.T) {
	assert.False(t, isValidAPIKey(""))
	assert.False(t, isValidAPIKey("your-api-key"))
	assert.True(t, isValidAPIKey("AIza-real"))
}
