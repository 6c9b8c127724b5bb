package handlers

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"topicflow/internal/batch"
	"topicflow/internal/config"
	"topicflow/internal/core"
	"topicflow/internal/embedding"
	"topicflow/internal/persistence"
	"topicflow/internal/pipeline"
)

type cliEnv struct {
	configPath string
	dbPath     string
	batchPath  string
	statePath  string
}

func setupCLI(t *testing.T) cliEnv {
	t.Helper()
	dir := t.TempDir()
	env := cliEnv{
		configPath: filepath.Join(dir, "topicflow.yaml"),
		dbPath:     filepath.Join(dir, "cli.db"),
		batchPath:  filepath.Join(dir, "batch.parquet"),
		statePath:  filepath.Join(dir, "state", "topic_model.json"),
	}

	body := "embedding_model: hashing-v1\n" +
		"embedding_dims: 64\n" +
		"database:\n  url: " + env.dbPath + "\n" +
		"state:\n  snapshot_path: " + env.statePath + "\n" +
		"logging:\n  level: error\n"
	require.NoError(t, os.WriteFile(env.configPath, []byte(body), 0o644))

	require.NoError(t, batch.Write(env.batchPath, []core.Document{
		{ExternalID: "w1", Title: "Graph neural networks", Abstract: "Message passing on graphs.", Year: 2021, Month: 3},
		{ExternalID: "w2", Title: "Protein folding", Abstract: "Structure prediction with attention.", Year: 2021, Month: 4},
		{ExternalID: "w3", Title: "", Abstract: "   "},
	}))

	config.Reset()
	t.Cleanup(config.Reset)
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("DATABASE_URL", "")
	return env
}

func execute(t *testing.T, env cliEnv, args ...string) error {
	t.Helper()
	config.Reset()
	cmd := NewRootCmd()
	cmd.SetArgs(append([]string{"--config", env.configPath}, args...))
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	return cmd.ExecuteContext(context.Background())
}

func openDB(t *testing.T, env cliEnv) *persistence.DB {
	t.Helper()
	db, err := persistence.Open(context.Background(), string(persistence.DialectSQLite), env.dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInitAndUpdateCommands(t *testing.T) {
	env := setupCLI(t)

	require.NoError(t, execute(t, env, "migrate", "up"))
	require.NoError(t, execute(t, env, "migrate", "status"))
	require.NoError(t, execute(t, env, "init", "--batch", env.batchPath))

	db := openDB(t, env)
	ctx := context.Background()

	runs, err := db.Runs().List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, core.RunSuccess, runs[0].Status)
	assert.Equal(t, 2, runs[0].Counts.Added)
	assert.Equal(t, 1, runs[0].Counts.Failed)

	snap, err := db.States().Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, embedding.HashingModel, snap.EmbeddingModel)
	assert.FileExists(t, env.statePath)

	// Same batch again: everything stored is skipped
	require.NoError(t, execute(t, env, "update", "--batch", env.batchPath))
	runs, err = db.Runs().List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 2, runs[0].Counts.Skipped)

	err = execute(t, env, "init", "--batch", env.batchPath)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrStateExists)

	require.NoError(t, execute(t, env, "runs", "--limit", "5"))
	require.NoError(t, execute(t, env, "runs", "--failures", runs[1].ID))
	require.NoError(t, execute(t, env, "topics"))
}

func TestUpdateWithoutStateFails(t *testing.T) {
	env := setupCLI(t)

	err := execute(t, env, "update", "--batch", env.batchPath)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrNoState)
}

func TestBatchFlagIsRequired(t *testing.T) {
	env := setupCLI(t)
	assert.Error(t, execute(t, env, "init"))
}

func TestRunsRejectsBadLimit(t *testing.T) {
	env := setupCLI(t)
	require.NoError(t, execute(t, env, "migrate", "up"))
	assert.Error(t, execute(t, env, "runs", "--limit", "0"))
}

func TestNewEmbeddingBackend(t *testing.T) {
	ctx := context.Background()

	b, err := newEmbeddingBackend(ctx, &config.Config{EmbeddingModel: embedding.HashingModel, EmbeddingDims: 32})
	require.NoError(t, err)
	assert.Equal(t, 32, b.Dimensions())

	_, err = newEmbeddingBackend(ctx, &config.Config{EmbeddingModel: "word2vec", EmbeddingDims: 32})
	assert.Error(t, err)

	_, err = newEmbeddingBackend(ctx, &config.Config{EmbeddingModel: "gemini-embedding-001", EmbeddingDims: 768})
	assert.Error(t, err, "gemini needs an API key")
}

func TestRenderReport(t *testing.T) {
	failures := make([]core.DocumentFailure, 12)
	for i := range failures {
		failures[i] = core.DocumentFailure{ExternalID: "w", Reason: core.ReasonEmptyContent}
	}
	report := &pipeline.Report{
		Run: core.Run{
			ID:        "run-1",
			Status:    core.RunSuccess,
			BatchSize: 20,
			Counts:    core.Counts{Added: 8, Failed: 12},
		},
		Created: []int{4},
		Topics: []core.Topic{
			{ID: 2, Size: 30, Terms: []core.TermWeight{{Term: "graph", Weight: 1}}},
			{ID: 4, Size: 8, Terms: []core.TermWeight{{Term: "protein", Weight: 1}}},
		},
		Failures: failures,
		Duration: 1500 * time.Millisecond,
	}

	out := renderReport(report)
	assert.Contains(t, out, "added 8")
	assert.Contains(t, out, "graph")
	assert.Contains(t, out, "new")
	assert.Contains(t, out, "updated")
	assert.Contains(t, out, "12 documents failed")
	assert.Contains(t, out, "2 more")
	assert.Equal(t, 10, strings.Count(out, core.ReasonEmptyContent))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
