package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"topicflow/internal/core"
	"topicflow/internal/topicmodel"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, string(DialectSQLite), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, NewMigrationManager(db).Migrate(ctx))
	return db
}

func createRun(t *testing.T, repos Repositories) *core.Run {
	t.Helper()
	run := &core.Run{
		ID:             uuid.NewString(),
		Mode:           core.ModeInit,
		Status:         core.RunRunning,
		EmbeddingModel: "hashing-v1",
		Seed:           42,
	}
	require.NoError(t, repos.Runs().Create(context.Background(), run))
	return run
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	m := NewMigrationManager(db)
	require.NoError(t, m.Migrate(ctx))

	status, err := m.Status(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, status)
	for _, s := range status {
		assert.True(t, s.Applied, "migration %d", s.Version)
	}
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "file:data.db?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on&_txlock=immediate", sqliteDSN("data.db"))
	assert.Equal(t, "file:x.db?mode=memory", sqliteDSN("file:x.db?mode=memory"))
}

func TestDocumentUpsertAndLookup(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	doc := &core.Document{ExternalID: "w1", Fingerprint: "fp1", Title: "Graphs", Abstract: "Graph networks", Year: 2021, Month: 3}
	require.NoError(t, db.Documents().Upsert(ctx, doc))
	require.NotZero(t, doc.ID)
	firstID := doc.ID

	doc.Fingerprint = "fp2"
	require.NoError(t, db.Documents().Upsert(ctx, doc))
	assert.Equal(t, firstID, doc.ID, "upsert keeps the row id")

	byID, err := db.Documents().FindByExternalIDs(ctx, []string{"w1", "missing"})
	require.NoError(t, err)
	require.Len(t, byID, 1)
	assert.Equal(t, "fp2", byID["w1"].Fingerprint)
	assert.Equal(t, core.OutlierTopicID, byID["w1"].TopicID, "unassigned documents read as outliers")

	byFP, err := db.Documents().FindByFingerprints(ctx, []string{"fp1", "fp2"})
	require.NoError(t, err)
	assert.Len(t, byFP, 1)
	assert.Equal(t, "w1", byFP["fp2"].ExternalID)

	n, err := db.Documents().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDocumentFingerprintIsUnique(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Documents().Upsert(ctx, &core.Document{ExternalID: "w1", Fingerprint: "same", Title: "Graphs"}))
	err := db.Documents().Upsert(ctx, &core.Document{ExternalID: "w2", Fingerprint: "same", Title: "Graphs"})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrPersistence)
	assert.ErrorIs(t, err, core.ErrStateConflict)

	n, err := db.Documents().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTopicRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	topic := core.Topic{
		ID:        3,
		Label:     "3_graph_neural",
		Size:      7,
		Centroid:  []float64{0.5, 0.25, -1},
		Terms:     []core.TermWeight{{Term: "graph", Weight: 0.9}, {Term: "neural", Weight: 0.4}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, db.Topics().Upsert(ctx, topic))

	topic.Size = 9
	topic.Terms = []core.TermWeight{{Term: "neural", Weight: 1}}
	require.NoError(t, db.Topics().Upsert(ctx, topic))

	got, err := db.Topics().Get(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 9, got.Size)
	assert.Equal(t, []core.TermWeight{{Term: "neural", Weight: 1}}, got.Terms)
	assert.InDeltaSlice(t, topic.Centroid, got.Centroid, 1e-6)
	assert.True(t, got.CreatedAt.Equal(now))

	_, err = db.Topics().Get(ctx, 99)
	assert.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, db.Topics().DeleteAll(ctx))
	topics, err := db.Topics().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, topics)
}

func TestAssignmentsAndObservations(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	run := createRun(t, db)

	docs := []*core.Document{
		{ExternalID: "a", Fingerprint: "a", Year: 2020, Month: 1},
		{ExternalID: "b", Fingerprint: "b", Year: 2020, Month: 1},
		{ExternalID: "c", Fingerprint: "c", Year: 2021, Month: 0},
	}
	for _, d := range docs {
		require.NoError(t, db.Documents().Upsert(ctx, d))
	}
	require.NoError(t, db.Assignments().Upsert(ctx, docs[0].ID, run.ID, core.Assigned(0, 0.9)))
	require.NoError(t, db.Assignments().Upsert(ctx, docs[1].ID, run.ID, core.Assigned(0, 0.8)))
	require.NoError(t, db.Assignments().Upsert(ctx, docs[2].ID, run.ID, core.Outlier()))

	// Reassignment replaces the single row
	require.NoError(t, db.Assignments().Upsert(ctx, docs[1].ID, run.ID, core.Assigned(1, 0.7)))

	a, err := db.Assignments().Get(ctx, docs[1].ID)
	require.NoError(t, err)
	id, ok := a.Topic()
	require.True(t, ok)
	assert.Equal(t, 1, id)

	counts, err := db.Assignments().CountByTopic(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int]int{0: 1, 1: 1, core.OutlierTopicID: 1}, counts)

	obs, err := db.Assignments().Observations(ctx, []int{0, 1})
	require.NoError(t, err)
	assert.Len(t, obs, 2)

	found, err := db.Documents().FindByExternalIDs(ctx, []string{"b"})
	require.NoError(t, err)
	assert.Equal(t, 1, found["b"].TopicID)
}

func TestTrendReplace(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Trends().Replace(ctx, []int{0, 1}, []core.Trend{
		{TopicID: 0, Year: 2020, Month: 1, Count: 2},
		{TopicID: 1, Year: 2021, Month: 6, Count: 1},
	}))
	require.NoError(t, db.Trends().Replace(ctx, []int{0}, []core.Trend{
		{TopicID: 0, Year: 2020, Month: 2, Count: 5},
	}))

	rows, err := db.Trends().List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []core.Trend{
		{TopicID: 0, Year: 2020, Month: 2, Count: 5},
		{TopicID: 1, Year: 2021, Month: 6, Count: 1},
	}, rows)

	rows, err = db.Trends().ListByTopic(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestRunLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	run := createRun(t, db)

	running, err := db.Runs().Running(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.NotNil(t, running)
	assert.Equal(t, run.ID, running.ID)

	// A second running run violates the single running run index
	err = db.Runs().Create(ctx, &core.Run{ID: uuid.NewString(), Mode: core.ModeUpdate, Status: core.RunRunning})
	assert.ErrorIs(t, err, core.ErrStateConflict)

	require.NoError(t, db.Runs().AddFailures(ctx, run.ID, []core.DocumentFailure{
		{ExternalID: "x", Reason: core.ReasonEmptyContent},
		{ExternalID: "", Reason: core.ReasonMissingExternalID},
	}))

	run.Status = core.RunSuccess
	run.Counts = core.Counts{Added: 3, Failed: 2}
	run.StateVersion = 1
	require.NoError(t, db.Runs().Finish(ctx, run))

	run.Status = core.RunError
	assert.ErrorIs(t, db.Runs().Finish(ctx, run), core.ErrRunFinalized)

	got, err := db.Runs().Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, core.RunSuccess, got.Status)
	assert.Equal(t, core.Counts{Added: 3, Failed: 2}, got.Counts)
	assert.Equal(t, int64(1), got.StateVersion)
	require.NotNil(t, got.FinishedAt)

	failures, err := db.Runs().Failures(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, failures, 2)
	assert.Equal(t, core.ReasonEmptyContent, failures[0].Reason)

	runs, err := db.Runs().List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	_, err = db.Runs().Get(ctx, "nope")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestAbandonStaleRuns(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	stale := &core.Run{ID: uuid.NewString(), Mode: core.ModeUpdate, Status: core.RunRunning, StartedAt: time.Now().Add(-48 * time.Hour)}
	require.NoError(t, db.Runs().Create(ctx, stale))

	running, err := db.Runs().Running(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Nil(t, running, "runs older than the window do not count")

	n, err := db.Runs().Abandon(ctx, time.Now().Add(-time.Hour), "abandoned")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := db.Runs().Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, core.RunError, got.Status)
	assert.Equal(t, "abandoned", got.Error)
}

func TestStateVersioning(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.States().Load(ctx)
	assert.ErrorIs(t, err, core.ErrNoState)

	snap := topicmodel.New("hashing-v1", 8)
	snap.Version = 1
	snap.NextTopicID = 2
	snap.UpdatedAt = time.Now().UTC()
	require.NoError(t, db.States().Save(ctx, snap, -1))

	err = db.States().Save(ctx, snap, -1)
	assert.ErrorIs(t, err, core.ErrStateConflict)

	next := snap.Clone()
	next.Version = 2
	require.NoError(t, db.States().Save(ctx, next, 1))

	err = db.States().Save(ctx, next, 1)
	assert.ErrorIs(t, err, core.ErrStateConflict, "stale writers lose")

	loaded, err := db.States().Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), loaded.Version)
	assert.Equal(t, 2, loaded.NextTopicID)
	assert.Equal(t, "hashing-v1", loaded.EmbeddingModel)
}

func TestTransactionRollback(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	tx, err := db.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Documents().Upsert(ctx, &core.Document{ExternalID: "w1", Fingerprint: "fp"}))
	require.NoError(t, tx.Rollback())

	n, err := db.Documents().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	tx, err = db.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Documents().Upsert(ctx, &core.Document{ExternalID: "w1", Fingerprint: "fp"}))
	require.NoError(t, tx.Commit())

	n, err = db.Documents().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestChunk(t *testing.T) {
	assert.Nil(t, chunk([]int{}, 2))
	assert.Equal(t, [][]int{{1, 2}, {3}}, chunk([]int{1, 2, 3}, 2))
	assert.Equal(t, [][]int{{1, 2}}, chunk([]int{1, 2}, 2))
}

func TestPostgres(t *testing.T) {
	url := os.Getenv("TOPICFLOW_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TOPICFLOW_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := Open(ctx, string(DialectPostgres), url)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, NewMigrationManager(db).Migrate(ctx))

	tx, err := db.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	topic := core.Topic{ID: 1 << 20, Label: "pgvector round trip", Centroid: []float64{1, 0}, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, tx.Topics().Upsert(ctx, topic))
	got, err := tx.Topics().Get(ctx, topic.ID)
	require.NoError(t, err)
	assert.InDeltaSlice(t, topic.Centroid, got.Centroid, 1e-6)
}
