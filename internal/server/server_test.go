package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"topicflow/internal/config"
	"topicflow/internal/core"
	"topicflow/internal/persistence"
	"topicflow/internal/topicmodel"
)

func setupTestServer(t *testing.T, origins ...string) (*Server, *persistence.DB) {
	t.Helper()
	ctx := context.Background()
	db, err := persistence.Open(ctx, string(persistence.DialectSQLite), filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, persistence.NewMigrationManager(db).Migrate(ctx))

	cfg := config.Server{
		Host:           "127.0.0.1",
		Port:           0,
		ReadTimeout:    time.Second,
		WriteTimeout:   time.Second,
		MaxConnections: 2,
		CORSOrigins:    origins,
	}
	return New(db, cfg), db
}

func seed(t *testing.T, db *persistence.DB) *core.Run {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	topic := core.Topic{
		ID:        0,
		Label:     "0_graph_neural",
		Terms:     []core.TermWeight{{Term: "graph", Weight: 0.9}, {Term: "neural", Weight: 0.5}},
		Size:      3,
		Centroid:  []float64{1, 0, 0},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, db.Topics().Upsert(ctx, topic))
	require.NoError(t, db.Trends().Replace(ctx, []int{0}, []core.Trend{
		{TopicID: 0, Year: 2021, Month: 3, Count: 1},
		{TopicID: 0, Year: 2021, Month: 1, Count: 2},
	}))

	snap := topicmodel.New("hashing-v1", 3)
	snap.Version = 1
	snap.NextTopicID = 1
	snap.Topics = []core.Topic{topic}
	snap.UpdatedAt = now
	require.NoError(t, db.States().Save(ctx, snap, -1))

	run := &core.Run{ID: "run-1", Mode: core.ModeInit, Status: core.RunRunning, EmbeddingModel: "hashing-v1", StartedAt: now}
	require.NoError(t, db.Runs().Create(ctx, run))
	require.NoError(t, db.Runs().AddFailures(ctx, run.ID, []core.DocumentFailure{{ExternalID: "w9", Reason: core.ReasonEmptyContent}}))
	run.Status = core.RunSuccess
	run.StateVersion = 1
	run.Counts = core.Counts{Added: 3, Failed: 1}
	finished := now.Add(time.Minute)
	run.FinishedAt = &finished
	require.NoError(t, db.Runs().Finish(ctx, run))
	return run
}

// seedDocuments stores four documents: w1 (2021) and w2 (2023) in topic 0,
// w3 (2022) as an outlier and w4 (2020) without an assignment.
func seedDocuments(t *testing.T, db *persistence.DB, run *core.Run) map[string]int64 {
	t.Helper()
	ctx := context.Background()
	docs := []struct {
		doc        core.Document
		assignment *core.Assignment
	}{
		{core.Document{ExternalID: "w1", Fingerprint: "fp1", Title: "Graph networks", Year: 2021, Month: 3}, ptr(core.Assigned(0, 0.9))},
		{core.Document{ExternalID: "w2", Fingerprint: "fp2", Title: "Graph transformers", Year: 2023, Month: 1}, ptr(core.Assigned(0, 0.8))},
		{core.Document{ExternalID: "w3", Fingerprint: "fp3", Title: "Protein folding", Year: 2022}, ptr(core.Outlier())},
		{core.Document{ExternalID: "w4", Fingerprint: "fp4", Title: "Sea ice", Year: 2020}, nil},
	}

	ids := make(map[string]int64, len(docs))
	for _, d := range docs {
		doc := d.doc
		require.NoError(t, db.Documents().Upsert(ctx, &doc))
		ids[doc.ExternalID] = doc.ID
		if d.assignment != nil {
			require.NoError(t, db.Assignments().Upsert(ctx, doc.ID, run.ID, *d.assignment))
		}
	}
	return ids
}

func ptr[T any](v T) *T { return &v }

func externalIDs(docs []core.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ExternalID
	}
	return out
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	s, db := setupTestServer(t)

	rec := get(t, s, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "empty", resp.Checks["state"])

	seed(t, db)
	resp = decode[HealthResponse](t, get(t, s, "/health"))
	assert.Equal(t, "ok", resp.Checks["state"])
	assert.Equal(t, int64(1), resp.StateVersion)
}

func TestHealthDatabaseDown(t *testing.T) {
	s, db := setupTestServer(t)
	require.NoError(t, db.Close())

	rec := get(t, s, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", decode[HealthResponse](t, rec).Status)
}

func TestListAndGetRuns(t *testing.T) {
	s, db := setupTestServer(t)
	run := seed(t, db)

	rec := get(t, s, "/api/runs/")
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]core.Run](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, core.RunSuccess, runs[0].Status)

	rec = get(t, s, "/api/runs/"+run.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[RunResponse](t, rec)
	assert.Equal(t, 3, detail.Counts.Added)
	assert.Equal(t, []core.DocumentFailure{{ExternalID: "w9", Reason: core.ReasonEmptyContent}}, detail.Failures)

	assert.Equal(t, http.StatusNotFound, get(t, s, "/api/runs/missing").Code)
}

func TestListRunsLimit(t *testing.T) {
	s, _ := setupTestServer(t)

	rec := get(t, s, "/api/runs/?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	for _, bad := range []string{"0", "-1", "ten"} {
		assert.Equal(t, http.StatusBadRequest, get(t, s, "/api/runs/?limit="+bad).Code, bad)
	}
}

func TestTopics(t *testing.T) {
	s, db := setupTestServer(t)
	seed(t, db)

	rec := get(t, s, "/api/topics/")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[TopicsResponse](t, rec)
	require.Len(t, list.Topics, 1)
	assert.Equal(t, "0_graph_neural", list.Topics[0].Label)
	assert.Equal(t, 0, list.Outliers)
	assert.NotContains(t, rec.Body.String(), "centroid")

	rec = get(t, s, "/api/topics/0")
	require.Equal(t, http.StatusOK, rec.Code)
	topic := decode[TopicResponse](t, rec)
	assert.Equal(t, 3, topic.Size)
	require.Len(t, topic.Terms, 2)
	assert.Equal(t, "graph", topic.Terms[0].Term)

	assert.Equal(t, http.StatusNotFound, get(t, s, "/api/topics/7").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, s, "/api/topics/abc").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, s, "/api/topics/-1").Code)
}

func TestTopicTrends(t *testing.T) {
	s, db := setupTestServer(t)
	seed(t, db)

	rec := get(t, s, "/api/topics/0/trends")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[TrendsResponse](t, rec)
	require.Len(t, resp.Points, 2)
	assert.Equal(t, 1, resp.Points[0].Month, "series is chronological")
	assert.Equal(t, 2, resp.Points[0].Count)
	assert.Equal(t, 3, resp.Points[1].Month)
	assert.Equal(t, -1, resp.Points[1].Change)

	assert.Equal(t, http.StatusNotFound, get(t, s, "/api/topics/4/trends").Code)
}

func TestSecurityHeaders(t *testing.T) {
	s, _ := setupTestServer(t)

	rec := get(t, s, "/health")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestCORS(t *testing.T) {
	s, _ := setupTestServer(t, "https://dashboard.example.org")

	req := httptest.NewRequest(http.MethodGet, "/api/topics/", nil)
	req.Header.Set("Origin", "https://dashboard.example.org")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, "https://dashboard.example.org", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/topics/", nil)
	req.Header.Set("Origin", "https://elsewhere.example.org")
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServeAndShutdown(t *testing.T) {
	s, _ := setupTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	require.NoError(t, <-done)
}

func TestSearchDocuments(t *testing.T) {
	s, db := setupTestServer(t)
	seedDocuments(t, db, seed(t, db))

	tests := []struct {
		name     string
		query    string
		expected []string
	}{
		{"all newest first", "", []string{"w2", "w3", "w1", "w4"}},
		{"year range", "?year_from=2021&year_to=2022", []string{"w3", "w1"}},
		{"topic", "?topic_id=0", []string{"w2", "w1"}},
		{"topic and year", "?topic_id=0&year_to=2021", []string{"w1"}},
		{"topic list", "?topic_id=0,7", []string{"w2", "w1"}},
		{"limit", "?limit=1", []string{"w2"}},
		{"no match", "?year_from=2030", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, s, "/api/documents/"+tt.query)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			resp := decode[DocumentsResponse](t, rec)
			assert.Equal(t, tt.expected, externalIDs(resp.Documents))
			assert.Equal(t, len(tt.expected), resp.Count)
		})
	}
}

func TestSearchDocumentsRejectsBadFilters(t *testing.T) {
	s, _ := setupTestServer(t)

	for _, query := range []string{
		"?year_from=abc",
		"?year_to=-1",
		"?year_from=2023&year_to=2021",
		"?topic_id=graph",
		"?topic_id=-1",
		"?limit=x",
	} {
		assert.Equal(t, http.StatusBadRequest, get(t, s, "/api/documents/"+query).Code, query)
	}
}

func TestGetDocument(t *testing.T) {
	s, db := setupTestServer(t)
	ids := seedDocuments(t, db, seed(t, db))

	rec := get(t, s, "/api/documents/"+strconv.FormatInt(ids["w1"], 10))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[DocumentResponse](t, rec)
	assert.Equal(t, "w1", resp.ExternalID)
	assert.Equal(t, "Graph networks", resp.Title)
	require.NotNil(t, resp.Assignment)
	assert.Equal(t, 0, resp.Assignment.TopicID)
	assert.Equal(t, "0_graph_neural", resp.Assignment.Label)
	assert.InDelta(t, 0.9, resp.Assignment.Probability, 1e-9)
	assert.False(t, resp.Assignment.Outlier)

	resp = decode[DocumentResponse](t, get(t, s, "/api/documents/"+strconv.FormatInt(ids["w3"], 10)))
	require.NotNil(t, resp.Assignment)
	assert.True(t, resp.Assignment.Outlier)
	assert.Equal(t, core.OutlierTopicID, resp.Assignment.TopicID)

	resp = decode[DocumentResponse](t, get(t, s, "/api/documents/"+strconv.FormatInt(ids["w4"], 10)))
	assert.Nil(t, resp.Assignment)

	assert.Equal(t, http.StatusNotFound, get(t, s, "/api/documents/99999").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, s, "/api/documents/abc").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, s, "/api/documents/0").Code)
}
