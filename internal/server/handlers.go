package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"topicflow/internal/core"
	"topicflow/internal/logger"
	"topicflow/internal/persistence"
	"topicflow/internal/trends"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 200
	maxSearchLimit  = 500
)

// HealthResponse is the /health body
type HealthResponse struct {
	Status       string            `json:"status"`
	Checks       map[string]string `json:"checks"`
	StateVersion int64             `json:"state_version"`
}

// RunResponse is a run with its document failures
type RunResponse struct {
	core.Run
	Failures []core.DocumentFailure `json:"failures"`
}

// TopicResponse is the public view of a topic, without its centroid
type TopicResponse struct {
	ID        int               `json:"id"`
	Label     string            `json:"label"`
	Size      int               `json:"size"`
	Terms     []core.TermWeight `json:"terms"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// TopicsResponse lists topics plus the outlier count
type TopicsResponse struct {
	Topics   []TopicResponse `json:"topics"`
	Outliers int             `json:"outliers"`
}

// TrendsResponse is the monthly series of one topic
type TrendsResponse struct {
	TopicID int            `json:"topic_id"`
	Points  []trends.Point `json:"points"`
}

// DocumentsResponse is the result of a document search
type DocumentsResponse struct {
	Documents []core.Document `json:"documents"`
	Count     int             `json:"count"`
}

// AssignmentResponse is the topic a document belongs to
type AssignmentResponse struct {
	TopicID     int     `json:"topic_id"`
	Label       string  `json:"label,omitempty"`
	Probability float64 `json:"probability"`
	Outlier     bool    `json:"outlier"`
}

// DocumentResponse is a document with its assignment, null when unassigned
type DocumentResponse struct {
	core.Document
	Assignment *AssignmentResponse `json:"assignment"`
}

// ErrorResponse is the body of every error
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleHealth handles the /health endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	if err := s.db.Ping(r.Context()); err != nil {
		checks["database"] = "error"
		s.respondJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Checks: checks})
		return
	}
	checks["database"] = "ok"

	resp := HealthResponse{Status: "ok", Checks: checks}
	snap, err := s.db.States().Load(r.Context())
	switch {
	case err == nil:
		checks["state"] = "ok"
		resp.StateVersion = snap.Version
	case errors.Is(err, core.ErrNoState):
		checks["state"] = "empty"
	default:
		checks["state"] = "error"
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRunLimit)
	}

	runs, err := s.db.Runs().List(r.Context(), limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if runs == nil {
		runs = []core.Run{}
	}
	s.respondJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.db.Runs().Get(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	failures, err := s.db.Runs().Failures(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if failures == nil {
		failures = []core.DocumentFailure{}
	}
	s.respondJSON(w, http.StatusOK, RunResponse{Run: *run, Failures: failures})
}

func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := s.db.Topics().List(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	counts, err := s.db.Assignments().CountByTopic(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}

	resp := TopicsResponse{Topics: make([]TopicResponse, 0, len(topics)), Outliers: counts[core.OutlierTopicID]}
	for _, t := range topics {
		resp.Topics = append(resp.Topics, topicResponse(t))
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetTopic(w http.ResponseWriter, r *http.Request) {
	id, ok := s.topicID(w, r)
	if !ok {
		return
	}
	topic, err := s.db.Topics().Get(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, topicResponse(*topic))
}

func (s *Server) handleTopicTrends(w http.ResponseWriter, r *http.Request) {
	id, ok := s.topicID(w, r)
	if !ok {
		return
	}
	if _, err := s.db.Topics().Get(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}
	rows, err := s.db.Trends().ListByTopic(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	points := trends.Series(rows)
	if points == nil {
		points = []trends.Point{}
	}
	s.respondJSON(w, http.StatusOK, TrendsResponse{TopicID: id, Points: points})
}

func (s *Server) handleSearchDocuments(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var filter persistence.DocumentFilter
	var err error

	if filter.YearFrom, err = queryInt(query.Get("year_from")); err != nil {
		s.respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "year_from must be a non-negative integer"})
		return
	}
	if filter.YearTo, err = queryInt(query.Get("year_to")); err != nil {
		s.respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "year_to must be a non-negative integer"})
		return
	}
	if filter.YearFrom > 0 && filter.YearTo > 0 && filter.YearFrom > filter.YearTo {
		s.respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "year_from is after year_to"})
		return
	}
	if filter.Limit, err = queryInt(query.Get("limit")); err != nil {
		s.respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "limit must be a non-negative integer"})
		return
	}
	filter.Limit = min(filter.Limit, maxSearchLimit)

	// topic_id may repeat or hold a comma separated list
	for _, raw := range query["topic_id"] {
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil || id < 0 {
				s.respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid topic id"})
				return
			}
			filter.TopicIDs = append(filter.TopicIDs, id)
		}
	}

	docs, err := s.db.Documents().Search(r.Context(), filter)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if docs == nil {
		docs = []core.Document{}
	}
	s.respondJSON(w, http.StatusOK, DocumentsResponse{Documents: docs, Count: len(docs)})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid document id"})
		return
	}

	doc, err := s.db.Documents().Get(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	resp := DocumentResponse{Document: *doc}

	a, err := s.db.Assignments().Get(r.Context(), id)
	switch {
	case errors.Is(err, core.ErrNotFound):
		// not assigned yet
	case err != nil:
		s.respondError(w, err)
		return
	default:
		resp.Assignment = &AssignmentResponse{TopicID: core.OutlierTopicID, Outlier: true}
		if topicID, ok := a.Topic(); ok {
			resp.Assignment = &AssignmentResponse{TopicID: topicID, Probability: a.Probability()}
			topic, err := s.db.Topics().Get(r.Context(), topicID)
			if err != nil && !errors.Is(err, core.ErrNotFound) {
				s.respondError(w, err)
				return
			}
			if topic != nil {
				resp.Assignment.Label = topic.Label
			}
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// queryInt parses an optional non-negative query parameter, 0 when absent
func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.New("negative value")
	}
	return n, nil
}

func (s *Server) topicID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 0 {
		s.respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid topic id"})
		return 0, false
	}
	return id, true
}

func topicResponse(t core.Topic) TopicResponse {
	terms := t.Terms
	if terms == nil {
		terms = []core.TermWeight{}
	}
	return TopicResponse{
		ID:        t.ID,
		Label:     t.Label,
		Size:      t.Size,
		Terms:     terms,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode JSON response", err)
	}
}

// respondError maps store errors to status codes
func (s *Server) respondError(w http.ResponseWriter, err error) {
	if errors.Is(err, core.ErrNotFound) {
		s.respondJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
		return
	}
	logger.Error("Request failed", err)
	s.respondJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}
