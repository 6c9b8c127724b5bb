package core

import (
	"fmt"
	"time"
)

// OutlierTopicID is the storage value of the outlier pseudo-topic.
// It is never written as a row in the topics table.
const OutlierTopicID = -1

// Document is a research paper as it arrives in a batch and as it is stored.
type Document struct {
	ID          int64  `json:"id"`          // Store identifier, zero until persisted
	ExternalID  string `json:"external_id"` // Identifier assigned by the upstream paper API
	Fingerprint string `json:"fingerprint"` // Hash of the normalized title and abstract
	DOI         string `json:"doi"`
	Title       string `json:"title"`
	Abstract    string `json:"abstract"`
	Authors     string `json:"authors"` // Comma separated author names
	Venue       string `json:"venue"`
	URL         string `json:"url"`
	Year        int    `json:"year"`
	Month       int    `json:"month"` // 1-12, 0 when unknown
	Language    string `json:"language"`
}

// PublicationMonth returns the month used for trend bucketing.
// Unknown or out of range months fall into January.
func (d Document) PublicationMonth() int {
	if d.Month < 1 || d.Month > 12 {
		return 1
	}
	return d.Month
}

// StoredDocument is the dedup view of a document already in the store.
type StoredDocument struct {
	ID          int64
	ExternalID  string
	Fingerprint string
	TopicID     int // OutlierTopicID when the document has no topic
}

// TermWeight is one representative term of a topic or batch cluster.
type TermWeight struct {
	Term   string  `json:"term"`
	Weight float64 `json:"weight"`
}

// Topic is a corpus-wide topic. The ID never changes meaning once assigned.
type Topic struct {
	ID        int          `json:"id"`
	Label     string       `json:"label"`
	Terms     []TermWeight `json:"terms"` // Ordered by weight, descending
	Size      int          `json:"size"`  // Number of documents currently assigned
	Centroid  []float64    `json:"centroid"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// TopTerms returns up to n term strings in rank order.
func (t Topic) TopTerms(n int) []string {
	if n > len(t.Terms) {
		n = len(t.Terms)
	}
	out := make([]string, 0, n)
	for _, tw := range t.Terms[:n] {
		out = append(out, tw.Term)
	}
	return out
}

// Assignment is the outcome of assigning one document: either a topic with a
// membership probability, or the outlier outcome. The zero value is an outlier.
type Assignment struct {
	topicID     int
	probability float64
	assigned    bool
}

// Assigned builds an assignment to an existing topic.
func Assigned(topicID int, probability float64) Assignment {
	return Assignment{topicID: topicID, probability: probability, assigned: true}
}

// Outlier builds the "belongs to no topic" assignment.
func Outlier() Assignment {
	return Assignment{}
}

// IsOutlier reports whether the document matched no topic.
func (a Assignment) IsOutlier() bool { return !a.assigned }

// Topic returns the topic id and true, or false for outliers.
func (a Assignment) Topic() (int, bool) { return a.topicID, a.assigned }

// Probability returns the membership probability, 0 for outliers.
func (a Assignment) Probability() float64 {
	if !a.assigned {
		return 0
	}
	return a.probability
}

// StorageValues converts the assignment to its column values.
func (a Assignment) StorageValues() (topicID int, probability float64) {
	if !a.assigned {
		return OutlierTopicID, 0
	}
	return a.topicID, a.probability
}

// AssignmentFromStorage is the inverse of StorageValues.
func AssignmentFromStorage(topicID int, probability float64) Assignment {
	if topicID == OutlierTopicID {
		return Outlier()
	}
	return Assigned(topicID, probability)
}

func (a Assignment) String() string {
	if !a.assigned {
		return "outlier"
	}
	return fmt.Sprintf("topic %d (p=%.3f)", a.topicID, a.probability)
}

// Trend is the document count of a topic in one publication month.
type Trend struct {
	TopicID int `json:"topic_id"`
	Year    int `json:"year"`
	Month   int `json:"month"`
	Count   int `json:"doc_count"`
}

// RunMode selects how a run treats existing topic model state.
type RunMode string

const (
	ModeInit   RunMode = "init"
	ModeUpdate RunMode = "update"
)

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	return s == RunSuccess || s == RunError
}

// Counts are the per-document outcomes of a run.
type Counts struct {
	Added   int `json:"added_count"`
	Updated int `json:"updated_count"`
	Skipped int `json:"skipped_count"`
	Failed  int `json:"failed_count"`
}

// Total is the number of documents accounted for.
func (c Counts) Total() int {
	return c.Added + c.Updated + c.Skipped + c.Failed
}

// Run is one pipeline invocation.
type Run struct {
	ID             string     `json:"run_id"`
	Mode           RunMode    `json:"mode"`
	Status         RunStatus  `json:"status"`
	BatchPath      string     `json:"batch_path"`
	BatchSize      int        `json:"batch_size"`
	Counts         Counts     `json:"counts"`
	EmbeddingModel string     `json:"embedding_model"`
	Seed           int64      `json:"seed"`
	StateVersion   int64      `json:"state_version"` // Snapshot version after the run, 0 if none
	Error          string     `json:"error,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// DocumentFailure records why one document of a batch was not processed.
type DocumentFailure struct {
	ExternalID string `json:"external_id"`
	Reason     string `json:"reason"`
}

// Failure reasons recorded on runs.
const (
	ReasonEmptyContent      = "empty content"
	ReasonMissingExternalID = "missing external id"
	ReasonClusteringFailed  = "clustering failed"
)
