// Package persistence provides database abstraction interfaces for storing
// documents, topics, assignments, trends, runs and topic model state
package persistence

import (
	"context"
	"time"

	"topicflow/internal/core"
	"topicflow/internal/topicmodel"
	"topicflow/internal/trends"
)

// DocumentFilter narrows a document search. Zero values do not filter.
type DocumentFilter struct {
	YearFrom int
	YearTo   int
	TopicIDs []int // Matches documents assigned to any of these topics
	Limit    int   // DefaultSearchLimit when zero
}

// DocumentRepository handles document persistence operations
type DocumentRepository interface {
	// FindByExternalIDs returns stored documents keyed by external id
	FindByExternalIDs(ctx context.Context, externalIDs []string) (map[string]core.StoredDocument, error)

	// FindByFingerprints returns stored documents keyed by fingerprint
	FindByFingerprints(ctx context.Context, fingerprints []string) (map[string]core.StoredDocument, error)

	// Upsert inserts or updates a document by external id and sets doc.ID
	Upsert(ctx context.Context, doc *core.Document) error

	// Get retrieves a document by store id
	Get(ctx context.Context, id int64) (*core.Document, error)

	// Search returns documents matching filter, newest publication year first
	Search(ctx context.Context, filter DocumentFilter) ([]core.Document, error)

	// Count returns the number of stored documents
	Count(ctx context.Context) (int, error)
}

// TopicRepository handles topic and topic term persistence operations
type TopicRepository interface {
	// Upsert writes the topic row and replaces its terms
	Upsert(ctx context.Context, topic core.Topic) error

	// Get retrieves a topic with its terms
	Get(ctx context.Context, id int) (*core.Topic, error)

	// List retrieves all topics with their terms, ordered by id
	List(ctx context.Context) ([]core.Topic, error)

	// DeleteAll removes every topic and term
	DeleteAll(ctx context.Context) error
}

// AssignmentRepository handles document to topic assignments
type AssignmentRepository interface {
	// Upsert writes the single assignment row of a document
	Upsert(ctx context.Context, documentID int64, runID string, a core.Assignment) error

	// Get retrieves the assignment of a document
	Get(ctx context.Context, documentID int64) (core.Assignment, error)

	// CountByTopic returns assignment counts keyed by stored topic id, outliers included
	CountByTopic(ctx context.Context) (map[int]int, error)

	// Observations returns one trend observation per document assigned to the given topics
	Observations(ctx context.Context, topicIDs []int) ([]trends.Observation, error)

	// DeleteAll removes every assignment
	DeleteAll(ctx context.Context) error
}

// TrendRepository handles derived topic trend rows
type TrendRepository interface {
	// Replace deletes all rows of the given topics and inserts rows
	Replace(ctx context.Context, topicIDs []int, rows []core.Trend) error

	// ListByTopic returns a topic's rows in chronological order
	ListByTopic(ctx context.Context, topicID int) ([]core.Trend, error)

	// List returns every trend row
	List(ctx context.Context) ([]core.Trend, error)

	// DeleteAll removes every trend row
	DeleteAll(ctx context.Context) error
}

// RunRepository handles pipeline run rows and their document failures
type RunRepository interface {
	// Create inserts a running run
	Create(ctx context.Context, run *core.Run) error

	// Finish moves a running run to its terminal status. Returns
	// core.ErrRunFinalized when the run is not running.
	Finish(ctx context.Context, run *core.Run) error

	// Get retrieves a run by id
	Get(ctx context.Context, id string) (*core.Run, error)

	// List retrieves the most recent runs
	List(ctx context.Context, limit int) ([]core.Run, error)

	// Running returns the newest running run started after since, or nil
	Running(ctx context.Context, since time.Time) (*core.Run, error)

	// Abandon marks running runs started at or before before as failed and
	// returns how many were changed
	Abandon(ctx context.Context, before time.Time, reason string) (int, error)

	// AddFailures records per-document failures of a run
	AddFailures(ctx context.Context, runID string, failures []core.DocumentFailure) error

	// Failures lists the recorded failures of a run
	Failures(ctx context.Context, runID string) ([]core.DocumentFailure, error)
}

// StateRepository handles the versioned topic model snapshot
type StateRepository interface {
	// Load returns the current snapshot or core.ErrNoState
	Load(ctx context.Context) (topicmodel.Snapshot, error)

	// Save writes snap if the stored version still equals prevVersion.
	// prevVersion < 0 means no snapshot may exist yet. A mismatch returns
	// core.ErrStateConflict.
	Save(ctx context.Context, snap topicmodel.Snapshot, prevVersion int64) error
}

// Repositories groups every repository
type Repositories interface {
	Documents() DocumentRepository
	Topics() TopicRepository
	Assignments() AssignmentRepository
	Trends() TrendRepository
	Runs() RunRepository
	States() StateRepository
}

// Database represents the main database interface that aggregates all repositories
type Database interface {
	Repositories

	// Close closes the database connection
	Close() error

	// Ping verifies the database connection
	Ping(ctx context.Context) error

	// BeginTx starts a new transaction
	BeginTx(ctx context.Context) (Transaction, error)
}

// Transaction represents a database transaction
type Transaction interface {
	Repositories

	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error
}
