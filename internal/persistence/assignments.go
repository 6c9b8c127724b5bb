package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"topicflow/internal/core"
	"topicflow/internal/trends"
)

// assignmentRepo implements AssignmentRepository
type assignmentRepo struct{ conn }

func (r *assignmentRepo) Upsert(ctx context.Context, documentID int64, runID string, a core.Assignment) error {
	topicID, probability := a.StorageValues()
	_, err := r.exec(ctx, r.sb.
		Insert("topic_assignments").
		Columns("document_id", "topic_id", "probability", "run_id", "assigned_at").
		Values(documentID, topicID, probability, runID, time.Now().UTC()).
		Suffix(`ON CONFLICT (document_id) DO UPDATE SET
			topic_id = EXCLUDED.topic_id,
			probability = EXCLUDED.probability,
			run_id = EXCLUDED.run_id,
			assigned_at = EXCLUDED.assigned_at`))
	if err != nil {
		return fmt.Errorf("failed to upsert assignment of document %d: %w", documentID, err)
	}
	return nil
}

func (r *assignmentRepo) Get(ctx context.Context, documentID int64) (core.Assignment, error) {
	row, err := r.row(ctx, r.sb.
		Select("topic_id", "probability").
		From("topic_assignments").
		Where(sq.Eq{"document_id": documentID}))
	if err != nil {
		return core.Assignment{}, err
	}
	var topicID int
	var probability float64
	if err := row.Scan(&topicID, &probability); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Assignment{}, fmt.Errorf("assignment of document %d: %w", documentID, core.ErrNotFound)
		}
		return core.Assignment{}, fmt.Errorf("failed to get assignment: %w", classify(err))
	}
	return core.AssignmentFromStorage(topicID, probability), nil
}

func (r *assignmentRepo) CountByTopic(ctx context.Context) (map[int]int, error) {
	rows, err := r.rows(ctx, r.sb.
		Select("topic_id", "COUNT(*)").
		From("topic_assignments").
		GroupBy("topic_id"))
	if err != nil {
		return nil, fmt.Errorf("failed to count assignments: %w", err)
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var topicID, n int
		if err := rows.Scan(&topicID, &n); err != nil {
			return nil, classify(err)
		}
		counts[topicID] = n
	}
	return counts, classify(rows.Err())
}

func (r *assignmentRepo) Observations(ctx context.Context, topicIDs []int) ([]trends.Observation, error) {
	var obs []trends.Observation
	for _, ids := range chunk(topicIDs, lookupChunk) {
		rows, err := r.rows(ctx, r.sb.
			Select("a.topic_id", "d.year", "d.month").
			From("topic_assignments a").
			Join("documents d ON d.id = a.document_id").
			Where(sq.Eq{"a.topic_id": ids}))
		if err != nil {
			return nil, fmt.Errorf("failed to read trend observations: %w", err)
		}
		for rows.Next() {
			var o trends.Observation
			var year, month sql.NullInt64
			if err := rows.Scan(&o.TopicID, &year, &month); err != nil {
				rows.Close()
				return nil, classify(err)
			}
			o.Year, o.Month = int(year.Int64), int(month.Int64)
			obs = append(obs, o)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, classify(err)
		}
	}
	return obs, nil
}

func (r *assignmentRepo) DeleteAll(ctx context.Context) error {
	if _, err := r.exec(ctx, r.sb.Delete("topic_assignments")); err != nil {
		return fmt.Errorf("failed to delete assignments: %w", err)
	}
	return nil
}
