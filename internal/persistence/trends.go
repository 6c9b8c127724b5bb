package persistence

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"topicflow/internal/core"
)

// trendInsertChunk keeps multi-row inserts under SQLite's parameter limit
const trendInsertChunk = 200

// trendRepo implements TrendRepository
type trendRepo struct{ conn }

func (r *trendRepo) Replace(ctx context.Context, topicIDs []int, rows []core.Trend) error {
	for _, ids := range chunk(topicIDs, lookupChunk) {
		if _, err := r.exec(ctx, r.sb.Delete("topic_trends").Where(sq.Eq{"topic_id": ids})); err != nil {
			return fmt.Errorf("failed to clear trends: %w", err)
		}
	}

	for _, batch := range chunk(rows, trendInsertChunk) {
		insert := r.sb.Insert("topic_trends").Columns("topic_id", "year", "month", "doc_count")
		for _, t := range batch {
			insert = insert.Values(t.TopicID, t.Year, t.Month, t.Count)
		}
		if _, err := r.exec(ctx, insert); err != nil {
			return fmt.Errorf("failed to insert trends: %w", err)
		}
	}
	return nil
}

func (r *trendRepo) ListByTopic(ctx context.Context, topicID int) ([]core.Trend, error) {
	return r.list(ctx, sq.Eq{"topic_id": topicID})
}

func (r *trendRepo) List(ctx context.Context) ([]core.Trend, error) {
	return r.list(ctx, nil)
}

func (r *trendRepo) list(ctx context.Context, where sq.Sqlizer) ([]core.Trend, error) {
	q := r.sb.Select("topic_id", "year", "month", "doc_count").
		From("topic_trends").
		OrderBy("topic_id", "year", "month")
	if where != nil {
		q = q.Where(where)
	}
	rows, err := r.rows(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list trends: %w", err)
	}
	defer rows.Close()

	var out []core.Trend
	for rows.Next() {
		var t core.Trend
		if err := rows.Scan(&t.TopicID, &t.Year, &t.Month, &t.Count); err != nil {
			return nil, classify(err)
		}
		out = append(out, t)
	}
	return out, classify(rows.Err())
}

func (r *trendRepo) DeleteAll(ctx context.Context) error {
	if _, err := r.exec(ctx, r.sb.Delete("topic_trends")); err != nil {
		return fmt.Errorf("failed to delete trends: %w", err)
	}
	return nil
}
