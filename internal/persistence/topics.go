package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/pgvector/pgvector-go"

	"topicflow/internal/core"
)

// topicRepo implements TopicRepository
type topicRepo struct{ conn }

func (r *topicRepo) Upsert(ctx context.Context, topic core.Topic) error {
	centroid, err := r.encodeVector(topic.Centroid)
	if err != nil {
		return err
	}

	_, err = r.exec(ctx, r.sb.
		Insert("topics").
		Columns("id", "label", "size", "centroid", "created_at", "updated_at").
		Values(topic.ID, topic.Label, topic.Size, centroid, topic.CreatedAt.UTC(), topic.UpdatedAt.UTC()).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			label = EXCLUDED.label,
			size = EXCLUDED.size,
			centroid = EXCLUDED.centroid,
			updated_at = EXCLUDED.updated_at`))
	if err != nil {
		return fmt.Errorf("failed to upsert topic %d: %w", topic.ID, err)
	}

	if _, err := r.exec(ctx, r.sb.Delete("topic_terms").Where(sq.Eq{"topic_id": topic.ID})); err != nil {
		return fmt.Errorf("failed to clear terms of topic %d: %w", topic.ID, err)
	}
	if len(topic.Terms) == 0 {
		return nil
	}

	insert := r.sb.Insert("topic_terms").Columns("topic_id", "term", "weight", "term_rank")
	for i, tw := range topic.Terms {
		insert = insert.Values(topic.ID, tw.Term, tw.Weight, i)
	}
	if _, err := r.exec(ctx, insert); err != nil {
		return fmt.Errorf("failed to insert terms of topic %d: %w", topic.ID, err)
	}
	return nil
}

func (r *topicRepo) Get(ctx context.Context, id int) (*core.Topic, error) {
	topics, err := r.list(ctx, sq.Eq{"id": id})
	if err != nil {
		return nil, err
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("topic %d: %w", id, core.ErrNotFound)
	}
	return &topics[0], nil
}

func (r *topicRepo) List(ctx context.Context) ([]core.Topic, error) {
	return r.list(ctx, nil)
}

func (r *topicRepo) list(ctx context.Context, where sq.Sqlizer) ([]core.Topic, error) {
	q := r.sb.Select("id", "label", "size", "centroid", "created_at", "updated_at").From("topics").OrderBy("id")
	if where != nil {
		q = q.Where(where)
	}
	rows, err := r.rows(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	defer rows.Close()

	var topics []core.Topic
	index := make(map[int]int)
	for rows.Next() {
		var t core.Topic
		var centroid any
		if err := rows.Scan(&t.ID, &t.Label, &t.Size, &centroid, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan topic: %w", classify(err))
		}
		if t.Centroid, err = decodeVector(centroid); err != nil {
			return nil, fmt.Errorf("failed to decode centroid of topic %d: %w", t.ID, err)
		}
		index[t.ID] = len(topics)
		topics = append(topics, t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	rows.Close()

	if len(topics) == 0 {
		return topics, nil
	}

	ids := make([]int, 0, len(topics))
	for _, t := range topics {
		ids = append(ids, t.ID)
	}
	termRows, err := r.rows(ctx, r.sb.
		Select("topic_id", "term", "weight").
		From("topic_terms").
		Where(sq.Eq{"topic_id": ids}).
		OrderBy("topic_id", "term_rank"))
	if err != nil {
		return nil, fmt.Errorf("failed to list topic terms: %w", err)
	}
	defer termRows.Close()

	for termRows.Next() {
		var topicID int
		var tw core.TermWeight
		if err := termRows.Scan(&topicID, &tw.Term, &tw.Weight); err != nil {
			return nil, fmt.Errorf("failed to scan topic term: %w", classify(err))
		}
		if i, ok := index[topicID]; ok {
			topics[i].Terms = append(topics[i].Terms, tw)
		}
	}
	return topics, classify(termRows.Err())
}

func (r *topicRepo) DeleteAll(ctx context.Context) error {
	if _, err := r.exec(ctx, r.sb.Delete("topic_terms")); err != nil {
		return fmt.Errorf("failed to delete topic terms: %w", err)
	}
	if _, err := r.exec(ctx, r.sb.Delete("topics")); err != nil {
		return fmt.Errorf("failed to delete topics: %w", err)
	}
	return nil
}

// encodeVector converts a centroid to its column value: a pgvector value on
// Postgres, a JSON array on SQLite.
func (c conn) encodeVector(v []float64) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	if c.dialect == DialectPostgres {
		f := make([]float32, len(v))
		for i, x := range v {
			f[i] = float32(x)
		}
		return pgvector.NewVector(f), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode vector: %w", err)
	}
	return string(data), nil
}

// decodeVector parses a centroid column. pgvector's text form "[1,2,3]" is
// also a JSON array, so both dialects decode through pgvector.Vector.
func decodeVector(src any) ([]float64, error) {
	if src == nil {
		return nil, nil
	}
	var vec pgvector.Vector
	if err := vec.Scan(src); err != nil {
		return nil, err
	}
	f := vec.Slice()
	out := make([]float64, len(f))
	for i, x := range f {
		out[i] = float64(x)
	}
	return out, nil
}
