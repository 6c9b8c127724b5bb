package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"topicflow/internal/core"
	"topicflow/internal/topicmodel"
)

// stateRowID is the key of the single topic_model_state row
const stateRowID = 1

// stateRepo implements StateRepository
type stateRepo struct{ conn }

func (r *stateRepo) Load(ctx context.Context) (topicmodel.Snapshot, error) {
	row, err := r.row(ctx, r.sb.
		Select("snapshot").
		From("topic_model_state").
		Where(sq.Eq{"id": stateRowID}))
	if err != nil {
		return topicmodel.Snapshot{}, err
	}
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return topicmodel.Snapshot{}, core.ErrNoState
		}
		return topicmodel.Snapshot{}, fmt.Errorf("failed to load topic model state: %w", classify(err))
	}
	snap, err := topicmodel.Decode(data)
	if err != nil {
		return topicmodel.Snapshot{}, fmt.Errorf("%w: %w", core.ErrPersistence, err)
	}
	return snap, nil
}

func (r *stateRepo) Save(ctx context.Context, snap topicmodel.Snapshot, prevVersion int64) error {
	data, err := topicmodel.Encode(snap)
	if err != nil {
		return err
	}

	if prevVersion < 0 {
		_, err := r.exec(ctx, r.sb.
			Insert("topic_model_state").
			Columns("id", "version", "embedding_model", "snapshot", "updated_at").
			Values(stateRowID, snap.Version, snap.EmbeddingModel, string(data), snap.UpdatedAt.UTC()))
		if err != nil {
			if errors.Is(err, core.ErrStateConflict) {
				return fmt.Errorf("topic model state already exists: %w", err)
			}
			return fmt.Errorf("failed to insert topic model state: %w", err)
		}
		return nil
	}

	res, err := r.exec(ctx, r.sb.
		Update("topic_model_state").
		Set("version", snap.Version).
		Set("embedding_model", snap.EmbeddingModel).
		Set("snapshot", string(data)).
		Set("updated_at", snap.UpdatedAt.UTC()).
		Where(sq.Eq{"id": stateRowID, "version": prevVersion}))
	if err != nil {
		return fmt.Errorf("failed to save topic model state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if n == 0 {
		return fmt.Errorf("topic model state moved past version %d: %w", prevVersion, core.ErrStateConflict)
	}
	return nil
}
