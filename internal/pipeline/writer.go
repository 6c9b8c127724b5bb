package pipeline

import (
	"context"
	"fmt"
	"time"

	"topicflow/internal/core"
	"topicflow/internal/dedup"
	"topicflow/internal/logger"
	"topicflow/internal/persistence"
	"topicflow/internal/topicmodel"
	"topicflow/internal/trends"
)

// changeset is everything one run commits
type changeset struct {
	run         *core.Run
	reset       bool              // Drop all topics, assignments and trends first
	items       []dedup.Item      // Documents to upsert, in batch order
	assignments []core.Assignment // Aligned with items
	saveState   bool
	snapshot    topicmodel.Snapshot
	prevVersion int64 // -1 when no state row exists yet
	touched     []int // Topic ids to upsert and recompute trends for
	failures    []core.DocumentFailure
}

// writer applies a changeset in a single transaction
type writer struct {
	db           persistence.Database
	timeout      time.Duration
	snapshotPath string
	now          func() time.Time
}

// commit writes cs and finalizes its run as success. Nothing is written when
// it returns an error.
func (w *writer) commit(ctx context.Context, cs *changeset) error {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	tx, err := w.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := w.apply(ctx, tx, cs); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	logger.Info("Run committed",
		"run_id", cs.run.ID,
		"state_version", cs.run.StateVersion,
		"topics_touched", len(cs.touched),
		"added", cs.run.Counts.Added,
		"updated", cs.run.Counts.Updated,
		"skipped", cs.run.Counts.Skipped,
		"failed", cs.run.Counts.Failed)

	if cs.saveState && w.snapshotPath != "" {
		if err := topicmodel.WriteFile(w.snapshotPath, cs.snapshot); err != nil {
			logger.Warn("Failed to mirror topic model snapshot", "path", w.snapshotPath, "error", err.Error())
		}
	}
	return nil
}

func (w *writer) apply(ctx context.Context, tx persistence.Transaction, cs *changeset) error {
	if cs.reset {
		if err := tx.Assignments().DeleteAll(ctx); err != nil {
			return err
		}
		if err := tx.Trends().DeleteAll(ctx); err != nil {
			return err
		}
		if err := tx.Topics().DeleteAll(ctx); err != nil {
			return err
		}
	}

	for i := range cs.items {
		if err := tx.Documents().Upsert(ctx, &cs.items[i].Document); err != nil {
			return err
		}
	}

	for _, id := range cs.touched {
		topic, ok := cs.snapshot.Topic(id)
		if !ok {
			return fmt.Errorf("touched topic %d missing from snapshot", id)
		}
		if err := tx.Topics().Upsert(ctx, topic); err != nil {
			return err
		}
	}

	for i, a := range cs.assignments {
		if err := tx.Assignments().Upsert(ctx, cs.items[i].Document.ID, cs.run.ID, a); err != nil {
			return err
		}
	}

	if len(cs.touched) > 0 {
		obs, err := tx.Assignments().Observations(ctx, cs.touched)
		if err != nil {
			return err
		}
		if err := tx.Trends().Replace(ctx, cs.touched, trends.Aggregate(obs, cs.touched)); err != nil {
			return err
		}
	}

	if cs.saveState {
		if err := tx.States().Save(ctx, cs.snapshot, cs.prevVersion); err != nil {
			return err
		}
	}

	if len(cs.failures) > 0 {
		if err := tx.Runs().AddFailures(ctx, cs.run.ID, cs.failures); err != nil {
			return err
		}
	}

	finished := w.now().UTC()
	cs.run.Status = core.RunSuccess
	cs.run.FinishedAt = &finished
	return tx.Runs().Finish(ctx, cs.run)
}
