package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"topicflow/internal/core"
	"topicflow/internal/logger"
	"topicflow/internal/persistence"
)

// abandonedReason is recorded on running runs that outlived the lock TTL
const abandonedReason = "abandoned: exceeded lock ttl"

// Tracker manages the lifecycle of run rows
type Tracker struct {
	db      persistence.Database
	lockTTL time.Duration
	now     func() time.Time
}

// NewTracker creates a run tracker
func NewTracker(db persistence.Database, lockTTL time.Duration, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{db: db, lockTTL: lockTTL, now: now}
}

// Start records a running run and commits it immediately. It fails with
// core.ErrStateBusy while another run started within the lock TTL is still
// running; older running runs are marked abandoned first.
func (t *Tracker) Start(ctx context.Context, run *core.Run) error {
	now := t.now().UTC()
	run.ID = uuid.NewString()
	run.Status = core.RunRunning
	run.StartedAt = now
	run.FinishedAt = nil

	tx, err := t.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	cutoff := now.Add(-t.lockTTL)
	n, err := tx.Runs().Abandon(ctx, cutoff, abandonedReason)
	if err != nil {
		return err
	}
	if n > 0 {
		logger.Warn("Marked stale runs as abandoned", "count", n, "lock_ttl", t.lockTTL.String())
	}

	active, err := tx.Runs().Running(ctx, cutoff)
	if err != nil {
		return err
	}
	if active != nil {
		return fmt.Errorf("%w: run %s started at %s", core.ErrStateBusy, active.ID, active.StartedAt.Format(time.RFC3339))
	}

	if err := tx.Runs().Create(ctx, run); err != nil {
		if errors.Is(err, core.ErrStateConflict) {
			return fmt.Errorf("%w: %w", core.ErrStateBusy, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		if errors.Is(err, core.ErrStateConflict) {
			return fmt.Errorf("%w: %w", core.ErrStateBusy, err)
		}
		return err
	}

	logger.Info("Run started",
		"run_id", run.ID,
		"mode", string(run.Mode),
		"batch", run.BatchPath,
		"embedding_model", run.EmbeddingModel,
		"seed", run.Seed)
	return nil
}

// Fail finalizes a run as error in its own statement. It runs even when ctx
// was canceled, since the failure usually is the cancellation.
func (t *Tracker) Fail(ctx context.Context, run *core.Run, cause error) error {
	ctx = context.WithoutCancel(ctx)

	finished := t.now().UTC()
	run.Status = core.RunError
	run.Error = cause.Error()
	run.FinishedAt = &finished

	if err := t.db.Runs().Finish(ctx, run); err != nil {
		logger.Error("Failed to finalize run", err, "run_id", run.ID)
		return err
	}
	logger.Error("Run failed", cause,
		"run_id", run.ID,
		"added", run.Counts.Added,
		"updated", run.Counts.Updated,
		"skipped", run.Counts.Skipped,
		"failed", run.Counts.Failed)
	return nil
}
