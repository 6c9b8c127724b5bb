package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"topicflow/internal/core"
)

var runColumns = []string{
	"run_id", "mode", "status", "batch_path", "batch_size",
	"added_count", "updated_count", "skipped_count", "failed_count",
	"embedding_model", "seed", "state_version", "error", "started_at", "finished_at",
}

// runRepo implements RunRepository
type runRepo struct{ conn }

func (r *runRepo) Create(ctx context.Context, run *core.Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	_, err := r.exec(ctx, r.sb.
		Insert("runs").
		Columns(runColumns...).
		Values(run.ID, string(run.Mode), string(run.Status), run.BatchPath, run.BatchSize,
			run.Counts.Added, run.Counts.Updated, run.Counts.Skipped, run.Counts.Failed,
			run.EmbeddingModel, run.Seed, run.StateVersion, nullString(run.Error), run.StartedAt.UTC(), nullTime(run.FinishedAt)))
	if err != nil {
		return fmt.Errorf("failed to create run %s: %w", run.ID, err)
	}
	return nil
}

func (r *runRepo) Finish(ctx context.Context, run *core.Run) error {
	if !run.Status.Terminal() {
		return fmt.Errorf("run %s: status %q is not terminal", run.ID, run.Status)
	}
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	res, err := r.exec(ctx, r.sb.
		Update("runs").
		SetMap(map[string]interface{}{
			"status":          string(run.Status),
			"batch_size":      run.BatchSize,
			"added_count":     run.Counts.Added,
			"updated_count":   run.Counts.Updated,
			"skipped_count":   run.Counts.Skipped,
			"failed_count":    run.Counts.Failed,
			"state_version":   run.StateVersion,
			"error":           nullString(run.Error),
			"finished_at":     run.FinishedAt.UTC(),
			"embedding_model": run.EmbeddingModel,
		}).
		Where(sq.Eq{"run_id": run.ID, "status": string(core.RunRunning)}))
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", run.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", run.ID, core.ErrRunFinalized)
	}
	return nil
}

func (r *runRepo) Get(ctx context.Context, id string) (*core.Run, error) {
	runs, err := r.list(ctx, r.sb.Select(runColumns...).From("runs").Where(sq.Eq{"run_id": id}))
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("run %s: %w", id, core.ErrNotFound)
	}
	return &runs[0], nil
}

func (r *runRepo) List(ctx context.Context, limit int) ([]core.Run, error) {
	q := r.sb.Select(runColumns...).From("runs").OrderBy("started_at DESC", "run_id")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return r.list(ctx, q)
}

func (r *runRepo) Running(ctx context.Context, since time.Time) (*core.Run, error) {
	runs, err := r.list(ctx, r.sb.
		Select(runColumns...).
		From("runs").
		Where(sq.Eq{"status": string(core.RunRunning)}).
		Where(sq.Gt{"started_at": since.UTC()}).
		OrderBy("started_at DESC").
		Limit(1))
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

func (r *runRepo) Abandon(ctx context.Context, before time.Time, reason string) (int, error) {
	res, err := r.exec(ctx, r.sb.
		Update("runs").
		Set("status", string(core.RunError)).
		Set("error", reason).
		Set("finished_at", time.Now().UTC()).
		Where(sq.Eq{"status": string(core.RunRunning)}).
		Where(sq.LtOrEq{"started_at": before.UTC()}))
	if err != nil {
		return 0, fmt.Errorf("failed to abandon stale runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify(err)
	}
	return int(n), nil
}

func (r *runRepo) AddFailures(ctx context.Context, runID string, failures []core.DocumentFailure) error {
	for _, batch := range chunk(failures, trendInsertChunk) {
		insert := r.sb.Insert("run_failures").Columns("run_id", "external_id", "reason")
		for _, f := range batch {
			insert = insert.Values(runID, f.ExternalID, f.Reason)
		}
		if _, err := r.exec(ctx, insert); err != nil {
			return fmt.Errorf("failed to record failures of run %s: %w", runID, err)
		}
	}
	return nil
}

func (r *runRepo) Failures(ctx context.Context, runID string) ([]core.DocumentFailure, error) {
	rows, err := r.rows(ctx, r.sb.
		Select("external_id", "reason").
		From("run_failures").
		Where(sq.Eq{"run_id": runID}).
		OrderBy("id"))
	if err != nil {
		return nil, fmt.Errorf("failed to list failures of run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []core.DocumentFailure
	for rows.Next() {
		var f core.DocumentFailure
		if err := rows.Scan(&f.ExternalID, &f.Reason); err != nil {
			return nil, classify(err)
		}
		out = append(out, f)
	}
	return out, classify(rows.Err())
}

func (r *runRepo) list(ctx context.Context, q sq.SelectBuilder) ([]core.Run, error) {
	rows, err := r.rows(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []core.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, classify(rows.Err())
}

func scanRun(rows *sql.Rows) (core.Run, error) {
	var run core.Run
	var mode, status string
	var errText sql.NullString
	var finished sql.NullTime
	err := rows.Scan(&run.ID, &mode, &status, &run.BatchPath, &run.BatchSize,
		&run.Counts.Added, &run.Counts.Updated, &run.Counts.Skipped, &run.Counts.Failed,
		&run.EmbeddingModel, &run.Seed, &run.StateVersion, &errText, &run.StartedAt, &finished)
	if err != nil {
		return core.Run{}, fmt.Errorf("failed to scan run: %w", classify(err))
	}
	run.Mode = core.RunMode(mode)
	run.Status = core.RunStatus(status)
	run.Error = errText.String
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
