package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"topicflow/internal/config"
	"topicflow/internal/core"
	"topicflow/internal/logger"
	"topicflow/internal/persistence"
	"topicflow/internal/pipeline"
)

// NewInitCmd creates the init command that builds the topic model from a first batch
func NewInitCmd() *cobra.Command {
	var (
		batchPath string
		force     bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Build the topic model from a first batch",
		Long: `Cluster a batch of papers from scratch and store the resulting topics.

Fails when topic model state already exists unless --force is given. With
--force the existing topics, assignments and trends are discarded and every
document of the batch is processed again. Topic ids keep counting up.

Examples:
  topicflow init --batch papers-2021.parquet
  topicflow init --batch papers-2021.parquet --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), pipeline.RunOptions{
				Mode:      core.ModeInit,
				BatchPath: batchPath,
				Force:     force,
			})
		},
	}

	cmd.Flags().StringVar(&batchPath, "batch", "", "Parquet batch file")
	cmd.Flags().BoolVar(&force, "force", false, "Rebuild over existing topic model state")
	_ = cmd.MarkFlagRequired("batch")

	return cmd
}

// NewUpdateCmd creates the update command that folds a new batch into the model
func NewUpdateCmd() *cobra.Command {
	var batchPath string

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Fold a new batch into the existing topic model",
		Long: `Process a batch incrementally. Documents already stored with the same
content are skipped; new clusters either extend the most similar existing
topic or become new topics.

Requires state created by 'topicflow init' with the same embedding model.

Example:
  topicflow update --batch papers-2022-01.parquet`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), pipeline.RunOptions{
				Mode:      core.ModeUpdate,
				BatchPath: batchPath,
			})
		},
	}

	cmd.Flags().StringVar(&batchPath, "batch", "", "Parquet batch file")
	_ = cmd.MarkFlagRequired("batch")

	return cmd
}

func runPipeline(ctx context.Context, opts pipeline.RunOptions) error {
	cfg := config.Get()

	db, err := getDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := persistence.NewMigrationManager(db).Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	backend, err := newEmbeddingBackend(ctx, cfg)
	if err != nil {
		return err
	}

	p, err := pipeline.NewBuilder().
		WithDatabase(db).
		WithEmbeddingBackend(backend).
		WithConfig(cfg.Pipeline()).
		Build()
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	logger.Info("Starting run", "mode", string(opts.Mode), "batch", opts.BatchPath, "force", opts.Force)

	report, err := p.Run(ctx, opts)
	if report != nil {
		fmt.Println(renderReport(report))
	}
	if err != nil {
		if core.IsStateError(err) {
			return fmt.Errorf("run refused: %w", err)
		}
		return fmt.Errorf("run failed, nothing was committed: %w", err)
	}
	return nil
}

// renderReport formats the human summary of a run
func renderReport(r *pipeline.Report) string {
	var b strings.Builder

	status := okStyle.Render(string(r.Run.Status))
	if r.Run.Status != core.RunSuccess {
		status = errStyle.Render(string(r.Run.Status))
	}
	fmt.Fprintf(&b, "%s %s %s\n", titleStyle.Render("Run "+r.Run.ID), status, mutedStyle.Render(r.Duration.Round(time.Millisecond).String()))

	c := r.Run.Counts
	fmt.Fprintf(&b, "batch %d  added %d  updated %d  skipped %d  failed %d  state v%d\n",
		r.Run.BatchSize, c.Added, c.Updated, c.Skipped, c.Failed, r.Run.StateVersion)
	if r.Run.Error != "" {
		fmt.Fprintf(&b, "%s\n", errStyle.Render(r.Run.Error))
	}

	if len(r.Topics) > 0 {
		created := make(map[int]bool, len(r.Created))
		for _, id := range r.Created {
			created[id] = true
		}
		rows := make([][]string, 0, len(r.Topics))
		for _, t := range r.Topics {
			change := "updated"
			if created[t.ID] {
				change = "new"
			}
			rows = append(rows, []string{
				strconv.Itoa(t.ID),
				change,
				strconv.Itoa(t.Size),
				truncate(strings.Join(t.TopTerms(5), ", "), 60),
			})
		}
		b.WriteString(renderTable([]string{"Topic", "Change", "Size", "Top terms"}, rows))
		b.WriteString("\n")
	}

	if len(r.Failures) > 0 {
		fmt.Fprintf(&b, "%s\n", warnStyle.Render(fmt.Sprintf("%d documents failed", len(r.Failures))))
		for i, f := range r.Failures {
			if i == 10 {
				fmt.Fprintf(&b, "  ... %d more, see 'topicflow runs'\n", len(r.Failures)-i)
				break
			}
			fmt.Fprintf(&b, "  %s: %s\n", f.ExternalID, f.Reason)
		}
	}
	return b.String()
}
