package handlers

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"topicflow/internal/core"
)

// NewRunsCmd creates the runs command that lists recent pipeline runs
func NewRunsCmd() *cobra.Command {
	var (
		limit    int
		failures string
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent pipeline runs",
		Long: `List the most recent runs with their status and document counts.

Examples:
  topicflow runs
  topicflow runs --limit 50
  topicflow runs --failures <run-id>`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if failures != "" {
				return runShowFailures(cmd.Context(), failures)
			}
			return runListRuns(cmd.Context(), limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to show")
	cmd.Flags().StringVar(&failures, "failures", "", "Show the document failures of one run")

	return cmd
}

func runListRuns(ctx context.Context, limit int) error {
	if limit <= 0 {
		return fmt.Errorf("limit must be positive")
	}

	db, err := getDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := db.Runs().List(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs yet. Start with 'topicflow init --batch <file>'")
		return nil
	}

	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.ID[:min(8, len(r.ID))],
			string(r.Mode),
			statusText(r.Status),
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			strconv.Itoa(r.BatchSize),
			strconv.Itoa(r.Counts.Added),
			strconv.Itoa(r.Counts.Updated),
			strconv.Itoa(r.Counts.Skipped),
			strconv.Itoa(r.Counts.Failed),
			strconv.FormatInt(r.StateVersion, 10),
			truncate(r.Error, 40),
		})
	}

	fmt.Println(renderTable([]string{"Run", "Mode", "Status", "Started", "Batch", "Added", "Updated", "Skipped", "Failed", "State", "Error"}, rows))
	return nil
}

func runShowFailures(ctx context.Context, runID string) error {
	db, err := getDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	run, err := db.Runs().Get(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	failures, err := db.Runs().Failures(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load failures: %w", err)
	}

	fmt.Printf("%s %s\n", titleStyle.Render("Run "+run.ID), statusText(run.Status))
	if len(failures) == 0 {
		fmt.Println(mutedStyle.Render("No document failures"))
		return nil
	}

	rows := make([][]string, 0, len(failures))
	for _, f := range failures {
		rows = append(rows, []string{f.ExternalID, f.Reason})
	}
	fmt.Println(renderTable([]string{"Document", "Reason"}, rows))
	return nil
}

func statusText(s core.RunStatus) string {
	switch s {
	case core.RunSuccess:
		return okStyle.Render(string(s))
	case core.RunError:
		return errStyle.Render(string(s))
	default:
		return warnStyle.Render(string(s))
	}
}
