package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"topicflow/internal/core"
	"topicflow/internal/trends"
)

// NewTopicsCmd creates the topics command that prints the topic summary
func NewTopicsCmd() *cobra.Command {
	var (
		terms   int
		trendID int
	)

	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Show the current topics",
		Long: `Print every topic with its size and top terms, plus the outlier count.

Examples:
  topicflow topics
  topicflow topics --terms 10
  topicflow topics --trend 3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("trend") {
				return runTopicTrend(cmd.Context(), trendID)
			}
			return runListTopics(cmd.Context(), terms)
		},
	}

	cmd.Flags().IntVar(&terms, "terms", 6, "Number of top terms per topic")
	cmd.Flags().IntVar(&trendID, "trend", 0, "Show the monthly series of one topic")

	return cmd
}

func runListTopics(ctx context.Context, terms int) error {
	db, err := getDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	snap, err := db.States().Load(ctx)
	if errors.Is(err, core.ErrNoState) {
		fmt.Println("No topic model yet. Start with 'topicflow init --batch <file>'")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load topic model state: %w", err)
	}

	topics, err := db.Topics().List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list topics: %w", err)
	}
	counts, err := db.Assignments().CountByTopic(ctx)
	if err != nil {
		return fmt.Errorf("failed to count assignments: %w", err)
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("Topic model v%d", snap.Version)) + " " +
		mutedStyle.Render(fmt.Sprintf("%s, %d dims", snap.EmbeddingModel, snap.Dimensions)))

	rows := make([][]string, 0, len(topics))
	for _, t := range topics {
		if t.Size == 0 {
			continue
		}
		rows = append(rows, []string{
			strconv.Itoa(t.ID),
			strconv.Itoa(t.Size),
			truncate(strings.Join(t.TopTerms(terms), ", "), 80),
			t.UpdatedAt.Local().Format("2006-01-02"),
		})
	}
	if len(rows) > 0 {
		fmt.Println(renderTable([]string{"Topic", "Size", "Top terms", "Updated"}, rows))
	}
	fmt.Printf("%d topics, %d outlier documents\n", len(rows), counts[core.OutlierTopicID])
	return nil
}

func runTopicTrend(ctx context.Context, id int) error {
	db, err := getDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	topic, err := db.Topics().Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load topic %d: %w", id, err)
	}
	rows, err := db.Trends().ListByTopic(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load trends: %w", err)
	}

	fmt.Println(titleStyle.Render(topic.Label))
	points := trends.Series(rows)
	if len(points) == 0 {
		fmt.Println(mutedStyle.Render("No dated documents"))
		return nil
	}

	table := make([][]string, 0, len(points))
	for _, p := range points {
		mark := ""
		if p.IsEmerging {
			mark = warnStyle.Render("emerging")
		}
		table = append(table, []string{
			fmt.Sprintf("%04d-%02d", p.Year, p.Month),
			strconv.Itoa(p.Count),
			fmt.Sprintf("%+d", p.Change),
			mark,
		})
	}
	fmt.Println(renderTable([]string{"Month", "Documents", "Change", ""}, table))
	return nil
}
