package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"topicflow/internal/config"
	"topicflow/internal/embedding"
	"topicflow/internal/persistence"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// getDatabase opens the configured store
func getDatabase(ctx context.Context) (*persistence.DB, error) {
	dbCfg := config.GetDatabase()
	if dbCfg.URL == "" {
		return nil, fmt.Errorf("database url not configured (set database.url in config or DATABASE_URL env var)")
	}

	db, err := persistence.Open(ctx, dbCfg.Driver, dbCfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newEmbeddingBackend picks the backend for the configured model
func newEmbeddingBackend(ctx context.Context, cfg *config.Config) (embedding.Backend, error) {
	switch {
	case cfg.EmbeddingModel == embedding.HashingModel:
		return embedding.NewHashingBackend(cfg.EmbeddingDims), nil
	case strings.HasPrefix(cfg.EmbeddingModel, "gemini") || strings.HasPrefix(cfg.EmbeddingModel, "text-embedding"):
		return embedding.NewGeminiBackend(ctx, cfg.Gemini.APIKey, cfg.EmbeddingModel, cfg.EmbeddingDims)
	default:
		return nil, fmt.Errorf("unknown embedding model: %s. Supported: gemini-*, text-embedding-*, %s", cfg.EmbeddingModel, embedding.HashingModel)
	}
}

// renderTable draws rows with the shared CLI table style
func renderTable(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
