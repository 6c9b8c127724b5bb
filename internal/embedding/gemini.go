package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"topicflow/internal/core"
)

const (
	// DefaultGeminiModel is the default model for generating embeddings
	DefaultGeminiModel = "gemini-embedding-001"
	// DefaultGeminiDimensions is the output dimension for embeddings (Matryoshka)
	DefaultGeminiDimensions = 768
	// maxEmbedChars is a conservative input limit for gemini-embedding-001
	maxEmbedChars = 8000
)

// GeminiBackend embeds text with the Gemini embedding API.
type GeminiBackend struct {
	client *genai.Client
	model  string
	dims   int
}

// NewGeminiBackend creates a Gemini embedding backend.
func NewGeminiBackend(ctx context.Context, apiKey, model string, dims int) (*GeminiBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required. Set GEMINI_API_KEY or GOOGLE_API_KEY")
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	if dims <= 0 {
		dims = DefaultGeminiDimensions
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiBackend{client: client, model: model, dims: dims}, nil
}

// Model returns the pinned embedding model id
func (g *GeminiBackend) Model() string { return g.model }

// Dimensions returns the configured output dimensionality
func (g *GeminiBackend) Dimensions() int { return g.dims }

// Embed generates a vector embedding for text
func (g *GeminiBackend) Embed(ctx context.Context, text string) ([]float64, error) {
	text = truncateChars(text, maxEmbedChars)

	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: text}},
		Role:  "user",
	}}

	dims := int32(g.dims)
	config := &genai.EmbedContentConfig{
		OutputDimensionality: &dims,
		TaskType:             "CLUSTERING",
	}

	resp, err := g.client.Models.EmbedContent(ctx, g.model, contents, config)
	if err != nil {
		return nil, classifyGeminiError(err)
	}

	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, fmt.Errorf("no embedding values returned from API: %w", core.ErrTransient)
	}

	// Convert float32 to float64
	values := resp.Embeddings[0].Values
	embedding := make([]float64, len(values))
	for i, val := range values {
		embedding[i] = float64(val)
	}

	// Truncated Matryoshka outputs are not unit length.
	return Normalize(embedding), nil
}

// truncateChars cuts s to at most n characters on a rune boundary.
func truncateChars(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
			return fmt.Errorf("failed to generate embedding: %w: %w", core.ErrTransient, err)
		case apiErr.Code >= 400:
			return fmt.Errorf("failed to generate embedding: %w: %w", ErrInvalidInput, err)
		}
	}
	return fmt.Errorf("failed to generate embedding: %w", err)
}
