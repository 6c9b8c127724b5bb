// Package embedding turns normalized document text into fixed-length vectors.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"topicflow/internal/core"
	"topicflow/internal/logger"
)

// ErrInvalidInput marks backend rejections that retrying cannot fix.
var ErrInvalidInput = errors.New("embedding input rejected")

// Backend produces one embedding per text. Errors wrapping core.ErrTransient
// or of unknown class are retried; ErrInvalidInput is not.
type Backend interface {
	// Model is the pinned model identifier recorded on runs and snapshots.
	Model() string
	// Dimensions is the length of every vector the backend returns.
	Dimensions() int
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Options control retries and fan-out.
type Options struct {
	Concurrency int
	MaxRetries  int
	Backoff     time.Duration // Initial retry delay, doubled per attempt
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{Concurrency: 4, MaxRetries: 3, Backoff: 500 * time.Millisecond}
}

// Result holds the vectors of a batch at their input index.
// Vectors[i] is nil exactly when Failures has an entry for i.
type Result struct {
	Vectors  [][]float64
	Failures map[int]string
}

// Service embeds batches with bounded concurrency and per-document retries.
type Service struct {
	backend Backend
	opts    Options
}

// NewService creates an embedding service around a backend
func NewService(backend Backend, opts Options) *Service {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Service{backend: backend, opts: opts}
}

// Model returns the backend model id.
func (s *Service) Model() string { return s.backend.Model() }

// Dimensions returns the backend vector length.
func (s *Service) Dimensions() int { return s.backend.Dimensions() }

// EmbedAll embeds texts concurrently. Per-document failures are reported in the
// result; only context cancellation aborts the batch.
func (s *Service) EmbedAll(ctx context.Context, texts []string) (Result, error) {
	res := Result{
		Vectors:  make([][]float64, len(texts)),
		Failures: make(map[int]string),
	}
	reasons := make([]string, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)

	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			reasons[i] = core.ReasonEmptyContent
			continue
		}
		g.Go(func() error {
			vec, err := s.embedWithRetry(gctx, text)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				reasons[i] = err.Error()
				return nil
			}
			res.Vectors[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("embedding batch aborted: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("embedding batch aborted: %w", err)
	}

	for i, reason := range reasons {
		if reason != "" {
			res.Failures[i] = reason
			res.Vectors[i] = nil
		}
	}

	logger.Debug("Embedded batch", "model", s.backend.Model(), "documents", len(texts), "failed", len(res.Failures))
	return res, nil
}

func (s *Service) embedWithRetry(ctx context.Context, text string) ([]float64, error) {
	delay := s.opts.Backoff
	var lastErr error

	for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		vec, err := s.backend.Embed(ctx, text)
		if err == nil {
			if len(vec) != s.backend.Dimensions() {
				return nil, fmt.Errorf("embedding dimension mismatch: got %d, expected %d", len(vec), s.backend.Dimensions())
			}
			return vec, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, ErrInvalidInput) {
			break
		}
		logger.Warn("Embedding attempt failed, retrying", "attempt", attempt+1, "error", err.Error())
	}

	return nil, lastErr
}

// Normalize scales v to unit length in place. Zero vectors are left unchanged.
func Normalize(v []float64) []float64 {
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	if norm == 0 {
		return v
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] /= norm
	}
	return v
}
