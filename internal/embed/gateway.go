// Package embed wraps an embedding backend with the service's retry,
// batching, and input-validation policy.
package embed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/SantiagoCoronado/personal-rag-system/internal/ai"
)

var (
	// ErrEmptyText rejects empty or whitespace-only input before any
	// backend call.
	ErrEmptyText = errors.New("text cannot be empty")

	// ErrRateLimitExceeded is returned once the retry budget for a
	// rate-limited backend is spent. The caller may retry later.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// Backend is the subset of the AI client the gateway drives.
type Backend interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Options tune the gateway; zero values fall back to the service defaults.
type Options struct {
	BatchSize  int           // texts per backend call, default 100
	MaxRetries int           // attempts per call on rate limits, default 3
	BaseDelay  time.Duration // first backoff delay, doubled per attempt, default 1s
}

// Gateway converts text into embedding vectors. It is stateless apart from
// configuration and safe for concurrent use.
type Gateway struct {
	backend    Backend
	batchSize  int
	maxRetries int
	baseDelay  time.Duration
	log        zerolog.Logger
}

func NewGateway(backend Backend, opts Options, log zerolog.Logger) *Gateway {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	return &Gateway{
		backend:    backend,
		batchSize:  opts.BatchSize,
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		log:        log,
	}
}

// EmbedOne embeds a single text.
func (g *Gateway) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	var vec []float32
	err := g.withRetry(ctx, func(ctx context.Context) error {
		v, err := g.backend.Embed(ctx, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedMany embeds texts in sub-batches, preserving input order. Any
// sub-batch failure aborts the whole call; callers must assume
// all-or-nothing.
func (g *Gateway) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += g.batchSize {
		end := start + g.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]
		g.log.Debug().Int("batch_start", start).Int("batch_size", len(batch)).Msg("embedding batch")

		var vecs [][]float32
		err := g.withRetry(ctx, func(ctx context.Context) error {
			v, err := g.backend.EmbedBatch(ctx, batch)
			if err != nil {
				return err
			}
			vecs = v
			return nil
		})
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("backend returned %d embeddings for %d texts", len(vecs), len(batch))
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// withRetry runs fn, retrying rate-limited calls with exponential backoff.
// Other errors propagate immediately. The wait respects ctx so a caller
// deadline aborts the loop instead of retrying past it.
func (g *Gateway) withRetry(ctx context.Context, fn func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ai.ErrRateLimited) {
			return fmt.Errorf("embedding backend: %w", err)
		}
		if attempt >= g.maxRetries-1 {
			return fmt.Errorf("%w after %d attempts: %v", ErrRateLimitExceeded, g.maxRetries, err)
		}

		delay := g.baseDelay << attempt
		g.log.Warn().Dur("wait", delay).Int("attempt", attempt+1).Msg("rate limit hit, backing off")
		if err := wait(ctx, delay); err != nil {
			return err
		}
	}
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
