package retrieval

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kalambet/oracle/internal/engine"
	"github.com/kalambet/oracle/internal/errs"
	"github.com/kalambet/oracle/internal/metrics"
)

// Embedder turns text into fixed-dimension vectors. Every failure is an
// EmbeddingError and is never retried here; callers decide.
type Embedder struct {
	engine  engine.Engine
	model   string
	dims    atomic.Int64
	limiter *rate.Limiter
	metrics *metrics.Registry
}

// EmbedderOption configures an Embedder.
type EmbedderOption func(*Embedder)

// WithDimensions pins the expected vector length. Without it the length of
// the first successful embedding becomes the expectation.
func WithDimensions(d int) EmbedderOption {
	return func(e *Embedder) { e.dims.Store(int64(d)) }
}

// WithRateLimit smooths upstream calls to rps requests per second. A
// non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) EmbedderOption {
	return func(e *Embedder) {
		if rps <= 0 {
			e.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithEmbedMetrics counts upstream embedding calls in m.
func WithEmbedMetrics(m *metrics.Registry) EmbedderOption {
	return func(e *Embedder) { e.metrics = m }
}

// NewEmbedder creates an Embedder using the given Engine and model name.
func NewEmbedder(e engine.Engine, model string, opts ...EmbedderOption) *Embedder {
	emb := &Embedder{engine: e, model: model}
	for _, o := range opts {
		o(emb)
	}
	return emb
}

// Dimensions returns the expected vector length, or 0 if not yet known.
func (e *Embedder) Dimensions() int {
	return int(e.dims.Load())
}

// Model returns the embedding model name.
func (e *Embedder) Model() string {
	return e.model
}

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	const op = "retrieval.Embed"
	if strings.TrimSpace(text) == "" {
		return nil, errs.Validationf(op, "text to embed is empty")
	}
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, errs.Embedding(op, fmt.Errorf("waiting for rate limiter: %w", err))
		}
	}

	vec, err := e.engine.Embed(ctx, e.model, text)
	if err != nil {
		if engine.IsRateLimited(err) {
			e.metrics.ObserveEmbed("rate_limited")
			return nil, errs.E(errs.KindEmbedding, op, "embedding provider rate limited", err)
		}
		e.metrics.ObserveEmbed("error")
		return nil, errs.Embedding(op, err)
	}
	e.metrics.ObserveEmbed("ok")
	if len(vec) == 0 {
		return nil, errs.Embedding(op, fmt.Errorf("model %s returned an empty vector", e.model))
	}

	want := e.dims.Load()
	if want == 0 && e.dims.CompareAndSwap(0, int64(len(vec))) {
		return vec, nil
	}
	want = e.dims.Load()
	if int64(len(vec)) != want {
		return nil, errs.Embedding(op, fmt.Errorf("model %s returned %d dimensions, expected %d", e.model, len(vec), want))
	}
	return vec, nil
}

// EmbedBatch returns embedding vectors for multiple texts concurrently.
// Returns nil (not error) for empty/nil input. Any single failure fails the
// whole batch so no partial result is ever stored.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the engine.

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
