package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/oracle/internal/composer"
	"github.com/kalambet/oracle/internal/engine"
	"github.com/kalambet/oracle/internal/errs"
	"github.com/kalambet/oracle/internal/graph"
	"github.com/kalambet/oracle/internal/interaction"
	"github.com/kalambet/oracle/internal/metrics"
	"github.com/kalambet/oracle/internal/retrieval"
)

// partialLogTimeout bounds the detached write that records a failed request.
const partialLogTimeout = 5 * time.Second

// Searcher retrieves evidence for a query. Implemented by retrieval.Retriever.
type Searcher interface {
	Search(ctx context.Context, query string, k int, f retrieval.Filter) ([]retrieval.Hit, error)
}

// NeighborResolver returns graph context. Implemented by graph.Resolver.
type NeighborResolver interface {
	Neighbors(ctx context.Context, entityID string) ([]graph.Neighbor, error)
}

// ModelSelector supplies the model and type hints for the next request.
// Implemented by preference.Manager.
type ModelSelector interface {
	SelectModel(ctx context.Context) string
	PreferredTypes(ctx context.Context) []string
}

// StaticModel always selects the same model and offers no type hints.
type StaticModel string

func (m StaticModel) SelectModel(context.Context) string      { return string(m) }
func (m StaticModel) PreferredTypes(context.Context) []string { return nil }

// Recorder logs interactions. Implemented by interaction.Logger.
type Recorder interface {
	Record(ctx context.Context, e interaction.Entry) string
}

// Deps are the collaborators of a Generator. Recorder and Metrics may be nil.
type Deps struct {
	Searcher  Searcher
	Neighbors NeighborResolver
	Engine    engine.Engine
	Composer  *composer.Composer
	Models    ModelSelector
	Recorder  Recorder
	Metrics   *metrics.Registry
}

// Config tunes generation.
type Config struct {
	DefaultEvidenceLimit int
	Retry                RetryPolicy
	// RepairPrompt makes retries send the malformed reply back with a
	// correction request instead of repeating the original prompt.
	RepairPrompt bool
	Temperature  *float64
}

// Generator produces validated suggestion responses. It holds no per-request
// state; concurrent calls are independent.
type Generator struct {
	deps   Deps
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

// NewGenerator creates a Generator. Zero Config fields take defaults.
func NewGenerator(deps Deps, cfg Config) *Generator {
	if cfg.DefaultEvidenceLimit <= 0 {
		cfg.DefaultEvidenceLimit = DefaultEvidenceLimit
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if deps.Composer == nil {
		deps.Composer = composer.New(0)
	}
	return &Generator{deps: deps, cfg: cfg, now: time.Now, logger: slog.Default()}
}

// Suggest answers req. Failures after validation are still recorded as
// failed interactions, on a detached context so a cancelled caller does not
// lose them.
func (g *Generator) Suggest(ctx context.Context, req Request) (Result, error) {
	const op = "oracle.Suggest"
	start := g.now()
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	k := req.EvidenceLimit
	if k == 0 {
		k = g.cfg.DefaultEvidenceLimit
	}
	k = retrieval.ClampK(k)
	query := req.query()

	// Evidence and neighbors are independent; both must be ready before
	// the prompt is built.
	var (
		hits      []retrieval.Hit
		neighbors []graph.Neighbor
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		hits, err = g.deps.Searcher.Search(egCtx, query, k, retrieval.Filter{Role: req.Role})
		return err
	})
	eg.Go(func() error {
		var err error
		neighbors, err = g.deps.Neighbors.Neighbors(egCtx, req.Subject.ID)
		return err
	})
	if err := eg.Wait(); err != nil {
		g.fail(ctx, req, "", start, 0, err)
		return Result{}, err
	}

	model := g.deps.Models.SelectModel(ctx)
	prompt := g.deps.Composer.Build(composer.Input{
		SubjectID:      req.Subject.ID,
		Title:          req.Subject.Title,
		Description:    req.Subject.Description,
		Evidence:       hits,
		Neighbors:      neighbors,
		PreferredTypes: g.deps.Models.PreferredTypes(ctx),
	})

	resp, attempts, err := g.generate(ctx, model, prompt)
	if err != nil {
		err = errs.Generation(op, err)
		g.fail(ctx, req, model, start, attempts, err)
		return Result{}, err
	}

	m := Derive(resp.Suggestions, prompt.Evidence)
	resp.Evidence = append([]retrieval.Hit{}, prompt.Evidence...)
	resp.Meta.UsedEvidenceCount = len(prompt.Evidence)
	resp.Meta.Timestamp = g.now().UTC()
	resp.Meta.Model = model
	resp.Meta.AvgConfidence = m.AvgConfidence
	resp.Meta.SimilarityScore = m.SimilarityScore

	elapsed := g.now().Sub(start)
	if g.deps.Recorder != nil {
		body, jerr := json.Marshal(resp)
		if jerr != nil {
			g.logger.Warn("encoding response for interaction log", "error", jerr)
		}
		resp.Meta.InteractionID = g.deps.Recorder.Record(context.WithoutCancel(ctx), interaction.Entry{
			ActorID:         req.ActorID,
			SubjectID:       req.Subject.ID,
			Query:           query,
			Response:        string(body),
			ModelUsed:       model,
			Confidence:      m.AvgConfidence,
			EvidenceCount:   len(prompt.Evidence),
			SimilarityScore: m.SimilarityScore,
			ProcessingTime:  elapsed,
		})
	}
	g.deps.Metrics.ObserveSuggest("ok", attempts, elapsed)

	return Result{Response: resp, Metrics: m, Model: model, Attempts: attempts}, nil
}

// generate runs the model under the retry policy and returns the first reply
// that parses and validates.
func (g *Generator) generate(ctx context.Context, model string, prompt composer.Prompt) (Response, int, error) {
	msgs := prompt.Messages
	opts := engine.ChatOptions{Schema: responseSchema, Temperature: g.cfg.Temperature}

	var (
		resp     Response
		attempts int
	)
	err := g.cfg.Retry.Do(ctx, func(attempt int) error {
		attempts = attempt
		raw, err := g.deps.Engine.Chat(ctx, model, msgs, opts)
		if err != nil {
			g.logger.Warn("model call failed", "model", model, "attempt", attempt, "error", err)
			return err
		}

		d, err := Parse(raw)
		if err == nil {
			var dropped int
			resp, dropped, err = Validate(d, len(prompt.Evidence))
			if dropped > 0 {
				g.deps.Metrics.AddDroppedSuggestions(dropped)
				g.logger.Debug("dropped invalid suggestions", "model", model, "dropped", dropped)
			}
		}
		if err != nil {
			g.logger.Warn("model returned unusable output", "model", model, "attempt", attempt, "error", err)
			if g.cfg.RepairPrompt {
				msgs = composer.Repair(prompt, raw, err.Error())
			}
			return err
		}
		return nil
	})
	return resp, attempts, err
}

// fail records a failed request without blocking the caller.
func (g *Generator) fail(ctx context.Context, req Request, model string, start time.Time, attempts int, err error) {
	elapsed := g.now().Sub(start)
	outcome := string(errs.KindOf(err))
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		outcome = "cancelled"
	}
	g.deps.Metrics.ObserveSuggest(outcome, attempts, elapsed)

	if g.deps.Recorder == nil {
		return
	}
	entry := interaction.Entry{
		ActorID:        req.ActorID,
		SubjectID:      req.Subject.ID,
		Query:          req.query(),
		ModelUsed:      model,
		ProcessingTime: elapsed,
		Err:            err,
	}
	go func() {
		logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), partialLogTimeout)
		defer cancel()
		g.deps.Recorder.Record(logCtx, entry)
	}()
}
