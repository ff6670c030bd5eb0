// Package learning turns accumulated feedback into model preferences and
// suggestion type success rates. Every run recomputes from the full lookback
// window, so repeated or concurrent runs converge on the same output.
package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/oracle/internal/errs"
	"github.com/kalambet/oracle/internal/metrics"
	"github.com/kalambet/oracle/internal/storage"
)

// Action names a learning loop operation.
type Action string

const (
	ActionAnalyzeFeedback     Action = "analyze_feedback"
	ActionUpdateModels        Action = "update_models"
	ActionGenerateInsights    Action = "generate_insights"
	ActionOptimizeSuggestions Action = "optimize_suggestions"
)

// Actions lists every valid action.
var Actions = []Action{ActionAnalyzeFeedback, ActionUpdateModels, ActionGenerateInsights, ActionOptimizeSuggestions}

// Insight types written by the loop.
const (
	InsightFeedbackAnalysis  = "feedback_analysis"
	InsightModelPerformance  = "model_performance"
	InsightSuggestionSuccess = "suggestion_success"
)

// DefaultLookback is the analysis window.
const DefaultLookback = 7 * 24 * time.Hour

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	for _, a := range Actions {
		if string(a) == s {
			return a, nil
		}
	}
	return "", errs.Validationf("learning.ParseAction", "unknown action %q", s)
}

// Store is the persistence the loop reads and writes. It never modifies
// interaction rows.
type Store interface {
	ListFeedbackSince(ctx context.Context, since time.Time) ([]storage.InteractionLog, error)
	ListAcceptedConnectionsSince(ctx context.Context, since time.Time) ([]storage.Connection, error)
	UpsertModelPreference(ctx context.Context, p storage.ModelPreference) error
	SaveInsight(ctx context.Context, in storage.OptimizationInsight) error
}

// Invalidator is told when preferences change. Implemented by
// preference.Manager.
type Invalidator interface {
	Invalidate(ctx context.Context)
}

// Result is the outcome of one run.
type Result struct {
	Status        string             `json:"status"`
	Action        Action             `json:"action"`
	Insights      *Insights          `json:"insights,omitempty"`
	Optimization  *SuggestionSuccess `json:"optimization,omitempty"`
	UpdatedModels []string           `json:"updated_models,omitempty"`
}

// Option configures a Loop.
type Option func(*Loop)

// WithLookback sets the analysis window.
func WithLookback(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.lookback = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// WithInvalidator registers a cache to drop after writes.
func WithInvalidator(i Invalidator) Option {
	return func(l *Loop) { l.invalidator = i }
}

// WithMetrics records run outcomes in m.
func WithMetrics(m *metrics.Registry) Option {
	return func(l *Loop) { l.metrics = m }
}

// Loop runs learning actions.
type Loop struct {
	store       Store
	lookback    time.Duration
	now         func() time.Time
	invalidator Invalidator
	metrics     *metrics.Registry
	logger      *slog.Logger
}

// NewLoop creates a Loop over store.
func NewLoop(store Store, opts ...Option) *Loop {
	l := &Loop{
		store:    store,
		lookback: DefaultLookback,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Run executes one action. Store failures abort the run; the next run starts
// from scratch.
func (l *Loop) Run(ctx context.Context, action Action) (Result, error) {
	start := time.Now()
	var (
		res Result
		err error
	)
	switch action {
	case ActionAnalyzeFeedback:
		res, err = l.analyzeFeedback(ctx)
	case ActionUpdateModels:
		res, err = l.updateModels(ctx)
	case ActionGenerateInsights:
		var in Insights
		in, err = l.Insights(ctx)
		res = Result{Insights: &in}
	case ActionOptimizeSuggestions:
		res, err = l.optimizeSuggestionsResult(ctx)
	default:
		return Result{}, errs.Validationf("learning.Run", "unknown action %q", action)
	}

	if err != nil {
		l.metrics.ObserveLearning(string(action), "error")
		l.logger.Error("learning run failed", "action", action, "error", err)
		return Result{}, err
	}
	l.metrics.ObserveLearning(string(action), "success")
	l.logger.Info("learning run complete", "action", action, "duration", time.Since(start))
	res.Status = "success"
	res.Action = action
	return res, nil
}

// Insights analyzes the lookback window without writing anything.
func (l *Loop) Insights(ctx context.Context) (Insights, error) {
	end := l.now()
	start := end.Add(-l.lookback)
	rows, err := l.store.ListFeedbackSince(ctx, start)
	if err != nil {
		return Insights{}, errs.Storage("learning.Insights", err)
	}
	return analyze(rows, start, end), nil
}

func (l *Loop) analyzeFeedback(ctx context.Context) (Result, error) {
	in, err := l.Insights(ctx)
	if err != nil {
		return Result{}, err
	}
	if err := l.saveInsight(ctx, InsightFeedbackAnalysis, in); err != nil {
		return Result{}, err
	}
	return Result{Insights: &in}, nil
}

func (l *Loop) updateModels(ctx context.Context) (Result, error) {
	const op = "learning.UpdateModels"
	in, err := l.Insights(ctx)
	if err != nil {
		return Result{}, err
	}

	now := l.now()
	updated := make([]string, 0, len(in.ModelPerformance))
	for name, s := range in.ModelPerformance {
		p := storage.ModelPreference{
			ModelName:        name,
			PerformanceScore: s.AvgSatisfaction / 5,
			AvgSatisfaction:  s.AvgSatisfaction,
			HelpfulRate:      s.HelpfulRate,
			SampleCount:      s.Count,
			LastUpdated:      now,
		}
		if err := l.store.UpsertModelPreference(ctx, p); err != nil {
			return Result{}, errs.Storage(op, fmt.Errorf("upserting preference for %s: %w", name, err))
		}
		updated = append(updated, name)
	}
	sort.Strings(updated)

	snapshot := struct {
		BestModel        string                `json:"best_model,omitempty"`
		TotalFeedback    int                   `json:"total_feedback"`
		ModelPerformance map[string]ModelStats `json:"model_performance"`
		WindowStart      time.Time             `json:"window_start"`
		WindowEnd        time.Time             `json:"window_end"`
	}{in.BestModel, in.TotalFeedback, in.ModelPerformance, in.WindowStart, in.WindowEnd}
	if err := l.saveInsight(ctx, InsightModelPerformance, snapshot); err != nil {
		return Result{}, err
	}

	if in.BestModel != "" {
		l.logger.Info("preferred model updated", "model", in.BestModel, "avg_satisfaction", in.ModelPerformance[in.BestModel].AvgSatisfaction)
	}
	l.invalidate(ctx)
	return Result{Insights: &in, UpdatedModels: updated}, nil
}

func (l *Loop) optimizeSuggestions(ctx context.Context) (SuggestionSuccess, error) {
	end := l.now()
	start := end.Add(-l.lookback)
	conns, err := l.store.ListAcceptedConnectionsSince(ctx, start)
	if err != nil {
		return SuggestionSuccess{}, errs.Storage("learning.OptimizeSuggestions", err)
	}
	s := successByType(conns, start, end)
	if err := l.saveInsight(ctx, InsightSuggestionSuccess, s); err != nil {
		return SuggestionSuccess{}, err
	}
	l.invalidate(ctx)
	return s, nil
}

// optimizeSuggestionsResult reports the success stats both on their own and
// inside the window's insights.
func (l *Loop) optimizeSuggestionsResult(ctx context.Context) (Result, error) {
	s, err := l.optimizeSuggestions(ctx)
	if err != nil {
		return Result{}, err
	}
	in, err := l.Insights(ctx)
	if err != nil {
		return Result{}, err
	}
	in.SuggestionSuccess = &s
	return Result{Insights: &in, Optimization: &s}, nil
}

func (l *Loop) saveInsight(ctx context.Context, typ string, data any) error {
	const op = "learning.SaveInsight"
	b, err := json.Marshal(data)
	if err != nil {
		return errs.E(errs.KindInternal, op, "encoding insight", err)
	}
	err = l.store.SaveInsight(ctx, storage.OptimizationInsight{
		ID:           uuid.New().String(),
		Type:         typ,
		InsightsData: string(b),
		GeneratedAt:  l.now(),
	})
	if err != nil {
		return errs.Storage(op, err)
	}
	return nil
}

func (l *Loop) invalidate(ctx context.Context) {
	if l.invalidator != nil {
		l.invalidator.Invalidate(ctx)
	}
}
