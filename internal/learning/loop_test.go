package learning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/oracle/internal/errs"
	"github.com/kalambet/oracle/internal/storage"
)

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	st, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

type countingInvalidator struct{ calls int }

func (c *countingInvalidator) Invalidate(context.Context) { c.calls++ }

func fixedNow() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

func intp(n int) *int    { return &n }
func boolp(b bool) *bool { return &b }

func seedFeedback(t *testing.T, st *storage.Store, now time.Time, model, query string, sat int, helpful bool, age time.Duration) {
	t.Helper()
	id := fmt.Sprintf("%s-%d-%d", model, sat, age)
	require.NoError(t, st.SaveInteractionLog(context.Background(), storage.InteractionLog{
		ID:        id,
		ActorID:   "u1",
		Query:     query,
		ModelUsed: model,
		CreatedAt: now.Add(-age),
	}))
	require.NoError(t, st.UpdateInteractionFeedback(context.Background(), id, sat, boolp(helpful)))
}

func TestParseAction(t *testing.T) {
	for _, a := range Actions {
		got, err := ParseAction(string(a))
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}
	_, err := ParseAction("retrain_everything")
	assert.True(t, errs.Is(err, errs.KindValidation))
}

func TestRun_EmptyWindow(t *testing.T) {
	st := openStore(t)
	now := fixedNow()
	l := NewLoop(st, WithClock(func() time.Time { return now }))

	res, err := l.Run(context.Background(), ActionAnalyzeFeedback)
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)
	require.NotNil(t, res.Insights)
	assert.Equal(t, 0, res.Insights.TotalFeedback)
	assert.Empty(t, res.Insights.ModelPerformance)
	assert.NotNil(t, res.Insights.DailyTrend)
	assert.Empty(t, res.Insights.BestModel)

	snap, err := st.LatestInsight(context.Background(), InsightFeedbackAnalysis)
	require.NoError(t, err)
	assert.Contains(t, snap.InsightsData, `"total_feedback":0`)
}

func TestGenerateInsights_Aggregates(t *testing.T) {
	st := openStore(t)
	now := fixedNow()
	seedFeedback(t, st, now, "llama3.2", "looking for a mentor in biotech", 5, true, time.Hour)
	seedFeedback(t, st, now, "llama3.2", "need help with our api architecture", 3, false, 2*time.Hour)
	seedFeedback(t, st, now, "qwen2.5", "how do we pitch to an investor", 2, false, 26*time.Hour)
	// Outside the seven day window.
	seedFeedback(t, st, now, "qwen2.5", "old question", 1, false, 10*24*time.Hour)

	l := NewLoop(st, WithClock(func() time.Time { return now }))
	res, err := l.Run(context.Background(), ActionGenerateInsights)
	require.NoError(t, err)
	in := res.Insights
	require.NotNil(t, in)
	assert.Nil(t, in.SuggestionSuccess)

	assert.Equal(t, 3, in.TotalFeedback)
	assert.InDelta(t, 10.0/3.0, in.AvgSatisfaction, 1e-9)
	assert.Equal(t, SatisfactionDistribution{Excellent: 1, Good: 1, Poor: 1}, in.SatisfactionDistribution)

	llama := in.ModelPerformance["llama3.2"]
	assert.Equal(t, 2, llama.Count)
	assert.InDelta(t, 4.0, llama.AvgSatisfaction, 1e-9)
	assert.InDelta(t, 0.5, llama.HelpfulRate, 1e-9)
	assert.Equal(t, 1, in.ModelPerformance["qwen2.5"].Count)
	assert.Equal(t, "llama3.2", in.BestModel)

	assert.Equal(t, 1, in.CategoryPerformance[CategoryMentorship].Count)
	assert.Equal(t, 1, in.CategoryPerformance[CategoryTechnical].Count)
	assert.Equal(t, 1, in.CategoryPerformance[CategoryFunding].Count)

	var total int
	for i, p := range in.DailyTrend {
		total += p.Count
		if i > 0 {
			assert.Less(t, in.DailyTrend[i-1].Date, p.Date)
		}
	}
	assert.Equal(t, 3, total)

	_, err = st.LatestInsight(context.Background(), InsightFeedbackAnalysis)
	assert.ErrorIs(t, err, storage.ErrNotFound, "generate_insights must not persist")
}

func TestUpdateModels_UpsertsEveryModel(t *testing.T) {
	st := openStore(t)
	now := fixedNow()
	seedFeedback(t, st, now, "llama3.2", "find a cofounder", 5, true, time.Hour)
	seedFeedback(t, st, now, "llama3.2", "find a designer", 4, true, 2*time.Hour)
	seedFeedback(t, st, now, "qwen2.5", "find a mentor", 2, false, 3*time.Hour)

	inv := &countingInvalidator{}
	l := NewLoop(st, WithClock(func() time.Time { return now }), WithInvalidator(inv))
	res, err := l.Run(context.Background(), ActionUpdateModels)
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3.2", "qwen2.5"}, res.UpdatedModels)
	assert.Equal(t, 1, inv.calls)

	prefs, err := st.ListModelPreferences(context.Background())
	require.NoError(t, err)
	require.Len(t, prefs, 2)
	assert.Equal(t, "llama3.2", prefs[0].ModelName)
	assert.InDelta(t, 0.9, prefs[0].PerformanceScore, 1e-9)
	assert.Equal(t, 2, prefs[0].SampleCount)
	assert.InDelta(t, 0.4, prefs[1].PerformanceScore, 1e-9)

	snap, err := st.LatestInsight(context.Background(), InsightModelPerformance)
	require.NoError(t, err)
	assert.Contains(t, snap.InsightsData, `"best_model":"llama3.2"`)

	// Rerunning over the same data converges on the same rows.
	_, err = l.Run(context.Background(), ActionUpdateModels)
	require.NoError(t, err)
	again, err := st.ListModelPreferences(context.Background())
	require.NoError(t, err)
	assert.Equal(t, prefs[0].PerformanceScore, again[0].PerformanceScore)
	assert.Len(t, again, 2)
}

func TestOptimizeSuggestions_SuccessRates(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	now := fixedNow()

	for i := 0; i < 6; i++ {
		require.NoError(t, st.SaveConnection(ctx, storage.Connection{
			ID: fmt.Sprintf("m%d", i), RequesterID: "u1", TargetID: "u2",
			SuggestionType: "mentorship", Status: "accepted", Satisfaction: intp(4 + i%2),
			CreatedAt: now.Add(-time.Hour), UpdatedAt: now.Add(-time.Hour),
		}))
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, st.SaveConnection(ctx, storage.Connection{
			ID: fmt.Sprintf("s%d", i), RequesterID: "u1", TargetID: "u3",
			SuggestionType: "skill_exchange", Status: "accepted", Satisfaction: intp(2 + i%3),
			CreatedAt: now.Add(-time.Hour), UpdatedAt: now.Add(-time.Hour),
		}))
	}
	require.NoError(t, st.SaveConnection(ctx, storage.Connection{
		ID: "declined", RequesterID: "u1", TargetID: "u4", SuggestionType: "mentorship", Status: "declined",
	}))

	inv := &countingInvalidator{}
	l := NewLoop(st, WithClock(func() time.Time { return now }), WithInvalidator(inv))
	res, err := l.Run(ctx, ActionOptimizeSuggestions)
	require.NoError(t, err)
	opt := res.Optimization
	require.NotNil(t, opt)

	assert.Equal(t, 10, opt.TotalAccepted)
	assert.Equal(t, 1.0, opt.SuccessRate["mentorship"])
	// skill_exchange ratings 2,3,4,2: one success in four.
	assert.InDelta(t, 0.25, opt.SuccessRate["skill_exchange"], 1e-9)
	assert.Greater(t, opt.SuccessRate["mentorship"], opt.SuccessRate["skill_exchange"])
	assert.Equal(t, 1, inv.calls)

	// The same stats ride inside insights.
	require.NotNil(t, res.Insights)
	assert.Same(t, opt, res.Insights.SuggestionSuccess)
	b, err := json.Marshal(res)
	require.NoError(t, err)
	var wire struct {
		Insights struct {
			SuggestionSuccess struct {
				TotalAccepted int `json:"total_accepted"`
			} `json:"suggestion_success"`
		} `json:"insights"`
	}
	require.NoError(t, json.Unmarshal(b, &wire))
	assert.Equal(t, 10, wire.Insights.SuggestionSuccess.TotalAccepted)

	snap, err := st.LatestInsight(ctx, InsightSuggestionSuccess)
	require.NoError(t, err)
	var decoded struct {
		SuccessRate map[string]float64 `json:"success_rate"`
	}
	require.NoError(t, json.Unmarshal([]byte(snap.InsightsData), &decoded))
	assert.Equal(t, 1.0, decoded.SuccessRate["mentorship"])
}

type brokenStore struct{ *storage.Store }

func (brokenStore) ListFeedbackSince(context.Context, time.Time) ([]storage.InteractionLog, error) {
	return nil, errors.New("disk I/O error")
}

func TestRun_StoreFailure(t *testing.T) {
	l := NewLoop(brokenStore{openStore(t)})
	_, err := l.Run(context.Background(), ActionUpdateModels)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindStorage))
}

func TestRun_UnknownAction(t *testing.T) {
	l := NewLoop(openStore(t))
	_, err := l.Run(context.Background(), Action("nope"))
	assert.True(t, errs.Is(err, errs.KindValidation))
}

func TestScheduler_RunOnce(t *testing.T) {
	st := openStore(t)
	now := fixedNow()
	seedFeedback(t, st, now, "llama3.2", "find a mentor", 5, true, time.Hour)

	s := NewScheduler(NewLoop(st, WithClock(func() time.Time { return now })), 0)
	require.NoError(t, s.RunOnce(context.Background()))

	prefs, err := st.ListModelPreferences(context.Background())
	require.NoError(t, err)
	assert.Len(t, prefs, 1)
	_, err = st.LatestInsight(context.Background(), InsightSuggestionSuccess)
	assert.NoError(t, err)
}

func TestCategorize(t *testing.T) {
	cases := map[string]string{
		"We need a cofounder for our team":   CategoryTeamFormation,
		"Where can I learn Rust":             CategorySkills,
		"any advice for first time founders": CategoryMentorship,
		"database keeps timing out":          CategoryTechnical,
		"preparing an investor deck":         CategoryFunding,
		"hello":                              CategoryGeneral,
	}
	for q, want := range cases {
		assert.Equal(t, want, Categorize(q), q)
	}
}

func TestBestModel_TieBreaks(t *testing.T) {
	perf := map[string]ModelStats{
		"b": {Count: 3, AvgSatisfaction: 4},
		"a": {Count: 3, AvgSatisfaction: 4},
		"c": {Count: 5, AvgSatisfaction: 4},
	}
	assert.Equal(t, "c", bestModel(perf))
	delete(perf, "c")
	assert.Equal(t, "a", bestModel(perf))
	assert.Empty(t, bestModel(nil))
}
