package learning

import (
	"sort"
	"strings"
	"time"

	"github.com/kalambet/oracle/internal/storage"
)

// Query categories, checked in this order; the first keyword hit wins.
const (
	CategoryTeamFormation = "team_formation"
	CategorySkills        = "skills"
	CategoryMentorship    = "mentorship"
	CategoryTechnical     = "technical"
	CategoryFunding       = "funding"
	CategoryGeneral       = "general"
)

var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{CategoryTeamFormation, []string{"team", "cofounder", "co-founder", "hire", "hiring", "recruit", "join"}},
	{CategorySkills, []string{"skill", "learn", "training", "workshop", "course", "teach"}},
	{CategoryMentorship, []string{"mentor", "advice", "advisor", "coach", "guidance"}},
	{CategoryTechnical, []string{"code", "bug", "api", "architecture", "deploy", "database", "hardware", "software", "technical"}},
	{CategoryFunding, []string{"fund", "investor", "grant", "pitch", "raise", "capital", "money"}},
}

// Categorize buckets a query by keyword.
func Categorize(query string) string {
	q := strings.ToLower(query)
	for _, c := range categoryKeywords {
		for _, kw := range c.keywords {
			if strings.Contains(q, kw) {
				return c.category
			}
		}
	}
	return CategoryGeneral
}

// SatisfactionDistribution buckets ratings: excellent >= 4, good = 3, poor <= 2.
type SatisfactionDistribution struct {
	Excellent int `json:"excellent"`
	Good      int `json:"good"`
	Poor      int `json:"poor"`
}

// ModelStats is one model's feedback summary.
type ModelStats struct {
	Count           int     `json:"count"`
	AvgSatisfaction float64 `json:"avg_satisfaction"`
	HelpfulRate     float64 `json:"helpful_rate"`
}

// CategoryStats is one query category's feedback summary.
type CategoryStats struct {
	Count           int     `json:"count"`
	AvgSatisfaction float64 `json:"avg_satisfaction"`
}

// DailyPoint is the mean rating of one UTC day.
type DailyPoint struct {
	Date            string  `json:"date"`
	AvgSatisfaction float64 `json:"avg_satisfaction"`
	Count           int     `json:"count"`
}

// Insights summarizes the feedback in a lookback window. An empty window
// yields zero counts and empty, non-nil collections.
type Insights struct {
	TotalFeedback            int                      `json:"total_feedback"`
	AvgSatisfaction          float64                  `json:"avg_satisfaction"`
	SatisfactionDistribution SatisfactionDistribution `json:"satisfaction_distribution"`
	ModelPerformance         map[string]ModelStats    `json:"model_performance"`
	CategoryPerformance      map[string]CategoryStats `json:"category_performance"`
	DailyTrend               []DailyPoint             `json:"daily_trend"`
	BestModel                string                   `json:"best_model,omitempty"`
	WindowStart              time.Time                `json:"window_start"`
	WindowEnd                time.Time                `json:"window_end"`
	// Set only by the optimize_suggestions action.
	SuggestionSuccess *SuggestionSuccess `json:"suggestion_success,omitempty"`
}

// TypeOutcome is the acceptance record of one suggestion type.
type TypeOutcome struct {
	Accepted    int     `json:"accepted"`
	Successful  int     `json:"successful"`
	SuccessRate float64 `json:"success_rate"`
}

// SuggestionSuccess is the per-type success of accepted connections. A
// connection is successful when rated 4 or higher.
type SuggestionSuccess struct {
	TotalAccepted int                    `json:"total_accepted"`
	Types         map[string]TypeOutcome `json:"types"`
	SuccessRate   map[string]float64     `json:"success_rate"`
	WindowStart   time.Time              `json:"window_start"`
	WindowEnd     time.Time              `json:"window_end"`
}

type running struct {
	count   int
	sum     int
	helpful int
}

func (r running) avg() float64 {
	if r.count == 0 {
		return 0
	}
	return float64(r.sum) / float64(r.count)
}

// analyze folds rated interactions into Insights. Rows without a rating are
// ignored.
func analyze(rows []storage.InteractionLog, start, end time.Time) Insights {
	in := Insights{
		ModelPerformance:    map[string]ModelStats{},
		CategoryPerformance: map[string]CategoryStats{},
		DailyTrend:          []DailyPoint{},
		WindowStart:         start.UTC(),
		WindowEnd:           end.UTC(),
	}

	var total running
	models := map[string]*running{}
	categories := map[string]*running{}
	days := map[string]*running{}

	for _, row := range rows {
		if row.Satisfaction == nil {
			continue
		}
		sat := *row.Satisfaction
		helpful := row.Helpful != nil && *row.Helpful

		switch {
		case sat >= 4:
			in.SatisfactionDistribution.Excellent++
		case sat == 3:
			in.SatisfactionDistribution.Good++
		default:
			in.SatisfactionDistribution.Poor++
		}

		model := row.ModelUsed
		if model == "" {
			model = "unknown"
		}
		add(&total, sat, helpful)
		add(bucket(models, model), sat, helpful)
		add(bucket(categories, Categorize(row.Query)), sat, helpful)
		add(bucket(days, row.CreatedAt.UTC().Format("2006-01-02")), sat, helpful)
	}

	in.TotalFeedback = total.count
	in.AvgSatisfaction = total.avg()

	for name, r := range models {
		in.ModelPerformance[name] = ModelStats{
			Count:           r.count,
			AvgSatisfaction: r.avg(),
			HelpfulRate:     float64(r.helpful) / float64(r.count),
		}
	}
	for name, r := range categories {
		in.CategoryPerformance[name] = CategoryStats{Count: r.count, AvgSatisfaction: r.avg()}
	}
	for day, r := range days {
		in.DailyTrend = append(in.DailyTrend, DailyPoint{Date: day, AvgSatisfaction: r.avg(), Count: r.count})
	}
	sort.Slice(in.DailyTrend, func(i, j int) bool { return in.DailyTrend[i].Date < in.DailyTrend[j].Date })

	in.BestModel = bestModel(in.ModelPerformance)
	return in
}

// bestModel picks the highest average satisfaction; ties go to the model
// with more samples, then to the lexically smaller name.
func bestModel(perf map[string]ModelStats) string {
	best := ""
	for name, s := range perf {
		if best == "" {
			best = name
			continue
		}
		b := perf[best]
		switch {
		case s.AvgSatisfaction > b.AvgSatisfaction,
			s.AvgSatisfaction == b.AvgSatisfaction && s.Count > b.Count,
			s.AvgSatisfaction == b.AvgSatisfaction && s.Count == b.Count && name < best:
			best = name
		}
	}
	return best
}

// successByType folds accepted connections into per-type success rates.
func successByType(conns []storage.Connection, start, end time.Time) SuggestionSuccess {
	out := SuggestionSuccess{
		Types:       map[string]TypeOutcome{},
		SuccessRate: map[string]float64{},
		WindowStart: start.UTC(),
		WindowEnd:   end.UTC(),
	}
	for _, c := range conns {
		typ := c.SuggestionType
		if typ == "" {
			typ = CategoryGeneral
		}
		t := out.Types[typ]
		t.Accepted++
		if c.Satisfaction != nil && *c.Satisfaction >= 4 {
			t.Successful++
		}
		out.Types[typ] = t
		out.TotalAccepted++
	}
	for typ, t := range out.Types {
		t.SuccessRate = float64(t.Successful) / float64(t.Accepted)
		out.Types[typ] = t
		out.SuccessRate[typ] = t.SuccessRate
	}
	return out
}

func bucket(m map[string]*running, key string) *running {
	r, ok := m[key]
	if !ok {
		r = &running{}
		m[key] = r
	}
	return r
}

func add(r *running, sat int, helpful bool) {
	r.count++
	r.sum += sat
	if helpful {
		r.helpful++
	}
}
