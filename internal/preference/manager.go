// Package preference serves the learning loop's output to the request path:
// which model to generate with and which suggestion types have worked best.
package preference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kalambet/oracle/internal/storage"
)

// SuccessInsightType is the OptimizationInsight type holding per-type
// suggestion success rates.
const SuccessInsightType = "suggestion_success"

const cacheKey = "oracle:preferences:v1"

// Store defines the storage operations the Manager needs.
// Implemented by storage.Store.
type Store interface {
	ListModelPreferences(ctx context.Context) ([]storage.ModelPreference, error)
	LatestInsight(ctx context.Context, typ string) (storage.OptimizationInsight, error)
}

// Cache shares snapshots between replicas. Implemented by RedisCache.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// ModelScore is one model's learned performance.
type ModelScore struct {
	Model            string  `json:"model"`
	PerformanceScore float64 `json:"performance_score"`
	SampleCount      int     `json:"sample_count"`
}

// TypeScore is one suggestion type's success rate.
type TypeScore struct {
	Type        string  `json:"type"`
	SuccessRate float64 `json:"success_rate"`
}

// Snapshot is the cached view of the learning loop's output. Models and
// Types are ordered best first.
type Snapshot struct {
	Models []ModelScore `json:"models"`
	Types  []TypeScore  `json:"types"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithTTL sets how long a snapshot is served before reloading.
func WithTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// WithCache shares snapshots through c.
func WithCache(c Cache) Option {
	return func(m *Manager) { m.cache = c }
}

// Manager provides cached access to model preferences and suggestion type
// success rates.
type Manager struct {
	store        Store
	cache        Cache
	clock        Clock
	ttl          time.Duration
	defaultModel string
	candidates   map[string]bool

	mu       sync.RWMutex
	cached   *Snapshot
	cachedAt time.Time
}

// NewManager creates a Manager with a 60-second cache TTL. SelectModel only
// ever returns defaultModel or one of candidates; an empty candidate list
// admits every model the learning loop has scored.
func NewManager(store Store, defaultModel string, candidates []string, opts ...Option) *Manager {
	m := &Manager{
		store:        store,
		clock:        realClock{},
		ttl:          60 * time.Second,
		defaultModel: defaultModel,
		candidates:   make(map[string]bool, len(candidates)),
	}
	for _, c := range candidates {
		m.candidates[c] = true
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Snapshot returns the current preferences, reloading them once the TTL has
// elapsed.
func (m *Manager) Snapshot(ctx context.Context) (Snapshot, error) {
	// Fast path: read lock for cache hit.
	m.mu.RLock()
	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		s := copySnapshot(m.cached)
		m.mu.RUnlock()
		return s, nil
	}
	m.mu.RUnlock()

	// Slow path: write lock for cache miss.
	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock.
	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		return copySnapshot(m.cached), nil
	}

	s, err := m.load(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	m.cached = &s
	m.cachedAt = m.clock.Now()
	return copySnapshot(&s), nil
}

func (m *Manager) load(ctx context.Context) (Snapshot, error) {
	if m.cache != nil {
		var s Snapshot
		ok, err := m.cache.GetJSON(ctx, cacheKey, &s)
		if err != nil {
			slog.Warn("preference cache read failed, using store", "error", err)
		} else if ok {
			return s, nil
		}
	}

	s, err := m.loadFromStore(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	if m.cache != nil {
		if err := m.cache.SetJSON(ctx, cacheKey, s, m.ttl); err != nil {
			slog.Warn("preference cache write failed", "error", err)
		}
	}
	return s, nil
}

func (m *Manager) loadFromStore(ctx context.Context) (Snapshot, error) {
	prefs, err := m.store.ListModelPreferences(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("loading model preferences: %w", err)
	}
	var s Snapshot
	for _, p := range prefs {
		s.Models = append(s.Models, ModelScore{
			Model:            p.ModelName,
			PerformanceScore: p.PerformanceScore,
			SampleCount:      p.SampleCount,
		})
	}
	sort.SliceStable(s.Models, func(i, j int) bool {
		return s.Models[i].PerformanceScore > s.Models[j].PerformanceScore
	})

	in, err := m.store.LatestInsight(ctx, SuccessInsightType)
	if errors.Is(err, storage.ErrNotFound) {
		return s, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("loading %s insight: %w", SuccessInsightType, err)
	}
	var data struct {
		SuccessRate map[string]float64 `json:"success_rate"`
	}
	if err := json.Unmarshal([]byte(in.InsightsData), &data); err != nil {
		return Snapshot{}, fmt.Errorf("decoding %s insight %s: %w", SuccessInsightType, in.ID, err)
	}
	for typ, rate := range data.SuccessRate {
		s.Types = append(s.Types, TypeScore{Type: typ, SuccessRate: rate})
	}
	sort.Slice(s.Types, func(i, j int) bool {
		if s.Types[i].SuccessRate != s.Types[j].SuccessRate {
			return s.Types[i].SuccessRate > s.Types[j].SuccessRate
		}
		return s.Types[i].Type < s.Types[j].Type
	})
	return s, nil
}

// SelectModel returns the best-scoring allowed model with at least one
// observation, falling back to the default model. It never fails: a store
// error is logged and the default returned.
func (m *Manager) SelectModel(ctx context.Context) string {
	s, err := m.Snapshot(ctx)
	if err != nil {
		slog.Warn("loading model preferences failed, using default model", "model", m.defaultModel, "error", err)
		return m.defaultModel
	}
	for _, ms := range s.Models {
		if ms.SampleCount < 1 {
			continue
		}
		if len(m.candidates) > 0 && !m.candidates[ms.Model] && ms.Model != m.defaultModel {
			continue
		}
		return ms.Model
	}
	return m.defaultModel
}

// PreferredTypes returns suggestion types ordered by historical success
// rate, or nil when no success data exists yet.
func (m *Manager) PreferredTypes(ctx context.Context) []string {
	s, err := m.Snapshot(ctx)
	if err != nil {
		slog.Warn("loading suggestion type preferences failed", "error", err)
		return nil
	}
	if len(s.Types) == 0 {
		return nil
	}
	out := make([]string, len(s.Types))
	for i, t := range s.Types {
		out[i] = t.Type
	}
	return out
}

// Invalidate drops the local and shared snapshot so the next read reloads
// from the store. The learning loop calls it after writing new output.
func (m *Manager) Invalidate(ctx context.Context) {
	m.mu.Lock()
	m.cached = nil
	m.mu.Unlock()
	if m.cache != nil {
		if err := m.cache.Del(ctx, cacheKey); err != nil {
			slog.Warn("preference cache invalidation failed", "error", err)
		}
	}
}

func copySnapshot(s *Snapshot) Snapshot {
	return Snapshot{
		Models: append([]ModelScore(nil), s.Models...),
		Types:  append([]TypeScore(nil), s.Types...),
	}
}
