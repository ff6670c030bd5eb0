package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/kalambet/oracle/internal/metrics"
	"github.com/kalambet/oracle/internal/retrieval"
	"github.com/kalambet/oracle/internal/storage"
)

// JobStore abstracts the job queue operations and the rows jobs refer to.
type JobStore interface {
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
	GetInteractionLog(ctx context.Context, id string) (storage.InteractionLog, error)
	GetContent(ctx context.Context, id string) (storage.ContentRecord, error)
}

// Indexer embeds a document and upserts it into the vector store.
type Indexer interface {
	Index(ctx context.Context, doc retrieval.Document) error
}

// Option configures a Worker.
type Option func(*Worker)

// WithConcurrency sets how many jobs are processed at once.
func WithConcurrency(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithMetrics records job outcomes in m.
func WithMetrics(m *metrics.Registry) Option {
	return func(w *Worker) { w.metrics = m }
}

// Worker processes embedding jobs from the SQLite job queue.
type Worker struct {
	store       JobStore
	indexer     Indexer
	poll        time.Duration
	concurrency int
	metrics     *metrics.Registry
	logger      *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, indexer Indexer, pollInterval time.Duration, opts ...Option) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	w := &Worker{
		store:       store,
		indexer:     indexer,
		poll:        pollInterval,
		concurrency: 1,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Run polls for jobs with the configured number of goroutines until ctx is
// cancelled. It returns once every goroutine has stopped.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx)
		}()
	}
	wg.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single embedding job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, JobTypes)
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "type", job.Type, "attempt", job.Attempts+1, "error", err)
		w.metrics.ObserveJob(job.Type, "failed")
		// Bookkeeping must survive a cancelled run context.
		if failErr := w.store.FailJob(context.WithoutCancel(ctx), job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	w.metrics.ObserveJob(job.Type, "completed")
	if err := w.store.CompleteJob(context.WithoutCancel(ctx), job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	switch job.Type {
	case JobEmbedInteraction:
		var p InteractionPayload
		if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
			return fmt.Errorf("parsing payload: %w", err)
		}
		return w.embedInteraction(ctx, p.LogID)
	case JobEmbedContent:
		var p ContentPayload
		if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
			return fmt.Errorf("parsing payload: %w", err)
		}
		return w.embedContent(ctx, p.ContentID)
	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}

func (w *Worker) embedInteraction(ctx context.Context, logID string) error {
	l, err := w.store.GetInteractionLog(ctx, logID)
	if err != nil {
		return fmt.Errorf("loading interaction %s: %w", logID, err)
	}
	// Failed requests have no answer worth retrieving later.
	if l.Status != "completed" || l.Response == "" {
		w.logger.Debug("skipping interaction without answer", "log_id", logID, "status", l.Status)
		return nil
	}

	doc := retrieval.Document{
		Table: retrieval.TableInteractions,
		ID:    l.ID,
		Title: "Q: " + truncateRunes(l.Query, 80),
		Text:  "Q: " + l.Query + "\nA: " + answerText(l.Response),
	}
	if err := w.indexer.Index(ctx, doc); err != nil {
		return fmt.Errorf("indexing interaction %s: %w", logID, err)
	}
	return nil
}

func (w *Worker) embedContent(ctx context.Context, contentID string) error {
	c, err := w.store.GetContent(ctx, contentID)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("content %s no longer exists", contentID)
	}
	if err != nil {
		return fmt.Errorf("loading content %s: %w", contentID, err)
	}

	doc := retrieval.Document{
		Table:      retrieval.TableContent,
		ID:         c.ID,
		Title:      c.Title,
		Text:       c.Text,
		Visibility: c.RoleVisibility,
	}
	if err := w.indexer.Index(ctx, doc); err != nil {
		return fmt.Errorf("indexing content %s: %w", contentID, err)
	}
	return nil
}

// answerText renders a stored suggestion response as plain prose so the
// embedded Q&A pair reads like the question it answers.
func answerText(response string) string {
	var r struct {
		Suggestions []struct {
			TargetName  string `json:"targetName"`
			RoleOrSkill string `json:"roleOrSkill"`
			Rationale   string `json:"rationale"`
		} `json:"suggestions"`
		Actions []struct {
			Message string `json:"message"`
			Why     string `json:"why"`
		} `json:"actions"`
		Meta struct {
			Explanation string `json:"explanation"`
		} `json:"meta"`
	}
	if err := json.Unmarshal([]byte(response), &r); err != nil {
		return response
	}

	var parts []string
	for _, s := range r.Suggestions {
		line := s.RoleOrSkill
		if s.TargetName != "" {
			line = s.TargetName + " (" + s.RoleOrSkill + ")"
		}
		if s.Rationale != "" {
			line += ": " + s.Rationale
		}
		parts = append(parts, line)
	}
	for _, a := range r.Actions {
		line := a.Message
		if a.Why != "" {
			line += " (" + a.Why + ")"
		}
		parts = append(parts, line)
	}
	if r.Meta.Explanation != "" {
		parts = append(parts, r.Meta.Explanation)
	}
	if len(parts) == 0 {
		return response
	}
	return strings.Join(parts, "\n")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}
