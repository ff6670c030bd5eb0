// Package interaction records answered suggestion requests and the feedback
// users give on them. Recording is best effort: a failure here is logged and
// counted but never reaches the caller of the request it describes.
package interaction

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/oracle/internal/errs"
	"github.com/kalambet/oracle/internal/ingest"
	"github.com/kalambet/oracle/internal/metrics"
	"github.com/kalambet/oracle/internal/storage"
)

// DefaultMaxPending bounds the embed_interaction backlog.
const DefaultMaxPending = 1000

// Entry describes one suggestion request. Err is set for requests that
// failed or timed out; such entries keep whatever partial data exists.
type Entry struct {
	ActorID         string
	SubjectID       string
	Query           string
	Response        string // JSON-encoded suggestion response
	ModelUsed       string
	Confidence      float64
	EvidenceCount   int
	SimilarityScore float64
	ProcessingTime  time.Duration
	Err             error
}

// Store is the persistence the logger needs.
type Store interface {
	SaveInteractionLog(ctx context.Context, l storage.InteractionLog) error
	GetInteractionLog(ctx context.Context, id string) (storage.InteractionLog, error)
	UpdateInteractionFeedback(ctx context.Context, id string, satisfaction int, helpful *bool) error
	EnqueueJob(ctx context.Context, job storage.Job) error
	CountPendingJobs(ctx context.Context, types []string) (int, error)
}

// Option configures a Logger.
type Option func(*Logger)

// WithMaxPending caps queued embed_interaction jobs. Entries recorded while
// the queue is full are stored but not embedded.
func WithMaxPending(n int) Option {
	return func(l *Logger) {
		if n > 0 {
			l.maxPending = n
		}
	}
}

// WithMetrics counts logging failures in m.
func WithMetrics(m *metrics.Registry) Option {
	return func(l *Logger) { l.metrics = m }
}

// Logger writes interaction rows and schedules their embedding.
type Logger struct {
	store      Store
	maxPending int
	metrics    *metrics.Registry
	logger     *slog.Logger
	now        func() time.Time
}

// NewLogger creates a Logger over store.
func NewLogger(store Store, opts ...Option) *Logger {
	l := &Logger{
		store:      store,
		maxPending: DefaultMaxPending,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Record persists e and returns the new log ID, or "" when the row could not
// be written. It never fails the caller. Completed entries are queued for
// embedding so later requests can retrieve them as evidence.
func (l *Logger) Record(ctx context.Context, e Entry) string {
	id := uuid.New().String()
	row := storage.InteractionLog{
		ID:              id,
		ActorID:         e.ActorID,
		SubjectID:       e.SubjectID,
		Query:           e.Query,
		Response:        e.Response,
		ModelUsed:       e.ModelUsed,
		Confidence:      e.Confidence,
		EvidenceCount:   e.EvidenceCount,
		SimilarityScore: e.SimilarityScore,
		ProcessingMS:    e.ProcessingTime.Milliseconds(),
		Status:          "completed",
		CreatedAt:       l.now(),
	}
	if e.Err != nil {
		row.Status = "failed"
		row.Error = e.Err.Error()
	}

	if err := l.store.SaveInteractionLog(ctx, row); err != nil {
		l.fail("record", errs.Logging("interaction.Record", err), "actor_id", e.ActorID)
		return ""
	}
	if row.Status != "completed" {
		return id
	}

	pending, err := l.store.CountPendingJobs(ctx, []string{ingest.JobEmbedInteraction})
	if err != nil {
		l.fail("enqueue", errs.Logging("interaction.Record", err), "log_id", id)
		return id
	}
	if pending >= l.maxPending {
		l.fail("queue_full", errs.Logging("interaction.Record", errors.New("embedding queue full")),
			"log_id", id, "pending", pending)
		return id
	}
	if _, err := ingest.Enqueue(ctx, l.store, ingest.JobEmbedInteraction, ingest.InteractionPayload{LogID: id}, 0); err != nil {
		l.fail("enqueue", errs.Logging("interaction.Record", err), "log_id", id)
	}
	return id
}

func (l *Logger) fail(stage string, err error, args ...any) {
	l.metrics.LoggingFailure(stage)
	l.logger.Warn("interaction logging failed", append([]any{"stage", stage, "error", err}, args...)...)
}

// Feedback attaches a 1-5 satisfaction rating and an optional helpful flag to
// a recorded interaction.
func (l *Logger) Feedback(ctx context.Context, id string, satisfaction int, helpful *bool) error {
	const op = "interaction.Feedback"
	if id == "" {
		return errs.Validationf(op, "interaction id is required")
	}
	if satisfaction < 1 || satisfaction > 5 {
		return errs.Validationf(op, "satisfaction must be between 1 and 5, got %d", satisfaction)
	}
	err := l.store.UpdateInteractionFeedback(ctx, id, satisfaction, helpful)
	if errors.Is(err, storage.ErrNotFound) {
		return errs.NotFound(op, "interaction "+id)
	}
	if err != nil {
		return errs.Storage(op, err)
	}
	return nil
}

// Get returns a recorded interaction.
func (l *Logger) Get(ctx context.Context, id string) (storage.InteractionLog, error) {
	const op = "interaction.Get"
	row, err := l.store.GetInteractionLog(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.InteractionLog{}, errs.NotFound(op, "interaction "+id)
	}
	if err != nil {
		return storage.InteractionLog{}, errs.Storage(op, err)
	}
	return row, nil
}
