// Package api exposes the oracle over HTTP and MCP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/oracle/internal/learning"
	"github.com/kalambet/oracle/internal/metrics"
	"github.com/kalambet/oracle/internal/oracle"
	"github.com/kalambet/oracle/internal/retrieval"
	"github.com/kalambet/oracle/internal/storage"
)

const (
	defaultMaxBodyBytes = 1 << 20  // 1MB
	maxContentBodyBytes = 10 << 20 // 10MB, base64 documents
)

// Indexer embeds and stores a document. Implemented by retrieval.Retriever.
type Indexer interface {
	Index(ctx context.Context, doc retrieval.Document) error
}

// Searcher runs semantic search. Implemented by retrieval.Retriever.
type Searcher interface {
	Search(ctx context.Context, query string, k int, f retrieval.Filter) ([]retrieval.Hit, error)
}

// Suggester produces suggestions. Implemented by oracle.Generator.
type Suggester interface {
	Suggest(ctx context.Context, req oracle.Request) (oracle.Result, error)
}

// Learner runs learning loop actions. Implemented by learning.Loop.
type Learner interface {
	Run(ctx context.Context, action learning.Action) (learning.Result, error)
}

// FeedbackRecorder attaches ratings to interactions. Implemented by
// interaction.Logger.
type FeedbackRecorder interface {
	Feedback(ctx context.Context, id string, satisfaction int, helpful *bool) error
}

// Store is the relational persistence the handlers write to directly.
type Store interface {
	Ping(ctx context.Context) error
	SaveContent(ctx context.Context, c storage.ContentRecord) error
	EnqueueJob(ctx context.Context, job storage.Job) error
	SaveConnection(ctx context.Context, c storage.Connection) error
	UpdateConnection(ctx context.Context, id, status string, satisfaction *int) error
}

// Deps holds everything the HTTP surface calls into.
type Deps struct {
	Indexer   Indexer
	Searcher  Searcher
	Suggester Suggester
	Learner   Learner
	Feedback  FeedbackRecorder
	Store     Store
	Metrics   *metrics.Registry

	Version        string
	MaxBodyBytes   int64 // 0 means 1MB
	JobMaxAttempts int   // 0 keeps the queue default
	SearchK        int   // results when a search omits k; 0 means retrieval.DefaultK
}

// searchK resolves a requested result count against the configured default
// and the hard cap.
func (d Deps) searchK(requested int) int {
	if requested <= 0 {
		requested = d.SearchK
	}
	return retrieval.ClampK(requested)
}

func (d Deps) maxBody() int64 {
	if d.MaxBodyBytes > 0 {
		return d.MaxBodyBytes
	}
	return defaultMaxBodyBytes
}

// NewHandler builds the router: the JSON API, /health, /metrics and the
// streamable MCP endpoint at /mcp.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Metrics))
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth(deps))
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	r.Post("/embed", handleEmbed(deps))
	r.Post("/search", handleSearch(deps))
	r.Post("/suggest", handleSuggest(deps))
	r.Post("/learning-loop", handleLearningLoop(deps))
	r.Post("/interactions/{id}/feedback", handleFeedback(deps))
	r.Post("/content", handleContent(deps))
	r.Post("/connections", handleCreateConnection(deps))
	r.Patch("/connections/{id}", handleUpdateConnection(deps))

	r.Handle("/mcp", server.NewStreamableHTTPServer(NewMCPServer(deps)))

	return r
}

// requestLogger logs one line per request and feeds the HTTP metrics. The
// route label is the chi pattern, so path parameters do not explode
// cardinality.
func requestLogger(m *metrics.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			elapsed := time.Since(start)
			m.ObserveHTTP(route, r.Method, status, elapsed)

			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			slog.Log(r.Context(), level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration", elapsed,
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
