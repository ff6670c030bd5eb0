package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/oracle/internal/api"
	"github.com/kalambet/oracle/internal/composer"
	"github.com/kalambet/oracle/internal/config"
	"github.com/kalambet/oracle/internal/engine"
	"github.com/kalambet/oracle/internal/graph"
	"github.com/kalambet/oracle/internal/ingest"
	"github.com/kalambet/oracle/internal/interaction"
	"github.com/kalambet/oracle/internal/learning"
	"github.com/kalambet/oracle/internal/metrics"
	"github.com/kalambet/oracle/internal/oracle"
	"github.com/kalambet/oracle/internal/preference"
	"github.com/kalambet/oracle/internal/retrieval"
	"github.com/kalambet/oracle/internal/storage"
)

const shutdownTimeout = 10 * time.Second

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the oracle server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		slog.SetDefault(newLogger(cfg.Log))

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServer(ctx, cfg, os.Stderr)
	},
}

// app is the assembled server: the HTTP handler plus the background loops
// that must run alongside it.
type app struct {
	handler   http.Handler
	worker    *ingest.Worker
	scheduler *learning.Scheduler
	closers   []io.Closer
}

func (a *app) Close() error {
	var errList []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

// runBackground starts the ingest worker and the learning scheduler. The
// returned stop cancels both and blocks until they have returned.
func (a *app) runBackground(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.worker.Run(ctx)
	}()
	if a.scheduler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.scheduler.Run(ctx)
		}()
	}
	return func() {
		cancel()
		wg.Wait()
	}
}

// buildApp wires every component from cfg around an already detected engine.
func buildApp(ctx context.Context, cfg config.Config, eng engine.Engine) (*app, error) {
	a := &app{}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a.closers = append(a.closers, store)

	var vectors retrieval.VectorStore
	switch cfg.Storage.VectorBackend {
	case "pgvector":
		pg, err := retrieval.OpenPGVector(ctx, cfg.Storage.PostgresDSN, cfg.Engine.EmbedDimensions)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("opening pgvector: %w", err)
		}
		a.closers = append(a.closers, pg)
		vectors = pg
	default:
		vectors = retrieval.NewSQLiteStore(store.DB())
	}

	reg := metrics.New()

	embedder := retrieval.NewEmbedder(eng, cfg.Engine.EmbedModel,
		retrieval.WithDimensions(cfg.Engine.EmbedDimensions),
		retrieval.WithRateLimit(cfg.Engine.EmbedRPS, int(cfg.Engine.EmbedRPS)),
		retrieval.WithEmbedMetrics(reg),
	)
	retriever := retrieval.NewRetriever(embedder, vectors)

	prefOpts := []preference.Option{preference.WithTTL(cfg.Preferences.RefreshInterval)}
	if cfg.Preferences.RedisURL != "" {
		cache, err := preference.OpenRedis(ctx, cfg.Preferences.RedisURL)
		if err != nil {
			slog.Warn("preference cache unavailable, using in-process cache only", "error", err)
		} else {
			a.closers = append(a.closers, cache)
			prefOpts = append(prefOpts, preference.WithCache(cache))
		}
	}
	prefs := preference.NewManager(store, cfg.Engine.ChatModel, cfg.Engine.CandidateModels, prefOpts...)

	recorder := interaction.NewLogger(store,
		interaction.WithMaxPending(cfg.Worker.MaxPending),
		interaction.WithMetrics(reg),
	)

	temperature := cfg.Engine.Temperature
	gen := oracle.NewGenerator(oracle.Deps{
		Searcher:  retriever,
		Neighbors: graph.NewResolver(store),
		Engine:    eng,
		Composer:  composer.New(cfg.Retrieval.ContextBudget),
		Models:    prefs,
		Recorder:  recorder,
		Metrics:   reg,
	}, oracle.Config{
		DefaultEvidenceLimit: cfg.Retrieval.SuggestK,
		Retry: oracle.RetryPolicy{
			MaxAttempts: cfg.Generation.MaxAttempts,
			Backoff:     cfg.Generation.Backoff,
			MaxBackoff:  8 * cfg.Generation.Backoff,
		},
		RepairPrompt: cfg.Generation.RepairPrompt,
		Temperature:  &temperature,
	})

	loop := learning.NewLoop(store,
		learning.WithLookback(cfg.Lookback()),
		learning.WithInvalidator(prefs),
		learning.WithMetrics(reg),
	)
	if cfg.Learning.Enabled {
		a.scheduler = learning.NewScheduler(loop, cfg.Learning.Interval)
	}

	a.worker = ingest.NewWorker(store, retriever, cfg.Worker.PollInterval,
		ingest.WithConcurrency(cfg.Worker.Concurrency),
		ingest.WithMetrics(reg),
	)

	a.handler = api.NewHandler(api.Deps{
		Indexer:        retriever,
		Searcher:       retriever,
		Suggester:      timeoutSuggester{next: gen, timeout: cfg.Generation.Timeout},
		Learner:        loop,
		Feedback:       recorder,
		Store:          store,
		Metrics:        reg,
		Version:        version,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		JobMaxAttempts: cfg.Worker.MaxAttempts,
		SearchK:        cfg.Retrieval.SearchK,
	})
	return a, nil
}

// runServer detects the engine, serves until ctx is cancelled and then shuts
// down gracefully. Engine progress output goes to w.
func runServer(ctx context.Context, cfg config.Config, w io.Writer) error {
	slog.Info("starting", "version", versionString(), "provider", cfg.Engine.Provider, "vector_backend", cfg.Storage.VectorBackend)

	eng, err := engine.Detect(engine.DetectConfig{
		Provider:      cfg.Engine.Provider,
		OllamaBaseURL: cfg.Engine.OllamaURL,
		OpenAI: engine.OpenAIConfig{
			BaseURL:    cfg.Engine.OpenAIBaseURL,
			APIKey:     cfg.Engine.OpenAIAPIKey,
			Dimensions: cfg.Engine.EmbedDimensions,
			Timeout:    cfg.Engine.RequestTimeout,
		},
	})
	if err != nil {
		return fmt.Errorf("detecting inference engine: %w", err)
	}
	models := append([]string{cfg.Engine.ChatModel, cfg.Engine.EmbedModel}, cfg.Engine.CandidateModels...)
	if err := engine.EnsureReady(ctx, eng, models, w); err != nil {
		return err
	}

	a, err := buildApp(ctx, cfg, eng)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("closing resources", "error", err)
		}
	}()

	// Deferred after Close so the loops stop before their stores close.
	stopBackground := a.runBackground(ctx)
	defer stopBackground()

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// timeoutSuggester bounds every suggestion request, retries included.
type timeoutSuggester struct {
	next    api.Suggester
	timeout time.Duration
}

func (s timeoutSuggester) Suggest(ctx context.Context, req oracle.Request) (oracle.Result, error) {
	if s.timeout <= 0 {
		return s.next.Suggest(ctx, req)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.next.Suggest(ctx, req)
}
