// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/starford/notidx/internal/api"
	"github.com/starford/notidx/internal/apperr"
	"github.com/starford/notidx/internal/extract"
	"github.com/starford/notidx/internal/index"
	"github.com/starford/notidx/internal/mcpserver"
	"github.com/starford/notidx/internal/models"
	"github.com/starford/notidx/internal/noteservice"
	"github.com/starford/notidx/internal/scheduler"
	"github.com/starford/notidx/internal/sse"
	"github.com/starford/notidx/internal/storage"
)

// runtime is the set of components shared by the HTTP and MCP entry points.
type runtime struct {
	logger *slog.Logger
	db     *index.DB
	fs     *storage.FS
	sched  *scheduler.Scheduler
	svc    *noteservice.Service
	broker *sse.Broker
}

func newRuntime(app *application, logOut io.Writer) (*runtime, error) {
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("payload_dir", cfg.Storage.PayloadDir),
		slog.Bool("office_enabled", cfg.Office.Enabled),
		slog.Bool("indexer_disabled", cfg.Indexer.Disabled),
		slog.String("log_level", cfg.App.LogLevel.String()))

	fs, err := storage.NewFS(cfg.Storage.PayloadDir, cfg.Storage.ScratchDir)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	db, err := index.Open(cfg.SQLite.Path, logger, index.WithCommitEvery(cfg.Indexer.CommitEvery))
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	office := extract.NewOffice(cfg.Office.Extract(), fs, logger)
	dispatcher := extract.NewDispatcher(extract.NewPDF(fs), office, logger)

	broker := sse.NewBroker(2 * time.Second)

	sched := scheduler.New(cfg.Indexer.Scheduler(), db, db, dispatcher, logger,
		scheduler.WithOffice(office),
		scheduler.WithReportHook(broker.PublishReport),
	)

	svc := noteservice.NewService(sched, db, fs, logger,
		noteservice.WithStateListener(broker.PublishState),
	)

	return &runtime{
		logger: logger,
		db:     db,
		fs:     fs,
		sched:  sched,
		svc:    svc,
		broker: broker,
	}, nil
}

func (rt *runtime) close() {
	rt.broker.Close()
	if err := rt.db.Close(); err != nil {
		rt.logger.Error("index close failed", slog.String("error", err.Error()))
	}
}

// watchPayloads re-flags the resource of every payload file that appears or
// changes on disk and wakes the scheduler.
func (rt *runtime) watchPayloads(ctx context.Context, debounce time.Duration) error {
	return index.WatchPayloads(ctx, rt.fs.Root(), debounce, rt.logger, func(changed []string) {
		for _, name := range changed {
			lid, ok := storage.LidFromName(name)
			if !ok {
				continue
			}
			err := rt.db.MarkIndexNeeded(ctx, models.ItemRef{Kind: models.ItemResource, Lid: lid})
			if err != nil && !errors.Is(err, apperr.ErrNotFound) {
				rt.logger.Warn("watcher: flag resource failed",
					slog.Int64("lid", lid),
					slog.String("error", err.Error()))
			}
		}
		rt.sched.Wake()
	})
}

// Run starts the indexer and the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	rt, err := newRuntime(app, os.Stdout)
	if err != nil {
		return err
	}
	defer rt.close()

	cfg := app.config
	logger := rt.logger

	apiRouter := api.NewRouter(rt.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, rt.broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := rt.db.Ping(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	// Start the indexing loop.
	g.Go(func() error {
		return rt.sched.Run(gCtx)
	})

	if cfg.Indexer.WatchPayloads {
		g.Go(func() error {
			if err := rt.watchPayloads(gCtx, cfg.Indexer.WatchDebounce); err != nil {
				// The timer still drives the scheduler without the watcher.
				logger.Warn("payload watcher unavailable", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		waitForShutdown(gCtx, logger)

		logger.Info("Shutting down server...")
		rt.sched.Stop()
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		// SSE streams only end when their clients go away or the broker closes.
		rt.broker.Close()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP starts the indexer and serves the MCP tools on stdin/stdout.
// Logs go to stderr because stdout carries the protocol.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	rt, err := newRuntime(app, os.Stderr)
	if err != nil {
		return err
	}
	defer rt.close()

	cfg := app.config
	logger := rt.logger
	srv := mcpserver.New(rt.svc, app.version)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return rt.sched.Run(gCtx)
	})

	if cfg.Indexer.WatchPayloads {
		g.Go(func() error {
			if err := rt.watchPayloads(gCtx, cfg.Indexer.WatchDebounce); err != nil {
				logger.Warn("payload watcher unavailable", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// ServeStdio returns on EOF or its own signal handling; the rest of the
	// group follows it down.
	g.Go(func() error {
		logger.Info("Starting MCP stdio server")
		defer func() {
			rt.sched.Stop()
			cancel()
		}()
		if err := srv.ServeStdio(); err != nil {
			return fmt.Errorf("MCP server error: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("MCP server stopped")
	return nil
}

func waitForShutdown(ctx context.Context, logger *slog.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, initiating shutdown")
	}
}
