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
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/stave/internal/api"
	"github.com/starford/stave/internal/apperr"
	"github.com/starford/stave/internal/bootstrap"
	"github.com/starford/stave/internal/metrics"
	"github.com/starford/stave/internal/sse"
	"github.com/starford/stave/internal/storage"
)

func newApplication(opts []Option) (*application, error) {
	app := &application{out: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// logger installs a structured JSON logger writing to w as the default.
func (a *application) logger(w io.Writer) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// workspaceRoot returns the absolute workspace root.
func (a *application) workspaceRoot() (string, error) {
	root, err := filepath.Abs(a.config.Workspace.Root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	return root, nil
}

func (a *application) factory(logger *slog.Logger, m *metrics.Metrics) *bootstrap.Factory {
	return bootstrap.New(storage.NewFS(),
		bootstrap.WithLogger(logger),
		bootstrap.WithMetrics(m),
		bootstrap.WithConcurrency(a.config.Workspace.Concurrency),
	)
}

// Run builds the index, keeps it current while vault files change and
// serves it over HTTP until ctx is cancelled or a signal arrives.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.logger(os.Stdout)

	root, err := app.workspaceRoot()
	if err != nil {
		return err
	}

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("workspace_root", root),
		slog.Int("vaults", len(cfg.Workspace.Vaults)),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.Bool("watch", cfg.Watch.Enabled),
		slog.String("log_level", cfg.App.LogLevel.String()))

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	session := app.factory(logger, m).NewSession(root, cfg.Workspace.Vaults, cfg.SQLite.Path)
	defer session.Close()

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()
	session.OnRebuild(func(res bootstrap.RebuildResult) {
		publishRebuild(broker, res)
	})

	apiRouter := api.NewRouter(session, api.Options{
		AuthEnabled: cfg.Auth.AuthEnabled(),
		Token:       cfg.Auth.Token,
		Metrics:     metricsHandler(m),
		Events:      broker,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Mount("/", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Build the index, then rebuild on change.
	g.Go(func() error {
		if err := session.Rebuild(gCtx); err != nil {
			logger.Error("Initial index build failed", slog.String("error", err.Error()))
		}
		if !cfg.Watch.Enabled {
			return nil
		}
		if err := session.Watch(gCtx, cfg.Watch.Debounce); err != nil {
			return fmt.Errorf("watcher: %w", err)
		}
		return nil
	})

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
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown ends the run group after the HTTP server has shut down.
var errShutdown = errors.New("shutdown")

func metricsHandler(m *metrics.Metrics) http.Handler {
	if m == nil {
		return nil
	}
	return m.Handler()
}

func publishRebuild(b *sse.Broker, res bootstrap.RebuildResult) {
	if len(res.Files) > 0 {
		b.PublishChange(len(res.Files))
	}
	ev := sse.Rebuild{
		Vaults: res.Stats.Vaults,
		Notes:  res.Stats.Notes,
		Stubs:  res.Stats.Stubs,
		Links:  res.Stats.Links,
		TookMs: res.Took.Milliseconds(),
		Files:  res.Files,
	}
	if res.Err != nil {
		ev.Status = string(apperr.StatusOf(res.Err))
		ev.Error = res.Err.Error()
	}
	b.PublishRebuild(ev)
}
