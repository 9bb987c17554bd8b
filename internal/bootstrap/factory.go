// Package bootstrap assembles index databases: it owns the store handle,
// runs the schema builder and the ingestion pipeline in order and exposes
// structural-schema discovery as a separate entry point.
package bootstrap

import (
	"context"
	"log/slog"
	"time"

	"github.com/starford/stave/internal/apperr"
	"github.com/starford/stave/internal/batch"
	"github.com/starford/stave/internal/index"
	"github.com/starford/stave/internal/metrics"
	"github.com/starford/stave/internal/models"
	"github.com/starford/stave/internal/schema"
	"github.com/starford/stave/internal/storage"
)

// Factory builds index databases from vaults read through a store.
type Factory struct {
	store   storage.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	limit   int
}

// Option is a functional option for configuring a Factory.
type Option func(*Factory)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Factory) {
		f.logger = l
	}
}

// WithMetrics records builds and discoveries on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Factory) {
		f.metrics = m
	}
}

// WithConcurrency caps how many vaults are processed at once.
func WithConcurrency(n int) Option {
	return func(f *Factory) {
		f.limit = n
	}
}

// New creates a Factory reading vault content through store.
func New(store storage.Store, opts ...Option) *Factory {
	f := &Factory{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateEmpty creates the empty relational schema at path.
func (f *Factory) CreateEmpty(ctx context.Context, path string) (*index.DB, error) {
	db, err := index.CreateEmptySchema(ctx, path)
	if err != nil {
		f.logger.Error("bootstrap: create schema failed", slog.String("path", path), slog.String("error", err.Error()))
		return nil, err
	}
	f.logger.Debug("bootstrap: schema created", slog.String("path", path))
	return db, nil
}

// CreateInitialized creates the schema at path and ingests every vault into
// it. The first failure is returned and the handle is closed.
func (f *Factory) CreateInitialized(ctx context.Context, workspaceRoot string, vaults []models.Vault, path string) (*index.DB, error) {
	db, _, err := f.Build(ctx, workspaceRoot, vaults, path)
	return db, err
}

// Build is CreateInitialized returning what was ingested.
func (f *Factory) Build(ctx context.Context, workspaceRoot string, vaults []models.Vault, path string) (*index.DB, index.Stats, error) {
	start := time.Now()
	db, err := f.CreateEmpty(ctx, path)
	if err != nil {
		f.metrics.ObserveRebuild(time.Since(start), err)
		return nil, index.Stats{}, err
	}

	stats, err := index.IngestWithStats(ctx, db, workspaceRoot, vaults, f.store,
		index.WithLogger(f.logger),
		index.WithConcurrency(f.limit),
		index.WithVaultHook(func(name string, s index.Stats) {
			f.metrics.ObserveVault(name, s.Notes, s.Stubs)
		}),
	)
	f.metrics.ObserveRebuild(time.Since(start), err)
	if err != nil {
		f.metrics.ObserveIngestFailure()
		f.logger.Error("bootstrap: ingestion failed",
			slog.String("status", string(apperr.StatusOf(err))),
			slog.String("error", err.Error()))
		db.Close()
		return nil, index.Stats{}, err
	}

	f.logger.Info("bootstrap: index built",
		slog.String("path", path),
		slog.Int("vaults", stats.Vaults),
		slog.Int("notes", stats.Notes),
		slog.Int("stubs", stats.Stubs),
		slog.Int("links", stats.Links),
		slog.Duration("took", time.Since(start)))
	return db, stats, nil
}

// DiscoverSchemas reads the structural schemas of every vault. It always
// returns the modules that parsed; the error is the composite of every
// problem met and is nil when there were none. Use apperr.IsFatal to tell
// a missing schema from a broken one.
func (f *Factory) DiscoverSchemas(ctx context.Context, workspaceRoot string, vaults []models.Vault) (map[string]*models.SchemaModule, error) {
	mods, err := schema.Discover(ctx, workspaceRoot, vaults, f.store, batch.WithLimit(f.limit))
	f.metrics.ObserveDiscovery(len(mods), err)

	for _, it := range apperr.ItemsOf(err) {
		level := slog.LevelInfo
		if it.IsFatal() {
			level = slog.LevelWarn
		}
		f.logger.Log(ctx, level, "bootstrap: schema discovery",
			slog.String("status", string(it.Status)),
			slog.String("severity", it.Severity.String()),
			slog.String("message", it.Message))
	}
	f.logger.Debug("bootstrap: schemas discovered", slog.Int("modules", len(mods)))
	return mods, err
}
