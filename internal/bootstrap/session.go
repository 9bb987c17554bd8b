package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/starford/stave/internal/apperr"
	"github.com/starford/stave/internal/index"
	"github.com/starford/stave/internal/models"
	"github.com/starford/stave/internal/vault"
)

// ErrNotReady is returned by Session reads before the first build.
var ErrNotReady = errors.New("bootstrap: index not built yet")

// handle is one built index and the readers still holding it.
type handle struct {
	db      *index.DB
	readers sync.WaitGroup
}

// retire waits for the readers of h to finish, then closes it.
func (h *handle) retire() error {
	h.readers.Wait()
	return h.db.Close()
}

// Session keeps the current index of a workspace and rebuilds it from
// scratch on demand. Readers always see a complete index: a rebuild goes
// into a fresh store that replaces the old one only once it succeeded, and
// the old one is closed after its last reader released it.
type Session struct {
	factory       *Factory
	workspaceRoot string
	vaults        []models.Vault
	path          string

	buildMu sync.Mutex

	hooks []func(RebuildResult)

	// mu guards cur and the build results. Readers are registered on cur
	// while holding it, so a handle swapped out gains no new readers.
	mu        sync.RWMutex
	cur       *handle
	stats     index.Stats
	builtAt   time.Time
	schemas   map[string]*models.SchemaModule
	schemaErr error
}

// NewSession creates a session for the given workspace. Nothing is built
// until Rebuild is called.
func (f *Factory) NewSession(workspaceRoot string, vaults []models.Vault, path string) *Session {
	return &Session{
		factory:       f,
		workspaceRoot: workspaceRoot,
		vaults:        vaults,
		path:          path,
	}
}

// RebuildResult describes one finished rebuild.
type RebuildResult struct {
	Stats index.Stats
	Took  time.Duration
	Err   error
	// Files lists the changed files that triggered a watched rebuild.
	Files []string
}

// OnRebuild registers fn to run after every rebuild, failed ones included.
// Hooks must be registered before Rebuild or Watch is first called.
func (s *Session) OnRebuild(fn func(RebuildResult)) {
	s.hooks = append(s.hooks, fn)
}

// Rebuild builds a new index and schema map and swaps them in. On failure
// the previous index stays in place and keeps serving reads.
func (s *Session) Rebuild(ctx context.Context) error {
	return s.rebuild(ctx, nil)
}

func (s *Session) rebuild(ctx context.Context, files []string) error {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	start := time.Now()
	stats, err := s.build(ctx)
	res := RebuildResult{Stats: stats, Took: time.Since(start), Err: err, Files: files}
	for _, fn := range s.hooks {
		fn(res)
	}
	return err
}

func (s *Session) build(ctx context.Context) (index.Stats, error) {
	target := s.buildPath()
	if err := index.Remove(target); err != nil {
		return index.Stats{}, err
	}

	db, stats, err := s.factory.Build(ctx, s.workspaceRoot, s.vaults, target)
	if err != nil {
		_ = index.Remove(target)
		return index.Stats{}, err
	}
	mods, schemaErr := s.factory.DiscoverSchemas(ctx, s.workspaceRoot, s.vaults)

	if target != s.path {
		if db, err = s.promote(ctx, db, target); err != nil {
			return index.Stats{}, err
		}
	}

	s.mu.Lock()
	old := s.cur
	s.cur = &handle{db: db}
	s.stats = stats
	s.builtAt = time.Now()
	s.schemas = mods
	s.schemaErr = schemaErr
	s.mu.Unlock()

	if old != nil {
		if err := old.retire(); err != nil {
			s.factory.logger.Warn("bootstrap: close previous index", slog.String("error", err.Error()))
		}
	}
	return stats, nil
}

// buildPath is where a new file-backed index is built before it replaces
// the live one.
func (s *Session) buildPath() string {
	if s.path == index.MemoryPath {
		return s.path
	}
	return s.path + ".building"
}

// promote renames the freshly built store over the live path and opens it.
// The live handle stays open throughout: it keeps reading the file it was
// opened on, which the rename unlinks but does not remove while in use.
// Nothing live is touched when the rename or the reopen fails.
func (s *Session) promote(ctx context.Context, built *index.DB, from string) (*index.DB, error) {
	if err := built.Close(); err != nil {
		_ = index.Remove(from)
		return nil, fmt.Errorf("bootstrap: close built index: %w", err)
	}
	if err := os.Rename(from, s.path); err != nil {
		_ = index.Remove(from)
		return nil, apperr.Wrap(err, apperr.StatusDBOpenFailed, "bootstrap: move built index", apperr.F("path", s.path))
	}
	return index.Open(ctx, s.path)
}

// Reader returns the live index and a release func the caller must call
// once done with it. The index is not closed before it is released, even
// when a rebuild replaces it in the meantime.
func (s *Session) Reader() (index.Reader, func(), error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cur == nil {
		return nil, nil, ErrNotReady
	}
	h := s.cur
	h.readers.Add(1)
	return h.db, sync.OnceFunc(h.readers.Done), nil
}

// Path returns where the live index is stored, or "" before the first build.
func (s *Session) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cur == nil {
		return ""
	}
	return s.cur.db.Path()
}

// Ready reports whether an index has been built.
func (s *Session) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur != nil
}

// Stats returns what the live index holds and when it was built.
func (s *Session) Stats() (index.Stats, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats, s.builtAt
}

// Schemas returns the schema modules of the last build together with the
// discovery error, which is nil when discovery met no problem.
func (s *Session) Schemas() (map[string]*models.SchemaModule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schemas, s.schemaErr
}

// Watch rebuilds the session whenever a note or schema file of a vault
// changes, until ctx is cancelled.
func (s *Session) Watch(ctx context.Context, debounce time.Duration) error {
	roots := make([]string, 0, len(s.vaults))
	for _, v := range s.vaults {
		root, err := vault.Resolve(s.workspaceRoot, v)
		if err != nil {
			return apperr.Wrap(err, apperr.StatusVaultResolveFailed, "bootstrap: resolve vault", apperr.FieldVault(vault.DisplayName(v)))
		}
		roots = append(roots, root)
	}

	logger := s.factory.logger
	return index.Watch(ctx, roots, debounce, logger, func(ctx context.Context, paths []string) {
		logger.Info("bootstrap: files changed, rebuilding", slog.Int("files", len(paths)))
		if err := s.rebuild(ctx, paths); err != nil {
			logger.Error("bootstrap: rebuild failed", slog.String("error", err.Error()))
		}
	})
}

// Close closes the live index once its readers are done with it.
func (s *Session) Close() error {
	s.mu.Lock()
	h := s.cur
	s.cur = nil
	s.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.retire()
}
