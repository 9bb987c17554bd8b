package index

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/stave/internal/apperr"
	"github.com/starford/stave/internal/batch"
	"github.com/starford/stave/internal/models"
	"github.com/starford/stave/internal/parser"
	"github.com/starford/stave/internal/storage"
	"github.com/starford/stave/internal/vault"
)

// Stats summarises what an ingestion wrote.
type Stats struct {
	Vaults int `json:"vaults"`
	Notes  int `json:"notes"`
	Stubs  int `json:"stubs"`
	Links  int `json:"links"`
	Edges  int `json:"edges"`
}

func (s *Stats) add(o Stats) {
	s.Vaults += o.Vaults
	s.Notes += o.Notes
	s.Stubs += o.Stubs
	s.Links += o.Links
	s.Edges += o.Edges
}

// IngestOption tunes an ingestion run.
type IngestOption func(*ingestSettings)

type ingestSettings struct {
	logger  *slog.Logger
	limit   int
	onVault func(name string, s Stats)
	now     func() time.Time
}

// WithLogger sets the logger used for per-vault progress.
func WithLogger(l *slog.Logger) IngestOption {
	return func(s *ingestSettings) {
		s.logger = l
	}
}

// WithConcurrency caps how many vaults are processed at once.
func WithConcurrency(n int) IngestOption {
	return func(s *ingestSettings) {
		s.limit = n
	}
}

// WithVaultHook is called after each vault is committed.
func WithVaultHook(fn func(name string, s Stats)) IngestOption {
	return func(s *ingestSettings) {
		s.onVault = fn
	}
}

// Ingest lists, parses and stores the notes of every vault. Vaults are
// processed concurrently and the first failure aborts the call; vaults that
// already committed stay in the store.
func Ingest(ctx context.Context, db *DB, workspaceRoot string, vaults []models.Vault, store storage.Store, opts ...IngestOption) error {
	_, err := IngestWithStats(ctx, db, workspaceRoot, vaults, store, opts...)
	return err
}

// IngestWithStats is Ingest returning the totals written.
func IngestWithStats(ctx context.Context, db *DB, workspaceRoot string, vaults []models.Vault, store storage.Store, opts ...IngestOption) (Stats, error) {
	s := ingestSettings{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&s)
	}

	var (
		mu    sync.Mutex
		total Stats
	)
	err := batch.FirstFailure(ctx, vaults, func(ctx context.Context, v models.Vault) error {
		vs, err := ingestVault(ctx, db, workspaceRoot, v, store, &s)
		if err != nil {
			return err
		}
		mu.Lock()
		total.add(vs)
		mu.Unlock()
		if s.onVault != nil {
			s.onVault(vault.DisplayName(v), vs)
		}
		return nil
	}, batch.WithLimit(s.limit))
	return total, err
}

func ingestVault(ctx context.Context, db *DB, workspaceRoot string, v models.Vault, store storage.Store, s *ingestSettings) (Stats, error) {
	name := vault.DisplayName(v)
	start := time.Now()

	root, err := vault.Resolve(workspaceRoot, v)
	if err != nil {
		return Stats{}, apperr.Wrap(err, apperr.StatusVaultResolveFailed, "index: resolve vault", apperr.FieldVault(name))
	}

	entries, err := store.ReadDir(ctx, root, storage.NotePatterns)
	if err != nil {
		return Stats{}, apperr.Wrap(err, apperr.StatusVaultListFailed, "index: list vault", apperr.FieldVault(name))
	}

	notes := make([]*models.NoteRecord, 0, len(entries))
	byFname := make(map[string]string, len(entries))
	byID := make(map[string]string, len(entries))
	for _, e := range entries {
		data, err := store.Read(ctx, e.Path)
		if err != nil {
			return Stats{}, apperr.Wrap(err, apperr.StatusVaultListFailed, "index: read note", apperr.FieldVault(name), apperr.FieldFile(e.RelPath))
		}
		n, err := parser.ParseNote(e, data, v)
		if err != nil {
			return Stats{}, apperr.Wrap(err, apperr.StatusBadParseForNote, "index: parse note", apperr.FieldVault(name), apperr.FieldFile(e.RelPath))
		}
		if prev, dup := byFname[n.Fname]; dup {
			return Stats{}, apperr.New(apperr.StatusDuplicateNoteName, "index: duplicate note name "+n.Fname,
				apperr.FieldVault(name), apperr.FieldFile(e.RelPath), apperr.F("previous", prev))
		}
		if prev, dup := byID[n.ID]; dup {
			return Stats{}, apperr.New(apperr.StatusDuplicateNoteID, "index: duplicate note id "+n.ID,
				apperr.FieldVault(name), apperr.FieldFile(e.RelPath), apperr.F("previous", prev))
		}
		byFname[n.Fname] = e.RelPath
		byID[n.ID] = e.RelPath
		notes = append(notes, n)
	}

	stubs, edges := buildHierarchy(notes, v, s.now())

	b := &vaultBatch{
		name:  name,
		vault: v,
		root:  root,
		notes: append(notes, stubs...),
		edges: edges,
	}
	if err := db.writeVault(ctx, b); err != nil {
		return Stats{}, err
	}

	vs := Stats{Vaults: 1, Notes: len(notes), Stubs: len(stubs), Edges: len(edges)}
	for _, n := range notes {
		vs.Links += len(n.Links)
	}
	s.logger.Info("index: vault ingested",
		slog.String("vault", name),
		slog.String("root", root),
		slog.Int("notes", vs.Notes),
		slog.Int("stubs", vs.Stubs),
		slog.Int("edges", vs.Edges),
		slog.Duration("took", time.Since(start)))
	return vs, nil
}

// buildHierarchy creates a stub for every missing ancestor name and returns
// the parent-to-child edges of the whole vault. A top-level note hangs off
// the vault's root note when there is one.
func buildHierarchy(notes []*models.NoteRecord, v models.Vault, now time.Time) ([]*models.NoteRecord, []models.HierarchyEdge) {
	byFname := make(map[string]*models.NoteRecord, len(notes))
	for _, n := range notes {
		byFname[n.Fname] = n
	}

	var stubs []*models.NoteRecord
	for _, n := range notes {
		for _, anc := range models.Ancestors(n.Fname) {
			if _, ok := byFname[anc]; ok {
				continue
			}
			stub := &models.NoteRecord{
				ID:      uuid.NewString(),
				Fname:   anc,
				Title:   models.LastSegment(anc),
				Vault:   v,
				Created: now,
				Updated: now,
				Stub:    true,
			}
			byFname[anc] = stub
			stubs = append(stubs, stub)
		}
	}
	sort.Slice(stubs, func(i, j int) bool { return stubs[i].Fname < stubs[j].Fname })

	root := byFname[models.RootFname]
	all := make([]*models.NoteRecord, 0, len(notes)+len(stubs))
	all = append(all, notes...)
	all = append(all, stubs...)
	sort.Slice(all, func(i, j int) bool { return all[i].Fname < all[j].Fname })

	var edges []models.HierarchyEdge
	for _, n := range all {
		if n == root {
			continue
		}
		parent := root
		if p := models.ParentFname(n.Fname); p != "" {
			parent = byFname[p]
		}
		if parent == nil {
			continue
		}
		edges = append(edges, models.HierarchyEdge{ParentID: parent.ID, ChildID: n.ID})
	}
	return stubs, edges
}
