// Package index provides the SQLite-backed relational note index: the
// phased schema builder, multi-vault ingestion and the read helpers used by
// the API and the CLI.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/stave/internal/apperr"
)

// MemoryPath selects an ephemeral in-memory store.
const MemoryPath = ":memory:"

// SchemaVersion is written to PRAGMA user_version once the schema exists.
const SchemaVersion = 1

// Table names.
const (
	TableVaults       = "vaults"
	TableNoteProps    = "note_props"
	TableLinks        = "links"
	TableVaultNotes   = "vault_notes"
	TableHierarchy    = "hierarchy"
	TableSchemaNotes  = "schema_notes"
	TableNotePropsFTS = "note_props_fts"
)

type phase int

const (
	// phaseStandalone tables reference nothing.
	phaseStandalone phase = iota + 1
	// phaseRelational tables hold foreign keys into standalone tables.
	phaseRelational
)

type table struct {
	name      string
	phase     phase
	dependsOn []string
	ddl       []string
}

var coreTables = []table{
	{
		name:  TableVaults,
		phase: phaseStandalone,
		ddl: []string{`
CREATE TABLE vaults (
	root    TEXT PRIMARY KEY,
	name    TEXT NOT NULL,
	fs_path TEXT NOT NULL
)`},
	},
	{
		name:  TableNoteProps,
		phase: phaseStandalone,
		ddl: []string{`
CREATE TABLE note_props (
	id          TEXT PRIMARY KEY,
	fname       TEXT NOT NULL,
	vault       TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	body        TEXT NOT NULL DEFAULT '',
	tags        TEXT NOT NULL DEFAULT '[]',
	custom      TEXT NOT NULL DEFAULT '{}',
	stub        INTEGER NOT NULL DEFAULT 0,
	checksum    TEXT NOT NULL DEFAULT '',
	path        TEXT NOT NULL DEFAULT '',
	created     INTEGER NOT NULL DEFAULT 0,
	updated     INTEGER NOT NULL DEFAULT 0
)`,
			`CREATE UNIQUE INDEX idx_note_props_vault_fname ON note_props(vault, fname)`,
			`CREATE INDEX idx_note_props_fname ON note_props(fname)`,
		},
	},
	{
		name:  TableLinks,
		phase: phaseStandalone,
		ddl: []string{`
CREATE TABLE links (
	source TEXT NOT NULL,
	target TEXT NOT NULL,
	type   TEXT NOT NULL DEFAULT 'wiki',
	vault  TEXT NOT NULL DEFAULT '',
	alias  TEXT NOT NULL DEFAULT '',
	UNIQUE(source, type, target, vault)
)`,
			`CREATE INDEX idx_links_source ON links(source)`,
			`CREATE INDEX idx_links_target ON links(target)`,
		},
	},
	{
		name:      TableVaultNotes,
		phase:     phaseRelational,
		dependsOn: []string{TableNoteProps, TableVaults},
		ddl: []string{`
CREATE TABLE vault_notes (
	vault   TEXT NOT NULL REFERENCES vaults(root) ON DELETE CASCADE,
	note_id TEXT NOT NULL REFERENCES note_props(id) ON DELETE CASCADE,
	PRIMARY KEY (vault, note_id)
)`,
			`CREATE INDEX idx_vault_notes_note ON vault_notes(note_id)`,
		},
	},
	{
		name:      TableHierarchy,
		phase:     phaseRelational,
		dependsOn: []string{TableNoteProps},
		ddl: []string{`
CREATE TABLE hierarchy (
	parent_id TEXT NOT NULL REFERENCES note_props(id) ON DELETE CASCADE,
	child_id  TEXT NOT NULL REFERENCES note_props(id) ON DELETE CASCADE,
	PRIMARY KEY (parent_id, child_id)
)`,
			`CREATE INDEX idx_hierarchy_child ON hierarchy(child_id)`,
		},
	},
	{
		name:      TableSchemaNotes,
		phase:     phaseRelational,
		dependsOn: []string{TableNoteProps},
		ddl: []string{`
CREATE TABLE schema_notes (
	note_id   TEXT PRIMARY KEY REFERENCES note_props(id) ON DELETE CASCADE,
	module_id TEXT NOT NULL,
	schema_id TEXT NOT NULL
)`,
			`CREATE INDEX idx_schema_notes_module ON schema_notes(module_id)`,
		},
	},
}

// schemaTables is the full declared table set, full-text index included.
func schemaTables() []table {
	out := make([]table, 0, len(coreTables)+1)
	out = append(out, coreTables...)
	return append(out, ftsTable())
}

// orderTables returns ts in creation order, standalone tables first, and
// rejects any table whose dependency is unknown or not created in a strictly
// earlier phase.
func orderTables(ts []table) ([]table, error) {
	phaseOf := make(map[string]phase, len(ts))
	for _, t := range ts {
		if t.phase != phaseStandalone && t.phase != phaseRelational {
			return nil, fmt.Errorf("index: table %s: unknown phase %d", t.name, t.phase)
		}
		if _, dup := phaseOf[t.name]; dup {
			return nil, fmt.Errorf("index: table %s declared twice", t.name)
		}
		phaseOf[t.name] = t.phase
	}

	out := make([]table, 0, len(ts))
	for _, p := range []phase{phaseStandalone, phaseRelational} {
		for _, t := range ts {
			if t.phase != p {
				continue
			}
			for _, dep := range t.dependsOn {
				dp, ok := phaseOf[dep]
				if !ok {
					return nil, fmt.Errorf("index: table %s depends on unknown table %s", t.name, dep)
				}
				if dp >= t.phase {
					return nil, fmt.Errorf("index: table %s (phase %d) depends on %s (phase %d)", t.name, t.phase, dep, dp)
				}
			}
			out = append(out, t)
		}
	}
	return out, nil
}

// DB wraps a sql.DB with index-specific operations.
type DB struct {
	conn *sql.DB
	path string
}

// CreateEmptySchema opens (or creates) the store at path and creates every
// table in dependency order inside one transaction. Foreign keys are switched
// on only after the transaction commits. On any failure the handle is closed
// and nothing usable is left behind.
func CreateEmptySchema(ctx context.Context, path string) (*DB, error) {
	db, err := open(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := db.createTables(ctx, schemaTables()); err != nil {
		db.conn.Close()
		return nil, err
	}
	if err := db.enableForeignKeys(ctx); err != nil {
		db.conn.Close()
		return nil, err
	}
	return db, nil
}

// Open opens a store previously built by CreateEmptySchema and switches
// foreign keys on. A store with another schema version is rejected.
func Open(ctx context.Context, path string) (*DB, error) {
	db, err := open(ctx, path)
	if err != nil {
		return nil, err
	}
	v, err := db.Version(ctx)
	if err != nil {
		db.conn.Close()
		return nil, apperr.Wrap(err, apperr.StatusDBOpenFailed, "index: read schema version", apperr.F("path", path))
	}
	if v != SchemaVersion {
		db.conn.Close()
		return nil, apperr.New(apperr.StatusDBSchemaFailed,
			fmt.Sprintf("index: schema version %d, want %d", v, SchemaVersion), apperr.F("path", path))
	}
	if err := db.enableForeignKeys(ctx); err != nil {
		db.conn.Close()
		return nil, err
	}
	return db, nil
}

// Remove deletes the store at path with any journal, WAL and shared-memory
// files left next to it.
// Missing files and the in-memory sentinel are not an error.
func Remove(path string) error {
	if path == MemoryPath || path == "" {
		return nil
	}
	for _, p := range []string{path, path + "-journal", path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("index: remove %s: %w", p, err)
		}
	}
	return nil
}

func open(ctx context.Context, path string) (*DB, error) {
	if path == "" {
		return nil, apperr.New(apperr.StatusDBOpenFailed, "index: empty database path")
	}
	dsn := path
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, apperr.Wrap(err, apperr.StatusDBOpenFailed, "index: create db dir", apperr.F("path", path))
		}
		// The store is written once and then only read. A rollback journal
		// keeps it a single file, so a rebuilt store can be renamed over a
		// live one without sharing -wal/-shm files with it.
		dsn = path + "?_journal_mode=DELETE&_busy_timeout=5000"
	}
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.StatusDBOpenFailed, "index: open db", apperr.F("path", path))
	}
	// One connection: an in-memory database lives and dies with its
	// connection and the foreign_keys pragma is per connection.
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)
	conn.SetConnMaxIdleTime(0)
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, apperr.Wrap(err, apperr.StatusDBOpenFailed, "index: ping", apperr.F("path", path))
	}
	return &DB{conn: conn, path: path}, nil
}

func (db *DB) createTables(ctx context.Context, ts []table) error {
	ordered, err := orderTables(ts)
	if err != nil {
		return apperr.Wrap(err, apperr.StatusDBSchemaFailed, "index: order tables")
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(err, apperr.StatusDBSchemaFailed, "index: begin schema tx")
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, t := range ordered {
		for _, stmt := range t.ddl {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return apperr.Wrap(err, apperr.StatusDBSchemaFailed, "index: create table", apperr.F("table", t.name))
			}
		}
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
		return apperr.Wrap(err, apperr.StatusDBSchemaFailed, "index: set schema version")
	}
	if err := tx.Commit(); err != nil {
		return apperr.Wrap(err, apperr.StatusDBSchemaFailed, "index: commit schema")
	}
	return nil
}

func (db *DB) enableForeignKeys(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		return apperr.Wrap(err, apperr.StatusDBSchemaFailed, "index: enable foreign keys")
	}
	on, err := db.ForeignKeysEnabled(ctx)
	if err != nil {
		return apperr.Wrap(err, apperr.StatusDBSchemaFailed, "index: check foreign keys")
	}
	if !on {
		return apperr.New(apperr.StatusDBSchemaFailed, "index: foreign keys not supported by this build")
	}
	return nil
}

// ForeignKeysEnabled reports the connection's foreign_keys pragma.
func (db *DB) ForeignKeysEnabled(ctx context.Context) (bool, error) {
	var on int
	if err := db.conn.QueryRowContext(ctx, `PRAGMA foreign_keys`).Scan(&on); err != nil {
		return false, fmt.Errorf("index: foreign_keys pragma: %w", err)
	}
	return on == 1, nil
}

// Version returns the schema version recorded in the store.
func (db *DB) Version(ctx context.Context) (int, error) {
	var v int
	if err := db.conn.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("index: user_version pragma: %w", err)
	}
	return v, nil
}

// Tables lists the user tables of the store, sorted by name. Internal
// SQLite tables and full-text shadow tables are left out.
func (db *DB) Tables(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("index: list tables: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if strings.HasPrefix(name, TableNotePropsFTS+"_") {
			continue
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// TableNames returns the declared table set in creation order.
func TableNames() []string {
	ordered, err := orderTables(schemaTables())
	if err != nil {
		panic(err)
	}
	out := make([]string, len(ordered))
	for i, t := range ordered {
		out[i] = t.name
	}
	return out
}

// Path is the target the handle was opened with.
func (db *DB) Path() string {
	return db.path
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
