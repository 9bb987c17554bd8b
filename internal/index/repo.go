package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/starford/stave/internal/apperr"
	"github.com/starford/stave/internal/models"
)

// SearchResult represents one search hit.
type SearchResult struct {
	ID      string `json:"id"`
	Fname   string `json:"fname"`
	Vault   string `json:"vault"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// Counts holds the row count of every relational table.
type Counts struct {
	Vaults      int `json:"vaults"`
	Notes       int `json:"notes"`
	Stubs       int `json:"stubs"`
	Links       int `json:"links"`
	Hierarchy   int `json:"hierarchy"`
	VaultNotes  int `json:"vaultNotes"`
	SchemaNotes int `json:"schemaNotes"`
}

// VaultRow is a stored vault with its note count, stubs included.
type VaultRow struct {
	Name   string `json:"name"`
	FSPath string `json:"fsPath"`
	Root   string `json:"root"`
	Notes  int    `json:"notes"`
}

// SchemaNoteRow ties a note to the schema it declares.
type SchemaNoteRow struct {
	NoteID   string `json:"noteId"`
	Fname    string `json:"fname"`
	Vault    string `json:"vault"`
	ModuleID string `json:"moduleId"`
	SchemaID string `json:"schemaId"`
}

// vaultBatch is everything written for one vault. Rows reference the vault
// by its resolved root; name is for display and error payloads only.
type vaultBatch struct {
	name  string
	vault models.Vault
	root  string
	// notes holds the real notes followed by the stubs.
	notes []*models.NoteRecord
	edges []models.HierarchyEdge
}

// writeVault stores a vault's rows in one transaction so that membership,
// hierarchy and schema rows are never visible without the notes they
// reference.
func (db *DB) writeVault(ctx context.Context, b *vaultBatch) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(err, apperr.StatusDBWriteFailed, "index: begin tx", apperr.FieldVault(b.name))
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.ExecContext(ctx, `INSERT INTO vaults (root, name, fs_path) VALUES (?, ?, ?)`,
		b.root, b.name, b.vault.FSPath); err != nil {
		return apperr.Wrap(err, apperr.StatusDBWriteFailed, "index: insert vault", apperr.FieldVault(b.name))
	}

	if err := insertNotes(ctx, tx, b); err != nil {
		return err
	}

	if err := execEach(ctx, tx, `INSERT INTO vault_notes (vault, note_id) VALUES (?, ?)`, len(b.notes), func(i int) []any {
		return []any{b.root, b.notes[i].ID}
	}); err != nil {
		return apperr.Wrap(err, apperr.StatusDBWriteFailed, "index: insert vault membership", apperr.FieldVault(b.name))
	}

	if err := execEach(ctx, tx, `INSERT OR IGNORE INTO hierarchy (parent_id, child_id) VALUES (?, ?)`, len(b.edges), func(i int) []any {
		return []any{b.edges[i].ParentID, b.edges[i].ChildID}
	}); err != nil {
		return apperr.Wrap(err, apperr.StatusDBWriteFailed, "index: insert hierarchy", apperr.FieldVault(b.name))
	}

	var withSchema []*models.NoteRecord
	for _, n := range b.notes {
		if n.Schema != nil {
			withSchema = append(withSchema, n)
		}
	}
	if err := execEach(ctx, tx, `INSERT INTO schema_notes (note_id, module_id, schema_id) VALUES (?, ?, ?)`, len(withSchema), func(i int) []any {
		n := withSchema[i]
		return []any{n.ID, n.Schema.ModuleID, n.Schema.SchemaID}
	}); err != nil {
		return apperr.Wrap(err, apperr.StatusDBWriteFailed, "index: insert schema notes", apperr.FieldVault(b.name))
	}

	type linkRow struct {
		source string
		link   models.LinkEdge
	}
	var links []linkRow
	for _, n := range b.notes {
		for _, l := range n.Links {
			links = append(links, linkRow{source: n.ID, link: l})
		}
	}
	if err := execEach(ctx, tx, `INSERT OR IGNORE INTO links (source, target, type, vault, alias) VALUES (?, ?, ?, ?, ?)`, len(links), func(i int) []any {
		l := links[i]
		return []any{l.source, l.link.Target, l.link.Type, l.link.Vault, l.link.Alias}
	}); err != nil {
		return apperr.Wrap(err, apperr.StatusDBWriteFailed, "index: insert links", apperr.FieldVault(b.name))
	}

	var bodies []*models.NoteRecord
	for _, n := range b.notes {
		if !n.Stub {
			bodies = append(bodies, n)
		}
	}
	if err := execEach(ctx, tx, `INSERT INTO note_props_fts (id, fname, title, body, tags) VALUES (?, ?, ?, ?, ?)`, len(bodies), func(i int) []any {
		n := bodies[i]
		return []any{n.ID, n.Fname, n.Title, n.Body, strings.Join(n.Tags, " ")}
	}); err != nil {
		return apperr.Wrap(err, apperr.StatusDBWriteFailed, "index: insert fts", apperr.FieldVault(b.name))
	}

	if err := tx.Commit(); err != nil {
		return apperr.Wrap(err, apperr.StatusDBWriteFailed, "index: commit", apperr.FieldVault(b.name))
	}
	return nil
}

func insertNotes(ctx context.Context, tx *sql.Tx, b *vaultBatch) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO note_props (id, fname, vault, title, description, body, tags, custom, stub, checksum, path, created, updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return apperr.Wrap(err, apperr.StatusDBWriteFailed, "index: prepare note insert", apperr.FieldVault(b.name))
	}
	defer stmt.Close()

	for _, n := range b.notes {
		tags, err := json.Marshal(nonNil(n.Tags))
		if err != nil {
			return apperr.Wrap(err, apperr.StatusDBWriteFailed, "index: encode tags", apperr.FieldVault(b.name), apperr.FieldFile(n.Path))
		}
		custom := []byte("{}")
		if len(n.Custom) > 0 {
			if custom, err = json.Marshal(n.Custom); err != nil {
				return apperr.Wrap(err, apperr.StatusDBWriteFailed, "index: encode custom", apperr.FieldVault(b.name), apperr.FieldFile(n.Path))
			}
		}
		_, err = stmt.ExecContext(ctx,
			n.ID, n.Fname, b.root, n.Title, n.Desc, n.Body, string(tags), string(custom),
			n.Stub, n.Checksum, n.Path, n.Created.UnixMilli(), n.Updated.UnixMilli())
		if err != nil {
			return noteInsertError(err, b.name, n)
		}
	}
	return nil
}

// noteInsertError maps constraint violations to their statuses: a duplicate
// primary key is a duplicate id anywhere in the index, a duplicate
// (vault, fname) pair a duplicate name within the vault.
func noteInsertError(err error, vault string, n *models.NoteRecord) error {
	fields := []apperr.Field{apperr.FieldVault(vault), apperr.FieldFile(n.Path), apperr.F("id", n.ID), apperr.F("fname", n.Fname)}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.ExtendedCode {
		case sqlite3.ErrConstraintPrimaryKey:
			return apperr.Wrap(err, apperr.StatusDuplicateNoteID, "index: duplicate note id "+n.ID, fields...)
		case sqlite3.ErrConstraintUnique:
			return apperr.Wrap(err, apperr.StatusDuplicateNoteName, "index: duplicate note name "+n.Fname, fields...)
		}
	}
	return apperr.Wrap(err, apperr.StatusDBWriteFailed, "index: insert note", fields...)
}

func execEach(ctx context.Context, tx *sql.Tx, query string, n int, args func(i int) []any) error {
	if n == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			return err
		}
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Counts returns the number of rows in every relational table.
func (db *DB) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := db.conn.QueryRowContext(ctx, `
		SELECT
			(SELECT count(*) FROM vaults),
			(SELECT count(*) FROM note_props WHERE stub = 0),
			(SELECT count(*) FROM note_props WHERE stub = 1),
			(SELECT count(*) FROM links),
			(SELECT count(*) FROM hierarchy),
			(SELECT count(*) FROM vault_notes),
			(SELECT count(*) FROM schema_notes)
	`).Scan(&c.Vaults, &c.Notes, &c.Stubs, &c.Links, &c.Hierarchy, &c.VaultNotes, &c.SchemaNotes)
	if err != nil {
		return Counts{}, fmt.Errorf("index: counts: %w", err)
	}
	return c, nil
}

// Vaults lists the stored vaults by name, then root.
func (db *DB) Vaults(ctx context.Context) ([]VaultRow, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT v.name, v.fs_path, v.root, count(vn.note_id)
		FROM vaults v
		LEFT JOIN vault_notes vn ON vn.vault = v.root
		GROUP BY v.root
		ORDER BY v.name, v.root
	`)
	if err != nil {
		return nil, fmt.Errorf("index: vaults: %w", err)
	}
	defer rows.Close()

	var out []VaultRow
	for rows.Next() {
		var v VaultRow
		if err := rows.Scan(&v.Name, &v.FSPath, &v.Root, &v.Notes); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

const noteColumns = `n.id, n.fname, v.name, v.fs_path, n.title, n.description, n.body, n.tags, n.custom,
	n.stub, n.checksum, n.path, n.created, n.updated, s.module_id, s.schema_id`

const noteFrom = `FROM note_props n
	JOIN vaults v ON v.root = n.vault
	LEFT JOIN schema_notes s ON s.note_id = n.id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(r rowScanner) (*models.NoteRecord, error) {
	var (
		n                  models.NoteRecord
		tags, custom       string
		created, updated   int64
		moduleID, schemaID sql.NullString
	)
	if err := r.Scan(&n.ID, &n.Fname, &n.Vault.Name, &n.Vault.FSPath, &n.Title, &n.Desc, &n.Body,
		&tags, &custom, &n.Stub, &n.Checksum, &n.Path, &created, &updated, &moduleID, &schemaID); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &n.Tags); err != nil {
		return nil, fmt.Errorf("index: decode tags of %s: %w", n.ID, err)
	}
	if err := json.Unmarshal([]byte(custom), &n.Custom); err != nil {
		return nil, fmt.Errorf("index: decode custom of %s: %w", n.ID, err)
	}
	if len(n.Custom) == 0 {
		n.Custom = nil
	}
	if len(n.Tags) == 0 {
		n.Tags = nil
	}
	n.Created = time.UnixMilli(created)
	n.Updated = time.UnixMilli(updated)
	if moduleID.Valid {
		n.Schema = &models.SchemaRef{ModuleID: moduleID.String, SchemaID: schemaID.String}
	}
	return &n, nil
}

func (db *DB) queryNotes(ctx context.Context, query string, args ...any) ([]*models.NoteRecord, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.NoteRecord
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// NoteByID returns one note, stubs included, with its outgoing links.
func (db *DB) NoteByID(ctx context.Context, id string) (*models.NoteRecord, error) {
	n, err := scanNote(db.conn.QueryRowContext(ctx, `SELECT `+noteColumns+` `+noteFrom+` WHERE n.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: note %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: note %s: %w", id, err)
	}
	if n.Links, err = db.Links(ctx, id); err != nil {
		return nil, err
	}
	return n, nil
}

// NotesByFname returns every note with the given hierarchical name, one per
// vault at most, ordered by vault.
func (db *DB) NotesByFname(ctx context.Context, fname string) ([]*models.NoteRecord, error) {
	out, err := db.queryNotes(ctx, `SELECT `+noteColumns+` `+noteFrom+` WHERE n.fname = ? ORDER BY v.name, v.root`, fname)
	if err != nil {
		return nil, fmt.Errorf("index: notes by fname %s: %w", fname, err)
	}
	return out, nil
}

// Children returns the direct children of a note ordered by name.
func (db *DB) Children(ctx context.Context, parentID string) ([]*models.NoteRecord, error) {
	out, err := db.queryNotes(ctx, `SELECT `+noteColumns+` `+noteFrom+`
		JOIN hierarchy h ON h.child_id = n.id
		WHERE h.parent_id = ?
		ORDER BY n.fname`, parentID)
	if err != nil {
		return nil, fmt.Errorf("index: children of %s: %w", parentID, err)
	}
	return out, nil
}

// Parent returns the parent of a note, or apperr.ErrNotFound for the vault
// root and for top-level notes of a vault without one.
func (db *DB) Parent(ctx context.Context, childID string) (*models.NoteRecord, error) {
	n, err := scanNote(db.conn.QueryRowContext(ctx, `SELECT `+noteColumns+` `+noteFrom+`
		JOIN hierarchy h ON h.parent_id = n.id
		WHERE h.child_id = ?`, childID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: parent of %s: %w", childID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: parent of %s: %w", childID, err)
	}
	return n, nil
}

// Links returns the outgoing links of a note.
func (db *DB) Links(ctx context.Context, sourceID string) ([]models.LinkEdge, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT type, target, vault, alias FROM links WHERE source = ? ORDER BY rowid
	`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("index: links of %s: %w", sourceID, err)
	}
	defer rows.Close()

	var out []models.LinkEdge
	for rows.Next() {
		var l models.LinkEdge
		if err := rows.Scan(&l.Type, &l.Target, &l.Vault, &l.Alias); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Backlinks returns the ids of notes linking to the hierarchical name target.
func (db *DB) Backlinks(ctx context.Context, target string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT DISTINCT source FROM links WHERE target = ? AND type != ? ORDER BY source
	`, target, models.LinkExternal)
	if err != nil {
		return nil, fmt.Errorf("index: backlinks: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SchemaNotes lists the notes attached to a schema module; an empty moduleID
// lists them all.
func (db *DB) SchemaNotes(ctx context.Context, moduleID string) ([]SchemaNoteRow, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT s.note_id, n.fname, v.name, s.module_id, s.schema_id
		FROM schema_notes s
		JOIN note_props n ON n.id = s.note_id
		JOIN vaults v ON v.root = n.vault
		WHERE ? = '' OR s.module_id = ?
		ORDER BY s.module_id, n.fname, v.name
	`, moduleID, moduleID)
	if err != nil {
		return nil, fmt.Errorf("index: schema notes: %w", err)
	}
	defer rows.Close()

	var out []SchemaNoteRow
	for rows.Next() {
		var r SchemaNoteRow
		if err := rows.Scan(&r.NoteID, &r.Fname, &r.Vault, &r.ModuleID, &r.SchemaID); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ftsQuery quotes every term so user input is never read as query syntax.
func ftsQuery(q string) string {
	terms := strings.Fields(q)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(terms, " ")
}

func scanSearch(rows *sql.Rows) ([]SearchResult, error) {
	defer rows.Close()
	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ID, &r.Fname, &r.Vault, &r.Title, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
