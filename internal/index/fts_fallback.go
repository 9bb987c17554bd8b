//go:build !sqlite_fts5

package index

import (
	"context"
	"fmt"
)

// FTS4 ships with the default go-sqlite3 build; FTS5 needs the sqlite_fts5 tag.
func ftsTable() table {
	return table{
		name:      TableNotePropsFTS,
		phase:     phaseRelational,
		dependsOn: []string{TableNoteProps},
		ddl: []string{`
CREATE VIRTUAL TABLE note_props_fts USING fts4(
	id,
	fname,
	title,
	body,
	tags,
	notindexed=id
)`},
	}
}

// Search performs an FTS4 full-text search and returns matching notes with
// snippets, ordered by hierarchical name.
func (db *DB) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	q := ftsQuery(query)
	if q == "" {
		return nil, nil
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT n.id, n.fname, v.name, n.title,
		       snippet(note_props_fts, '<b>', '</b>', '...', 3, 16)
		FROM note_props_fts
		JOIN note_props n ON n.id = note_props_fts.id
		JOIN vaults v ON v.root = n.vault
		WHERE note_props_fts MATCH ?
		ORDER BY n.fname
		LIMIT ?
	`, q, limit)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	return scanSearch(rows)
}
