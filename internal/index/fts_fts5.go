//go:build sqlite_fts5

package index

import (
	"context"
	"fmt"
)

func ftsTable() table {
	return table{
		name:      TableNotePropsFTS,
		phase:     phaseRelational,
		dependsOn: []string{TableNoteProps},
		ddl: []string{`
CREATE VIRTUAL TABLE note_props_fts USING fts5(
	id UNINDEXED,
	fname,
	title,
	body,
	tags,
	tokenize = 'unicode61 remove_diacritics 2'
)`},
	}
}

// Search performs an FTS5 full-text search and returns matching notes with
// snippets, best match first.
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
		       snippet(note_props_fts, 3, '<b>', '</b>', '...', 16)
		FROM note_props_fts
		JOIN note_props n ON n.id = note_props_fts.id
		JOIN vaults v ON v.root = n.vault
		WHERE note_props_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, q, limit)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	return scanSearch(rows)
}
