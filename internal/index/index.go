package index

import (
	"context"

	"github.com/starford/stave/internal/models"
)

// Reader defines the read operations served from a built index.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type Reader interface {
	Counts(ctx context.Context) (Counts, error)
	Vaults(ctx context.Context) ([]VaultRow, error)
	NoteByID(ctx context.Context, id string) (*models.NoteRecord, error)
	NotesByFname(ctx context.Context, fname string) ([]*models.NoteRecord, error)
	Children(ctx context.Context, parentID string) ([]*models.NoteRecord, error)
	Parent(ctx context.Context, childID string) (*models.NoteRecord, error)
	Links(ctx context.Context, sourceID string) ([]models.LinkEdge, error)
	Backlinks(ctx context.Context, target string) ([]string, error)
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
	SchemaNotes(ctx context.Context, moduleID string) ([]SchemaNoteRow, error)
}

// Verify *DB satisfies Reader at compile time.
var _ Reader = (*DB)(nil)
