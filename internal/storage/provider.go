// Package storage defines the file-system collaborator the index and schema
// pipelines list and read vault content through.
package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_store.go -package=mocks github.com/starford/stave/internal/storage Store

import (
	"context"
	"time"
)

// Include patterns used by the pipelines.
var (
	NotePatterns   = []string{"*.md"}
	SchemaPatterns = []string{"*.schema.yml"}
)

// Entry is one file returned by ReadDir.
type Entry struct {
	// Path is the absolute path of the file.
	Path string
	// RelPath is Path relative to the listed root, slash separated.
	RelPath   string
	Checksum  string
	UpdatedAt time.Time
}

// Store is the interface for listing and reading vault files.
type Store interface {
	// ReadDir returns every file under root whose root-relative path matches
	// one of the include glob patterns, sorted by RelPath.
	ReadDir(ctx context.Context, root string, include []string) ([]Entry, error)
	// Read returns the raw bytes of the file at the absolute path.
	Read(ctx context.Context, path string) ([]byte, error)
}
