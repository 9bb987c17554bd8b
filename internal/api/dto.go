package api

import (
	"time"

	"github.com/starford/stave/internal/apperr"
	"github.com/starford/stave/internal/index"
	"github.com/starford/stave/internal/models"
)

// StatsResponse is the body of GET /api/stats.
type StatsResponse struct {
	Counts  index.Counts `json:"counts" validate:"required"`
	BuiltAt time.Time    `json:"builtAt"`
}

// NoteSummary is a lightweight note reference used for hierarchy neighbours
// and name lookups.
type NoteSummary struct {
	ID    string `json:"id" example:"4c1b2e" validate:"required"`
	Fname string `json:"fname" example:"proj.alpha" validate:"required"`
	Vault string `json:"vault" example:"main" validate:"required"`
	Title string `json:"title" example:"Alpha"`
	Stub  bool   `json:"stub,omitempty"`
}

func summarize(n *models.NoteRecord) NoteSummary {
	return NoteSummary{
		ID:    n.ID,
		Fname: n.Fname,
		Vault: n.Vault.Name,
		Title: n.Title,
		Stub:  n.Stub,
	}
}

// NoteDetail is a stored note with its place in the hierarchy. Links come
// with the embedded record.
type NoteDetail struct {
	*models.NoteRecord
	Parent   *NoteSummary  `json:"parent,omitempty"`
	Children []NoteSummary `json:"children" validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []index.SearchResult `json:"results" validate:"required"`
}

// SchemaModuleSummary describes one discovered schema module.
type SchemaModuleSummary struct {
	ID      string   `json:"id" example:"journal" validate:"required"`
	Fname   string   `json:"fname" example:"journal"`
	Vault   string   `json:"vault" example:"main"`
	Imports []string `json:"imports,omitempty"`
	Schemas []string `json:"schemas" example:"journal,day"`
}

// SchemasResponse is the body of GET /api/schemas: the modules that parsed
// plus every problem discovery met.
type SchemasResponse struct {
	Modules []SchemaModuleSummary `json:"modules" validate:"required"`
	Items   []*apperr.Item        `json:"errors" validate:"required"`
	Fatal   bool                  `json:"fatal"`
}
