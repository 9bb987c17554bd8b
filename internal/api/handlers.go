package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/stave/internal/apperr"
	"github.com/starford/stave/internal/index"
	"github.com/starford/stave/internal/models"
	"github.com/starford/stave/internal/vault"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 200
)

// Source is what the handlers read from. *bootstrap.Session satisfies it.
type Source interface {
	// Reader returns the live index and a func releasing it.
	Reader() (index.Reader, func(), error)
	Ready() bool
	Schemas() (map[string]*models.SchemaModule, error)
	Stats() (index.Stats, time.Time)
}

// Handler holds API route handlers.
type Handler struct {
	src Source
}

// NewHandler creates a new Handler.
func NewHandler(src Source) *Handler {
	return &Handler{src: src}
}

// Live handles GET /health/live.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /health/ready. It answers 503 until the first index
// build has completed.
func (h *Handler) Ready(w http.ResponseWriter, _ *http.Request) {
	if !h.src.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "building"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Stats handles GET /api/stats.
//
//	@Summary	Row counts of the live index
//	@Tags		index
//	@Produce	json
//	@Success	200	{object}	StatsResponse
//	@Router		/stats [get]
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	rd, release, err := h.src.Reader()
	if err != nil {
		writeError(w, "stats", err)
		return
	}
	defer release()
	counts, err := rd.Counts(r.Context())
	if err != nil {
		writeError(w, "stats", err)
		return
	}
	_, builtAt := h.src.Stats()
	writeJSON(w, http.StatusOK, StatsResponse{Counts: counts, BuiltAt: builtAt})
}

// Vaults handles GET /api/vaults.
func (h *Handler) Vaults(w http.ResponseWriter, r *http.Request) {
	rd, release, err := h.src.Reader()
	if err != nil {
		writeError(w, "vaults", err)
		return
	}
	defer release()
	vaults, err := rd.Vaults(r.Context())
	if err != nil {
		writeError(w, "vaults", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vaults": nonNilSlice(vaults)})
}

// NotesByFname handles GET /api/notes?fname=. A name may resolve to one
// note per vault.
func (h *Handler) NotesByFname(w http.ResponseWriter, r *http.Request) {
	fname := r.URL.Query().Get("fname")
	if fname == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'fname' is required"))
		return
	}
	rd, release, err := h.src.Reader()
	if err != nil {
		writeError(w, "notes by fname", err)
		return
	}
	defer release()
	notes, err := rd.NotesByFname(r.Context(), fname)
	if err != nil {
		writeError(w, "notes by fname", err)
		return
	}
	items := make([]NoteSummary, 0, len(notes))
	for _, n := range notes {
		items = append(items, summarize(n))
	}
	writeJSON(w, http.StatusOK, map[string]any{"notes": items})
}

// GetNote handles GET /api/notes/{id}.
//
//	@Summary	Get a note with its hierarchy neighbours and links
//	@Tags		notes
//	@Produce	json
//	@Param		id	path		string	true	"Note id"
//	@Success	200	{object}	NoteDetail
//	@Failure	404	{object}	errResponse
//	@Router		/notes/{id} [get]
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rd, release, err := h.src.Reader()
	if err != nil {
		writeError(w, "get note", err)
		return
	}
	defer release()
	detail, err := noteDetail(r.Context(), rd, id)
	if err != nil {
		writeError(w, "get note", err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func noteDetail(ctx context.Context, rd index.Reader, id string) (*NoteDetail, error) {
	n, err := rd.NoteByID(ctx, id)
	if err != nil {
		return nil, err
	}
	d := &NoteDetail{NoteRecord: n, Children: []NoteSummary{}}

	kids, err := rd.Children(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, k := range kids {
		d.Children = append(d.Children, summarize(k))
	}

	parent, err := rd.Parent(ctx, id)
	switch {
	case err == nil:
		s := summarize(parent)
		d.Parent = &s
	case !errors.Is(err, apperr.ErrNotFound):
		return nil, err
	}
	return d, nil
}

// Backlinks handles GET /api/notes/{id}/backlinks.
func (h *Handler) Backlinks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rd, release, err := h.src.Reader()
	if err != nil {
		writeError(w, "backlinks", err)
		return
	}
	defer release()
	n, err := rd.NoteByID(r.Context(), id)
	if err != nil {
		writeError(w, "backlinks", err)
		return
	}
	sources, err := rd.Backlinks(r.Context(), n.Fname)
	if err != nil {
		writeError(w, "backlinks", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"backlinks": nonNilSlice(sources)})
}

// Search handles GET /api/search.
//
//	@Summary	Full-text search across notes
//	@Tags		search
//	@Produce	json
//	@Param		q		query		string	true	"Search query"
//	@Param		limit	query		int		false	"Max results"
//	@Success	200		{object}	SearchResponse
//	@Failure	400		{object}	errResponse
//	@Router		/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	limit = min(limit, maxSearchLimit)

	rd, release, err := h.src.Reader()
	if err != nil {
		writeError(w, "search", err)
		return
	}
	defer release()
	results, err := rd.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: nonNilSlice(results)})
}

// Schemas handles GET /api/schemas. Discovery problems are reported next
// to the modules that did parse.
//
//	@Summary	Structural schema modules of every vault
//	@Tags		schemas
//	@Produce	json
//	@Success	200	{object}	SchemasResponse
//	@Router		/schemas [get]
func (h *Handler) Schemas(w http.ResponseWriter, _ *http.Request) {
	mods, err := h.src.Schemas()

	resp := SchemasResponse{
		Modules: make([]SchemaModuleSummary, 0, len(mods)),
		Items:   apperr.ItemsOf(err),
		Fatal:   apperr.IsFatal(err),
	}
	if resp.Items == nil {
		resp.Items = []*apperr.Item{}
	}
	for id, m := range mods {
		ids := make([]string, 0, len(m.Schemas))
		for sid := range m.Schemas {
			ids = append(ids, sid)
		}
		sort.Strings(ids)
		resp.Modules = append(resp.Modules, SchemaModuleSummary{
			ID:      id,
			Fname:   m.Fname,
			Vault:   vault.DisplayName(m.Vault),
			Imports: m.Imports,
			Schemas: ids,
		})
	}
	sort.Slice(resp.Modules, func(i, j int) bool { return resp.Modules[i].ID < resp.Modules[j].ID })
	writeJSON(w, http.StatusOK, resp)
}

// SchemaNotes handles GET /api/schemas/{module}/notes.
func (h *Handler) SchemaNotes(w http.ResponseWriter, r *http.Request) {
	module := chi.URLParam(r, "module")
	rd, release, err := h.src.Reader()
	if err != nil {
		writeError(w, "schema notes", err)
		return
	}
	defer release()
	rows, err := rd.SchemaNotes(r.Context(), module)
	if err != nil {
		writeError(w, "schema notes", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notes": nonNilSlice(rows)})
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
