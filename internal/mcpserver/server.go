// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the stave index as read-only tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/stave/internal/apperr"
	"github.com/starford/stave/internal/index"
	"github.com/starford/stave/internal/models"
	"github.com/starford/stave/internal/vault"
)

const (
	noteFormatURI = "stave://note-format"
	maxResults    = 100
)

// Source is the index the tools read. *bootstrap.Session satisfies it.
type Source interface {
	Reader() (index.Reader, func(), error)
	Schemas() (map[string]*models.SchemaModule, error)
}

// Server wraps the MCP server with stave tools.
type Server struct {
	mcp *server.MCPServer
	src Source
}

// New creates a new MCP server with all stave tools registered.
func New(src Source, version string) *Server {
	s := &Server{src: src}

	s.mcp = server.NewMCPServer(
		"Stave",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Full-text search through note titles and bodies of every vault."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search terms")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of hits (default 20)")),
	), s.searchNotes)

	s.mcp.AddTool(mcp.NewTool("get_note",
		mcp.WithDescription("Read a note by id, with its parent, children and outgoing links."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
	), s.getNote)

	s.mcp.AddTool(mcp.NewTool("find_notes",
		mcp.WithDescription("Find notes by hierarchical name; a name can exist once per vault."),
		mcp.WithString("fname", mcp.Required(), mcp.Description("Hierarchical name, e.g. proj.alpha")),
	), s.findNotes)

	s.mcp.AddTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("List the ids of notes linking to a hierarchical name."),
		mcp.WithString("fname", mcp.Required(), mcp.Description("Hierarchical name of the linked note")),
	), s.getBacklinks)

	s.mcp.AddTool(mcp.NewTool("list_vaults",
		mcp.WithDescription("List the indexed vaults with their note counts."),
	), s.listVaults)

	s.mcp.AddTool(mcp.NewTool("list_schemas",
		mcp.WithDescription("List structural schema modules and any problems met discovering them."),
	), s.listSchemas)

	s.mcp.AddTool(mcp.NewTool("get_note_format",
		mcp.WithDescription("Describe how vault files map onto notes, hierarchy, links and schemas."),
	), s.getNoteFormat)

	s.mcp.AddResource(
		mcp.NewResource(noteFormatURI, "Note Format",
			mcp.WithResourceDescription("How vault files map onto the index."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readNoteFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) reader() (index.Reader, func(), *mcp.CallToolResult) {
	rd, release, err := s.src.Reader()
	if err != nil {
		return nil, nil, mcp.NewToolResultError(err.Error())
	}
	return rd, release, nil
}

func (s *Server) searchNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := min(max(req.GetInt("limit", 20), 1), maxResults)

	rd, release, errRes := s.reader()
	if errRes != nil {
		return errRes, nil
	}
	defer release()
	results, err := rd.Search(ctx, query, limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText("no matches"), nil
	}
	return jsonResult(results)
}

type noteView struct {
	*models.NoteRecord
	Parent   string   `json:"parent,omitempty"`
	Children []string `json:"children,omitempty"`
}

func (s *Server) getNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rd, release, errRes := s.reader()
	if errRes != nil {
		return errRes, nil
	}
	defer release()

	n, err := rd.NoteByID(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError("not found: " + id), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	view := noteView{NoteRecord: n}

	if p, err := rd.Parent(ctx, id); err == nil {
		view.Parent = p.Fname
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError(err.Error()), nil
	}
	kids, err := rd.Children(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	for _, k := range kids {
		view.Children = append(view.Children, k.Fname)
	}
	return jsonResult(view)
}

func (s *Server) findNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	fname, err := req.RequireString("fname")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rd, release, errRes := s.reader()
	if errRes != nil {
		return errRes, nil
	}
	defer release()
	notes, err := rd.NotesByFname(ctx, fname)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(notes) == 0 {
		return mcp.NewToolResultError("not found: " + fname), nil
	}

	lines := make([]string, 0, len(notes))
	for _, n := range notes {
		line := n.ID + "\t" + n.Vault.Name + "\t" + n.Title
		if n.Stub {
			line += "\t(stub)"
		}
		lines = append(lines, line)
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) getBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	fname, err := req.RequireString("fname")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rd, release, errRes := s.reader()
	if errRes != nil {
		return errRes, nil
	}
	defer release()
	bl, err := rd.Backlinks(ctx, fname)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(bl) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	return mcp.NewToolResultText(strings.Join(bl, "\n")), nil
}

func (s *Server) listVaults(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rd, release, errRes := s.reader()
	if errRes != nil {
		return errRes, nil
	}
	defer release()
	vaults, err := rd.Vaults(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(vaults)
}

func (s *Server) listSchemas(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mods, discoverErr := s.src.Schemas()

	type moduleView struct {
		ID      string   `json:"id"`
		Vault   string   `json:"vault"`
		Schemas []string `json:"schemas"`
	}
	out := struct {
		Modules []moduleView   `json:"modules"`
		Errors  []*apperr.Item `json:"errors,omitempty"`
	}{Errors: apperr.ItemsOf(discoverErr)}

	for id, m := range mods {
		ids := make([]string, 0, len(m.Schemas))
		for sid := range m.Schemas {
			ids = append(ids, sid)
		}
		sort.Strings(ids)
		out.Modules = append(out.Modules, moduleView{ID: id, Vault: vault.DisplayName(m.Vault), Schemas: ids})
	}
	sort.Slice(out.Modules, func(i, j int) bool { return out.Modules[i].ID < out.Modules[j].ID })
	return jsonResult(out)
}

func (s *Server) getNoteFormat(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(NoteFormatContract), nil
}

func (s *Server) readNoteFormatResource(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      noteFormatURI,
			MIMEType: "text/markdown",
			Text:     NoteFormatContract,
		},
	}, nil
}
