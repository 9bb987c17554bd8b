package mcpserver

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/stave/internal/bootstrap"
	"github.com/starford/stave/internal/index"
	"github.com/starford/stave/internal/models"
	"github.com/starford/stave/internal/storage"
	"github.com/starford/stave/internal/testutil"
)

func testServer(t *testing.T) *Server {
	t.Helper()

	ws := testutil.TestVault(t, map[string]string{
		"v/proj.md":         "---\nid: proj\ntitle: Projects\n---\nsee [[proj.alpha]]",
		"v/proj.alpha.md":   "---\nid: alpha\nschema: proj:item\n---\nquokka sighting",
		"v/proj.schema.yml": "schemas:\n  - id: proj\n    children: [item]\n  - id: item\n",
	})
	s := bootstrap.New(storage.NewFS()).NewSession(ws, []models.Vault{{FSPath: "v", Name: "main"}}, index.MemoryPath)
	if err := s.Rebuild(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	return New(s, "test")
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	handlers := map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		"search_notes":    srv.searchNotes,
		"get_note":        srv.getNote,
		"find_notes":      srv.findNotes,
		"get_backlinks":   srv.getBacklinks,
		"list_vaults":     srv.listVaults,
		"list_schemas":    srv.listSchemas,
		"get_note_format": srv.getNoteFormat,
	}
	h, ok := handlers[name]
	if !ok {
		t.Fatalf("unknown tool: %s", name)
	}
	result, err := h(ctx, req)
	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestSearchNotes(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "search_notes", map[string]any{"query": "quokka", "limit": float64(5)})
	if r.IsError || !strings.Contains(resultText(r), `"id": "alpha"`) {
		t.Errorf("search result = %q", resultText(r))
	}

	r = callTool(t, srv, "search_notes", map[string]any{"query": "nothing-matches"})
	if resultText(r) != "no matches" {
		t.Errorf("empty search = %q", resultText(r))
	}

	r = callTool(t, srv, "search_notes", map[string]any{})
	if !r.IsError {
		t.Error("missing query should be an error")
	}
}

func TestGetNote(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "get_note", map[string]any{"id": "alpha"})
	text := resultText(r)
	if r.IsError || !strings.Contains(text, `"parent": "proj"`) || !strings.Contains(text, `"fname": "proj.alpha"`) {
		t.Errorf("get_note = %q", text)
	}

	r = callTool(t, srv, "get_note", map[string]any{"id": "nope"})
	if !r.IsError {
		t.Error("expected error for missing note")
	}
}

func TestFindNotes(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "find_notes", map[string]any{"fname": "proj"})
	if got := resultText(r); got != "proj\tmain\tProjects" {
		t.Errorf("find_notes = %q", got)
	}
}

func TestGetBacklinks(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "get_backlinks", map[string]any{"fname": "proj.alpha"})
	if text := resultText(r); text != "proj" {
		t.Errorf("backlinks = %q, want proj", text)
	}
	r = callTool(t, srv, "get_backlinks", map[string]any{"fname": "proj"})
	if text := resultText(r); text != "no backlinks found" {
		t.Errorf("backlinks = %q", text)
	}
}

func TestListVaultsAndSchemas(t *testing.T) {
	srv := testServer(t)
	if text := resultText(callTool(t, srv, "list_vaults", nil)); !strings.Contains(text, `"name": "main"`) {
		t.Errorf("list_vaults = %q", text)
	}
	text := resultText(callTool(t, srv, "list_schemas", nil))
	if !strings.Contains(text, `"id": "proj"`) || strings.Contains(text, `"errors"`) {
		t.Errorf("list_schemas = %q", text)
	}
}

func TestNotReady(t *testing.T) {
	s := bootstrap.New(storage.NewFS()).NewSession(t.TempDir(), nil, index.MemoryPath)
	srv := New(s, "test")
	r := callTool(t, srv, "list_vaults", nil)
	if !r.IsError {
		t.Error("expected error before the index is built")
	}
}

func TestNoteFormat(t *testing.T) {
	srv := New(nil, "test")
	if text := resultText(callTool(t, srv, "get_note_format", nil)); !strings.HasPrefix(text, "# Stave Note Format") {
		t.Errorf("format = %q", text)
	}
}
