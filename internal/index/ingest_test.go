package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"github.com/starford/stave/internal/apperr"
	"github.com/starford/stave/internal/models"
	"github.com/starford/stave/internal/storage"
	"github.com/starford/stave/internal/storage/mocks"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func ingest(t *testing.T, ws string, vaults ...models.Vault) (*DB, Stats) {
	t.Helper()
	db := testDB(t)
	stats, err := IngestWithStats(context.Background(), db, ws, vaults, storage.NewFS())
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	return db, stats
}

func noteByFname(t *testing.T, db *DB, fname string) *models.NoteRecord {
	t.Helper()
	notes, err := db.NotesByFname(context.Background(), fname)
	if err != nil {
		t.Fatalf("NotesByFname(%s): %v", fname, err)
	}
	if len(notes) != 1 {
		t.Fatalf("NotesByFname(%s) returned %d notes, want 1", fname, len(notes))
	}
	return notes[0]
}

func TestIngest_ZeroFiles(t *testing.T) {
	ws := t.TempDir()
	writeFiles(t, ws, map[string]string{
		"a/readme.txt":    "not a note",
		"b/x.schema.yml":  "schemas: []",
		"b/.git/HEAD.md":  "hidden",
		"b/sub/.keep.txt": "",
	})

	db, stats := ingest(t, ws, models.Vault{FSPath: "a"}, models.Vault{FSPath: "b"})

	c, err := db.Counts(context.Background())
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if c.Notes != 0 || c.Stubs != 0 || c.Hierarchy != 0 || c.Links != 0 {
		t.Errorf("counts = %+v, want no notes, edges or links", c)
	}
	if c.Vaults != 2 || stats.Vaults != 2 {
		t.Errorf("vaults = %d (stats %d), want 2", c.Vaults, stats.Vaults)
	}
}

func TestIngest_NoVaults(t *testing.T) {
	db, stats := ingest(t, t.TempDir())
	if stats != (Stats{}) {
		t.Errorf("stats = %+v", stats)
	}
	c, _ := db.Counts(context.Background())
	if c != (Counts{}) {
		t.Errorf("counts = %+v", c)
	}
}

func TestIngest_HierarchyWithStubs(t *testing.T) {
	ws := t.TempDir()
	writeFiles(t, ws, map[string]string{
		"v/foo.ch1.gch1.md": "---\nid: gch1\ntitle: Grandchild\n---\nbody",
	})
	db, stats := ingest(t, ws, models.Vault{FSPath: "v"})
	ctx := context.Background()

	if stats.Notes != 1 || stats.Stubs != 2 || stats.Edges != 2 {
		t.Errorf("stats = %+v, want 1 note, 2 stubs, 2 edges", stats)
	}

	foo := noteByFname(t, db, "foo")
	ch1 := noteByFname(t, db, "foo.ch1")
	gch1 := noteByFname(t, db, "foo.ch1.gch1")
	if !foo.Stub || !ch1.Stub || gch1.Stub {
		t.Errorf("stub flags = %v %v %v, want true true false", foo.Stub, ch1.Stub, gch1.Stub)
	}
	if ch1.Title != "ch1" {
		t.Errorf("stub title = %q, want %q", ch1.Title, "ch1")
	}

	kids, err := db.Children(ctx, foo.ID)
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(kids) != 1 || kids[0].ID != ch1.ID {
		t.Errorf("children of foo = %+v, want foo.ch1", kids)
	}
	kids, _ = db.Children(ctx, ch1.ID)
	if len(kids) != 1 || kids[0].ID != "gch1" {
		t.Errorf("children of foo.ch1 = %+v, want foo.ch1.gch1", kids)
	}

	parent, err := db.Parent(ctx, "gch1")
	if err != nil {
		t.Fatalf("Parent: %v", err)
	}
	if parent.ID != ch1.ID {
		t.Errorf("parent = %s, want %s", parent.Fname, ch1.Fname)
	}
	if _, err := db.Parent(ctx, foo.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Parent(foo) err = %v, want ErrNotFound", err)
	}
}

func TestIngest_RealAncestorsAreNotStubbed(t *testing.T) {
	ws := t.TempDir()
	writeFiles(t, ws, map[string]string{
		"v/root.md":    "---\nid: root-id\n---\n",
		"v/foo.md":     "---\nid: foo-id\n---\n",
		"v/foo.bar.md": "---\nid: bar-id\n---\n",
		"v/baz.md":     "---\nid: baz-id\n---\n",
	})
	db, stats := ingest(t, ws, models.Vault{FSPath: "v"})
	ctx := context.Background()

	if stats.Stubs != 0 {
		t.Errorf("stubs = %d, want 0", stats.Stubs)
	}
	kids, err := db.Children(ctx, "root-id")
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(kids) != 2 || kids[0].ID != "baz-id" || kids[1].ID != "foo-id" {
		t.Errorf("children of root = %+v, want baz and foo", kids)
	}
	if p, err := db.Parent(ctx, "bar-id"); err != nil || p.ID != "foo-id" {
		t.Errorf("Parent(bar) = %+v, %v", p, err)
	}
	if _, err := db.Parent(ctx, "root-id"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("root should have no parent, err = %v", err)
	}
}

func TestIngest_SameFnameInTwoVaults(t *testing.T) {
	ws := t.TempDir()
	writeFiles(t, ws, map[string]string{
		"a/foo.md": "# Foo in a",
		"b/foo.md": "# Foo in b",
	})
	db, _ := ingest(t, ws, models.Vault{FSPath: "a"}, models.Vault{FSPath: "b"})

	notes, err := db.NotesByFname(context.Background(), "foo")
	if err != nil {
		t.Fatalf("NotesByFname: %v", err)
	}
	if len(notes) != 2 {
		t.Fatalf("got %d notes, want 2", len(notes))
	}
	if notes[0].ID == notes[1].ID {
		t.Error("notes should have distinct ids")
	}
	if notes[0].Vault.Name != "a" || notes[1].Vault.Name != "b" {
		t.Errorf("vaults = %s, %s", notes[0].Vault.Name, notes[1].Vault.Name)
	}

	vaults, err := db.Vaults(context.Background())
	if err != nil {
		t.Fatalf("Vaults: %v", err)
	}
	if len(vaults) != 2 || vaults[0].Notes != 1 || vaults[1].Notes != 1 {
		t.Errorf("vaults = %+v", vaults)
	}
}

func TestIngest_SameBasenameVaults(t *testing.T) {
	ws := t.TempDir()
	writeFiles(t, ws, map[string]string{
		"x/notes/foo.md": "# Foo in x",
		"y/notes/foo.md": "# Foo in y",
	})
	db, stats := ingest(t, ws, models.Vault{FSPath: "x/notes"}, models.Vault{FSPath: "y/notes"})
	ctx := context.Background()

	if stats.Vaults != 2 || stats.Notes != 2 {
		t.Errorf("stats = %+v, want 2 vaults and 2 notes", stats)
	}

	notes, err := db.NotesByFname(ctx, "foo")
	if err != nil {
		t.Fatalf("NotesByFname: %v", err)
	}
	if len(notes) != 2 {
		t.Fatalf("got %d notes, want 2", len(notes))
	}
	if notes[0].Vault.FSPath != "x/notes" || notes[1].Vault.FSPath != "y/notes" {
		t.Errorf("vault paths = %s, %s", notes[0].Vault.FSPath, notes[1].Vault.FSPath)
	}
	if notes[0].Title != "Foo in x" || notes[1].Title != "Foo in y" {
		t.Errorf("titles = %q, %q", notes[0].Title, notes[1].Title)
	}

	vaults, err := db.Vaults(ctx)
	if err != nil {
		t.Fatalf("Vaults: %v", err)
	}
	if len(vaults) != 2 {
		t.Fatalf("vaults = %+v, want 2", vaults)
	}
	wantRoots := []string{filepath.Join(ws, "x", "notes"), filepath.Join(ws, "y", "notes")}
	for i, v := range vaults {
		if v.Name != "notes" || v.Root != wantRoots[i] || v.Notes != 1 {
			t.Errorf("vault %d = %+v, want notes at %s with 1 note", i, v, wantRoots[i])
		}
	}
}

func TestIngest_LinksSchemaAndSearch(t *testing.T) {
	ws := t.TempDir()
	writeFiles(t, ws, map[string]string{
		"v/daily.md": "---\nid: daily\nschema: journal:day\ntags: [log]\n---\nSee [[Weekly|weekly]] and [design](./design.md).\nzanzibar appears here.",
		"v/weekly.md": "---\nid: weekly\n---\nBack to [[daily]] and <https://example.com>.",
	})
	db, stats := ingest(t, ws, models.Vault{FSPath: "v", Name: "main"})
	ctx := context.Background()

	if stats.Links != 4 {
		t.Errorf("links = %d, want 4", stats.Links)
	}

	n, err := db.NoteByID(ctx, "daily")
	if err != nil {
		t.Fatalf("NoteByID: %v", err)
	}
	if n.Schema == nil || n.Schema.ModuleID != "journal" || n.Schema.SchemaID != "day" {
		t.Errorf("schema = %+v", n.Schema)
	}
	if len(n.Tags) != 1 || n.Tags[0] != "log" {
		t.Errorf("tags = %v", n.Tags)
	}
	if len(n.Links) != 2 || n.Links[0].Target != "weekly" || n.Links[0].Alias != "Weekly" || n.Links[1].Type != models.LinkMarkdown {
		t.Errorf("links = %+v", n.Links)
	}
	if n.Vault.Name != "main" || n.Vault.FSPath != "v" {
		t.Errorf("vault = %+v", n.Vault)
	}

	back, err := db.Backlinks(ctx, "daily")
	if err != nil {
		t.Fatalf("Backlinks: %v", err)
	}
	if len(back) != 1 || back[0] != "weekly" {
		t.Errorf("backlinks = %v", back)
	}

	sn, err := db.SchemaNotes(ctx, "journal")
	if err != nil {
		t.Fatalf("SchemaNotes: %v", err)
	}
	if len(sn) != 1 || sn[0].NoteID != "daily" || sn[0].SchemaID != "day" {
		t.Errorf("schema notes = %+v", sn)
	}
	if all, _ := db.SchemaNotes(ctx, ""); len(all) != 1 {
		t.Errorf("all schema notes = %+v", all)
	}

	hits, err := db.Search(ctx, "zanzibar", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "daily" || hits[0].Vault != "main" {
		t.Errorf("search = %+v", hits)
	}
	if hits, _ := db.Search(ctx, "   ", 10); len(hits) != 0 {
		t.Errorf("blank search = %+v", hits)
	}
}

func TestIngest_NoteByIDNotFound(t *testing.T) {
	db := testDB(t)
	if _, err := db.NoteByID(context.Background(), "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestIngest_DuplicateIDAcrossVaults(t *testing.T) {
	ws := t.TempDir()
	writeFiles(t, ws, map[string]string{
		"a/one.md": "---\nid: same\n---\n",
		"b/two.md": "---\nid: same\n---\n",
	})
	db := testDB(t)
	err := Ingest(context.Background(), db, ws, []models.Vault{{FSPath: "a"}, {FSPath: "b"}}, storage.NewFS())
	if got := apperr.StatusOf(err); got != apperr.StatusDuplicateNoteID {
		t.Errorf("status = %q, want %q (err %v)", got, apperr.StatusDuplicateNoteID, err)
	}
}

func TestIngest_DuplicateIDInVault(t *testing.T) {
	ws := t.TempDir()
	writeFiles(t, ws, map[string]string{
		"a/one.md": "---\nid: same\n---\n",
		"a/two.md": "---\nid: same\n---\n",
	})
	err := Ingest(context.Background(), testDB(t), ws, []models.Vault{{FSPath: "a"}}, storage.NewFS())
	if got := apperr.StatusOf(err); got != apperr.StatusDuplicateNoteID {
		t.Errorf("status = %q, want %q", got, apperr.StatusDuplicateNoteID)
	}
}

func TestIngest_DuplicateFnameInVault(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)

	store.EXPECT().ReadDir(gomock.Any(), "/ws/a", storage.NotePatterns).Return([]storage.Entry{
		{Path: "/ws/a/foo.bar.md", RelPath: "foo.bar.md"},
		{Path: "/ws/a/foo/bar.md", RelPath: "foo/bar.md"},
	}, nil)
	store.EXPECT().Read(gomock.Any(), gomock.Any()).Return([]byte("body"), nil).Times(2)

	err := Ingest(context.Background(), testDB(t), "/ws", []models.Vault{{FSPath: "a"}}, store)
	if got := apperr.StatusOf(err); got != apperr.StatusDuplicateNoteName {
		t.Errorf("status = %q, want %q", got, apperr.StatusDuplicateNoteName)
	}
	if fields := apperr.FieldsOf(err); fields["vault"] != "a" || fields["file"] != "foo/bar.md" {
		t.Errorf("fields = %v", fields)
	}
}

func TestIngest_BadFrontmatter(t *testing.T) {
	ws := t.TempDir()
	writeFiles(t, ws, map[string]string{
		"a/ok.md":  "fine",
		"a/bad.md": "---\nid: [unclosed\n---\n",
	})
	err := Ingest(context.Background(), testDB(t), ws, []models.Vault{{FSPath: "a"}}, storage.NewFS())
	if got := apperr.StatusOf(err); got != apperr.StatusBadParseForNote {
		t.Errorf("status = %q, want %q", got, apperr.StatusBadParseForNote)
	}
}

func TestIngest_MissingVaultFailsWholeCall(t *testing.T) {
	ws := t.TempDir()
	writeFiles(t, ws, map[string]string{"good/a.md": "a"})

	err := Ingest(context.Background(), testDB(t), ws, []models.Vault{{FSPath: "good"}, {FSPath: "missing"}}, storage.NewFS())
	if err == nil {
		t.Fatal("expected error for missing vault directory")
	}
	if got := apperr.StatusOf(err); got != apperr.StatusVaultListFailed {
		t.Errorf("status = %q, want %q", got, apperr.StatusVaultListFailed)
	}
}

func TestIngest_ListFailureFromStore(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	boom := errors.New("permission denied")

	store.EXPECT().ReadDir(gomock.Any(), "/ws/a", storage.NotePatterns).Return(nil, boom)
	store.EXPECT().ReadDir(gomock.Any(), "/ws/b", storage.NotePatterns).Return(nil, nil).AnyTimes()

	err := Ingest(context.Background(), testDB(t), "/ws", []models.Vault{{FSPath: "a"}, {FSPath: "b"}}, store)
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want to wrap %v", err, boom)
	}
	if got := apperr.StatusOf(err); got != apperr.StatusVaultListFailed {
		t.Errorf("status = %q, want %q", got, apperr.StatusVaultListFailed)
	}
}

func TestIngest_RelativeVaultWithoutWorkspace(t *testing.T) {
	err := Ingest(context.Background(), testDB(t), "", []models.Vault{{FSPath: "rel"}}, storage.NewFS())
	if got := apperr.StatusOf(err); got != apperr.StatusVaultResolveFailed {
		t.Errorf("status = %q, want %q", got, apperr.StatusVaultResolveFailed)
	}
}

func TestIngest_VaultHook(t *testing.T) {
	ws := t.TempDir()
	writeFiles(t, ws, map[string]string{
		"a/x.y.md": "x",
		"b/z.md":   "z",
	})
	var (
		mu   sync.Mutex
		seen = map[string]Stats{}
	)
	_, err := IngestWithStats(context.Background(), testDB(t), ws,
		[]models.Vault{{FSPath: "a"}, {FSPath: "b", Name: "bee"}}, storage.NewFS(),
		WithConcurrency(1),
		WithVaultHook(func(name string, s Stats) {
			mu.Lock()
			seen[name] = s
			mu.Unlock()
		}))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if seen["a"].Notes != 1 || seen["a"].Stubs != 1 {
		t.Errorf("a = %+v", seen["a"])
	}
	if seen["bee"].Notes != 1 || seen["bee"].Stubs != 0 {
		t.Errorf("bee = %+v", seen["bee"])
	}
}

func TestBuildHierarchy(t *testing.T) {
	now := time.UnixMilli(42)
	v := models.Vault{FSPath: "v"}
	notes := []*models.NoteRecord{
		{ID: "1", Fname: "a.b.c"},
		{ID: "2", Fname: "a.b.d"},
		{ID: "3", Fname: "x"},
	}
	stubs, edges := buildHierarchy(notes, v, now)

	if len(stubs) != 2 || stubs[0].Fname != "a" || stubs[1].Fname != "a.b" {
		t.Fatalf("stubs = %+v", stubs)
	}
	for _, s := range stubs {
		if !s.Stub || s.ID == "" || !s.Created.Equal(now) || s.Vault != v {
			t.Errorf("bad stub %+v", s)
		}
	}

	ab := stubs[1].ID
	want := map[models.HierarchyEdge]bool{
		{ParentID: stubs[0].ID, ChildID: ab}: true,
		{ParentID: ab, ChildID: "1"}:         true,
		{ParentID: ab, ChildID: "2"}:         true,
	}
	if len(edges) != len(want) {
		t.Fatalf("edges = %+v", edges)
	}
	for _, e := range edges {
		if !want[e] {
			t.Errorf("unexpected edge %+v", e)
		}
	}
}
