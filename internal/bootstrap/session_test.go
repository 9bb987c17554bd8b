package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/stave/internal/index"
	"github.com/starford/stave/internal/models"
	"github.com/starford/stave/internal/storage"
	"github.com/starford/stave/internal/testutil"
)

func notesIn(t *testing.T, s *Session) int {
	t.Helper()
	n, err := countNotes(s)
	require.NoError(t, err)
	return n
}

func countNotes(s *Session) (int, error) {
	r, release, err := s.Reader()
	if err != nil {
		return 0, err
	}
	defer release()
	c, err := r.Counts(context.Background())
	return c.Notes, err
}

func TestSession_NotReadyBeforeBuild(t *testing.T) {
	s := New(storage.NewFS()).NewSession(t.TempDir(), nil, index.MemoryPath)
	assert.False(t, s.Ready())
	_, _, err := s.Reader()
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Empty(t, s.Path())
	assert.NoError(t, s.Close())
}

func TestSession_RebuildMemory(t *testing.T) {
	ws := t.TempDir()
	testutil.WriteFiles(t, ws, map[string]string{"v/one.md": "# one"})
	s := New(storage.NewFS()).NewSession(ws, []models.Vault{{FSPath: "v"}}, index.MemoryPath)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	require.NoError(t, s.Rebuild(ctx))
	assert.True(t, s.Ready())
	assert.Equal(t, 1, notesIn(t, s))

	testutil.WriteFiles(t, ws, map[string]string{"v/two.md": "# two"})
	require.NoError(t, s.Rebuild(ctx))
	assert.Equal(t, 2, notesIn(t, s))

	stats, builtAt := s.Stats()
	assert.Equal(t, 2, stats.Notes)
	assert.False(t, builtAt.IsZero())
}

func TestSession_RebuildFile(t *testing.T) {
	ws := t.TempDir()
	testutil.WriteFiles(t, ws, map[string]string{
		"v/one.md":         "# one",
		"v/day.schema.yml": "schemas:\n  - id: day\n",
	})
	path := filepath.Join(t.TempDir(), "stave.db")
	s := New(storage.NewFS()).NewSession(ws, []models.Vault{{FSPath: "v"}}, path)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	require.NoError(t, s.Rebuild(ctx))
	assert.Equal(t, 1, notesIn(t, s))

	testutil.WriteFiles(t, ws, map[string]string{"v/two.md": "# two"})
	require.NoError(t, s.Rebuild(ctx))
	assert.Equal(t, 2, notesIn(t, s))
	assert.Equal(t, path, s.Path())

	_, err := os.Stat(path + ".building")
	assert.True(t, os.IsNotExist(err), "build file left behind")

	mods, err := s.Schemas()
	require.NoError(t, err)
	assert.Contains(t, mods, "day")
}

func TestSession_FailedRebuildKeepsPreviousIndex(t *testing.T) {
	ws := t.TempDir()
	testutil.WriteFiles(t, ws, map[string]string{"v/one.md": "# one"})
	s := New(storage.NewFS()).NewSession(ws, []models.Vault{{FSPath: "v"}}, index.MemoryPath)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	require.NoError(t, s.Rebuild(ctx))

	testutil.WriteFiles(t, ws, map[string]string{"v/bad.md": "---\nid: [unclosed\n---\n"})
	require.Error(t, s.Rebuild(ctx))
	assert.Equal(t, 1, notesIn(t, s))
}

func TestSession_FailedPromoteKeepsPreviousIndex(t *testing.T) {
	ws := t.TempDir()
	testutil.WriteFiles(t, ws, map[string]string{"v/one.md": "# one"})
	path := filepath.Join(t.TempDir(), "stave.db")
	s := New(storage.NewFS()).NewSession(ws, []models.Vault{{FSPath: "v"}}, path)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	require.NoError(t, s.Rebuild(ctx))

	// a non-empty directory at the live path makes the rename fail
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.MkdirAll(filepath.Join(path, "keep"), 0o755))
	testutil.WriteFiles(t, ws, map[string]string{"v/two.md": "# two"})

	require.Error(t, s.Rebuild(ctx))
	assert.True(t, s.Ready())
	assert.Equal(t, 1, notesIn(t, s))

	_, err := os.Stat(path + ".building")
	assert.True(t, os.IsNotExist(err), "build file left behind")
}

func TestSession_ReaderOutlivesRebuild(t *testing.T) {
	ws := t.TempDir()
	testutil.WriteFiles(t, ws, map[string]string{"v/one.md": "# one"})
	s := New(storage.NewFS()).NewSession(ws, []models.Vault{{FSPath: "v"}}, index.MemoryPath)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	require.NoError(t, s.Rebuild(ctx))

	old, release, err := s.Reader()
	require.NoError(t, err)

	testutil.WriteFiles(t, ws, map[string]string{"v/two.md": "# two"})
	done := make(chan error, 1)
	go func() { done <- s.Rebuild(ctx) }()

	require.Eventually(t, func() bool {
		st, _ := s.Stats()
		return st.Notes == 2
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, notesIn(t, s))

	// the replaced index is still open for its reader
	c, err := old.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Notes)

	select {
	case <-done:
		t.Fatal("rebuild closed the old index while it was in use")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	release()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("rebuild did not finish after release")
	}
}

func TestSession_ConcurrentReadsDuringRebuild(t *testing.T) {
	for _, target := range []string{"memory", "file"} {
		t.Run(target, func(t *testing.T) {
			ws := t.TempDir()
			testutil.WriteFiles(t, ws, map[string]string{
				"v/one.md":     "# one",
				"v/one.two.md": "# two",
			})
			path := index.MemoryPath
			if target == "file" {
				path = filepath.Join(t.TempDir(), "stave.db")
			}
			s := New(storage.NewFS()).NewSession(ws, []models.Vault{{FSPath: "v"}}, path)
			t.Cleanup(func() { s.Close() })

			ctx := context.Background()
			require.NoError(t, s.Rebuild(ctx))

			stop := make(chan struct{})
			errs := make(chan error, 4)
			var wg sync.WaitGroup
			for i := 0; i < 4; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for {
						select {
						case <-stop:
							return
						default:
						}
						n, err := countNotes(s)
						if err == nil && n != 2 {
							err = fmt.Errorf("read %d notes, want 2", n)
						}
						if err != nil {
							errs <- err
							return
						}
					}
				}()
			}

			for i := 0; i < 10; i++ {
				require.NoError(t, s.Rebuild(ctx))
			}
			close(stop)
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Error(err)
			}
		})
	}
}

func TestSession_WatchRebuilds(t *testing.T) {
	ws := t.TempDir()
	testutil.WriteFiles(t, ws, map[string]string{"v/one.md": "# one"})
	s := New(storage.NewFS()).NewSession(ws, []models.Vault{{FSPath: "v"}}, index.MemoryPath)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Rebuild(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx, 20*time.Millisecond) }()
	// let the watcher register the vault
	time.Sleep(100 * time.Millisecond)

	testutil.WriteFiles(t, ws, map[string]string{"v/two.md": "# two"})
	assert.Eventually(t, func() bool {
		n, err := countNotes(s)
		return err == nil && n == 2
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestSession_WatchBadVault(t *testing.T) {
	s := New(storage.NewFS()).NewSession("", []models.Vault{{FSPath: "relative"}}, index.MemoryPath)
	assert.Error(t, s.Watch(context.Background(), time.Millisecond))
}

func TestSession_OnRebuild(t *testing.T) {
	ws := t.TempDir()
	testutil.WriteFiles(t, ws, map[string]string{"v/a.b.md": "# b"})
	s := New(storage.NewFS()).NewSession(ws, []models.Vault{{FSPath: "v"}}, index.MemoryPath)
	t.Cleanup(func() { s.Close() })

	var got []RebuildResult
	s.OnRebuild(func(r RebuildResult) { got = append(got, r) })

	ctx := context.Background()
	require.NoError(t, s.Rebuild(ctx))
	testutil.WriteFiles(t, ws, map[string]string{"v/bad.md": "---\nid: [\n---\n"})
	require.Error(t, s.Rebuild(ctx))

	require.Len(t, got, 2)
	assert.NoError(t, got[0].Err)
	assert.Equal(t, 1, got[0].Stats.Notes)
	assert.Equal(t, 1, got[0].Stats.Stubs)
	assert.Error(t, got[1].Err)
	assert.Nil(t, got[1].Files)
}
