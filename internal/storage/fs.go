package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// FS implements Store backed by the local file system.
type FS struct{}

// NewFS creates a new FS store.
func NewFS() *FS {
	return &FS{}
}

// ReadDir walks root and returns metadata for every file matching include.
// Dot-directories (.git, .dendron, ...) are skipped.
func (f *FS) ReadDir(ctx context.Context, root string, include []string) ([]Entry, error) {
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("storage: root must be absolute: %s", root)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", root)
	}

	matchers, err := compile(include)
	if err != nil {
		return nil, err
	}

	var out []Entry
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !matchAny(matchers, rel) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		out = append(out, Entry{
			Path:      p,
			RelPath:   rel,
			Checksum:  Checksum(data),
			UpdatedAt: fi.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list %s: %w", root, err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].RelPath < out[j].RelPath })
	return out, nil
}

// Read returns the raw bytes of a file. Only absolute paths are accepted.
func (f *FS) Read(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !filepath.IsAbs(path) {
		return nil, fmt.Errorf("storage: relative paths not allowed: %s", path)
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, nil
}

// compile turns include patterns into matchers; '/' separates path segments
// so "*.md" only matches files directly under the root and "**/*.md" matches
// at any depth below it.
func compile(include []string) ([]glob.Glob, error) {
	if len(include) == 0 {
		return nil, fmt.Errorf("storage: at least one include pattern is required")
	}
	out := make([]glob.Glob, 0, len(include))
	for _, p := range include {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("storage: bad include pattern %q: %w", p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

func matchAny(matchers []glob.Glob, rel string) bool {
	for _, g := range matchers {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// Checksum returns the hex-encoded SHA-256 digest of data.
func Checksum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
