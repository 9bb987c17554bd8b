package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period used when Watch gets a zero debounce.
const DefaultDebounce = 300 * time.Millisecond

// ChangeCallback is called once a burst of note or schema file events has
// settled. paths lists the changed files, sorted and deduplicated.
type ChangeCallback func(ctx context.Context, paths []string)

// Watch starts an fsnotify watcher on every vault root and calls cb after
// note (*.md) or schema (*.schema.yml) files change, until ctx is cancelled.
// Events are debounced so an editor save or a git checkout triggers a
// single callback.
//
// New directories created at runtime are automatically added to the watch
// list; dot-directories are never watched.
func Watch(ctx context.Context, roots []string, debounce time.Duration, logger *slog.Logger, cb ChangeCallback) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	for _, root := range roots {
		if err := addDirsRecursive(w, root); err != nil {
			return err
		}
		logger.Info("watcher: started", slog.String("root", root))
	}

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
		pending = make(map[string]struct{})
	)
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
			timerCh = timer.C
		} else {
			timer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-timerCh:
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			clear(pending)
			logger.Debug("watcher: changes settled", slog.Int("files", len(paths)))
			if cb != nil {
				cb(ctx, paths)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			absPath := ev.Name

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if isDotDir(absPath) {
						continue
					}
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", absPath))
					}
					// Files may already sit in the new directory.
					pending[absPath] = struct{}{}
					schedule()
					continue
				}
			}

			if !isWatchedFile(absPath) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			logger.Debug("watcher: event", slog.String("path", absPath), slog.String("op", ev.Op.String()))
			pending[absPath] = struct{}{}
			schedule()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func isWatchedFile(p string) bool {
	return strings.HasSuffix(p, ".md") || strings.HasSuffix(p, ".schema.yml")
}

func isDotDir(p string) bool {
	return strings.HasPrefix(filepath.Base(p), ".")
}

// addDirsRecursive adds root and all its non-dot subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && isDotDir(path) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
