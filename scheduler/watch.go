package scheduler

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/arxeiss/deadcalls/locator"
)

const defaultDebounce = 2 * time.Second

type (
	// watchRoot is a watched directory. A non-empty pattern limits events to matching
	// paths relative to dir; otherwise every code artifact below dir counts.
	watchRoot struct {
		dir       string
		pattern   string
		recursive bool
	}

	// watcher requests a rescan once artifact changes under the roots settle.
	watcher struct {
		fsw      *fsnotify.Watcher
		roots    []watchRoot
		excludes []string
		debounce time.Duration
		onChange func()
		log      *zap.Logger
	}
)

func newWatcher(roots, excludes []string, debounce time.Duration, onChange func(), log *zap.Logger) (*watcher, error) {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	w := &watcher{fsw: fsw, excludes: excludes, debounce: debounce, onChange: onChange, log: log}

	for _, r := range roots {
		wr, ok := watchRootOf(strings.TrimSpace(r))
		if !ok {
			log.Warn("watch root skipped", zap.String("root", r))
			continue
		}
		w.roots = append(w.roots, wr)
		if wr.recursive {
			w.addTree(wr.dir)
		} else if err := fsw.Add(wr.dir); err != nil {
			log.Warn("failed to watch directory", zap.String("dir", wr.dir), zap.Error(err))
		}
	}
	if len(fsw.WatchList()) == 0 {
		_ = fsw.Close()
		return nil, fmt.Errorf("no watchable directories among %d roots", len(roots))
	}
	return w, nil
}

func watchRootOf(root string) (watchRoot, bool) {
	if root == "" {
		return watchRoot{}, false
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return watchRoot{}, false
	}
	if info, err := os.Stat(abs); err == nil && info.IsDir() {
		return watchRoot{dir: abs, recursive: true}, true
	}
	base, pattern := doublestar.SplitPattern(filepath.ToSlash(abs))
	if info, err := os.Stat(filepath.FromSlash(base)); err != nil || !info.IsDir() {
		return watchRoot{}, false
	}
	return watchRoot{
		dir:       filepath.FromSlash(base),
		pattern:   pattern,
		recursive: strings.Contains(pattern, "/"),
	}, true
}

func (w *watcher) addTree(dir string) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil //nolint:nilerr // unreadable paths are not watched
		}
		if rel, relErr := filepath.Rel(dir, p); relErr == nil && rel != "." &&
			locator.Excluded(w.excludes, filepath.ToSlash(rel)) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			w.log.Warn("failed to watch directory", zap.String("dir", p), zap.Error(err))
		}
		return nil
	})
}

// relevant reports whether a change of path may alter the inventory.
func (w *watcher) relevant(path string) (watchRoot, bool) {
	for _, r := range w.roots {
		rel, err := filepath.Rel(r.dir, path)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		rel = filepath.ToSlash(rel)
		if r.pattern != "" {
			if ok, _ := doublestar.Match(r.pattern, rel); ok {
				return r, true
			}
			continue
		}
		if locator.Excluded(w.excludes, rel) {
			continue
		}
		ext := strings.ToLower(filepath.Ext(rel))
		if locator.IsArchive(rel) || ext == ".class" || ext == ".java" || ext == "" {
			return r, true
		}
	}
	return watchRoot{}, false
}

func (w *watcher) run(ctx context.Context) error {
	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		_ = w.fsw.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return fmt.Errorf("file watcher closed unexpectedly")
			}
			root, ok := w.relevant(evt.Name)
			if !ok {
				continue
			}
			if evt.Has(fsnotify.Create) && root.recursive {
				if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
					w.addTree(evt.Name)
				}
			}
			w.log.Debug("artifact changed", zap.String("path", evt.Name), zap.Stringer("op", evt.Op))

			mu.Lock()
			if timer == nil {
				timer = time.AfterFunc(w.debounce, w.onChange)
			} else {
				timer.Reset(w.debounce)
			}
			mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return fmt.Errorf("file watcher closed unexpectedly")
			}
			w.log.Warn("file watcher error", zap.Error(err))
		}
	}
}
