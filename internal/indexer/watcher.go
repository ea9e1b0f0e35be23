package indexer

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/oak-dev/cid/internal/config"
)

// Watcher debounces fsnotify events into incremental Indexer.ReindexFile
// calls, and enforces a minimum interval between reindexes of the same
// file so a burst of saves (editor autosave, `go fmt` on save) collapses
// into one pass.
type Watcher struct {
	idx         *Indexer
	projectRoot string
	cfgGet      func() config.IndexerConfig
	logger      *slog.Logger

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]time.Time // path -> time the debounce timer fires
	lastRun map[string]time.Time // path -> time of the last completed reindex
	deleted map[string]struct{}
}

// NewWatcher wraps an fsnotify.Watcher rooted at projectRoot. cfgGet
// returns the live indexer config so debounce/min-interval changes from a
// config edit take effect without restarting the watcher.
func NewWatcher(idx *Indexer, projectRoot string, cfgGet func() config.IndexerConfig, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{
		idx:         idx,
		projectRoot: projectRoot,
		cfgGet:      cfgGet,
		logger:      logger,
		fsw:         fsw,
		pending:     make(map[string]time.Time),
		lastRun:     make(map[string]time.Time),
		deleted:     make(map[string]struct{}),
	}
	return w, nil
}

// AddDir registers a directory (non-recursively; fsnotify watches one
// level per Add) with the underlying fsnotify watcher.
func (w *Watcher) AddDir(path string) error {
	return w.fsw.Add(path)
}

// Run processes fsnotify events until ctx is cancelled, debouncing each
// changed path independently and honoring the configured min-reindex
// interval per file.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("indexer: watcher error", "error", err)
		case <-ticker.C:
			w.fireExpired(ctx)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	cfg := w.cfgGet()

	// Same filters as the full build: extension allowlist plus ignore
	// globs, so the watcher never indexes what Build would skip.
	ext := filepath.Ext(ev.Name)
	allowed := false
	for _, e := range cfg.Extensions {
		if e == ext {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}
	relPath, err := filepath.Rel(w.projectRoot, ev.Name)
	if err != nil {
		relPath = ev.Name
	}
	if matchesAnyGlob(cfg.IgnoreGlobs, relPath) {
		return
	}

	debounce := cfg.DebounceInterval.Duration
	if debounce <= 0 {
		debounce = time.Second
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if ev.Op&fsnotify.Remove != 0 || ev.Op&fsnotify.Rename != 0 {
		w.deleted[relPath] = struct{}{}
	} else {
		delete(w.deleted, relPath)
	}
	w.pending[relPath] = time.Now().Add(debounce)
}

// fireExpired reindexes every pending path whose debounce timer has
// elapsed and whose min-reindex-interval since the last run has passed,
// logging and continuing on a per-file failure rather than aborting the
// whole sweep.
func (w *Watcher) fireExpired(ctx context.Context) {
	cfg := w.cfgGet()
	minInterval := cfg.MinReindexInterval.Duration

	now := time.Now()
	var ready []string

	w.mu.Lock()
	for path, fireAt := range w.pending {
		if now.Before(fireAt) {
			continue
		}
		if last, ok := w.lastRun[path]; ok && minInterval > 0 && now.Sub(last) < minInterval {
			continue
		}
		ready = append(ready, path)
	}
	for _, path := range ready {
		delete(w.pending, path)
		w.lastRun[path] = now
	}
	deleted := make(map[string]struct{}, len(w.deleted))
	for path := range w.deleted {
		deleted[path] = struct{}{}
	}
	w.deleted = make(map[string]struct{})
	w.mu.Unlock()

	for _, path := range ready {
		if _, isDeleted := deleted[path]; isDeleted {
			if err := w.idx.RemoveFile(path); err != nil {
				w.logger.Warn("indexer: watcher remove failed", "path", path, "error", err)
			}
			continue
		}
		if err := w.idx.ReindexFile(ctx, w.projectRoot, path, cfg); err != nil {
			w.logger.Warn("indexer: watcher reindex failed", "path", path, "error", err)
		}
	}
}

// Close releases the underlying fsnotify watcher's OS resources.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
