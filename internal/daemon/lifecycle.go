package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StartBackground launches the daemon's background loops: the processor
// cycle, the periodic auto-backup, and the file watcher (when enabled).
// Each loop exits when ctx is cancelled.
func (a *App) StartBackground(ctx context.Context) {
	go a.Processor.Run(ctx)
	go a.RunBackupLoop(ctx)

	if a.Watcher != nil {
		if err := a.watchProjectTree(); err != nil {
			a.Logger.Warn("daemon: failed to register watch dirs", "error", err)
		}
		go a.Watcher.Run(ctx)
	}

	stamp := filepath.Join(a.DataDir, "cli_version")
	if _, err := os.Stat(stamp); os.IsNotExist(err) {
		if err := WriteVersionStamp(stamp, Version); err != nil {
			a.Logger.Warn("daemon: failed to write version stamp", "error", err)
		}
	}
}

// watchProjectTree registers every non-ignored directory under the project
// root with the watcher (fsnotify watches one level per Add).
func (a *App) watchProjectTree() error {
	return filepath.WalkDir(a.ProjectRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if name == ".git" || name == "node_modules" || name == ".oak" {
			return filepath.SkipDir
		}
		return a.Watcher.AddDir(path)
	})
}

// RebuildIndex runs a full index build under the index-status tracker,
// bounded by the configured rebuild timeout. Returns an error when a
// rebuild is already in progress or the build fails/times out.
var ErrRebuildInProgress = fmt.Errorf("daemon: index rebuild already in progress")

func (a *App) RebuildIndex(ctx context.Context) (IndexSnapshot, error) {
	if !a.Index.Begin(0) {
		return a.Index.Snapshot(), ErrRebuildInProgress
	}

	cfg := a.Config.Get().Indexer
	timeout := cfg.RebuildTimeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	buildCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	a.Indexer.SetProgress(func(done int) { a.Index.Progress(done, 0) })
	stats, err := a.Indexer.Build(buildCtx, a.ProjectRoot, cfg)
	a.Indexer.SetProgress(nil)
	if err != nil {
		a.Index.Fail(err)
		if buildCtx.Err() == context.DeadlineExceeded {
			return a.Index.Snapshot(), fmt.Errorf("daemon: index rebuild timed out after %s: %w", timeout, buildCtx.Err())
		}
		return a.Index.Snapshot(), err
	}

	a.Index.Complete(stats)
	return a.Index.Snapshot(), nil
}

// StorageSizes reports the on-disk footprint of the two stores for the
// status route.
type StorageSizes struct {
	ActivityDBBytes int64 `json:"activity_db_bytes"`
	VectorDBBytes   int64 `json:"vector_db_bytes"`
}

// GetStorageSizes stats the database files; a missing file counts as zero.
func (a *App) GetStorageSizes() StorageSizes {
	var sizes StorageSizes
	if info, err := os.Stat(filepath.Join(a.DataDir, "activities.db")); err == nil {
		sizes.ActivityDBBytes = info.Size()
	}
	if info, err := os.Stat(filepath.Join(a.DataDir, "chroma", "vectors.db")); err == nil {
		sizes.VectorDBBytes = info.Size()
	}
	return sizes
}
