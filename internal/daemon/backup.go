package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// BackupFileInfo describes one backup file in the history directory.
type BackupFileInfo struct {
	Path       string `json:"path"`
	Machine    string `json:"machine"`
	SizeBytes  int64  `json:"size_bytes"`
	ModifiedAt string `json:"modified_at"`
}

// BackupStatus is the payload of /api/backup/status.
type BackupStatus struct {
	Enabled        bool             `json:"enabled"`
	Dir            string           `json:"dir"`
	LastAutoBackup string           `json:"last_auto_backup,omitempty"`
	Files          []BackupFileInfo `json:"files"`
}

// backupDir resolves the history directory, defaulting to
// <project>/.oak/ci-history.
func (a *App) backupDir() string {
	dir := a.Config.Get().Backup.Dir
	if dir == "" {
		dir = filepath.Join(a.ProjectRoot, ".oak", "ci-history")
	}
	return dir
}

// CreateBackup exports the relational store to the per-machine SQL dump
// file and returns its path.
func (a *App) CreateBackup(includeActivities bool) (string, error) {
	dump, err := a.Store.ExportToSQL(includeActivities)
	if err != nil {
		return "", err
	}

	dir := a.backupDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("daemon: create backup dir: %w", err)
	}
	path := filepath.Join(dir, a.SourceMachineID+".sql")
	if err := os.WriteFile(path, []byte(dump), 0o644); err != nil {
		return "", fmt.Errorf("daemon: write backup: %w", err)
	}

	a.backupMu.Lock()
	a.lastAutoBackup = time.Now().UTC()
	a.backupMu.Unlock()
	return path, nil
}

// RestoreBackup imports a SQL dump file. Imported observations arrive with
// embedded=0, so the next processor cycle re-embeds them.
func (a *App) RestoreBackup(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("daemon: read backup %s: %w", path, err)
	}
	return a.Store.ImportFromSQL(string(data))
}

// GetBackupStatus lists the history directory's dump files.
func (a *App) GetBackupStatus() BackupStatus {
	cfg := a.Config.Get().Backup
	dir := a.backupDir()

	st := BackupStatus{Enabled: cfg.Enabled, Dir: dir}
	a.backupMu.Lock()
	if !a.lastAutoBackup.IsZero() {
		st.LastAutoBackup = a.lastAutoBackup.Format(time.RFC3339)
	}
	a.backupMu.Unlock()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return st
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		st.Files = append(st.Files, BackupFileInfo{
			Path:       filepath.Join(dir, e.Name()),
			Machine:    strings.TrimSuffix(e.Name(), ".sql"),
			SizeBytes:  info.Size(),
			ModifiedAt: info.ModTime().UTC().Format(time.RFC3339),
		})
	}
	return st
}

// RunBackupLoop periodically writes an automatic backup while enabled. A
// disabled loop still ticks every minute so enabling backups through a
// config edit takes effect without a restart.
func (a *App) RunBackupLoop(ctx context.Context) {
	for {
		cfg := a.Config.Get().Backup
		interval := cfg.Interval.Duration
		if !cfg.Enabled || interval <= 0 {
			interval = time.Minute
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		if !a.Config.Get().Backup.Enabled {
			continue
		}
		if _, err := a.CreateBackup(false); err != nil {
			a.Logger.Warn("daemon: auto-backup failed", "error", err)
		}
	}
}
