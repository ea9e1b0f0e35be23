package httpserver

import (
	"net/http"

	"github.com/dustin/go-humanize"

	"github.com/oak-dev/cid/internal/daemon"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": daemon.Version,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	app := s.app
	counts, err := app.Vector.CollectionCounts()
	if err != nil {
		s.logger.Warn("status: collection counts failed", "error", err)
	}
	sessionCount, err := app.Store.CountSessions()
	if err != nil {
		s.logger.Warn("status: session count failed", "error", err)
	}
	memStats, err := app.Store.GetMemoryStats()
	if err != nil {
		s.logger.Warn("status: memory stats failed", "error", err)
	}
	sizes := app.GetStorageSizes()

	watcher := map[string]any{"enabled": app.Watcher != nil}

	writeJSON(w, http.StatusOK, map[string]any{
		"daemon": map[string]any{
			"project_root":      app.ProjectRoot,
			"source_machine_id": app.SourceMachineID,
			"sessions":          sessionCount,
		},
		"index": app.Index.Snapshot(),
		"memory": map[string]any{
			"observations": memStats.Total,
			"by_type":      memStats.ByType,
			"by_status":    memStats.ByStatus,
			"unembedded":   memStats.Unembedded,
			"vector_items": counts.MemoryItems,
		},
		"embedding":    app.Chain.GetStatus(r.Context()),
		"file_watcher": watcher,
		"storage": map[string]any{
			"activity_db_bytes": sizes.ActivityDBBytes,
			"activity_db_human": humanize.Bytes(uint64(sizes.ActivityDBBytes)),
			"vector_db_bytes":   sizes.VectorDBBytes,
			"vector_db_human":   humanize.Bytes(uint64(sizes.VectorDBBytes)),
			"code_chunks":       counts.CodeChunks,
			"session_summaries": counts.SessionSummaries,
		},
		"backup":  app.GetBackupStatus(),
		"version": app.VersionInfo,
	})
}
