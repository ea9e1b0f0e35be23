package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/oak-dev/cid/internal/daemon"
)

// handleRebuild runs a full index rebuild; 409 when one is already
// running, 504 when the configured timeout passes.
func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	snap, err := s.app.RebuildIndex(r.Context())
	if err != nil {
		if errors.Is(err, daemon.ErrRebuildInProgress) {
			writeError(w, http.StatusConflict, "index rebuild already in progress")
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			writeError(w, http.StatusGatewayTimeout, "index rebuild timed out")
			return
		}
		writeError(w, http.StatusInternalServerError, "rebuild failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleResetProcessing(w http.ResponseWriter, r *http.Request) {
	n, err := s.app.Store.ResetProcessing()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reset failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reset_batches": n})
}

// handleTriggerProcessing runs one processor cycle synchronously.
func (s *Server) handleTriggerProcessing(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Processor.RunCycle(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "processing cycle failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"processed": true})
}

// handleReEmbed clears every observation's embedded flag so the processor
// backfill rebuilds the memory collection, typically after an embedding-
// provider change.
func (s *Server) handleReEmbed(w http.ResponseWriter, r *http.Request) {
	n, err := s.app.Store.ResetObservationsEmbedded()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "re-embed reset failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queued": n})
}

func (s *Server) handleMemoryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.app.Store.GetMemoryStats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load memory stats")
		return
	}
	counts, err := s.app.Vector.CollectionCounts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count vector rows")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":        stats.Total,
		"by_type":      stats.ByType,
		"by_status":    stats.ByStatus,
		"unembedded":   stats.Unembedded,
		"vector_items": counts.MemoryItems,
	})
}
