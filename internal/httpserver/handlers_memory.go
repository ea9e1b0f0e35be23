package httpserver

import (
	"database/sql"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/oak-dev/cid/internal/activitystore"
	"github.com/oak-dev/cid/internal/tokenest"
	"github.com/oak-dev/cid/internal/vectorstore"
)

// validMemoryTypes is the API-boundary validation set; storage itself is
// an open string so new kinds can arrive without a migration.
var validMemoryTypes = map[string]struct{}{
	"gotcha":          {},
	"bug_fix":         {},
	"decision":        {},
	"discovery":       {},
	"trade_off":       {},
	"session_summary": {},
	"plan":            {},
}

type fetchRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.IDs) < 1 || len(req.IDs) > 20 {
		writeError(w, http.StatusBadRequest, "ids must contain between 1 and 20 entries")
		return
	}

	items, err := s.app.Vector.FetchByIDs(req.IDs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "fetch failed")
		return
	}

	type fetchResult struct {
		ID      string `json:"id"`
		Content string `json:"content"`
		Tokens  int    `json:"tokens"`
	}
	results := make([]fetchResult, 0, len(items))
	total := 0
	for _, item := range items {
		tokens := tokenest.Estimate(item.Document)
		results = append(results, fetchResult{ID: item.ID, Content: item.Document, Tokens: tokens})
		total += tokens
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results, "total_tokens": total})
}

type rememberRequest struct {
	Observation string   `json:"observation"`
	MemoryType  string   `json:"memory_type"`
	Context     string   `json:"context"`
	Tags        []string `json:"tags"`
	SessionID   string   `json:"session_id"`
}

func (s *Server) handleRemember(w http.ResponseWriter, r *http.Request) {
	var req rememberRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Observation) == "" {
		writeError(w, http.StatusBadRequest, "observation must not be empty")
		return
	}
	if _, ok := validMemoryTypes[req.MemoryType]; !ok {
		writeError(w, http.StatusBadRequest, "unknown memory_type "+req.MemoryType)
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "manual"
		if _, _, err := s.app.Store.GetOrCreateSession(sessionID, "manual", s.app.ProjectRoot); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to resolve session")
			return
		}
	}

	tags := append([]string{"manual"}, req.Tags...)
	obs, err := s.app.Store.CreateObservation(sessionID, sql.NullInt64{}, req.Observation, req.MemoryType, req.Context, tags, 5)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store observation")
		return
	}

	// Vector write is best-effort: a failure leaves embedded=0 for the
	// processor's backfill.
	if result, err := s.app.Chain.Embed(r.Context(), []string{req.Observation}); err == nil && len(result.Embeddings) > 0 {
		vErr := s.app.Vector.AddMemory(vectorstore.MemoryItemInput{
			ID:         obs.ID,
			MemoryType: req.MemoryType,
			Document:   req.Observation,
			Tags:       tags,
			Importance: 5,
			SessionID:  sessionID,
			Status:     "active",
			Embedding:  result.Embeddings[0],
		})
		if vErr == nil {
			if err := s.app.Store.SetObservationEmbedded(obs.ID, true); err != nil {
				s.logger.Warn("remember: failed to mark embedded", "id", obs.ID, "error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":      obs.ID,
		"stored":  true,
		"message": "observation stored",
	})
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 100
	obs, err := s.app.Store.ListObservations(q.Get("memory_type"), q.Get("status"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list observations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"memories": observationPayloads(obs)})
}

func observationPayloads(obs []activitystore.Observation) []map[string]any {
	out := make([]map[string]any, 0, len(obs))
	for _, o := range obs {
		tags := o.Tags
		if tags == nil {
			tags = []string{}
		}
		entry := map[string]any{
			"id":          o.ID,
			"observation": o.Observation,
			"memory_type": o.MemoryType,
			"context":     o.Context,
			"tags":        tags,
			"importance":  o.Importance,
			"created_at":  o.CreatedAt,
			"status":      o.Status,
			"session_id":  o.SessionID,
			"embedded":    o.Embedded,
		}
		if o.ResolvedAt.Valid {
			entry["resolved_at"] = o.ResolvedAt.String
		}
		if o.SupersededBy != "" {
			entry["superseded_by"] = o.SupersededBy
		}
		out = append(out, entry)
	}
	return out
}

type statusUpdateRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (s *Server) handleUpdateMemoryStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req statusUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	switch req.Status {
	case "active", "resolved", "superseded":
	default:
		writeError(w, http.StatusBadRequest, "status must be active, resolved, or superseded")
		return
	}

	changed, err := s.updateObservationStatus(id, req.Status, "", req.Reason)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update status")
		return
	}
	if !changed {
		writeError(w, http.StatusNotFound, "observation not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": req.Status})
}

// updateObservationStatus drives a manual status transition: relational
// write, resolution event for cross-machine replay, vector metadata sync.
func (s *Server) updateObservationStatus(id, status, sessionID, reason string) (bool, error) {
	action := status
	if status == "active" {
		action = "reactivated"
	}
	hash := activitystore.ResolutionContentHash(action, id, sessionID, reason)
	ev, _, err := s.app.Store.RecordResolutionEvent(id, action, sessionID, "", reason, hash)
	if err != nil {
		return false, err
	}

	changed, err := s.app.Store.UpdateObservationStatus(id, status, sessionID, "")
	if err != nil {
		return false, err
	}
	if changed {
		if err := s.app.Vector.UpdateMemoryStatus(id, status); err != nil {
			s.logger.Warn("memory status: vector sync failed", "id", id, "error", err)
		}
	}
	if err := s.app.Store.MarkResolutionEventApplied(ev.ID); err != nil {
		s.logger.Warn("memory status: mark event applied failed", "event_id", ev.ID, "error", err)
	}
	return changed, nil
}

type bulkUpdateRequest struct {
	IDs    []string `json:"ids"`
	Status string   `json:"status"`
	Tags   []string `json:"tags"`
}

func (s *Server) handleBulkUpdateMemories(w http.ResponseWriter, r *http.Request) {
	var req bulkUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids must not be empty")
		return
	}
	if req.Status != "" {
		switch req.Status {
		case "active", "resolved", "superseded":
		default:
			writeError(w, http.StatusBadRequest, "status must be active, resolved, or superseded")
			return
		}
	}

	updated := 0
	for _, id := range req.IDs {
		if req.Status == "" {
			continue
		}
		changed, err := s.updateObservationStatus(id, req.Status, "", "bulk update")
		if err != nil {
			s.logger.Warn("bulk update: failed", "id", id, "error", err)
			continue
		}
		if changed {
			updated++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": updated})
}

type bulkResolveRequest struct {
	IDs    []string `json:"ids"`
	Reason string   `json:"reason"`
}

func (s *Server) handleBulkResolveMemories(w http.ResponseWriter, r *http.Request) {
	var req bulkResolveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids must not be empty")
		return
	}

	resolved := 0
	for _, id := range req.IDs {
		changed, err := s.updateObservationStatus(id, "resolved", "", req.Reason)
		if err != nil {
			s.logger.Warn("bulk resolve: failed", "id", id, "error", err)
			continue
		}
		if changed {
			resolved++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"resolved": resolved})
}
