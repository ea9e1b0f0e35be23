package httpserver

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/oak-dev/cid/internal/activitystore"
)

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	sessions, err := s.app.Store.ListSessions(limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	total, err := s.app.Store.CountSessions()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count sessions")
		return
	}

	ids := make([]string, 0, len(sessions))
	for _, sess := range sessions {
		ids = append(ids, sess.ID)
	}
	stats, err := s.app.Store.GetBulkSessionStats(ids)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load session stats")
		return
	}
	firstPrompts, err := s.app.Store.GetBulkFirstPrompts(ids)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load first prompts")
		return
	}

	out := make([]map[string]any, 0, len(sessions))
	for _, sess := range sessions {
		st := stats[sess.ID]
		out = append(out, map[string]any{
			"id":               sess.ID,
			"agent":            sess.AgentName,
			"status":           sess.Status,
			"title":            sess.Title,
			"started_at":       sess.StartedAt,
			"ended_at":         nullableString(sess.EndedAt.Valid, sess.EndedAt.String),
			"first_prompt":     firstPrompts[sess.ID],
			"prompt_batches":   st.PromptBatchCount,
			"activities":       st.ActivityCount,
			"observations":     st.ObservationCount,
			"last_activity_at": st.LastActivityAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out, "total": total})
}

func nullableString(valid bool, v string) any {
	if !valid {
		return nil
	}
	return v
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.app.Store.GetSession(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(sess))
}

func sessionPayload(sess *activitystore.Session) map[string]any {
	return map[string]any{
		"id":                    sess.ID,
		"agent":                 sess.AgentName,
		"project_root":          sess.ProjectRoot,
		"status":                sess.Status,
		"title":                 sess.Title,
		"summary":               sess.Summary,
		"started_at":            sess.StartedAt,
		"ended_at":              nullableString(sess.EndedAt.Valid, sess.EndedAt.String),
		"parent_session_id":     sess.ParentSessionID,
		"parent_session_reason": sess.ParentSessionReason,
		"transcript_path":       sess.TranscriptPath,
		"source_machine_id":     sess.SourceMachineID,
	}
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	obsIDs, err := s.app.Store.ObservationIDsForSession(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to collect session observations")
		return
	}
	if err := s.app.Store.DeleteSession(id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	if len(obsIDs) > 0 {
		if err := s.app.Vector.DeleteMemories(obsIDs); err != nil {
			s.logger.Warn("delete session: vector cleanup failed", "session_id", id, "error", err)
		}
	}
	if err := s.app.Vector.DeleteSessionSummary(id); err != nil {
		s.logger.Warn("delete session: summary cleanup failed", "session_id", id, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	batches, err := s.app.Store.ListBatchesForSession(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list batches")
		return
	}
	out := make([]map[string]any, 0, len(batches))
	for i := range batches {
		out = append(out, batchPayload(&batches[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": out})
}

func batchPayload(b *activitystore.PromptBatch) map[string]any {
	return map[string]any{
		"id":               b.ID,
		"session_id":       b.SessionID,
		"prompt_number":    b.PromptNumber,
		"user_prompt":      b.UserPrompt,
		"response_summary": b.ResponseSummary,
		"status":           b.Status,
		"classification":   b.Classification,
		"processed":        b.Processed,
		"source_type":      b.SourceType,
		"plan_content":     b.PlanContent,
		"started_at":       b.StartedAt,
		"ended_at":         nullableString(b.EndedAt.Valid, b.EndedAt.String),
	}
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid batch id")
		return
	}
	b, err := s.app.Store.GetPromptBatch(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load batch")
		return
	}
	if b == nil {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	writeJSON(w, http.StatusOK, batchPayload(b))
}

func (s *Server) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid batch id")
		return
	}

	obsIDs, err := s.app.Store.ObservationIDsForBatch(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to collect batch observations")
		return
	}
	if err := s.app.Store.DeletePromptBatch(id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete batch")
		return
	}
	if len(obsIDs) > 0 {
		if err := s.app.Vector.DeleteMemories(obsIDs); err != nil {
			s.logger.Warn("delete batch: vector cleanup failed", "batch_id", id, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (s *Server) handleListActivities(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid batch id")
		return
	}
	activities, err := s.app.Store.ListActivitiesForBatch(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list activities")
		return
	}
	out := make([]map[string]any, 0, len(activities))
	for i := range activities {
		out = append(out, activityPayload(&activities[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"activities": out})
}

func activityPayload(a *activitystore.Activity) map[string]any {
	return map[string]any{
		"id":                  a.ID,
		"session_id":          a.SessionID,
		"tool_name":           a.ToolName,
		"tool_input":          a.ToolInput,
		"tool_output_summary": a.ToolOutputSummary,
		"file_path":           a.FilePath,
		"success":             a.Success,
		"error_message":       a.ErrorMessage,
		"timestamp":           a.Timestamp,
	}
}

func (s *Server) handleGetActivity(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid activity id")
		return
	}
	a, err := s.app.Store.GetActivity(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load activity")
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "activity not found")
		return
	}
	writeJSON(w, http.StatusOK, activityPayload(a))
}

func (s *Server) handleDeleteActivity(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid activity id")
		return
	}
	if err := s.app.Store.DeleteActivity(id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete activity")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (s *Server) handleGetRelated(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rels, err := s.app.Store.ListRelationshipsForSession(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list relationships")
		return
	}
	out := make([]map[string]any, 0, len(rels))
	for _, rel := range rels {
		other := rel.SessionIDA
		if other == id {
			other = rel.SessionIDB
		}
		entry := map[string]any{
			"session_id": other,
			"created_by": rel.CreatedBy,
			"created_at": rel.CreatedAt,
		}
		if rel.SimilarityScore.Valid {
			entry["similarity_score"] = rel.SimilarityScore.Float64
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"related": out})
}

type relatedRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleAddRelated(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req relatedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SessionID == "" || req.SessionID == id {
		writeError(w, http.StatusBadRequest, "session_id must name a different session")
		return
	}
	if _, err := s.app.Store.LinkSessions(id, req.SessionID, nil, "manual"); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to link sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"linked": req.SessionID})
}

func (s *Server) handleDeleteRelated(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req relatedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.app.Store.DeleteRelationship(id, req.SessionID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to unlink sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unlinked": req.SessionID})
}

// handleSuggestedRelated proposes similar sessions by vector similarity
// over the session-summaries collection, excluding sessions that are
// already linked.
func (s *Server) handleSuggestedRelated(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.app.Store.GetSession(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if sess.Summary == "" && sess.Title == "" {
		writeJSON(w, http.StatusOK, map[string]any{"suggested": []any{}})
		return
	}

	vec, err := s.embedQuery(r, sess.Title+"\n"+sess.Summary)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "embedding unavailable: "+err.Error())
		return
	}
	hits, err := s.app.Vector.SearchSessionSummaries(vec, 10, s.app.ProjectRoot)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "similarity search failed")
		return
	}

	linked := map[string]struct{}{id: {}}
	if rels, err := s.app.Store.ListRelationshipsForSession(id); err == nil {
		for _, rel := range rels {
			linked[rel.SessionIDA] = struct{}{}
			linked[rel.SessionIDB] = struct{}{}
		}
	}

	out := make([]map[string]any, 0, len(hits))
	for _, h := range hits {
		if _, ok := linked[h.SessionID]; ok {
			continue
		}
		out = append(out, map[string]any{
			"session_id":       h.SessionID,
			"title":            h.Title,
			"similarity_score": h.Relevance,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggested": out})
}
