package httpserver

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/oak-dev/cid/internal/governance"
	"github.com/oak-dev/cid/internal/transcript"
)

// hookEventRequest is the uniform payload agent pre/post hooks post to the
// daemon.
type hookEventRequest struct {
	EventName         string          `json:"event_name"`
	SessionID         string          `json:"session_id"`
	Agent             string          `json:"agent"`
	ToolName          string          `json:"tool_name"`
	ToolUseID         string          `json:"tool_use_id"`
	ToolInput         json.RawMessage `json:"tool_input"`
	ToolOutputSummary string          `json:"tool_output_summary"`
	FilePath          string          `json:"file_path"`
	Success           *bool           `json:"success"`
	ErrorMessage      string          `json:"error_message"`
	Prompt            string          `json:"prompt"`
	SourceType        string          `json:"source_type"`
	PlanContent       string          `json:"plan_content"`
}

// manifestStyleFor resolves which deny-response envelope an agent
// understands. Manifest discovery itself is an external collaborator; the
// daemon only needs the resolved style, keyed by agent family.
func manifestStyleFor(agent string) governance.ManifestStyle {
	a := strings.ToLower(agent)
	switch {
	case strings.HasPrefix(a, "claude"):
		return governance.StyleHookSpecific
	case strings.HasPrefix(a, "cursor"):
		return governance.StyleCursor
	default:
		return governance.StyleUnsupported
	}
}

func (s *Server) handleHookEvent(w http.ResponseWriter, r *http.Request) {
	var req hookEventRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.EventName == "" || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "event_name and session_id are required")
		return
	}

	// Agents retry hook delivery; a repeat of the same logical event must
	// not double-count.
	key := s.app.Dedupe.Key(req.EventName, req.SessionID, req.ToolUseID, req.Prompt)
	if req.EventName != "pre_tool_use" && s.app.Dedupe.Seen(key) {
		writeJSON(w, http.StatusOK, map[string]any{"duplicate": true})
		return
	}

	if _, _, err := s.app.Store.GetOrCreateSession(req.SessionID, req.Agent, s.app.ProjectRoot); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to resolve session")
		return
	}

	switch req.EventName {
	case "session_start":
		if path, err := transcript.ResolvePath(req.SessionID); err == nil {
			if err := s.app.Store.SetSessionTranscriptPath(req.SessionID, path); err != nil {
				s.logger.Warn("hook: failed to record transcript path", "session_id", req.SessionID, "error", err)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case "user_prompt":
		s.closeActiveBatch(req.SessionID, "")
		sourceType := req.SourceType
		if sourceType == "" {
			sourceType = "user"
		}
		number, err := s.app.Store.NextPromptNumber(req.SessionID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to allocate prompt number")
			return
		}
		batch, err := s.app.Store.StartPromptBatch(req.SessionID, number, req.Prompt, sourceType)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to start prompt batch")
			return
		}
		if req.PlanContent != "" {
			if err := s.app.Store.SetBatchPlan(batch.ID, req.PlanContent, ""); err != nil {
				s.logger.Warn("hook: failed to store plan content", "batch_id", batch.ID, "error", err)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"batch_id": batch.ID})

	case "pre_tool_use":
		s.handlePreToolUse(w, req)

	case "post_tool_use":
		batchID := sql.NullInt64{}
		if batch, err := s.app.Store.GetActivePromptBatch(req.SessionID); err == nil && batch != nil {
			batchID = sql.NullInt64{Int64: batch.ID, Valid: true}
		}
		success := true
		if req.Success != nil {
			success = *req.Success
		}
		s.app.ActBuffer.Buffer(req.SessionID, batchID, req.ToolName, string(req.ToolInput), req.ToolOutputSummary, req.FilePath, success, req.ErrorMessage)
		writeJSON(w, http.StatusOK, map[string]any{"buffered": true})

	case "session_end":
		s.closeActiveBatch(req.SessionID, "")
		if err := s.app.Store.EndSession(req.SessionID, "completed"); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to end session")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ended": true})

	default:
		writeError(w, http.StatusBadRequest, "unknown event_name "+req.EventName)
	}
}

// closeActiveBatch flushes buffered activities and completes the session's
// open batch, if any.
func (s *Server) closeActiveBatch(sessionID, responseSummary string) {
	if _, err := s.app.Store.FlushActivityBuffer(s.app.ActBuffer); err != nil {
		s.logger.Warn("hook: activity flush failed", "session_id", sessionID, "error", err)
	}
	batch, err := s.app.Store.GetActivePromptBatch(sessionID)
	if err != nil || batch == nil {
		return
	}
	if err := s.app.Store.CloseBatch(batch.ID, responseSummary); err != nil {
		s.logger.Warn("hook: failed to close batch", "batch_id", batch.ID, "error", err)
	}
}

// handlePreToolUse evaluates governance for the tool call, writes the
// audit row, and shapes the deny envelope when the decision is enforced.
func (s *Server) handlePreToolUse(w http.ResponseWriter, req hookEventRequest) {
	var toolInput any
	if len(req.ToolInput) > 0 {
		_ = json.Unmarshal(req.ToolInput, &toolInput)
	}

	decision := s.app.Governance.Evaluate(req.ToolName, toolInput, req.FilePath)
	if _, err := s.app.Audit.Record(req.SessionID, req.Agent, req.ToolName, req.ToolUseID, toolInput, decision); err != nil {
		s.logger.Warn("governance: audit write failed", "error", err)
	}

	// Only deny blocks. A warn decision is recorded in the audit trail and
	// surfaced in the response, but the tool call proceeds.
	if decision.Action == "deny" {
		if envelope := governance.BuildDenyEnvelope(manifestStyleFor(req.Agent), decision); envelope != nil {
			writeJSON(w, http.StatusOK, envelope)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"action": decision.Action})
}

// notifyRequest is the agent notify payload, mapped manifest-style to an
// internal action.
type notifyRequest struct {
	Agent     string `json:"agent"`
	Event     string `json:"event"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	key := s.app.Dedupe.Key("notify", req.SessionID, req.Event, req.Message)
	if s.app.Dedupe.Seen(key) {
		writeJSON(w, http.StatusOK, map[string]any{"duplicate": true})
		return
	}

	switch req.Event {
	case "response_completed", "agent_response":
		batch, err := s.app.Store.GetActivePromptBatch(req.SessionID)
		if err == nil && batch != nil {
			if err := s.app.Store.SetBatchResponseSummary(batch.ID, req.Message); err != nil {
				s.logger.Warn("notify: failed to store response summary", "batch_id", batch.ID, "error", err)
			}
		}
	default:
		// Unmapped notify events are recorded as agent_notification batches
		// so they still appear in the activity timeline.
		number, err := s.app.Store.NextPromptNumber(req.SessionID)
		if err == nil {
			if batch, err := s.app.Store.StartPromptBatch(req.SessionID, number, req.Message, "agent_notification"); err == nil {
				if err := s.app.Store.CloseBatch(batch.ID, ""); err != nil {
					s.logger.Warn("notify: failed to close notification batch", "batch_id", batch.ID, "error", err)
				}
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
