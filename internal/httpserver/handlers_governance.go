package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/oak-dev/cid/internal/config"
	"github.com/oak-dev/cid/internal/governance"
)

func (s *Server) handleGetGovernanceConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Config.Get().Governance)
}

func (s *Server) handlePutGovernanceConfig(w http.ResponseWriter, r *http.Request) {
	var govCfg config.GovernanceConfig
	if !decodeBody(w, r, &govCfg) {
		return
	}
	switch govCfg.EnforcementMode {
	case "observe", "enforce":
	default:
		writeError(w, http.StatusBadRequest, "enforcement_mode must be observe or enforce")
		return
	}

	cfg := s.app.Config.Get()
	cfg.Governance = govCfg
	s.app.Config.Set(cfg)
	s.app.Governance.Reload(govCfg)

	writeJSON(w, http.StatusOK, map[string]any{"updated": true})
}

func (s *Server) handleGovernanceAudit(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	events, err := s.app.Audit.Recent(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load audit events")
		return
	}

	out := make([]map[string]any, 0, len(events))
	for _, e := range events {
		out = append(out, map[string]any{
			"id":                 e.ID,
			"session_id":         e.SessionID,
			"agent":              e.Agent,
			"tool_name":          e.ToolName,
			"tool_category":      e.ToolCategory,
			"rule_id":            e.RuleID,
			"action":             e.Action,
			"reason":             e.Reason,
			"matched_pattern":    e.MatchedPattern,
			"tool_input_summary": e.ToolInputSummary,
			"enforcement_mode":   e.EnforcementMode,
			"evaluation_ms":      e.EvaluationMS,
			"created_at":         e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (s *Server) handleGovernanceAuditSummary(w http.ResponseWriter, r *http.Request) {
	window := 24 * time.Hour
	if hours, err := strconv.Atoi(r.URL.Query().Get("hours")); err == nil && hours > 0 {
		window = time.Duration(hours) * time.Hour
	}
	summary, err := s.app.Audit.Summary(window)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to summarize audit events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":       summary.Total,
		"by_action":   summary.ByAction,
		"by_rule_id":  summary.ByRuleID,
		"since_epoch": summary.SinceEpoch,
	})
}

func (s *Server) handleGovernanceAuditPrune(w http.ResponseWriter, r *http.Request) {
	retention := s.app.Config.Get().Governance.RetentionDays
	if retention <= 0 {
		retention = 30
	}
	pruned, err := s.app.Audit.Prune(retention)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to prune audit events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pruned": pruned})
}

type governanceTestRequest struct {
	ToolName  string         `json:"tool_name"`
	ToolInput map[string]any `json:"tool_input"`
	FilePath  string         `json:"file_path"`
}

// handleGovernanceTest evaluates a hypothetical tool call against the
// current rule set without writing an audit row.
func (s *Server) handleGovernanceTest(w http.ResponseWriter, r *http.Request) {
	var req governanceTestRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ToolName == "" {
		writeError(w, http.StatusBadRequest, "tool_name must not be empty")
		return
	}

	decision := s.app.Governance.Evaluate(req.ToolName, req.ToolInput, req.FilePath)
	writeJSON(w, http.StatusOK, decisionPayload(decision))
}

func decisionPayload(d governance.Decision) map[string]any {
	return map[string]any{
		"action":           d.Action,
		"rule_id":          d.RuleID,
		"reason":           d.Reason,
		"matched_pattern":  d.MatchedPattern,
		"tool_category":    string(d.ToolCategory),
		"enforcement_mode": d.EnforcementMode,
		"evaluation_ms":    d.EvaluationMS,
	}
}
