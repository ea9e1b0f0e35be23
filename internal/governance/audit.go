package governance

import (
	"time"

	"github.com/oak-dev/cid/internal/activitystore"
	"github.com/oak-dev/cid/internal/redact"
)

// auditInputSummaryLimit caps how much of a serialized tool_input is kept
// in the audit row, matching the spec's "truncated tool_input summary".
const auditInputSummaryLimit = 500

// AuditWriter persists one governance_audit_events row per evaluation. It
// targets the Activity Store's SQL table rather than a flat file because
// the audit trail must be queryable (GET /api/governance/audit, summary,
// prune), unlike the teacher's JSON-lines request audit log.
type AuditWriter struct {
	store *activitystore.Store
}

// NewAuditWriter builds an audit writer backed by the Activity Store.
func NewAuditWriter(store *activitystore.Store) *AuditWriter {
	return &AuditWriter{store: store}
}

// Record writes one audit row for a governance decision.
func (w *AuditWriter) Record(sessionID, agent, toolName, toolUseID string, toolInput any, decision Decision) (int64, error) {
	summary := redact.Truncate(redact.Redact(serializeInput(toolInput)), auditInputSummaryLimit)
	return w.store.RecordGovernanceAuditEvent(activitystore.GovernanceAuditEvent{
		SessionID:        sessionID,
		Agent:            agent,
		ToolName:         toolName,
		ToolUseID:        toolUseID,
		ToolCategory:     string(decision.ToolCategory),
		RuleID:           decision.RuleID,
		Action:           decision.Action,
		Reason:           decision.Reason,
		MatchedPattern:   decision.MatchedPattern,
		ToolInputSummary: summary,
		EnforcementMode:  decision.EnforcementMode,
		EvaluationMS:     decision.EvaluationMS,
	})
}

// Recent returns the most recent audit events, newest first.
func (w *AuditWriter) Recent(limit int) ([]activitystore.GovernanceAuditEvent, error) {
	return w.store.ListRecentGovernanceAuditEvents(limit)
}

// Summary aggregates audit events recorded in the trailing window.
func (w *AuditWriter) Summary(window time.Duration) (activitystore.GovernanceAuditSummary, error) {
	since := time.Now().UTC().Add(-window).Unix()
	return w.store.SummarizeGovernanceAuditEvents(since)
}

// Prune deletes audit rows older than retentionDays, returning the count
// removed.
func (w *AuditWriter) Prune(retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Unix()
	return w.store.PruneGovernanceAuditEvents(cutoff)
}
