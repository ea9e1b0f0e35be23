package activitystore

import "fmt"

const auditCols = `id, session_id, agent, tool_name, tool_use_id, tool_category, rule_id, action, reason, matched_pattern, tool_input_summary, enforcement_mode, evaluation_ms, created_at, source_machine_id`

func scanAuditEvent(row interface{ Scan(...any) error }) (*GovernanceAuditEvent, error) {
	var e GovernanceAuditEvent
	if err := row.Scan(&e.ID, &e.SessionID, &e.Agent, &e.ToolName, &e.ToolUseID, &e.ToolCategory, &e.RuleID, &e.Action, &e.Reason, &e.MatchedPattern, &e.ToolInputSummary, &e.EnforcementMode, &e.EvaluationMS, &e.CreatedAt, &e.SourceMachineID); err != nil {
		return nil, err
	}
	return &e, nil
}

// RecordGovernanceAuditEvent persists one governance-rule evaluation.
func (s *Store) RecordGovernanceAuditEvent(e GovernanceAuditEvent) (int64, error) {
	createdAt, createdEpoch := nowStamp()
	res, err := s.db.Exec(
		`INSERT INTO governance_audit_events
			(session_id, agent, tool_name, tool_use_id, tool_category, rule_id, action, reason, matched_pattern, tool_input_summary, enforcement_mode, evaluation_ms, created_at, created_at_epoch, source_machine_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.Agent, e.ToolName, e.ToolUseID, e.ToolCategory, e.RuleID, e.Action, e.Reason, e.MatchedPattern, e.ToolInputSummary, e.EnforcementMode, e.EvaluationMS, createdAt, createdEpoch, s.sourceMachine,
	)
	if err != nil {
		return 0, fmt.Errorf("activitystore: record governance audit event: %w", err)
	}
	return res.LastInsertId()
}

// ListRecentGovernanceAuditEvents returns the most recent audit events,
// capped at limit, newest first.
func (s *Store) ListRecentGovernanceAuditEvents(limit int) ([]GovernanceAuditEvent, error) {
	rows, err := s.db.Query(`SELECT `+auditCols+` FROM governance_audit_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("activitystore: list governance audit events: %w", err)
	}
	defer rows.Close()

	var out []GovernanceAuditEvent
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("activitystore: scan governance audit event: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// GovernanceAuditSummary holds per-action counts of governance evaluations
// recorded since a cutoff epoch.
type GovernanceAuditSummary struct {
	Total      int
	ByAction   map[string]int
	ByRuleID   map[string]int
	SinceEpoch int64
}

// SummarizeGovernanceAuditEvents aggregates audit rows since a cutoff epoch
// by action and by rule id, used by the governance audit summary route.
func (s *Store) SummarizeGovernanceAuditEvents(sinceEpoch int64) (GovernanceAuditSummary, error) {
	summary := GovernanceAuditSummary{
		ByAction:   make(map[string]int),
		ByRuleID:   make(map[string]int),
		SinceEpoch: sinceEpoch,
	}

	rows, err := s.db.Query(`SELECT action, rule_id FROM governance_audit_events WHERE created_at_epoch >= ?`, sinceEpoch)
	if err != nil {
		return summary, fmt.Errorf("activitystore: summarize governance audit events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var action, ruleID string
		if err := rows.Scan(&action, &ruleID); err != nil {
			return summary, fmt.Errorf("activitystore: scan governance audit summary row: %w", err)
		}
		summary.Total++
		summary.ByAction[action]++
		if ruleID != "" {
			summary.ByRuleID[ruleID]++
		}
	}
	return summary, rows.Err()
}

// PruneGovernanceAuditEvents deletes audit rows older than the retention
// cutoff (epoch seconds) and returns the number of rows removed.
func (s *Store) PruneGovernanceAuditEvents(cutoffEpoch int64) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM governance_audit_events WHERE created_at_epoch < ?`, cutoffEpoch)
	if err != nil {
		return 0, fmt.Errorf("activitystore: prune governance audit events: %w", err)
	}
	return res.RowsAffected()
}
