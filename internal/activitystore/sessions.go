package activitystore

import (
	"database/sql"
	"fmt"
)

const sessionCols = `id, agent_name, project_root, started_at, ended_at, status, title, summary, parent_session_id, parent_session_reason, transcript_path, source_machine_id`

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var s Session
	if err := row.Scan(&s.ID, &s.AgentName, &s.ProjectRoot, &s.StartedAt, &s.EndedAt, &s.Status, &s.Title, &s.Summary, &s.ParentSessionID, &s.ParentSessionReason, &s.TranscriptPath, &s.SourceMachineID); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetOrCreateSession returns the session for id, creating it if it does not
// exist. The second return value reports whether a new row was created.
// Idempotent on replay: a second call with the same id is a no-op besides
// the read.
func (s *Store) GetOrCreateSession(id, agentName, projectRoot string) (*Session, bool, error) {
	existing, err := s.GetSession(id)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	startedAt, startedEpoch := nowStamp()
	_, err = s.db.Exec(
		`INSERT INTO sessions (id, agent_name, project_root, started_at, started_at_epoch, status, source_machine_id)
		 VALUES (?, ?, ?, ?, ?, 'active', ?)`,
		id, agentName, projectRoot, startedAt, startedEpoch, s.sourceMachine,
	)
	if err != nil {
		return nil, false, fmt.Errorf("activitystore: create session: %w", err)
	}
	created, err := s.GetSession(id)
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

// GetSession returns the session by id, or nil if it does not exist.
func (s *Store) GetSession(id string) (*Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionCols+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("activitystore: get session: %w", err)
	}
	return sess, nil
}

// EndSession transitions a session to completed or abandoned and records
// ended_at. No-op if the session is already non-active.
func (s *Store) EndSession(id, status string) error {
	endedAt, endedEpoch := nowStamp()
	_, err := s.db.Exec(
		`UPDATE sessions SET status = ?, ended_at = ?, ended_at_epoch = ? WHERE id = ? AND status = 'active'`,
		status, endedAt, endedEpoch, id,
	)
	if err != nil {
		return fmt.Errorf("activitystore: end session: %w", err)
	}
	return nil
}

// SetSessionSummary records the processor-synthesized title and summary.
func (s *Store) SetSessionSummary(id, title, summary string) error {
	_, err := s.db.Exec(`UPDATE sessions SET title = ?, summary = ? WHERE id = ?`, title, summary, id)
	if err != nil {
		return fmt.Errorf("activitystore: set session summary: %w", err)
	}
	return nil
}

// SetSessionParent records a derived parent-session link (e.g. a /compact
// continuation) and its reason.
func (s *Store) SetSessionParent(id, parentID, reason string) error {
	_, err := s.db.Exec(`UPDATE sessions SET parent_session_id = ?, parent_session_reason = ? WHERE id = ?`, parentID, reason, id)
	if err != nil {
		return fmt.Errorf("activitystore: set session parent: %w", err)
	}
	return nil
}

// SetSessionTranscriptPath records the resolved on-disk transcript location.
func (s *Store) SetSessionTranscriptPath(id, path string) error {
	_, err := s.db.Exec(`UPDATE sessions SET transcript_path = ? WHERE id = ?`, path, id)
	if err != nil {
		return fmt.Errorf("activitystore: set session transcript path: %w", err)
	}
	return nil
}

// ListActiveSessions returns all sessions currently in the active status,
// used by the stale-session-timeout sweep.
func (s *Store) ListActiveSessions() ([]Session, error) {
	rows, err := s.db.Query(`SELECT `+sessionCols+` FROM sessions WHERE status = 'active'`)
	if err != nil {
		return nil, fmt.Errorf("activitystore: list active sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("activitystore: scan session: %w", err)
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// ListStaleActiveSessions returns active sessions whose most recent
// activity timestamp is older than the given epoch cutoff.
func (s *Store) ListStaleActiveSessions(cutoffEpoch int64) ([]Session, error) {
	rows, err := s.db.Query(`
		SELECT `+sessionCols+` FROM sessions
		WHERE status = 'active'
		AND started_at_epoch < ?
		AND id NOT IN (
			SELECT session_id FROM activities WHERE timestamp_epoch >= ?
		)`, cutoffEpoch, cutoffEpoch)
	if err != nil {
		return nil, fmt.Errorf("activitystore: list stale sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("activitystore: scan session: %w", err)
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// ListCompletedUnsummarizedSessions returns completed or abandoned sessions
// that have not yet been given a processor-synthesized title/summary,
// oldest first, capped at limit. Used by the finalization pass of the
// activity-processing cycle.
func (s *Store) ListCompletedUnsummarizedSessions(limit int) ([]Session, error) {
	rows, err := s.db.Query(`
		SELECT `+sessionCols+` FROM sessions
		WHERE status IN ('completed', 'abandoned') AND (summary IS NULL OR summary = '')
		ORDER BY started_at_epoch ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("activitystore: list completed unsummarized sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("activitystore: scan session: %w", err)
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// GetBulkSessionStats returns per-session activity/observation counts for a
// set of session ids in one query, avoiding N+1 reads from the browsing UI.
// Results are cached for a few seconds per session id.
func (s *Store) GetBulkSessionStats(sessionIDs []string) (map[string]SessionStats, error) {
	out := make(map[string]SessionStats, len(sessionIDs))
	var misses []string

	now := nowTime()
	s.statsMu.Lock()
	for _, id := range sessionIDs {
		if cached, ok := s.statsCache[id]; ok && now.Before(cached.expiresAt) {
			out[id] = cached.stats
			continue
		}
		misses = append(misses, id)
	}
	s.statsMu.Unlock()

	if len(misses) == 0 {
		return out, nil
	}

	placeholders, args := inClause(misses)
	rows, err := s.db.Query(`
		SELECT s.id,
		       (SELECT COUNT(*) FROM prompt_batches pb WHERE pb.session_id = s.id),
		       (SELECT COUNT(*) FROM activities a WHERE a.session_id = s.id),
		       (SELECT COUNT(*) FROM observations o WHERE o.session_id = s.id),
		       COALESCE((SELECT MAX(a.timestamp) FROM activities a WHERE a.session_id = s.id), '')
		FROM sessions s WHERE s.id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("activitystore: bulk session stats: %w", err)
	}
	defer rows.Close()

	s.statsMu.Lock()
	for rows.Next() {
		var st SessionStats
		if err := rows.Scan(&st.SessionID, &st.PromptBatchCount, &st.ActivityCount, &st.ObservationCount, &st.LastActivityAt); err != nil {
			s.statsMu.Unlock()
			return nil, fmt.Errorf("activitystore: scan session stats: %w", err)
		}
		out[st.SessionID] = st
		s.statsCache[st.SessionID] = cachedSessionStats{stats: st, expiresAt: now.Add(statsCacheTTL)}
	}
	s.statsMu.Unlock()
	return out, rows.Err()
}

// GetBulkFirstPrompts returns the first user prompt recorded for each
// session id, used by browsing UIs to label a session list without N+1
// reads.
func (s *Store) GetBulkFirstPrompts(sessionIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(sessionIDs))
	if len(sessionIDs) == 0 {
		return out, nil
	}
	placeholders, args := inClause(sessionIDs)
	rows, err := s.db.Query(`
		SELECT session_id, user_prompt FROM prompt_batches
		WHERE prompt_number = 1 AND session_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("activitystore: bulk first prompts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sessionID, prompt string
		if err := rows.Scan(&sessionID, &prompt); err != nil {
			return nil, fmt.Errorf("activitystore: scan first prompt: %w", err)
		}
		out[sessionID] = prompt
	}
	return out, rows.Err()
}

func inClause(vals []string) (string, []any) {
	placeholders := ""
	args := make([]any, len(vals))
	for i, v := range vals {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args[i] = v
	}
	return placeholders, args
}
