package activitystore

import (
	"fmt"
)

// ListSessions returns sessions newest-first for the browsing UI, with
// limit/offset pagination.
func (s *Store) ListSessions(limit, offset int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT `+sessionCols+` FROM sessions ORDER BY started_at_epoch DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("activitystore: list sessions: %w", err)
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

// CountSessions returns the total session count for pagination.
func (s *Store) CountSessions() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("activitystore: count sessions: %w", err)
	}
	return n, nil
}

// ListObservations returns observations newest-first, optionally filtered
// by memory_type and/or status ("" matches everything).
func (s *Store) ListObservations(memoryType, status string, limit int) ([]Observation, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + observationCols + ` FROM observations WHERE 1=1`
	var args []any
	if memoryType != "" {
		query += ` AND memory_type = ?`
		args = append(args, memoryType)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at_epoch DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("activitystore: list observations: %w", err)
	}
	defer rows.Close()

	var out []Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, fmt.Errorf("activitystore: scan observation: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// ObservationIDsForSession returns the ids of every observation belonging
// to a session, used to keep the vector store in sync on cascade delete.
func (s *Store) ObservationIDsForSession(sessionID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM observations WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("activitystore: observation ids for session: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ObservationIDsForBatch returns the ids of every observation extracted
// from one prompt batch.
func (s *Store) ObservationIDsForBatch(batchID int64) ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM observations WHERE prompt_batch_id = ?`, batchID)
	if err != nil {
		return nil, fmt.Errorf("activitystore: observation ids for batch: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteSession removes a session and everything hanging off it (batches,
// activities, observations, resolution events, relationships) in one
// transaction. Vector-store cleanup is the caller's job: collect the
// observation ids first via ObservationIDsForSession.
func (s *Store) DeleteSession(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("activitystore: delete session: begin: %w", err)
	}
	defer tx.Rollback()

	stmts := []string{
		`DELETE FROM resolution_events WHERE observation_id IN (SELECT id FROM observations WHERE session_id = ?)`,
		`DELETE FROM observations WHERE session_id = ?`,
		`DELETE FROM activities WHERE session_id = ?`,
		`DELETE FROM prompt_batches WHERE session_id = ?`,
		`DELETE FROM sessions WHERE id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt, id); err != nil {
			return fmt.Errorf("activitystore: delete session: %w", err)
		}
	}
	if _, err := tx.Exec(`DELETE FROM session_relationships WHERE session_id_a = ? OR session_id_b = ?`, id, id); err != nil {
		return fmt.Errorf("activitystore: delete session relationships: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("activitystore: delete session: commit: %w", err)
	}

	s.statsMu.Lock()
	delete(s.statsCache, id)
	s.statsMu.Unlock()
	return nil
}

// DeletePromptBatch removes one batch plus its activities and
// observations. Vector cleanup is the caller's job (ObservationIDsForBatch
// first).
func (s *Store) DeletePromptBatch(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("activitystore: delete batch: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM resolution_events WHERE observation_id IN (SELECT id FROM observations WHERE prompt_batch_id = ?)`, id); err != nil {
		return fmt.Errorf("activitystore: delete batch resolution events: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM observations WHERE prompt_batch_id = ?`, id); err != nil {
		return fmt.Errorf("activitystore: delete batch observations: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM activities WHERE prompt_batch_id = ?`, id); err != nil {
		return fmt.Errorf("activitystore: delete batch activities: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM prompt_batches WHERE id = ?`, id); err != nil {
		return fmt.Errorf("activitystore: delete batch: %w", err)
	}
	return tx.Commit()
}

// DeleteActivity removes a single activity row.
func (s *Store) DeleteActivity(id int64) error {
	if _, err := s.db.Exec(`DELETE FROM activities WHERE id = ?`, id); err != nil {
		return fmt.Errorf("activitystore: delete activity: %w", err)
	}
	return nil
}

// DeleteObservation removes one observation and its resolution events.
func (s *Store) DeleteObservation(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("activitystore: delete observation: begin: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM resolution_events WHERE observation_id = ?`, id); err != nil {
		return fmt.Errorf("activitystore: delete observation events: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM observations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("activitystore: delete observation: %w", err)
	}
	return tx.Commit()
}

// DeleteRelationship removes the undirected link between two sessions,
// whichever column order it was stored in.
func (s *Store) DeleteRelationship(sessionA, sessionB string) error {
	_, err := s.db.Exec(
		`DELETE FROM session_relationships WHERE (session_id_a = ? AND session_id_b = ?) OR (session_id_a = ? AND session_id_b = ?)`,
		sessionA, sessionB, sessionB, sessionA,
	)
	if err != nil {
		return fmt.Errorf("activitystore: delete relationship: %w", err)
	}
	return nil
}

// ResetProcessing clears the processed flag on every completed prompt
// batch and activity so the next processor cycle reworks them, used by the
// devtools reset route after a template or threshold change.
func (s *Store) ResetProcessing() (int64, error) {
	res, err := s.db.Exec(`UPDATE prompt_batches SET processed = 0 WHERE status = 'completed'`)
	if err != nil {
		return 0, fmt.Errorf("activitystore: reset processing: %w", err)
	}
	if _, err := s.db.Exec(`UPDATE activities SET processed = 0`); err != nil {
		return 0, fmt.Errorf("activitystore: reset activity processing: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ResetObservationsEmbedded clears the embedded flag on every observation
// so the processor's backfill re-embeds the whole memory collection, used
// by the devtools re-embed route after an embedding-provider change.
func (s *Store) ResetObservationsEmbedded() (int64, error) {
	res, err := s.db.Exec(`UPDATE observations SET embedded = 0`)
	if err != nil {
		return 0, fmt.Errorf("activitystore: reset observations embedded: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// MemoryStats aggregates observation counts for the devtools memory-stats
// route.
type MemoryStats struct {
	Total      int
	ByType     map[string]int
	ByStatus   map[string]int
	Unembedded int
}

// GetMemoryStats returns observation counts by type and status plus the
// unembedded backlog size.
func (s *Store) GetMemoryStats() (MemoryStats, error) {
	stats := MemoryStats{ByType: make(map[string]int), ByStatus: make(map[string]int)}

	rows, err := s.db.Query(`SELECT memory_type, status, COUNT(*) FROM observations GROUP BY memory_type, status`)
	if err != nil {
		return stats, fmt.Errorf("activitystore: memory stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var mt, st string
		var n int
		if err := rows.Scan(&mt, &st, &n); err != nil {
			return stats, err
		}
		stats.Total += n
		stats.ByType[mt] += n
		stats.ByStatus[st] += n
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM observations WHERE embedded = 0`).Scan(&stats.Unembedded); err != nil {
		return stats, fmt.Errorf("activitystore: unembedded count: %w", err)
	}
	return stats, nil
}
