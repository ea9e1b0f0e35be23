package activitystore

import "fmt"

const relationshipCols = `id, session_id_a, session_id_b, similarity_score, created_by, created_at`

func scanRelationship(row interface{ Scan(...any) error }) (*SessionRelationship, error) {
	var r SessionRelationship
	if err := row.Scan(&r.ID, &r.SessionIDA, &r.SessionIDB, &r.SimilarityScore, &r.CreatedBy, &r.CreatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// LinkSessions records an undirected relationship between two sessions.
func (s *Store) LinkSessions(sessionA, sessionB string, similarityScore *float64, createdBy string) (*SessionRelationship, error) {
	createdAt, createdEpoch := nowStamp()
	var score any
	if similarityScore != nil {
		score = *similarityScore
	}
	res, err := s.db.Exec(
		`INSERT INTO session_relationships (session_id_a, session_id_b, similarity_score, created_by, created_at, created_at_epoch)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionA, sessionB, score, createdBy, createdAt, createdEpoch,
	)
	if err != nil {
		return nil, fmt.Errorf("activitystore: link sessions: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("activitystore: link sessions: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+relationshipCols+` FROM session_relationships WHERE id = ?`, id)
	return scanRelationship(row)
}

// ListRelationshipsForSession returns every relationship touching a session
// on either side.
func (s *Store) ListRelationshipsForSession(sessionID string) ([]SessionRelationship, error) {
	rows, err := s.db.Query(`SELECT `+relationshipCols+` FROM session_relationships WHERE session_id_a = ? OR session_id_b = ? ORDER BY id ASC`, sessionID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("activitystore: list relationships: %w", err)
	}
	defer rows.Close()

	var out []SessionRelationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, fmt.Errorf("activitystore: scan relationship: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}
