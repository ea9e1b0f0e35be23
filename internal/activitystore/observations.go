package activitystore

import (
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const observationCols = `id, session_id, prompt_batch_id, observation, memory_type, context, tags, importance, created_at, embedded, status, resolved_by_session_id, resolved_at, superseded_by, source_machine_id`

func scanObservation(row interface{ Scan(...any) error }) (*Observation, error) {
	var o Observation
	var tagsJSON string
	var embedded int
	if err := row.Scan(&o.ID, &o.SessionID, &o.PromptBatchID, &o.Observation, &o.MemoryType, &o.Context, &tagsJSON, &o.Importance, &o.CreatedAt, &embedded, &o.Status, &o.ResolvedBySessionID, &o.ResolvedAt, &o.SupersededBy, &o.SourceMachineID); err != nil {
		return nil, err
	}
	o.Embedded = embedded != 0
	if tagsJSON != "" {
		_ = json.Unmarshal([]byte(tagsJSON), &o.Tags)
	}
	return &o, nil
}

// CreateObservation inserts a new long-lived observation in active status.
func (s *Store) CreateObservation(sessionID string, promptBatchID sql.NullInt64, observation, memoryType, context string, tags []string, importance int) (*Observation, error) {
	id := uuid.NewString()
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("activitystore: marshal observation tags: %w", err)
	}
	createdAt, createdEpoch := nowStamp()
	_, err = s.db.Exec(
		`INSERT INTO observations (id, session_id, prompt_batch_id, observation, memory_type, context, tags, importance, created_at, created_at_epoch, status, source_machine_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'active', ?)`,
		id, sessionID, promptBatchID, observation, memoryType, context, string(tagsJSON), importance, createdAt, createdEpoch, s.sourceMachine,
	)
	if err != nil {
		return nil, fmt.Errorf("activitystore: create observation: %w", err)
	}
	return s.GetObservation(id)
}

// GetObservation returns an observation by id, or nil if not found.
func (s *Store) GetObservation(id string) (*Observation, error) {
	row := s.db.QueryRow(`SELECT `+observationCols+` FROM observations WHERE id = ?`, id)
	o, err := scanObservation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("activitystore: get observation: %w", err)
	}
	return o, nil
}

// UpdateObservationStatus writes a new status and resolution fields
// atomically. It is the only path that mutates observations. Returns
// whether a row was actually affected, which replay uses to detect
// no-op/duplicate application.
func (s *Store) UpdateObservationStatus(id, status, resolvedBySessionID, supersededBy string) (bool, error) {
	switch status {
	case "resolved", "superseded":
		resolvedAt, _ := nowStamp()
		res, err := s.db.Exec(
			`UPDATE observations SET status = ?, resolved_by_session_id = ?, resolved_at = ?, superseded_by = ? WHERE id = ?`,
			status, resolvedBySessionID, resolvedAt, supersededBy, id,
		)
		if err != nil {
			return false, fmt.Errorf("activitystore: update observation status: %w", err)
		}
		n, err := res.RowsAffected()
		return n > 0, err
	case "active":
		res, err := s.db.Exec(
			`UPDATE observations SET status = 'active', resolved_by_session_id = '', resolved_at = NULL, superseded_by = '' WHERE id = ?`,
			id,
		)
		if err != nil {
			return false, fmt.Errorf("activitystore: reactivate observation: %w", err)
		}
		n, err := res.RowsAffected()
		return n > 0, err
	default:
		return false, fmt.Errorf("activitystore: invalid observation status %q", status)
	}
}

// SetObservationEmbedded flips the embed-sync token once the vector store
// has a current copy of this observation.
func (s *Store) SetObservationEmbedded(id string, embedded bool) error {
	val := 0
	if embedded {
		val = 1
	}
	_, err := s.db.Exec(`UPDATE observations SET embedded = ? WHERE id = ?`, val, id)
	if err != nil {
		return fmt.Errorf("activitystore: set observation embedded: %w", err)
	}
	return nil
}

// ListUnembeddedObservations returns observations of any status not yet
// synced to the vector store, oldest first, capped at limit.
func (s *Store) ListUnembeddedObservations(limit int) ([]Observation, error) {
	rows, err := s.db.Query(`SELECT `+observationCols+` FROM observations WHERE embedded = 0 ORDER BY created_at_epoch ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("activitystore: list unembedded observations: %w", err)
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

// ListActiveObservationsForSession returns active observations for a
// session, used by auto-resolve's duplicate-candidate search.
func (s *Store) ListActiveObservationsForSession(sessionID string) ([]Observation, error) {
	rows, err := s.db.Query(`SELECT `+observationCols+` FROM observations WHERE session_id = ? AND status = 'active' ORDER BY created_at_epoch ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("activitystore: list active observations: %w", err)
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

// ListActiveObservationsByType returns all active observations of a given
// memory_type across sessions, used by auto-resolve's cross-session
// duplicate search and by the vector-store rebuild path.
func (s *Store) ListActiveObservationsByType(memoryType string) ([]Observation, error) {
	rows, err := s.db.Query(`SELECT `+observationCols+` FROM observations WHERE memory_type = ? AND status = 'active' ORDER BY created_at_epoch ASC`, memoryType)
	if err != nil {
		return nil, fmt.Errorf("activitystore: list active observations by type: %w", err)
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

// --- Resolution events ---

const resolutionEventCols = `id, observation_id, action, resolved_by_session_id, superseded_by, reason, created_at, source_machine_id, content_hash, applied`

// ResolutionContentHash derives the dedupe key for a resolution event from
// its identity parts, so the same transition imported twice (backup replay,
// hook retry) collapses onto one row.
func ResolutionContentHash(parts ...string) string {
	sum := sha1.Sum([]byte(strings.Join(parts, ":")))
	return hex.EncodeToString(sum[:])
}

func scanResolutionEvent(row interface{ Scan(...any) error }) (*ResolutionEvent, error) {
	var e ResolutionEvent
	var applied int
	if err := row.Scan(&e.ID, &e.ObservationID, &e.Action, &e.ResolvedBySessionID, &e.SupersededBy, &e.Reason, &e.CreatedAt, &e.SourceMachineID, &e.ContentHash, &applied); err != nil {
		return nil, err
	}
	e.Applied = applied != 0
	return &e, nil
}

// RecordResolutionEvent inserts a resolution event if content_hash has not
// been seen before (dedupes duplicate imports from backup files). Returns
// the event and whether it was newly inserted.
func (s *Store) RecordResolutionEvent(observationID, action, resolvedBySessionID, supersededBy, reason, contentHash string) (*ResolutionEvent, bool, error) {
	createdAt, createdEpoch := nowStamp()
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO resolution_events (observation_id, action, resolved_by_session_id, superseded_by, reason, created_at, created_at_epoch, source_machine_id, content_hash, applied)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		observationID, action, resolvedBySessionID, supersededBy, reason, createdAt, createdEpoch, s.sourceMachine, contentHash,
	)
	if err != nil {
		return nil, false, fmt.Errorf("activitystore: record resolution event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("activitystore: record resolution event: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+resolutionEventCols+` FROM resolution_events WHERE content_hash = ?`, contentHash)
	ev, err := scanResolutionEvent(row)
	if err != nil {
		return nil, false, fmt.Errorf("activitystore: record resolution event: reload: %w", err)
	}
	return ev, n > 0, nil
}

// MarkResolutionEventApplied flips the applied flag once replay has
// successfully driven UpdateObservationStatus from this event.
func (s *Store) MarkResolutionEventApplied(id int64) error {
	_, err := s.db.Exec(`UPDATE resolution_events SET applied = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("activitystore: mark resolution event applied: %w", err)
	}
	return nil
}

// ListUnappliedResolutionEvents returns resolution events not yet replayed
// into their target observation, oldest first by created_at (last-writer-
// wins ordering is then the replay loop's responsibility).
func (s *Store) ListUnappliedResolutionEvents(limit int) ([]ResolutionEvent, error) {
	rows, err := s.db.Query(`SELECT `+resolutionEventCols+` FROM resolution_events WHERE applied = 0 ORDER BY created_at_epoch ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("activitystore: list unapplied resolution events: %w", err)
	}
	defer rows.Close()

	var out []ResolutionEvent
	for rows.Next() {
		e, err := scanResolutionEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("activitystore: scan resolution event: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// ListResolutionEventsForObservation returns every resolution event
// recorded for an observation, ordered by created_at, for last-writer-wins
// comparisons.
func (s *Store) ListResolutionEventsForObservation(observationID string) ([]ResolutionEvent, error) {
	rows, err := s.db.Query(`SELECT `+resolutionEventCols+` FROM resolution_events WHERE observation_id = ? ORDER BY created_at_epoch ASC`, observationID)
	if err != nil {
		return nil, fmt.Errorf("activitystore: list resolution events for observation: %w", err)
	}
	defer rows.Close()

	var out []ResolutionEvent
	for rows.Next() {
		e, err := scanResolutionEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("activitystore: scan resolution event: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}
