package activitystore

import (
	"database/sql"
	"fmt"
)

const batchCols = `id, session_id, prompt_number, user_prompt, response_summary, started_at, ended_at, status, classification, processed, source_type, plan_content, plan_file_path, plan_embedded`

func scanBatch(row interface{ Scan(...any) error }) (*PromptBatch, error) {
	var b PromptBatch
	var processed, planEmbedded int
	if err := row.Scan(&b.ID, &b.SessionID, &b.PromptNumber, &b.UserPrompt, &b.ResponseSummary, &b.StartedAt, &b.EndedAt, &b.Status, &b.Classification, &processed, &b.SourceType, &b.PlanContent, &b.PlanFilePath, &planEmbedded); err != nil {
		return nil, err
	}
	b.Processed = processed != 0
	b.PlanEmbedded = planEmbedded != 0
	return &b, nil
}

// StartPromptBatch opens a new prompt batch for a session. It is the
// caller's responsibility to have closed any prior active batch first; at
// most one active batch per session is an invariant enforced by
// GetActivePromptBatch's callers, not by a database constraint.
func (s *Store) StartPromptBatch(sessionID string, promptNumber int, userPrompt, sourceType string) (*PromptBatch, error) {
	startedAt, startedEpoch := nowStamp()
	res, err := s.db.Exec(
		`INSERT INTO prompt_batches (session_id, prompt_number, user_prompt, started_at, started_at_epoch, status, source_type)
		 VALUES (?, ?, ?, ?, ?, 'active', ?)`,
		sessionID, promptNumber, userPrompt, startedAt, startedEpoch, sourceType,
	)
	if err != nil {
		return nil, fmt.Errorf("activitystore: start prompt batch: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("activitystore: start prompt batch: %w", err)
	}
	return s.GetPromptBatch(id)
}

// GetPromptBatch returns a prompt batch by id, or nil if not found.
func (s *Store) GetPromptBatch(id int64) (*PromptBatch, error) {
	row := s.db.QueryRow(`SELECT `+batchCols+` FROM prompt_batches WHERE id = ?`, id)
	b, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("activitystore: get prompt batch: %w", err)
	}
	return b, nil
}

// GetActivePromptBatch returns the single open batch for a session, or nil.
func (s *Store) GetActivePromptBatch(sessionID string) (*PromptBatch, error) {
	row := s.db.QueryRow(`SELECT `+batchCols+` FROM prompt_batches WHERE session_id = ? AND status = 'active' ORDER BY prompt_number DESC LIMIT 1`, sessionID)
	b, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("activitystore: get active prompt batch: %w", err)
	}
	return b, nil
}

// CloseBatch marks a batch completed with a response summary.
func (s *Store) CloseBatch(id int64, responseSummary string) error {
	endedAt, endedEpoch := nowStamp()
	_, err := s.db.Exec(
		`UPDATE prompt_batches SET status = 'completed', response_summary = ?, ended_at = ?, ended_at_epoch = ? WHERE id = ?`,
		responseSummary, endedAt, endedEpoch, id,
	)
	if err != nil {
		return fmt.Errorf("activitystore: close batch: %w", err)
	}
	return nil
}

// SetBatchResponseSummary stores an agent-notified response summary on a
// batch without closing it, used by the notify receiver.
func (s *Store) SetBatchResponseSummary(id int64, responseSummary string) error {
	_, err := s.db.Exec(`UPDATE prompt_batches SET response_summary = ? WHERE id = ?`, responseSummary, id)
	if err != nil {
		return fmt.Errorf("activitystore: set batch response summary: %w", err)
	}
	return nil
}

// SetBatchClassification records the processor's classification for a batch.
func (s *Store) SetBatchClassification(id int64, classification string) error {
	_, err := s.db.Exec(`UPDATE prompt_batches SET classification = ? WHERE id = ?`, classification, id)
	if err != nil {
		return fmt.Errorf("activitystore: set batch classification: %w", err)
	}
	return nil
}

// MarkBatchProcessed flips the processed flag once the processor cycle has
// finished extracting observations for this batch.
func (s *Store) MarkBatchProcessed(id int64) error {
	_, err := s.db.Exec(`UPDATE prompt_batches SET processed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("activitystore: mark batch processed: %w", err)
	}
	return nil
}

// SetBatchPlan records derived-plan content synthesized from TaskCreate /
// TaskUpdate activities within this batch.
func (s *Store) SetBatchPlan(id int64, planContent, planFilePath string) error {
	_, err := s.db.Exec(`UPDATE prompt_batches SET plan_content = ?, plan_file_path = ? WHERE id = ?`, planContent, planFilePath, id)
	if err != nil {
		return fmt.Errorf("activitystore: set batch plan: %w", err)
	}
	return nil
}

// SetBatchDerivedPlan stores synthesized plan content and reclassifies the
// batch as derived_plan in the same statement, so a crash between the two
// writes can't leave a plan-carrying batch with a user source_type.
func (s *Store) SetBatchDerivedPlan(id int64, planContent string) error {
	_, err := s.db.Exec(`UPDATE prompt_batches SET source_type = 'derived_plan', plan_content = ? WHERE id = ?`, planContent, id)
	if err != nil {
		return fmt.Errorf("activitystore: set batch derived plan: %w", err)
	}
	return nil
}

// SetBatchPlanEmbedded flips the plan's embed-sync token once the vector
// store has indexed the plan content.
func (s *Store) SetBatchPlanEmbedded(id int64, embedded bool) error {
	val := 0
	if embedded {
		val = 1
	}
	_, err := s.db.Exec(`UPDATE prompt_batches SET plan_embedded = ? WHERE id = ?`, val, id)
	if err != nil {
		return fmt.Errorf("activitystore: set batch plan embedded: %w", err)
	}
	return nil
}

// ListUnprocessedBatches returns completed batches not yet processed by the
// activity processor, oldest first, capped at limit.
func (s *Store) ListUnprocessedBatches(limit int) ([]PromptBatch, error) {
	rows, err := s.db.Query(`SELECT `+batchCols+` FROM prompt_batches WHERE status = 'completed' AND processed = 0 ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("activitystore: list unprocessed batches: %w", err)
	}
	defer rows.Close()

	var out []PromptBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("activitystore: scan batch: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// ListBatchesForSession returns every prompt batch recorded for a session,
// in prompt_number order, used by session finalization to render a title
// and summary from the session's prompt history.
func (s *Store) ListBatchesForSession(sessionID string) ([]PromptBatch, error) {
	rows, err := s.db.Query(`SELECT `+batchCols+` FROM prompt_batches WHERE session_id = ? ORDER BY prompt_number ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("activitystore: list batches for session: %w", err)
	}
	defer rows.Close()

	var out []PromptBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("activitystore: scan batch: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// NextPromptNumber returns the next prompt_number for a session.
func (s *Store) NextPromptNumber(sessionID string) (int, error) {
	var maxNum sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(prompt_number) FROM prompt_batches WHERE session_id = ?`, sessionID).Scan(&maxNum)
	if err != nil {
		return 0, fmt.Errorf("activitystore: next prompt number: %w", err)
	}
	if !maxNum.Valid {
		return 1, nil
	}
	return int(maxNum.Int64) + 1, nil
}
