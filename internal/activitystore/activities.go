package activitystore

import (
	"database/sql"
	"fmt"
	"sync"
)

const activityCols = `id, session_id, prompt_batch_id, tool_name, tool_input, tool_output_summary, file_path, success, error_message, timestamp, processed`

func scanActivity(row interface{ Scan(...any) error }) (*Activity, error) {
	var a Activity
	var success int
	if err := row.Scan(&a.ID, &a.SessionID, &a.PromptBatchID, &a.ToolName, &a.ToolInput, &a.ToolOutputSummary, &a.FilePath, &success, &a.ErrorMessage, &a.Timestamp, &a.Processed); err != nil {
		return nil, err
	}
	a.Success = success != 0
	return &a, nil
}

// ActivityBuffer accumulates activities in memory before a single
// transactional flush, matching the spec's "buffered before insertion"
// invariant. Safe for concurrent use: Buffer, Len and FlushActivityBuffer
// all hold the buffer's mutex.
type ActivityBuffer struct {
	mu    sync.Mutex
	items []pendingActivity
}

type pendingActivity struct {
	sessionID         string
	promptBatchID     sql.NullInt64
	toolName          string
	toolInput         string
	toolOutputSummary string
	filePath          string
	success           bool
	errorMessage      string
}

// Buffer queues an activity for the next flush.
func (b *ActivityBuffer) Buffer(sessionID string, promptBatchID sql.NullInt64, toolName, toolInput, toolOutputSummary, filePath string, success bool, errorMessage string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, pendingActivity{
		sessionID: sessionID, promptBatchID: promptBatchID, toolName: toolName,
		toolInput: toolInput, toolOutputSummary: toolOutputSummary, filePath: filePath,
		success: success, errorMessage: errorMessage,
	})
}

// Len reports the number of activities currently buffered.
func (b *ActivityBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// FlushActivityBuffer drains the buffer into a single transaction and
// returns the ids assigned to each inserted row, in insertion order.
func (s *Store) FlushActivityBuffer(buf *ActivityBuffer) ([]int64, error) {
	buf.mu.Lock()
	items := buf.items
	buf.items = nil
	buf.mu.Unlock()

	if len(items) == 0 {
		return nil, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("activitystore: flush activity buffer: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO activities (session_id, prompt_batch_id, tool_name, tool_input, tool_output_summary, file_path, success, error_message, timestamp, timestamp_epoch)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("activitystore: flush activity buffer: prepare: %w", err)
	}
	defer stmt.Close()

	ids := make([]int64, 0, len(items))
	ts, tsEpoch := nowStamp()
	for _, it := range items {
		successVal := 0
		if it.success {
			successVal = 1
		}
		res, err := stmt.Exec(it.sessionID, it.promptBatchID, it.toolName, it.toolInput, it.toolOutputSummary, it.filePath, successVal, it.errorMessage, ts, tsEpoch)
		if err != nil {
			return nil, fmt.Errorf("activitystore: flush activity buffer: insert: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("activitystore: flush activity buffer: last insert id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("activitystore: flush activity buffer: commit: %w", err)
	}
	return ids, nil
}

// GetActivity returns an activity by id, or nil if not found.
func (s *Store) GetActivity(id int64) (*Activity, error) {
	row := s.db.QueryRow(`SELECT `+activityCols+` FROM activities WHERE id = ?`, id)
	a, err := scanActivity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("activitystore: get activity: %w", err)
	}
	return a, nil
}

// ListActivitiesForBatch returns every activity recorded within a batch,
// insertion order.
func (s *Store) ListActivitiesForBatch(batchID int64) ([]Activity, error) {
	rows, err := s.db.Query(`SELECT `+activityCols+` FROM activities WHERE prompt_batch_id = ? ORDER BY id ASC`, batchID)
	if err != nil {
		return nil, fmt.Errorf("activitystore: list activities for batch: %w", err)
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("activitystore: scan activity: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ListUnprocessedActivitiesForSession returns activities not yet folded
// into an observation-extraction pass for a session.
func (s *Store) ListUnprocessedActivitiesForSession(sessionID string) ([]Activity, error) {
	rows, err := s.db.Query(`SELECT `+activityCols+` FROM activities WHERE session_id = ? AND processed = 0 ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("activitystore: list unprocessed activities: %w", err)
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("activitystore: scan activity: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// MarkActivitiesProcessed flips the processed flag for a set of activity
// ids in one statement.
func (s *Store) MarkActivitiesProcessed(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := ""
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args[i] = id
	}
	_, err := s.db.Exec(`UPDATE activities SET processed = 1 WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("activitystore: mark activities processed: %w", err)
	}
	return nil
}

// ListActivitiesByToolForSession filters a session's activities by tool
// name, used by plan synthesis to find TaskCreate/TaskUpdate calls.
func (s *Store) ListActivitiesByToolForSession(sessionID, toolName string) ([]Activity, error) {
	rows, err := s.db.Query(`SELECT `+activityCols+` FROM activities WHERE session_id = ? AND tool_name = ? ORDER BY id ASC`, sessionID, toolName)
	if err != nil {
		return nil, fmt.Errorf("activitystore: list activities by tool: %w", err)
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("activitystore: scan activity: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}
