package activitystore

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

const savedTaskCols = `id, title, body, status, created_at, updated_at`

func scanSavedTask(row interface{ Scan(...any) error }) (*SavedTask, error) {
	var t SavedTask
	if err := row.Scan(&t.ID, &t.Title, &t.Body, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateSavedTask inserts a user-authored task.
func (s *Store) CreateSavedTask(title, body string) (*SavedTask, error) {
	id := uuid.NewString()
	ts, tsEpoch := nowStamp()
	_, err := s.db.Exec(
		`INSERT INTO saved_tasks (id, title, body, status, created_at, created_at_epoch, updated_at, updated_at_epoch)
		 VALUES (?, ?, ?, 'pending', ?, ?, ?, ?)`,
		id, title, body, ts, tsEpoch, ts, tsEpoch,
	)
	if err != nil {
		return nil, fmt.Errorf("activitystore: create saved task: %w", err)
	}
	return s.GetSavedTask(id)
}

// GetSavedTask returns a saved task by id, or nil if not found.
func (s *Store) GetSavedTask(id string) (*SavedTask, error) {
	row := s.db.QueryRow(`SELECT `+savedTaskCols+` FROM saved_tasks WHERE id = ?`, id)
	t, err := scanSavedTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("activitystore: get saved task: %w", err)
	}
	return t, nil
}

// ListSavedTasks returns every saved task, newest first.
func (s *Store) ListSavedTasks() ([]SavedTask, error) {
	rows, err := s.db.Query(`SELECT ` + savedTaskCols + ` FROM saved_tasks ORDER BY created_at_epoch DESC`)
	if err != nil {
		return nil, fmt.Errorf("activitystore: list saved tasks: %w", err)
	}
	defer rows.Close()

	var out []SavedTask
	for rows.Next() {
		t, err := scanSavedTask(rows)
		if err != nil {
			return nil, fmt.Errorf("activitystore: scan saved task: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// UpdateSavedTaskStatus updates a saved task's status and updated_at.
func (s *Store) UpdateSavedTaskStatus(id, status string) error {
	updatedAt, updatedEpoch := nowStamp()
	_, err := s.db.Exec(`UPDATE saved_tasks SET status = ?, updated_at = ?, updated_at_epoch = ? WHERE id = ?`, status, updatedAt, updatedEpoch, id)
	if err != nil {
		return fmt.Errorf("activitystore: update saved task status: %w", err)
	}
	return nil
}

// DeleteSavedTask removes a saved task by id.
func (s *Store) DeleteSavedTask(id string) error {
	_, err := s.db.Exec(`DELETE FROM saved_tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("activitystore: delete saved task: %w", err)
	}
	return nil
}
