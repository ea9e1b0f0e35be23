package activitystore

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// AgentSchedule and SavedTask are specified only by their CRUD contracts
// (spec.md §3): optional runtime state for periodic or on-demand agent
// jobs, orthogonal to the activity-processor hot path.

const scheduleCols = `id, name, cron_expr, prompt, enabled, last_run_at, created_at`

func scanSchedule(row interface{ Scan(...any) error }) (*AgentSchedule, error) {
	var sc AgentSchedule
	var enabled int
	if err := row.Scan(&sc.ID, &sc.Name, &sc.CronExpr, &sc.Prompt, &enabled, &sc.LastRunAt, &sc.CreatedAt); err != nil {
		return nil, err
	}
	sc.Enabled = enabled != 0
	return &sc, nil
}

// CreateSchedule inserts a new agent schedule.
func (s *Store) CreateSchedule(name, cronExpr, prompt string, enabled bool) (*AgentSchedule, error) {
	id := uuid.NewString()
	createdAt, createdEpoch := nowStamp()
	enabledVal := 0
	if enabled {
		enabledVal = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO agent_schedules (id, name, cron_expr, prompt, enabled, created_at, created_at_epoch) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, name, cronExpr, prompt, enabledVal, createdAt, createdEpoch,
	)
	if err != nil {
		return nil, fmt.Errorf("activitystore: create schedule: %w", err)
	}
	return s.GetSchedule(id)
}

// GetSchedule returns a schedule by id, or nil if not found.
func (s *Store) GetSchedule(id string) (*AgentSchedule, error) {
	row := s.db.QueryRow(`SELECT `+scheduleCols+` FROM agent_schedules WHERE id = ?`, id)
	sc, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("activitystore: get schedule: %w", err)
	}
	return sc, nil
}

// ListSchedules returns every agent schedule, enabled or not.
func (s *Store) ListSchedules() ([]AgentSchedule, error) {
	rows, err := s.db.Query(`SELECT ` + scheduleCols + ` FROM agent_schedules ORDER BY created_at_epoch ASC`)
	if err != nil {
		return nil, fmt.Errorf("activitystore: list schedules: %w", err)
	}
	defer rows.Close()

	var out []AgentSchedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("activitystore: scan schedule: %w", err)
		}
		out = append(out, *sc)
	}
	return out, rows.Err()
}

// ListDueSchedules returns enabled schedules that haven't run since cutoff
// (epoch seconds), used by the schedule-tick loop.
func (s *Store) ListDueSchedules(cutoffEpoch int64) ([]AgentSchedule, error) {
	rows, err := s.db.Query(`
		SELECT `+scheduleCols+` FROM agent_schedules
		WHERE enabled = 1 AND (last_run_epoch IS NULL OR last_run_epoch < ?)
		ORDER BY created_at_epoch ASC`, cutoffEpoch)
	if err != nil {
		return nil, fmt.Errorf("activitystore: list due schedules: %w", err)
	}
	defer rows.Close()

	var out []AgentSchedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("activitystore: scan schedule: %w", err)
		}
		out = append(out, *sc)
	}
	return out, rows.Err()
}

// SetScheduleEnabled toggles a schedule.
func (s *Store) SetScheduleEnabled(id string, enabled bool) error {
	val := 0
	if enabled {
		val = 1
	}
	_, err := s.db.Exec(`UPDATE agent_schedules SET enabled = ? WHERE id = ?`, val, id)
	if err != nil {
		return fmt.Errorf("activitystore: set schedule enabled: %w", err)
	}
	return nil
}

// RecordScheduleRun stamps last_run_at/last_run_epoch to now.
func (s *Store) RecordScheduleRun(id string) error {
	lastRunAt, lastRunEpoch := nowStamp()
	_, err := s.db.Exec(`UPDATE agent_schedules SET last_run_at = ?, last_run_epoch = ? WHERE id = ?`, lastRunAt, lastRunEpoch, id)
	if err != nil {
		return fmt.Errorf("activitystore: record schedule run: %w", err)
	}
	return nil
}

// DeleteSchedule removes a schedule by id.
func (s *Store) DeleteSchedule(id string) error {
	_, err := s.db.Exec(`DELETE FROM agent_schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("activitystore: delete schedule: %w", err)
	}
	return nil
}
