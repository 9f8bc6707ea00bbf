package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// AddCase inserts a new case with status submitted, progress 0, and all
// three timestamps set to now. Fails with ErrDuplicatePath if path exists.
func (s *Store) AddCase(path string, priority int) (int64, error) {
	now := time.Now().UTC()
	res, err := s.conn.Exec(
		`INSERT INTO cases (path, status, progress, priority, created_at, status_updated_at)
		 VALUES (?, ?, 0, ?, ?, ?)`,
		path, StatusSubmitted, priority, now, now,
	)
	if err != nil {
		if isUniqueConstraint(err) {
			return 0, ErrDuplicatePath
		}
		return 0, fmt.Errorf("add case: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("add case: %w", err)
	}
	return id, nil
}

func isUniqueConstraint(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint")
}

const caseColumns = `id, path, status, progress, priority, gpu_group, remote_task_id,
	created_at, status_updated_at, completed_at, final_error`

func scanCase(row interface{ Scan(...any) error }) (Case, error) {
	var c Case
	var gpuGroup, remoteTaskID, finalError sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(
		&c.ID, &c.Path, &c.Status, &c.Progress, &c.Priority,
		&gpuGroup, &remoteTaskID, &c.CreatedAt, &c.StatusUpdatedAt,
		&completedAt, &finalError,
	)
	if err != nil {
		return Case{}, err
	}
	if gpuGroup.Valid {
		c.GpuGroup = &gpuGroup.String
	}
	if remoteTaskID.Valid {
		c.RemoteTaskID = &remoteTaskID.String
	}
	if completedAt.Valid {
		c.CompletedAt = &completedAt.Time
	}
	if finalError.Valid {
		c.FinalError = &finalError.String
	}
	return c, nil
}

// GetCase retrieves a case by id.
func (s *Store) GetCase(id int64) (Case, error) {
	row := s.conn.QueryRow(`SELECT `+caseColumns+` FROM cases WHERE id = ?`, id)
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Case{}, ErrNotFound
	}
	if err != nil {
		return Case{}, fmt.Errorf("get case: %w", err)
	}
	return c, nil
}

// GetCaseByPath retrieves a case by its filesystem path.
func (s *Store) GetCaseByPath(path string) (Case, error) {
	row := s.conn.QueryRow(`SELECT `+caseColumns+` FROM cases WHERE path = ?`, path)
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Case{}, ErrNotFound
	}
	if err != nil {
		return Case{}, fmt.Errorf("get case by path: %w", err)
	}
	return c, nil
}

// ListCasesByStatus lists cases in the given status, ordered by
// (priority desc, created_at asc). limit <= 0 means unbounded.
func (s *Store) ListCasesByStatus(status CaseStatus, limit int) ([]Case, error) {
	q := `SELECT ` + caseColumns + ` FROM cases WHERE status = ? ORDER BY priority DESC, created_at ASC`
	args := []any{status}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.conn.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list cases by status: %w", err)
	}
	defer rows.Close()

	var out []Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("list cases by status: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateCaseStatus sets status, progress, and status_updated_at = now.
func (s *Store) UpdateCaseStatus(id int64, newStatus CaseStatus, progress int) error {
	_, err := s.conn.Exec(
		`UPDATE cases SET status = ?, progress = ?, status_updated_at = ? WHERE id = ?`,
		newStatus, progress, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update case status: %w", err)
	}
	return nil
}

// SetCaseGpuGroup records the GPU group assigned to a case (or clears it
// when group is nil), without otherwise touching status/progress.
func (s *Store) SetCaseGpuGroup(id int64, group *string) error {
	_, err := s.conn.Exec(`UPDATE cases SET gpu_group = ? WHERE id = ?`, group, id)
	if err != nil {
		return fmt.Errorf("set case gpu group: %w", err)
	}
	return nil
}

// SetCaseRemoteTaskID records the remote task id for a case.
func (s *Store) SetCaseRemoteTaskID(id int64, taskID *string) error {
	_, err := s.conn.Exec(`UPDATE cases SET remote_task_id = ? WHERE id = ?`, taskID, id)
	if err != nil {
		return fmt.Errorf("set case remote task id: %w", err)
	}
	return nil
}

// UpdateCaseCompletion moves a case to a terminal status, sets progress to
// 100 and completed_at to now. gpu_group and remote_task_id are preserved.
func (s *Store) UpdateCaseCompletion(id int64, terminalStatus CaseStatus, finalError *string) error {
	if terminalStatus != StatusCompleted && terminalStatus != StatusFailed {
		return ErrInvalidStatus
	}
	now := time.Now().UTC()
	_, err := s.conn.Exec(
		`UPDATE cases SET status = ?, progress = 100, status_updated_at = ?, completed_at = ?, final_error = COALESCE(?, final_error)
		 WHERE id = ?`,
		terminalStatus, now, now, finalError, id,
	)
	if err != nil {
		return fmt.Errorf("update case completion: %w", err)
	}
	return nil
}
