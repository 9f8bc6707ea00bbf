package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RecordWorkflowStep upserts the checkpoint for (case_id, step).
func (s *Store) RecordWorkflowStep(caseID int64, step string, status StepStatus, stepErr *string) error {
	now := time.Now().UTC()
	var completedAt *time.Time
	if status == StepCompleted || status == StepFailed {
		completedAt = &now
	}

	_, err := s.conn.Exec(
		`INSERT INTO workflow_steps (case_id, step, status, started_at, completed_at, error)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(case_id, step) DO UPDATE SET
		   status = excluded.status,
		   completed_at = COALESCE(excluded.completed_at, workflow_steps.completed_at),
		   error = excluded.error`,
		caseID, step, status, now, completedAt, stepErr,
	)
	if err != nil {
		return fmt.Errorf("record workflow step: %w", err)
	}
	return nil
}

// GetWorkflowStep retrieves the checkpoint for (case_id, step).
func (s *Store) GetWorkflowStep(caseID int64, step string) (WorkflowStep, error) {
	row := s.conn.QueryRow(
		`SELECT case_id, step, status, started_at, completed_at, error
		 FROM workflow_steps WHERE case_id = ? AND step = ?`,
		caseID, step,
	)
	ws, err := scanStep(row)
	if errors.Is(err, sql.ErrNoRows) {
		return WorkflowStep{}, ErrNotFound
	}
	if err != nil {
		return WorkflowStep{}, fmt.Errorf("get workflow step: %w", err)
	}
	return ws, nil
}

// ListWorkflowSteps returns every recorded step for a case, in insertion
// order (rowid order), which matches step execution order.
func (s *Store) ListWorkflowSteps(caseID int64) ([]WorkflowStep, error) {
	rows, err := s.conn.Query(
		`SELECT case_id, step, status, started_at, completed_at, error
		 FROM workflow_steps WHERE case_id = ? ORDER BY rowid ASC`,
		caseID,
	)
	if err != nil {
		return nil, fmt.Errorf("list workflow steps: %w", err)
	}
	defer rows.Close()

	var out []WorkflowStep
	for rows.Next() {
		ws, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("list workflow steps: %w", err)
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

func scanStep(row interface{ Scan(...any) error }) (WorkflowStep, error) {
	var ws WorkflowStep
	var completedAt sql.NullTime
	var stepErr sql.NullString
	err := row.Scan(&ws.CaseID, &ws.Step, &ws.Status, &ws.StartedAt, &completedAt, &stepErr)
	if err != nil {
		return WorkflowStep{}, err
	}
	if completedAt.Valid {
		ws.CompletedAt = &completedAt.Time
	}
	if stepErr.Valid {
		ws.Error = &stepErr.String
	}
	return ws, nil
}
