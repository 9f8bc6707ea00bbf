package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// EnsureGpuExists creates the row with status available if missing.
func (s *Store) EnsureGpuExists(group string) error {
	_, err := s.conn.Exec(
		`INSERT INTO gpu_resources (group_name, status, last_updated)
		 VALUES (?, ?, ?)
		 ON CONFLICT(group_name) DO NOTHING`,
		group, GpuAvailable, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("ensure gpu exists: %w", err)
	}
	return nil
}

// GetGpu retrieves a single GPU resource row.
func (s *Store) GetGpu(group string) (GpuResource, error) {
	row := s.conn.QueryRow(
		`SELECT group_name, status, assigned_case_id, last_updated FROM gpu_resources WHERE group_name = ?`,
		group,
	)
	g, err := scanGpu(row)
	if errors.Is(err, sql.ErrNoRows) {
		return GpuResource{}, ErrNotFound
	}
	if err != nil {
		return GpuResource{}, fmt.Errorf("get gpu: %w", err)
	}
	return g, nil
}

// ListGpus returns every GPU resource row.
func (s *Store) ListGpus() ([]GpuResource, error) {
	rows, err := s.conn.Query(`SELECT group_name, status, assigned_case_id, last_updated FROM gpu_resources`)
	if err != nil {
		return nil, fmt.Errorf("list gpus: %w", err)
	}
	defer rows.Close()

	var out []GpuResource
	for rows.Next() {
		g, err := scanGpu(rows)
		if err != nil {
			return nil, fmt.Errorf("list gpus: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// ListGpusByStatus returns GPU resource rows in the given status.
func (s *Store) ListGpusByStatus(status GpuStatus) ([]GpuResource, error) {
	rows, err := s.conn.Query(
		`SELECT group_name, status, assigned_case_id, last_updated FROM gpu_resources WHERE status = ?`,
		status,
	)
	if err != nil {
		return nil, fmt.Errorf("list gpus by status: %w", err)
	}
	defer rows.Close()

	var out []GpuResource
	for rows.Next() {
		g, err := scanGpu(rows)
		if err != nil {
			return nil, fmt.Errorf("list gpus by status: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func scanGpu(row interface{ Scan(...any) error }) (GpuResource, error) {
	var g GpuResource
	var assigned sql.NullInt64
	if err := row.Scan(&g.Group, &g.Status, &assigned, &g.LastUpdated); err != nil {
		return GpuResource{}, err
	}
	if assigned.Valid {
		g.AssignedCaseID = &assigned.Int64
	}
	return g, nil
}

// FindAndLockAnyAvailableGpu is the cornerstone resource-locking operation:
// in a single immediate (write) transaction it finds the lexicographically
// first available GPU row, assigns it to caseID, and returns its name. It
// returns ("", nil) if none is available, mutating nothing. This is the
// sole legitimate path from available to assigned.
func (s *Store) FindAndLockAnyAvailableGpu(ctx context.Context, caseID int64) (string, error) {
	conn, err := s.conn.Conn(ctx)
	if err != nil {
		return "", fmt.Errorf("find and lock gpu: conn: %w", err)
	}
	defer conn.Close()

	// BEGIN IMMEDIATE takes SQLite's write lock up front, so the
	// find-then-update below can never interleave with a concurrent
	// transaction doing the same thing: the cornerstone of exclusive GPU
	// ownership. database/sql's Tx has no IMMEDIATE knob, so the lock is
	// taken as a raw statement on a dedicated connection instead.
	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return "", fmt.Errorf("find and lock gpu: begin immediate: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	row := conn.QueryRowContext(ctx,
		`SELECT group_name FROM gpu_resources WHERE status = ? ORDER BY group_name ASC LIMIT 1`,
		GpuAvailable,
	)
	var group string
	if err := row.Scan(&group); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("find and lock gpu: select: %w", err)
	}

	if _, err := conn.ExecContext(ctx,
		`UPDATE gpu_resources SET status = ?, assigned_case_id = ?, last_updated = ? WHERE group_name = ? AND status = ?`,
		GpuAssigned, caseID, time.Now().UTC(), group, GpuAvailable,
	); err != nil {
		return "", fmt.Errorf("find and lock gpu: update: %w", err)
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return "", fmt.Errorf("find and lock gpu: commit: %w", err)
	}
	committed = true
	return group, nil
}

// ReleaseGpu sets any row assigned to caseID back to available, clearing the
// assignment. Idempotent.
func (s *Store) ReleaseGpu(caseID int64) error {
	_, err := s.conn.Exec(
		`UPDATE gpu_resources SET status = ?, assigned_case_id = NULL, last_updated = ? WHERE assigned_case_id = ?`,
		GpuAvailable, time.Now().UTC(), caseID,
	)
	if err != nil {
		return fmt.Errorf("release gpu: %w", err)
	}
	return nil
}

// SetGpuStatus sets a group's status, optionally updating its assignment.
// Used by the GPU Manager for available<->busy transitions and for marking
// zombie. caseID is left untouched when nil.
func (s *Store) SetGpuStatus(group string, status GpuStatus, caseID *int64) error {
	if caseID != nil {
		_, err := s.conn.Exec(
			`UPDATE gpu_resources SET status = ?, assigned_case_id = ?, last_updated = ? WHERE group_name = ?`,
			status, *caseID, time.Now().UTC(), group,
		)
		if err != nil {
			return fmt.Errorf("set gpu status: %w", err)
		}
		return nil
	}
	_, err := s.conn.Exec(
		`UPDATE gpu_resources SET status = ?, last_updated = ? WHERE group_name = ?`,
		status, time.Now().UTC(), group,
	)
	if err != nil {
		return fmt.Errorf("set gpu status: %w", err)
	}
	return nil
}
