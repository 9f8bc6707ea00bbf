package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite connection backing the state store.
type Store struct {
	conn *sql.DB
}

// Open creates or opens a SQLite database at path, enables WAL mode and
// foreign keys, and runs migrations (including backfilling columns
// introduced by later schema versions).
//
// WAL mode, foreign keys, and the busy timeout are carried as DSN pragmas
// rather than one-off Execs: Exec on the pooled *sql.DB only binds a
// pragma to whichever single connection happens to serve that call, so
// FindAndLockAnyAvailableGpu's dedicated BEGIN IMMEDIATE connection (see
// gpu.go) would otherwise run without a busy timeout and surface spurious
// SQLITE_BUSY errors under concurrent writers. DSN pragmas apply to every
// connection the pool opens.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

const baseSchema = `
CREATE TABLE IF NOT EXISTS cases (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    path               TEXT NOT NULL UNIQUE,
    status             TEXT NOT NULL,
    progress           INTEGER NOT NULL DEFAULT 0,
    priority           INTEGER NOT NULL DEFAULT 0,
    gpu_group          TEXT,
    remote_task_id     TEXT,
    created_at         DATETIME NOT NULL,
    status_updated_at  DATETIME NOT NULL,
    completed_at       DATETIME,
    final_error        TEXT
);

CREATE TABLE IF NOT EXISTS workflow_steps (
    case_id      INTEGER NOT NULL REFERENCES cases(id),
    step         TEXT NOT NULL,
    status       TEXT NOT NULL,
    started_at   DATETIME NOT NULL,
    completed_at DATETIME,
    error        TEXT,
    PRIMARY KEY (case_id, step)
);

CREATE TABLE IF NOT EXISTS gpu_resources (
    group_name       TEXT PRIMARY KEY,
    status           TEXT NOT NULL,
    assigned_case_id INTEGER,
    last_updated     DATETIME NOT NULL
);
`

const indexSchema = `
CREATE INDEX IF NOT EXISTS idx_cases_status_priority ON cases(status, priority DESC, created_at ASC);
CREATE INDEX IF NOT EXISTS idx_cases_status_updated ON cases(status, status_updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_gpu_status ON gpu_resources(status);
`

// migrate creates the schema if absent and backfills columns that older
// databases (pre-priority, pre-created_at, pre-last_updated) may be missing.
// Indexes are created after the backfill, since they cover backfilled columns.
func (s *Store) migrate() error {
	if _, err := s.conn.Exec(baseSchema); err != nil {
		return fmt.Errorf("execute base schema: %w", err)
	}
	if err := s.backfillCasesColumns(); err != nil {
		return fmt.Errorf("backfill cases columns: %w", err)
	}
	if err := s.backfillGpuColumns(); err != nil {
		return fmt.Errorf("backfill gpu_resources columns: %w", err)
	}
	if _, err := s.conn.Exec(indexSchema); err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

func (s *Store) hasColumn(table, column string) (bool, error) {
	rows, err := s.conn.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			ctype      string
			notnull    int
			dfltValue  any
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &primaryKey); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// backfillCasesColumns adds priority/created_at/status_updated_at to
// databases created before those columns existed, per spec's schema
// evolution requirement: created_at is back-filled from submitted_at (or
// now, if even that is absent), status_updated_at from now, and priority
// takes the column default 0.
func (s *Store) backfillCasesColumns() error {
	hasPriority, err := s.hasColumn("cases", "priority")
	if err != nil {
		return err
	}
	if !hasPriority {
		if _, err := s.conn.Exec(`ALTER TABLE cases ADD COLUMN priority INTEGER NOT NULL DEFAULT 0`); err != nil {
			return err
		}
	}

	hasCreated, err := s.hasColumn("cases", "created_at")
	if err != nil {
		return err
	}
	if !hasCreated {
		hasSubmittedAt, err := s.hasColumn("cases", "submitted_at")
		if err != nil {
			return err
		}
		if _, err := s.conn.Exec(`ALTER TABLE cases ADD COLUMN created_at DATETIME`); err != nil {
			return err
		}
		if hasSubmittedAt {
			if _, err := s.conn.Exec(`UPDATE cases SET created_at = submitted_at WHERE created_at IS NULL`); err != nil {
				return err
			}
		}
		if _, err := s.conn.Exec(`UPDATE cases SET created_at = CURRENT_TIMESTAMP WHERE created_at IS NULL`); err != nil {
			return err
		}
	}

	hasStatusUpdated, err := s.hasColumn("cases", "status_updated_at")
	if err != nil {
		return err
	}
	if !hasStatusUpdated {
		if _, err := s.conn.Exec(`ALTER TABLE cases ADD COLUMN status_updated_at DATETIME`); err != nil {
			return err
		}
		if _, err := s.conn.Exec(`UPDATE cases SET status_updated_at = CURRENT_TIMESTAMP WHERE status_updated_at IS NULL`); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) backfillGpuColumns() error {
	hasLastUpdated, err := s.hasColumn("gpu_resources", "last_updated")
	if err != nil {
		return err
	}
	if !hasLastUpdated {
		if _, err := s.conn.Exec(`ALTER TABLE gpu_resources ADD COLUMN last_updated DATETIME`); err != nil {
			return err
		}
		if _, err := s.conn.Exec(`UPDATE gpu_resources SET last_updated = CURRENT_TIMESTAMP WHERE last_updated IS NULL`); err != nil {
			return err
		}
	}
	return nil
}
