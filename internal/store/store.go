package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Sentinel errors
var (
	ErrNotFound = errors.New("not found")
)

// isBusyLock reports whether err indicates SQLite database lock (SQLITE_BUSY).
// Handles wrapped errors from database/sql.
func isBusyLock(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "database is locked") || strings.Contains(s, "SQLITE_BUSY")
}

// retryOnBusy runs fn and retries on SQLITE_BUSY with exponential backoff.
func retryOnBusy(fn func() error) error {
	const maxAttempts = 4
	backoff := 25 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil || !isBusyLock(lastErr) {
			return lastErr
		}
		if attempt < maxAttempts-1 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return lastErr
}

// Sandbox statuses. Only open sandboxes are considered by the reaper.
const (
	SandboxOpen   = "open"
	SandboxClosed = "closed"
	SandboxReaped = "reaped"
)

// Process statuses.
const (
	ProcessRunning = "running"
	ProcessExited  = "exited"
	ProcessReaped  = "reaped"
)

// Sandbox is one harness instance. OwnerPID is the driver process that
// created it; when that process is gone the sandbox is an orphan.
type Sandbox struct {
	ID        string    `json:"id"`
	OwnerPID  int       `json:"owner_pid"`
	RootDir   string    `json:"root_dir"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	ClosedAt  time.Time `json:"closed_at,omitempty"`
}

// Process is one spawned node or daemon run.
type Process struct {
	ID         string    `json:"id"`
	SandboxID  string    `json:"sandbox_id"`
	Role       string    `json:"role"`
	NodeID     int       `json:"node_id"`
	Proto      string    `json:"proto,omitempty"`
	PID        int       `json:"pid"`
	Executable string    `json:"executable"`
	LogFile    string    `json:"log_file,omitempty"`
	Status     string    `json:"status"`
	ExitCode   int       `json:"exit_code"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at,omitempty"`
}

type Store struct {
	db *sql.DB
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS sandboxes (
	id         TEXT PRIMARY KEY,
	owner_pid  INTEGER NOT NULL,
	root_dir   TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'open',
	created_at DATETIME NOT NULL,
	closed_at  DATETIME
);
CREATE INDEX IF NOT EXISTS idx_sandboxes_status ON sandboxes(status);

CREATE TABLE IF NOT EXISTS processes (
	id         TEXT PRIMARY KEY,
	sandbox_id TEXT NOT NULL REFERENCES sandboxes(id),
	role       TEXT NOT NULL,
	node_id    INTEGER NOT NULL,
	proto      TEXT NOT NULL DEFAULT '',
	pid        INTEGER NOT NULL,
	executable TEXT NOT NULL,
	log_file   TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'running',
	exit_code  INTEGER NOT NULL DEFAULT 0,
	started_at DATETIME NOT NULL,
	ended_at   DATETIME
);
CREATE INDEX IF NOT EXISTS idx_processes_sandbox_status ON processes(sandbox_id, status);
`

// DefaultMaxOpenConns is the default connection pool size for concurrent reads.
// WAL mode allows multiple readers + 1 writer.
const DefaultMaxOpenConns = 4

// dsnWithPragmas returns a connection string with WAL, busy_timeout, and perf
// pragmas applied to every new connection. Several sandboxes in parallel
// test binaries share one ledger file.
func dsnWithPragmas(dbPath string) string {
	return dbPath + "?_pragma=busy_timeout(15000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(1)"
}

// New opens the store. maxOpenConns controls the connection pool size (0 = default 4).
func New(dbPath string, maxOpenConns int) (*Store, error) {
	db, err := sql.Open("sqlite", dsnWithPragmas(dbPath))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if maxOpenConns <= 0 {
		maxOpenConns = DefaultMaxOpenConns
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)

	err = retryOnBusy(func() error {
		_, e := db.Exec(createTableSQL)
		return e
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateSandbox(sb *Sandbox) error {
	err := retryOnBusy(func() error {
		_, e := s.db.Exec(
			`INSERT INTO sandboxes (id, owner_pid, root_dir, status, created_at) VALUES (?, ?, ?, ?, ?)`,
			sb.ID, sb.OwnerPID, sb.RootDir, sb.Status, sb.CreatedAt.UTC(),
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("inserting sandbox: %w", err)
	}
	return nil
}

const sandboxColumns = `id, owner_pid, root_dir, status, created_at, closed_at`

// GetSandbox returns nil without error when id is unknown.
func (s *Store) GetSandbox(id string) (*Sandbox, error) {
	row := s.db.QueryRow(`SELECT `+sandboxColumns+` FROM sandboxes WHERE id = ?`, id)
	return scanSandbox(row)
}

func (s *Store) ListSandboxes() ([]*Sandbox, error) {
	rows, err := s.db.Query(`SELECT ` + sandboxColumns + ` FROM sandboxes ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing sandboxes: %w", err)
	}
	defer rows.Close()
	return scanSandboxes(rows)
}

func (s *Store) ListOpenSandboxes() ([]*Sandbox, error) {
	rows, err := s.db.Query(`SELECT `+sandboxColumns+` FROM sandboxes WHERE status = ? ORDER BY created_at`, SandboxOpen)
	if err != nil {
		return nil, fmt.Errorf("listing open sandboxes: %w", err)
	}
	defer rows.Close()
	return scanSandboxes(rows)
}

// UpdateSandboxStatus sets status, stamping closed_at for any status but open.
func (s *Store) UpdateSandboxStatus(id string, status string) error {
	var closedAt any
	if status != SandboxOpen {
		closedAt = time.Now().UTC()
	}
	var result sql.Result
	err := retryOnBusy(func() error {
		var e error
		result, e = s.db.Exec(`UPDATE sandboxes SET status = ?, closed_at = ? WHERE id = ?`, status, closedAt, id)
		return e
	})
	if err != nil {
		return fmt.Errorf("updating sandbox status: %w", err)
	}
	return checkRowAffected(result, "sandbox", id)
}

func (s *Store) RecordProcess(p *Process) error {
	err := retryOnBusy(func() error {
		_, e := s.db.Exec(
			`INSERT INTO processes (id, sandbox_id, role, node_id, proto, pid, executable, log_file, status, exit_code, started_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.SandboxID, p.Role, p.NodeID, p.Proto, p.PID, p.Executable, p.LogFile,
			p.Status, p.ExitCode, p.StartedAt.UTC(),
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("inserting process: %w", err)
	}
	return nil
}

// FinishProcess records the end of a process run with the given status.
func (s *Store) FinishProcess(id string, status string, exitCode int) error {
	var result sql.Result
	err := retryOnBusy(func() error {
		var e error
		result, e = s.db.Exec(
			`UPDATE processes SET status = ?, exit_code = ?, ended_at = ? WHERE id = ?`,
			status, exitCode, time.Now().UTC(), id,
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("updating process: %w", err)
	}
	return checkRowAffected(result, "process", id)
}

const processColumns = `id, sandbox_id, role, node_id, proto, pid, executable, log_file, status, exit_code, started_at, ended_at`

func (s *Store) ListProcesses(sandboxID string) ([]*Process, error) {
	rows, err := s.db.Query(
		`SELECT `+processColumns+` FROM processes WHERE sandbox_id = ? ORDER BY started_at, id`, sandboxID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}
	defer rows.Close()
	return scanProcesses(rows)
}

func (s *Store) ListRunningProcesses(sandboxID string) ([]*Process, error) {
	rows, err := s.db.Query(
		`SELECT `+processColumns+` FROM processes WHERE sandbox_id = ? AND status = ? ORDER BY started_at, id`,
		sandboxID, ProcessRunning,
	)
	if err != nil {
		return nil, fmt.Errorf("listing running processes: %w", err)
	}
	defer rows.Close()
	return scanProcesses(rows)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSandbox(row scannable) (*Sandbox, error) {
	var sb Sandbox
	var closedAt sql.NullTime
	err := row.Scan(&sb.ID, &sb.OwnerPID, &sb.RootDir, &sb.Status, &sb.CreatedAt, &closedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning sandbox: %w", err)
	}
	if closedAt.Valid {
		sb.ClosedAt = closedAt.Time
	}
	return &sb, nil
}

func scanSandboxes(rows *sql.Rows) ([]*Sandbox, error) {
	var out []*Sandbox
	for rows.Next() {
		sb, err := scanSandbox(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sandboxes: %w", err)
	}
	return out, nil
}

func scanProcess(row scannable) (*Process, error) {
	var p Process
	var endedAt sql.NullTime
	err := row.Scan(
		&p.ID, &p.SandboxID, &p.Role, &p.NodeID, &p.Proto, &p.PID, &p.Executable, &p.LogFile,
		&p.Status, &p.ExitCode, &p.StartedAt, &endedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning process: %w", err)
	}
	if endedAt.Valid {
		p.EndedAt = endedAt.Time
	}
	return &p, nil
}

func scanProcesses(rows *sql.Rows) ([]*Process, error) {
	var out []*Process
	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating processes: %w", err)
	}
	return out, nil
}

func checkRowAffected(result sql.Result, kind, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
