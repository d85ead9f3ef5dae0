// Package history persists terminal task records to SQLite.
// Uses WAL mode for concurrent reads and crash-safe writes.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)
)

// Record is one finished task.
type Record struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	Priority    int       `json:"priority"`
	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Duration returns execution time (0 if the task never started).
func (r Record) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the history database at dir/history.db.
// Enables WAL mode and a 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "history.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// SQLite is single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			status       TEXT NOT NULL,
			priority     INTEGER NOT NULL DEFAULT 0,
			created_at   INTEGER NOT NULL,
			started_at   INTEGER,
			completed_at INTEGER,
			error        TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks(created_at)`,
	}
	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// Append stores one terminal task record.
func (d *DB) Append(r Record) error {
	_, err := d.db.Exec(
		`INSERT INTO tasks (id, name, status, priority, created_at, started_at, completed_at, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status=excluded.status,
			started_at=excluded.started_at,
			completed_at=excluded.completed_at,
			error=excluded.error`,
		r.ID, r.Name, r.Status, r.Priority,
		r.CreatedAt.Unix(), nullableUnix(r.StartedAt), nullableUnix(r.CompletedAt), r.Error,
	)
	return err
}

// Recent returns the most recently created records, newest first.
func (d *DB) Recent(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.Query(
		`SELECT id, name, status, priority, created_at, started_at, completed_at, error
		 FROM tasks ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

// Get retrieves one record by task id (nil, nil when absent).
func (d *DB) Get(id string) (*Record, error) {
	row := d.db.QueryRow(
		`SELECT id, name, status, priority, created_at, started_at, completed_at, error
		 FROM tasks WHERE id = ?`, id,
	)
	return scanRecord(row)
}

// CountByStatus aggregates record counts per terminal status.
func (d *DB) CountByStatus() (map[string]int64, error) {
	rows, err := d.db.Query(`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var r Record
	var createdAt int64
	var startedAt, completedAt sql.NullInt64
	var errMsg sql.NullString

	err := s.Scan(&r.ID, &r.Name, &r.Status, &r.Priority,
		&createdAt, &startedAt, &completedAt, &errMsg)
	if err == sql.ErrNoRows {
		return nil, nil // Not found, no error
	}
	if err != nil {
		return nil, err
	}

	r.CreatedAt = time.Unix(createdAt, 0)
	if startedAt.Valid {
		r.StartedAt = time.Unix(startedAt.Int64, 0)
	}
	if completedAt.Valid {
		r.CompletedAt = time.Unix(completedAt.Int64, 0)
	}
	r.Error = errMsg.String
	return &r, nil
}

func nullableUnix(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}
