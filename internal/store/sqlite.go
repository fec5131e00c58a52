package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/foreman/internal/model"

	_ "modernc.org/sqlite"
)

const createResultsTable = `
CREATE TABLE IF NOT EXISTS results (
    id               TEXT PRIMARY KEY,
    worker_id        TEXT NOT NULL,
    status           TEXT NOT NULL,
    content          TEXT NOT NULL DEFAULT '',
    error            TEXT NOT NULL DEFAULT '',
    started_at       DATETIME NOT NULL,
    completed_at     DATETIME,
    duration_seconds REAL NOT NULL DEFAULT 0,
    metadata         TEXT NOT NULL DEFAULT '{}'
)`

const createResultsWorkerIndex = `
CREATE INDEX IF NOT EXISTS idx_results_worker_id ON results(worker_id)`

const createCapturesTable = `
CREATE TABLE IF NOT EXISTS captures (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    worker_id  TEXT NOT NULL,
    seq        INTEGER NOT NULL,
    content    TEXT NOT NULL,
    created_at DATETIME NOT NULL
)`

// Compile-time interface satisfaction check.
var _ ResultStore = (*SQLiteStore)(nil)

// SQLiteStore implements ResultStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createResultsTable, createResultsWorkerIndex, createCapturesTable} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("run migration: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveResult inserts one execution outcome under a fresh record id.
func (s *SQLiteStore) SaveResult(ctx context.Context, workerID string, r *model.WorkerResult, metadata map[string]string) error {
	merged := make(map[string]string, len(r.Metadata)+len(metadata))
	for k, v := range r.Metadata {
		merged[k] = v
	}
	for k, v := range metadata {
		merged[k] = v
	}
	metaJSON, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO results (
			id, worker_id, status, content, error,
			started_at, completed_at, duration_seconds, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		model.NewID(), workerID, string(r.Status), r.Content, r.Error,
		r.StartedAt, r.CompletedAt, r.DurationSeconds, string(metaJSON),
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// LatestResult returns the most recent result for the given worker.
func (s *SQLiteStore) LatestResult(ctx context.Context, workerID string) (*model.WorkerResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT worker_id, status, content, error,
			started_at, completed_at, duration_seconds, metadata
		FROM results WHERE worker_id = ? ORDER BY id DESC LIMIT 1`, workerID,
	)
	r, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	return r, nil
}

// ListResults returns a paginated list of results ordered newest first,
// along with the total count of all results.
func (s *SQLiteStore) ListResults(ctx context.Context, limit, offset int) ([]StoredResult, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM results").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count results: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, worker_id, status, content, error,
			started_at, completed_at, duration_seconds, metadata
		FROM results ORDER BY id DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var results []StoredResult
	for rows.Next() {
		var (
			id          string
			r           model.WorkerResult
			status      string
			completedAt sql.NullTime
			metaJSON    string
		)
		if err := rows.Scan(
			&id, &r.WorkerID, &status, &r.Content, &r.Error,
			&r.StartedAt, &completedAt, &r.DurationSeconds, &metaJSON,
		); err != nil {
			return nil, 0, fmt.Errorf("scan result: %w", err)
		}
		r.Status = model.WorkerStatus(status)
		if completedAt.Valid {
			t := completedAt.Time
			r.CompletedAt = &t
		}
		if err := json.Unmarshal([]byte(metaJSON), &r.Metadata); err != nil {
			return nil, 0, fmt.Errorf("unmarshal metadata: %w", err)
		}
		results = append(results, StoredResult{ID: id, Result: &r})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate results: %w", err)
	}

	return results, total, nil
}

// Stats returns aggregate counts across all stored results.
func (s *SQLiteStore) Stats(ctx context.Context) (*ResultStats, error) {
	stats := &ResultStats{CountByStatus: make(map[string]int)}

	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM results GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.CountByStatus[status] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		"SELECT AVG(duration_seconds) FROM results").Scan(&avg); err != nil {
		return nil, fmt.Errorf("avg duration: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationSeconds = avg.Float64
	}

	return stats, nil
}

// InsertCapture persists one debug monitor snapshot.
func (s *SQLiteStore) InsertCapture(ctx context.Context, workerID string, seq int, content string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO captures (worker_id, seq, content, created_at) VALUES (?, ?, ?, ?)",
		workerID, seq, content, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert capture: %w", err)
	}
	return nil
}

// ListCaptures returns all snapshots for a worker in capture order.
func (s *SQLiteStore) ListCaptures(ctx context.Context, workerID string) ([]Capture, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, worker_id, seq, content, created_at
		FROM captures WHERE worker_id = ? ORDER BY seq ASC`, workerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list captures: %w", err)
	}
	defer rows.Close()

	var captures []Capture
	for rows.Next() {
		var c Capture
		var createdAt time.Time
		if err := rows.Scan(&c.ID, &c.WorkerID, &c.Seq, &c.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan capture: %w", err)
		}
		c.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
		captures = append(captures, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate captures: %w", err)
	}

	return captures, nil
}

// scanner abstracts sql.Row and sql.Rows for scanResult.
type scanner interface {
	Scan(dest ...any) error
}

func scanResult(row scanner) (*model.WorkerResult, error) {
	var (
		r           model.WorkerResult
		status      string
		completedAt sql.NullTime
		metaJSON    string
	)
	if err := row.Scan(
		&r.WorkerID, &status, &r.Content, &r.Error,
		&r.StartedAt, &completedAt, &r.DurationSeconds, &metaJSON,
	); err != nil {
		return nil, err
	}
	r.Status = model.WorkerStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	if err := json.Unmarshal([]byte(metaJSON), &r.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &r, nil
}
