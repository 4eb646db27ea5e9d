package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Run statuses stored in the history.
const (
	StatusSaved  = "saved"
	StatusFailed = "failed"
)

// timeLayout sorts lexicographically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Entry is one row of the calibration history.
type Entry struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Status     string    `json:"status"`
	RecordPath string    `json:"record_path,omitempty"`
	WarpScale  float64   `json:"warp_scale"`
	RMS        float64   `json:"rms"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// History is an SQLite-backed log of calibration runs.
type History struct {
	db     *sql.DB
	insert *sql.Stmt
}

// OpenHistory opens (or creates) the history database at path and ensures schema.
func OpenHistory(path string) (*History, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history %s: %w", path, err)
	}
	// modernc serialises writers; one connection avoids SQLITE_BUSY on :memory: too.
	db.SetMaxOpenConns(1)
	h := &History{db: db}
	if err := h.ensureSchema(); err != nil {
		return nil, multierr.Append(err, db.Close())
	}
	h.insert, err = db.Prepare(`INSERT INTO calibration_runs
        (id, session_id, status, record_path, warp_scale, rms, width, height, error_message, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to prepare history insert: %w", err), db.Close())
	}
	return h, nil
}

func (h *History) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS calibration_runs (
            id TEXT PRIMARY KEY,
            session_id TEXT NOT NULL,
            status TEXT NOT NULL,
            record_path TEXT,
            warp_scale REAL,
            rms REAL,
            width INTEGER,
            height INTEGER,
            error_message TEXT,
            created_at TEXT NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_calibration_runs_created ON calibration_runs(created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_calibration_runs_session ON calibration_runs(session_id);`,
	}
	for _, stmt := range stmts {
		if _, err := h.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create history schema: %w", err)
		}
	}
	return nil
}

// Append stores e. A missing ID or timestamp is filled in; the stored entry is returned.
func (h *History) Append(ctx context.Context, e Entry) (Entry, error) {
	if h == nil {
		return e, errors.New("history not initialized")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Status == "" {
		e.Status = StatusSaved
	}
	_, err := h.insert.ExecContext(ctx, e.ID, e.SessionID, e.Status, e.RecordPath,
		e.WarpScale, e.RMS, e.Width, e.Height, e.Error, e.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return e, fmt.Errorf("failed to append history entry: %w", err)
	}
	return e, nil
}

// Recent returns up to limit entries, newest first.
func (h *History) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if h == nil {
		return nil, errors.New("history not initialized")
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := h.db.QueryContext(ctx, `SELECT id, session_id, status, record_path, warp_scale, rms, width, height, error_message, created_at
        FROM calibration_runs ORDER BY created_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var (
			e                  Entry
			recordPath, errMsg sql.NullString
			warpScale, rms     sql.NullFloat64
			width, height      sql.NullInt64
			created            string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Status, &recordPath, &warpScale, &rms, &width, &height, &errMsg, &created); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.RecordPath = recordPath.String
		e.Error = errMsg.String
		e.WarpScale = warpScale.Float64
		e.RMS = rms.Float64
		e.Width = int(width.Int64)
		e.Height = int(height.Int64)
		if e.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("invalid timestamp %q in history: %w", created, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the prepared statement and the database.
func (h *History) Close() error {
	if h == nil || h.db == nil {
		return nil
	}
	var err error
	if h.insert != nil {
		err = multierr.Append(err, h.insert.Close())
	}
	return multierr.Append(err, h.db.Close())
}
