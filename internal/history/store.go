// Package history persists one record per compile cycle in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/tsbuild/internal/events"
)

// Record is one finished compile cycle.
type Record struct {
	ID        string
	Mode      string
	StartedAt time.Time
	Duration  time.Duration
	Outcome   string
	Error     string
	// Revision is the git HEAD at session start, if any.
	Revision string
	Phases   map[string]time.Duration
}

// FromEvent converts a CycleFinished event.
func FromEvent(e events.CycleFinished, revision string) Record {
	r := Record{
		ID:        e.ID,
		Mode:      e.Mode,
		StartedAt: e.StartedAt,
		Duration:  e.Duration,
		Outcome:   e.Outcome(),
		Revision:  revision,
		Phases:    e.Phases,
	}
	if e.Err != nil {
		r.Error = e.Err.Error()
	}
	return r
}

// Summary aggregates the stored cycles.
type Summary struct {
	Total        int
	Succeeded    int
	Failed       int
	MeanDuration time.Duration
	LastFailure  *Record
}

// Store defines the interface for persisting and reading cycle records.
type Store interface {
	Append(ctx context.Context, r Record) error
	Get(ctx context.Context, id string) (Record, error)
	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)
	Summary(ctx context.Context) (Summary, error)
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens or creates the database. Use ":memory:" for an
// in-memory store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrOpenFailed, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}
	// One connection keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %w", ErrSchemaFailed, err)
	}
	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cycles (
		id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		duration_ns INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		error TEXT,
		revision TEXT,
		phases TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_started_at ON cycles(started_at);
	CREATE INDEX IF NOT EXISTS idx_outcome ON cycles(outcome);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append stores r. A record with an existing id replaces it.
func (s *SQLiteStore) Append(ctx context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	phases, err := encodePhases(r.Phases)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAppendFailed, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cycles (id, mode, started_at, duration_ns, outcome, error, revision, phases)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Mode, r.StartedAt.UnixNano(), int64(r.Duration), r.Outcome, r.Error, r.Revision, phases,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAppendFailed, err)
	}
	return nil
}

const selectColumns = "SELECT id, mode, started_at, duration_ns, outcome, error, revision, phases FROM cycles"

func (s *SQLiteStore) Get(ctx context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, selectColumns+" WHERE id = ?", id)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return Record{}, err
	}
	if len(records) == 0 {
		return Record{}, ErrNotFound
	}
	return records[0], nil
}

func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+" ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *SQLiteStore) Summary(ctx context.Context) (Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum Summary
	var mean sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN outcome = 'success' THEN 1 ELSE 0 END), 0),
		       AVG(duration_ns)
		FROM cycles`).Scan(&sum.Total, &sum.Succeeded, &mean)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	sum.Failed = sum.Total - sum.Succeeded
	if mean.Valid {
		sum.MeanDuration = time.Duration(mean.Float64)
	}

	rows, err := s.db.QueryContext(ctx, selectColumns+" WHERE outcome != 'success' ORDER BY started_at DESC LIMIT 1")
	if err != nil {
		return Summary{}, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	defer rows.Close()
	failures, err := scanRecords(rows)
	if err != nil {
		return Summary{}, err
	}
	if len(failures) > 0 {
		sum.LastFailure = &failures[0]
	}
	return sum, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var (
			r                 Record
			started, duration int64
			errText, revision sql.NullString
			phases            sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Mode, &started, &duration, &r.Outcome, &errText, &revision, &phases); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
		}
		r.StartedAt = time.Unix(0, started)
		r.Duration = time.Duration(duration)
		r.Error = errText.String
		r.Revision = revision.String
		if phases.Valid && phases.String != "" {
			decoded, err := decodePhases(phases.String)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
			}
			r.Phases = decoded
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	return out, nil
}

// Phases are stored as milliseconds keyed by phase name.
func encodePhases(p map[string]time.Duration) (string, error) {
	if len(p) == 0 {
		return "", nil
	}
	ms := make(map[string]float64, len(p))
	for k, v := range p {
		ms[k] = float64(v.Microseconds()) / 1000
	}
	data, err := json.Marshal(ms)
	return string(data), err
}

func decodePhases(raw string) (map[string]time.Duration, error) {
	var ms map[string]float64
	if err := json.Unmarshal([]byte(raw), &ms); err != nil {
		return nil, err
	}
	out := make(map[string]time.Duration, len(ms))
	for k, v := range ms {
		out[k] = time.Duration(v * float64(time.Millisecond))
	}
	return out, nil
}

// IsNotFound reports whether err is ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
