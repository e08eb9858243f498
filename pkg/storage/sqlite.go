package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS query_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp   INTEGER NOT NULL,
	server      TEXT NOT NULL,
	query_name  TEXT NOT NULL,
	transport   TEXT NOT NULL DEFAULT '',
	duration_ms REAL NOT NULL DEFAULT 0,
	records     INTEGER NOT NULL DEFAULT 0,
	error_kind  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_query_log_timestamp ON query_log(timestamp);
`

// SQLite is the sqlite-backed query log.
type SQLite struct {
	db     *sql.DB
	insert *sql.Stmt
	mu     sync.RWMutex
	closed bool
}

// NewSQLite opens (and if needed creates) the query-log database at path.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	// SQLite works best with a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	insert, err := db.Prepare(`INSERT INTO query_log
		(timestamp, server, query_name, transport, duration_ms, records, error_kind)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to prepare insert: %w", err)
	}

	return &SQLite{db: db, insert: insert}, nil
}

func (s *SQLite) LogQuery(ctx context.Context, entry *QueryLog) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.insert.ExecContext(ctx,
		ts.UnixMilli(), entry.Server, entry.QueryName, entry.Transport,
		entry.DurationMs, entry.Records, entry.ErrorKind)
	if err != nil {
		return fmt.Errorf("failed to insert query log: %w", err)
	}
	return nil
}

func (s *SQLite) RecentQueries(ctx context.Context, limit, offset int) ([]*QueryLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `SELECT
		id, timestamp, server, query_name, transport, duration_ms, records, error_kind
		FROM query_log ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent entries: %w", err)
	}
	defer rows.Close()

	var out []*QueryLog
	for rows.Next() {
		var entry QueryLog
		var ts int64
		if err := rows.Scan(&entry.ID, &ts, &entry.Server, &entry.QueryName,
			&entry.Transport, &entry.DurationMs, &entry.Records, &entry.ErrorKind); err != nil {
			return nil, fmt.Errorf("failed to scan query log row: %w", err)
		}
		entry.Timestamp = time.UnixMilli(ts)
		out = append(out, &entry)
	}
	return out, rows.Err()
}

func (s *SQLite) Cleanup(ctx context.Context, olderThan time.Time) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM query_log WHERE timestamp < ?`, olderThan.UnixMilli()); err != nil {
		return fmt.Errorf("failed to clean up query log: %w", err)
	}
	return nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.insert.Close()
	return s.db.Close()
}
