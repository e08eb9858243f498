// Package storage persists the query log: one row per completed TXT query.
package storage

import (
	"context"
	"errors"
	"time"

	"dnschat/pkg/config"
)

// DefaultLogTimeout bounds one log write.
const DefaultLogTimeout = 5 * time.Second

var (
	// ErrInvalidBackend is returned for unknown backend names.
	ErrInvalidBackend = errors.New("invalid storage backend")
	// ErrConnectionFailed is returned when the database cannot be opened.
	ErrConnectionFailed = errors.New("storage connection failed")
	// ErrClosed is returned on use after Close.
	ErrClosed = errors.New("storage is closed")
)

// QueryLog is one completed query, successful or not.
type QueryLog struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Server     string    `json:"server"`
	QueryName  string    `json:"query_name"`
	Transport  string    `json:"transport,omitempty"`
	DurationMs float64   `json:"duration_ms"`
	Records    int       `json:"records"`
	ErrorKind  string    `json:"error_kind,omitempty"`
}

// Storage is the query-log backend. Implementations must tolerate concurrent
// use.
type Storage interface {
	LogQuery(ctx context.Context, entry *QueryLog) error
	RecentQueries(ctx context.Context, limit, offset int) ([]*QueryLog, error)
	Cleanup(ctx context.Context, olderThan time.Time) error
	Ping(ctx context.Context) error
	Close() error
}

// New builds a storage backend from configuration.
func New(cfg *config.StorageConfig) (Storage, error) {
	switch cfg.Backend {
	case "sqlite":
		return NewSQLite(cfg.DatabasePath)
	case "", "none":
		return NoOp{}, nil
	default:
		return nil, ErrInvalidBackend
	}
}

// NoOp discards everything; used when query logging is disabled.
type NoOp struct{}

func (NoOp) LogQuery(context.Context, *QueryLog) error { return nil }

func (NoOp) RecentQueries(context.Context, int, int) ([]*QueryLog, error) { return nil, nil }

func (NoOp) Cleanup(context.Context, time.Time) error { return nil }

func (NoOp) Ping(context.Context) error { return nil }

func (NoOp) Close() error { return nil }
