package resolver

import (
	"context"
	"sync"
	"sync/atomic"

	"dnschat/pkg/logging"
	"dnschat/pkg/storage"
)

// QueryLogger writes completed queries to storage through a small worker
// pool, so the query path never blocks on the database.
type QueryLogger struct {
	logCh     chan *storage.QueryLog
	ctx       context.Context
	cancel    context.CancelFunc
	storage   storage.Storage
	logger    *logging.Logger
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closeOnce sync.Once
}

// NewQueryLogger starts the logger's worker pool.
func NewQueryLogger(stor storage.Storage, logger *logging.Logger, bufferSize, workers int) *QueryLogger {
	ctx, cancel := context.WithCancel(context.Background())
	ql := &QueryLogger{
		logCh:   make(chan *storage.QueryLog, bufferSize),
		ctx:     ctx,
		cancel:  cancel,
		storage: stor,
		logger:  logger,
	}
	for i := 0; i < workers; i++ {
		ql.wg.Add(1)
		go ql.worker()
	}
	logger.Info("Query logger started", "workers", workers, "buffer_size", bufferSize)
	return ql
}

// Log enqueues one entry. Entries are dropped, not blocked on, when the
// buffer is full.
func (ql *QueryLogger) Log(entry *storage.QueryLog) {
	select {
	case ql.logCh <- entry:
	default:
		ql.dropped.Add(1)
	}
}

// Dropped reports how many entries were discarded due to a full buffer.
func (ql *QueryLogger) Dropped() uint64 {
	return ql.dropped.Load()
}

func (ql *QueryLogger) worker() {
	defer ql.wg.Done()
	for {
		select {
		case <-ql.ctx.Done():
			ql.drain()
			return
		case entry, ok := <-ql.logCh:
			if !ok {
				return
			}
			ql.write(entry)
		}
	}
}

func (ql *QueryLogger) write(entry *storage.QueryLog) {
	ctx, cancel := context.WithTimeout(context.Background(), storage.DefaultLogTimeout)
	defer cancel()
	if err := ql.storage.LogQuery(ctx, entry); err != nil {
		ql.logger.Error("Failed to log query",
			"query", entry.QueryName,
			"server", entry.Server,
			"error", err,
		)
	}
}

func (ql *QueryLogger) drain() {
	for {
		select {
		case entry := <-ql.logCh:
			ql.write(entry)
		default:
			return
		}
	}
}

// Close stops the workers after draining buffered entries. Idempotent.
func (ql *QueryLogger) Close() {
	ql.closeOnce.Do(func() {
		ql.cancel()
		ql.wg.Wait()
		if dropped := ql.dropped.Load(); dropped > 0 {
			ql.logger.Warn("Query logger dropped entries", "dropped", dropped)
		}
	})
}
