// Package analytics records audit events without ever failing the request
// that produced them. Writes run on a bounded worker pool; store errors are
// logged and swallowed, and a full queue drops the event.
package analytics

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/workerpool"

	"github.com/kitbay/kitbay/internal/model"
)

// Defaults for New.
const (
	DefaultWorkers   = 2
	DefaultQueueSize = 1024
	writeTimeout     = 5 * time.Second
)

// EventStore is the persistence the logger writes through.
type EventStore interface {
	InsertEvent(ctx context.Context, e *model.AnalyticsEvent) error
}

// Logger is a fire-and-forget analytics writer.
type Logger struct {
	store     EventStore
	pool      *workerpool.WorkerPool
	logger    *slog.Logger
	queueSize int64

	pending atomic.Int64
	dropped atomic.Int64
	written atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// New starts a logger with the given number of workers and queue bound.
// Non-positive values take the defaults.
func New(store EventStore, workers, queueSize int, logger *slog.Logger) *Logger {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		store:     store,
		pool:      workerpool.New(workers),
		logger:    logger,
		queueSize: int64(queueSize),
	}
}

// Log enqueues e and returns immediately. The write is detached from ctx's
// cancellation so a finished request does not abort it.
func (l *Logger) Log(ctx context.Context, e model.AnalyticsEvent) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.dropped.Add(1)
		l.logger.Debug("analytics logger closed, event dropped", "event_type", e.EventType)
		return
	}
	if l.pending.Add(1) > l.queueSize {
		l.pending.Add(-1)
		l.dropped.Add(1)
		l.logger.Debug("analytics queue full, event dropped", "event_type", e.EventType)
		return
	}

	base := context.WithoutCancel(ctx)
	l.pool.Submit(func() {
		defer l.pending.Add(-1)
		wctx, cancel := context.WithTimeout(base, writeTimeout)
		defer cancel()
		if err := l.store.InsertEvent(wctx, &e); err != nil {
			l.logger.Warn("analytics write failed", "event_type", e.EventType, "error", err)
			return
		}
		l.written.Add(1)
	})
}

// Close stops accepting events and waits for queued writes to finish.
func (l *Logger) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()
	l.pool.StopWait()
}

// Stats reports how many events were written and dropped so far.
func (l *Logger) Stats() (written, dropped int64) {
	return l.written.Load(), l.dropped.Load()
}
