// Package jobs runs export jobs and backups in the background. Records are
// created pending, picked up by a bounded worker pool, and moved through
// their status lifecycle with compare-and-set updates so that a concurrent
// cancel always wins over a finishing worker.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gammazero/workerpool"

	"github.com/kitbay/kitbay/internal/service"
	"github.com/kitbay/kitbay/internal/storage"
	"github.com/kitbay/kitbay/internal/store"
)

var (
	// ErrInvalidTransition is returned when a job cannot move to the
	// requested status from the one it is in.
	ErrInvalidTransition = errors.New("invalid job status transition")
	// ErrNotReady is returned when a job's artifact is not (or no longer)
	// available for download or restore.
	ErrNotReady = errors.New("job artifact not available")
	// ErrChecksumMismatch is returned when a stored backup fails
	// verification.
	ErrChecksumMismatch = errors.New("backup checksum mismatch")
	// ErrClosed is returned by submissions after Close.
	ErrClosed = errors.New("job runner closed")

	errCancelled = errors.New("cancelled by request")
	errShutdown  = errors.New("interrupted by shutdown")
)

// Defaults for Config.
const (
	DefaultWorkers   = 2
	DefaultRetention = 24 * time.Hour
)

// Config tunes the runner.
type Config struct {
	Workers int `mapstructure:"workers" yaml:"workers"`
	// Retention is how long export artifacts are kept.
	Retention time.Duration `mapstructure:"retention" yaml:"retention"`
	// BackupRetention is how long backup snapshots are kept. Zero keeps
	// them until deleted.
	BackupRetention time.Duration `mapstructure:"backup_retention" yaml:"backup_retention"`
}

// Runner executes jobs on a worker pool.
type Runner struct {
	store   *store.Store
	exports *service.ExportService
	storage storage.Storage
	events  service.EventLogger
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time

	pool       *workerpool.WorkerPool
	base       context.Context
	stopAll    context.CancelCauseFunc
	sweeperWG  sync.WaitGroup
	sweeperEnd context.CancelFunc

	mu      sync.Mutex
	closed  bool
	cancels map[string]context.CancelCauseFunc
}

// New starts a runner. events may be nil.
func New(st *store.Store, exports *service.ExportService, stg storage.Storage, events service.EventLogger, cfg Config, logger *slog.Logger) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if logger == nil {
		logger = slog.Default()
	}
	base, stop := context.WithCancelCause(context.Background())
	return &Runner{
		store:   st,
		exports: exports,
		storage: stg,
		events:  events,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
		pool:    workerpool.New(cfg.Workers),
		base:    base,
		stopAll: stop,
		cancels: make(map[string]context.CancelCauseFunc),
	}
}

// InterruptedReason is recorded on jobs found unfinished at startup.
const InterruptedReason = "interrupted"

// RecoverInterrupted fails the jobs a previous process left pending or
// running. Call it once at server startup, before any submission; a
// one-shot runner sharing the catalog with a live server must not.
func (r *Runner) RecoverInterrupted(ctx context.Context) (int64, error) {
	exports, backups, err := r.store.FailUnfinishedJobs(ctx, InterruptedReason)
	if err != nil {
		return 0, err
	}
	if n := exports + backups; n > 0 {
		r.logger.Warn("failed jobs interrupted by a previous shutdown", "exports", exports, "backups", backups)
	}
	return exports + backups, nil
}

// schedule registers a cancellable context for id and queues fn on the pool.
func (r *Runner) schedule(id string, fn func(ctx context.Context)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	ctx, cancel := context.WithCancelCause(r.base)
	r.cancels[id] = cancel
	r.pool.Submit(func() {
		defer r.release(id)
		fn(ctx)
	})
	return nil
}

func (r *Runner) release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.cancels[id]; ok {
		cancel(nil)
		delete(r.cancels, id)
	}
}

// interrupt cancels the context of a queued or running job.
func (r *Runner) interrupt(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.cancels[id]; ok {
		cancel(errCancelled)
	}
}

// Active returns the number of jobs queued or running.
func (r *Runner) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cancels)
}

// StartSweeper removes expired artifacts every interval until Close.
func (r *Runner) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(r.base)
	r.mu.Lock()
	r.sweeperEnd = cancel
	r.mu.Unlock()

	r.sweeperWG.Add(1)
	go func() {
		defer r.sweeperWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := r.Sweep(ctx, r.now()); err != nil {
					r.logger.Warn("artifact sweep failed", "error", err)
				} else if n > 0 {
					r.logger.Info("expired artifacts removed", "count", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close stops accepting jobs and waits for queued ones to finish. If ctx
// ends first, running jobs are interrupted and marked failed.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	if r.sweeperEnd != nil {
		r.sweeperEnd()
	}
	r.mu.Unlock()
	r.sweeperWG.Wait()

	done := make(chan struct{})
	go func() {
		r.pool.StopWait()
		close(done)
	}()

	select {
	case <-done:
		r.stopAll(nil)
		return nil
	case <-ctx.Done():
		r.stopAll(errShutdown)
		<-done
		return ctx.Err()
	}
}

// principal rebuilds the identity a job runs as from its owner's record.
func (r *Runner) principal(ctx context.Context, ownerID string) (*service.Principal, error) {
	u, err := r.store.GetUser(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return &service.Principal{UserID: u.ID, Email: u.Email, Role: u.Role}, nil
}

// Sweep deletes artifacts and snapshots that expired before now and clears
// the references to them. It returns how many objects were removed.
func (r *Runner) Sweep(ctx context.Context, now time.Time) (int, error) {
	removed := 0

	jobs, err := r.store.ExpiredExportJobs(ctx, now)
	if err != nil {
		return removed, err
	}
	for _, j := range jobs {
		if err := r.deleteObject(ctx, j.ArtifactKey); err != nil {
			r.logger.Warn("delete expired artifact", "job_id", j.ID, "key", j.ArtifactKey, "error", err)
			continue
		}
		if err := r.store.ClearExportArtifact(ctx, j.ID); err != nil {
			return removed, err
		}
		removed++
	}

	backups, err := r.store.ExpiredBackups(ctx, now)
	if err != nil {
		return removed, err
	}
	for _, b := range backups {
		if err := r.deleteObject(ctx, b.StorageKey); err != nil {
			r.logger.Warn("delete expired backup", "backup_id", b.ID, "key", b.StorageKey, "error", err)
			continue
		}
		if err := r.store.ClearBackupStorage(ctx, b.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (r *Runner) deleteObject(ctx context.Context, key string) error {
	if err := r.storage.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}

// failureCause maps a job context's cancellation cause to an error message.
func failureCause(ctx context.Context) error {
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return ctx.Err()
}
