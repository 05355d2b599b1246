package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"scribe/internal/broadcast"
	"scribe/internal/config"
	"scribe/internal/jobs"
	"scribe/internal/logging"
	"scribe/internal/upload"
	"scribe/internal/worker"
)

// Daemon coordinates the worker pool and the HTTP API, and enforces
// single-instance execution via a lock file.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *jobs.Store
	pool    *worker.Pool
	uploads *upload.Manager
	hub     *broadcast.Hub

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status reports daemon runtime information.
type Status struct {
	Running      bool               `json:"running"`
	Queue        jobs.HealthSummary `json:"queue"`
	DatabasePath string             `json:"database_path"`
	LockFilePath string             `json:"lock_file_path"`
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *jobs.Store, pool *worker.Pool, uploads *upload.Manager, hub *broadcast.Hub, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || pool == nil || uploads == nil || hub == nil {
		return nil, errors.New("daemon requires config, store, pool, uploads, and hub")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "scribed.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logger.With(logging.String(logging.FieldComponent, "daemon")),
		store:    store,
		pool:     pool,
		uploads:  uploads,
		hub:      hub,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the instance lock and launches workers and the API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another scribed instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.pool.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		d.cancel = nil
		return fmt.Errorf("start worker pool: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		d.pool.Stop()
		cancel()
		_ = d.lock.Unlock()
		d.cancel = nil
		return err
	}

	d.running.Store(true)
	d.logger.Info("scribed started", logging.String("lock", d.lockPath))
	return nil
}

// Stop shuts down the API, drains the worker pool, and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.pool.Stop()
	d.hub.Close()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("scribed stopped")
}

// Close stops the daemon and closes the store.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// Addr returns the bound API address, empty before Start.
func (d *Daemon) Addr() string {
	return d.api.addr()
}

// Status returns current daemon diagnostics.
func (d *Daemon) Status(ctx context.Context) Status {
	health, err := d.store.Health(ctx)
	if err != nil {
		d.logger.Warn("queue health", logging.Error(err))
	}
	return Status{
		Running:      d.running.Load(),
		Queue:        health,
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
	}
}
