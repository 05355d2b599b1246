package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"scribe/internal/broadcast"
	"scribe/internal/config"
	"scribe/internal/engine"
	"scribe/internal/jobs"
	"scribe/internal/logging"
	"scribe/internal/upload"
)

// Pool runs the worker goroutines that claim queued jobs and drive them to a
// terminal state, plus the maintenance loops (watchdog, retention sweep,
// upload session expiry).
type Pool struct {
	cfg     *config.Config
	store   *jobs.Store
	engine  engine.Transcriber
	hub     *broadcast.Hub
	uploads *upload.Manager
	logger  *slog.Logger

	pollInterval  time.Duration
	errorInterval time.Duration
	leaseDuration time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool wires a worker pool over the shared store and engine.
func NewPool(cfg *config.Config, store *jobs.Store, eng engine.Transcriber, hub *broadcast.Hub, uploads *upload.Manager, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pool{
		cfg:           cfg,
		store:         store,
		engine:        eng,
		hub:           hub,
		uploads:       uploads,
		logger:        logger.With(logging.String(logging.FieldComponent, "worker")),
		pollInterval:  time.Duration(cfg.Queue.PollInterval) * time.Second,
		errorInterval: time.Duration(cfg.Worker.ErrorRetryInterval) * time.Second,
		leaseDuration: time.Duration(cfg.Queue.LeaseDuration) * time.Second,
	}
}

// Start launches the worker goroutines and maintenance loops.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("worker pool already running")
	}

	count := p.cfg.Worker.Count
	if count <= 0 {
		count = 1
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	for i := 0; i < count; i++ {
		workerID := fmt.Sprintf("worker-%s", uuid.NewString()[:8])
		p.wg.Add(1)
		go p.runWorker(runCtx, workerID)
	}

	p.wg.Add(3)
	go p.runWatchdog(runCtx)
	go p.runRetentionSweep(runCtx)
	go p.runSessionExpiry(runCtx)

	p.logger.Info("worker pool started", logging.Int("workers", count))
	return nil
}

// Stop terminates the pool and waits for in-flight jobs to release.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) runWorker(ctx context.Context, workerID string) {
	defer p.wg.Done()
	logger := p.logger.With(logging.String(logging.FieldWorkerID, workerID))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, entry, err := p.store.Claim(ctx, workerID, p.leaseDuration)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("claim failed", logging.Error(err))
			p.sleep(ctx, p.errorInterval)
			continue
		}
		if job == nil {
			p.sleep(ctx, p.pollInterval)
			continue
		}

		if err := p.processClaim(ctx, logger, workerID, job, entry); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error("process claim failed",
				logging.Int64(logging.FieldJobID, job.ID),
				logging.Error(err))
			p.sleep(ctx, p.errorInterval)
		}
	}
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		d = time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (p *Pool) publish(job *jobs.Job) {
	if p.hub == nil || job == nil {
		return
	}
	p.hub.Publish(broadcast.Event{
		JobID:    job.ID,
		Status:   string(job.Status),
		Progress: job.ProgressPercent,
		Message:  job.ProgressMessage,
		Error:    job.ErrorMessage,
	})
}
