package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"scribe/internal/jobs"
	"scribe/internal/logging"
	"scribe/internal/services"
)

// runWatchdog fails jobs whose processing started before the deadline and
// whose worker never finished. Lease-expiry reclaim handles crashed workers
// within a lease; the watchdog is the ceiling for wedged engines.
func (p *Pool) runWatchdog(ctx context.Context) {
	defer p.wg.Done()

	timeout := time.Duration(p.cfg.Worker.ProcessingTimeout) * time.Second
	if timeout <= 0 {
		return
	}
	interval := timeout / 10
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reapOverdue(ctx, timeout)
		}
	}
}

func (p *Pool) reapOverdue(ctx context.Context, timeout time.Duration) {
	cutoff := time.Now().Add(-timeout)
	overdue, err := p.store.OverdueProcessing(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("watchdog query failed", logging.Error(err))
		}
		return
	}

	for _, job := range overdue {
		failed, err := p.store.Transition(ctx, job.ID, jobs.ActiveStatuses, jobs.StatusFailedTimeout,
			"processing exceeded deadline", 0)
		if err != nil {
			if !errors.Is(err, services.ErrStaleTransition) {
				p.logger.Error("watchdog transition failed",
					logging.Int64(logging.FieldJobID, job.ID),
					logging.Error(err))
			}
			continue
		}
		if err := p.store.RemoveEntry(ctx, job.ID); err != nil {
			p.logger.Warn("watchdog remove queue entry",
				logging.Int64(logging.FieldJobID, job.ID),
				logging.Error(err))
		}
		p.publish(failed)
		p.hub.CloseJob(job.ID)
		p.logger.Warn("job timed out",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.Duration("timeout", timeout))
	}
}

// runRetentionSweep deletes terminal jobs past the retention window along
// with their source and transcript files.
func (p *Pool) runRetentionSweep(ctx context.Context) {
	defer p.wg.Done()

	retention := time.Duration(p.cfg.Retention.JobRetentionDays) * 24 * time.Hour
	interval := time.Duration(p.cfg.Retention.SweepInterval) * time.Second
	if retention <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweepOnce(ctx, retention)
		}
	}
}

func (p *Pool) sweepOnce(ctx context.Context, retention time.Duration) {
	if _, err := p.Sweep(ctx, retention); err != nil && ctx.Err() == nil {
		p.logger.Error("retention sweep failed", logging.Error(err))
	}
}

// Sweep deletes terminal jobs whose last update is older than the given
// window, along with their files, and reports how many were removed.
func (p *Pool) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	swept, err := p.store.SweepTerminal(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	for _, job := range swept {
		removeJobFiles(job)
	}
	if len(swept) > 0 {
		p.logger.Info("retention sweep removed jobs", logging.Int("count", len(swept)))
	}
	return len(swept), nil
}

func removeJobFiles(job *jobs.Job) {
	if job.SourceFile != "" {
		_ = os.Remove(job.SourceFile)
	}
	if job.SRTPath != "" {
		_ = os.RemoveAll(filepath.Dir(job.SRTPath))
	}
}

// runSessionExpiry removes abandoned upload sessions on the configured cadence.
func (p *Pool) runSessionExpiry(ctx context.Context) {
	defer p.wg.Done()
	if p.uploads == nil {
		return
	}

	timeout := time.Duration(p.cfg.Upload.SessionTimeout) * time.Second
	if timeout <= 0 {
		return
	}
	interval := timeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.uploads.ExpireSessions(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("session expiry failed", logging.Error(err))
			}
		}
	}
}
