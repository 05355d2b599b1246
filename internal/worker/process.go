package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"scribe/internal/broadcast"
	"scribe/internal/engine"
	"scribe/internal/jobs"
	"scribe/internal/logging"
	"scribe/internal/services"
)

var claimableStatuses = []jobs.Status{jobs.StatusQueued, jobs.StatusProcessing}

func (p *Pool) processClaim(ctx context.Context, logger *slog.Logger, workerID string, job *jobs.Job, entry *jobs.QueueEntry) error {
	logger = logger.With(logging.Int64(logging.FieldJobID, job.ID))

	if max := p.store.MaxAttempts(); max > 0 && entry.Attempts > max {
		return p.failJob(ctx, logger, workerID, job,
			services.Wrap(services.ErrTransient, "worker", "claim",
				fmt.Sprintf("delivery attempts exhausted after %d tries", entry.Attempts-1), nil))
	}

	// Redelivered jobs may already be in processing from a dead worker.
	updated, err := p.store.Transition(ctx, job.ID, claimableStatuses, jobs.StatusProcessing, "transcribing", job.ProgressPercent)
	if err != nil {
		if errors.Is(err, services.ErrStaleTransition) {
			// Someone else drove this job to a terminal state while the
			// entry lingered. Drop the delivery.
			return p.dropDelivery(ctx, logger, workerID, job.ID)
		}
		return err
	}
	job = updated
	p.publish(job)
	logger.Info("job claimed",
		logging.Int("attempt", entry.Attempts),
		logging.String("source", job.SourceFile))

	result, runErr := p.runEngine(ctx, logger, workerID, job)

	switch {
	case runErr == nil:
		return p.completeJob(ctx, logger, workerID, job, result)
	case ctx.Err() != nil:
		// Daemon shutdown: release the claim so another run picks it up.
		// Nack with a fresh context since ours is already canceled.
		nackCtx, nackCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer nackCancel()
		if nackErr := p.store.Nack(nackCtx, workerID, job.ID); nackErr != nil {
			logger.Warn("release claim on shutdown", logging.Error(nackErr))
		}
		return context.Canceled
	case errors.Is(runErr, errLeaseLost):
		// The entry is claimable (or claimed) by someone else already;
		// nothing here is safe to touch.
		logger.Warn("lease lost mid-run, abandoning delivery")
		return nil
	case errors.Is(runErr, services.ErrTransient):
		if nackErr := p.store.Nack(ctx, workerID, job.ID); nackErr != nil {
			logger.Warn("nack after transient failure", logging.Error(nackErr))
		}
		return nil
	default:
		return p.failJob(ctx, logger, workerID, job, runErr)
	}
}

var errLeaseLost = errors.New("lease lost")

// runEngine invokes the transcriber under the processing deadline while a
// heartbeat goroutine keeps the queue lease alive.
func (p *Pool) runEngine(ctx context.Context, logger *slog.Logger, workerID string, job *jobs.Job) (*engine.Result, error) {
	timeout := time.Duration(p.cfg.Worker.ProcessingTimeout) * time.Second
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	var leaseLost atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.heartbeat(runCtx, logger, workerID, job.ID, &leaseLost, cancel)
	}()

	outputDir := filepath.Join(p.cfg.TranscriptDir(), fmt.Sprintf("job-%d", job.ID))
	progress := func(percent float64, message string) {
		if err := p.store.SetProgress(ctx, job.ID, percent, message); err != nil {
			logger.Warn("record progress", logging.Error(err))
			return
		}
		p.hub.Publish(jobEvent(job.ID, jobs.StatusProcessing, percent, message))
	}

	result, err := p.engine.Transcribe(runCtx, engine.Request{
		SourcePath: job.SourceFile,
		OutputDir:  outputDir,
		Model:      job.Model,
		Language:   job.Language,
	}, progress)

	cancel()
	wg.Wait()

	if leaseLost.Load() {
		return nil, errLeaseLost
	}
	return result, err
}

func (p *Pool) heartbeat(ctx context.Context, logger *slog.Logger, workerID string, jobID int64, leaseLost *atomic.Bool, cancel context.CancelFunc) {
	interval := time.Duration(p.cfg.Worker.HeartbeatInterval) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			held, err := p.store.ExtendLease(ctx, workerID, jobID, p.leaseDuration)
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("extend lease", logging.Error(err))
				}
				continue
			}
			if !held {
				leaseLost.Store(true)
				cancel()
				return
			}
		}
	}
}

func (p *Pool) completeJob(ctx context.Context, logger *slog.Logger, workerID string, job *jobs.Job, result *engine.Result) error {
	srtPath := result.SRTPath
	text := result.Text

	if p.cfg.Worker.EnrichmentEnabled {
		enriched, err := p.store.Transition(ctx, job.ID, jobs.ActiveStatuses, jobs.StatusEnriching, "enriching transcript", 95)
		if err != nil {
			if errors.Is(err, services.ErrStaleTransition) {
				return p.dropDelivery(ctx, logger, workerID, job.ID)
			}
			return err
		}
		p.publish(enriched)

		text = engine.FlattenText(result.Segments)
		if srtPath == "" && len(result.Segments) > 0 {
			path := filepath.Join(p.cfg.TranscriptDir(), fmt.Sprintf("job-%d", job.ID), "transcript.srt")
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				logger.Warn("create transcript directory", logging.Error(err))
			} else if err := os.WriteFile(path, []byte(FormatSRT(result.Segments)), 0o644); err != nil {
				logger.Warn("write srt", logging.Error(err))
			} else {
				srtPath = path
			}
		}
	}

	done, err := p.store.Complete(ctx, job.ID, jobs.ActiveStatuses, text, result.SegmentsJSON, srtPath)
	if err != nil {
		if errors.Is(err, services.ErrStaleTransition) {
			return p.dropDelivery(ctx, logger, workerID, job.ID)
		}
		return err
	}
	p.publish(done)
	logger.Info("job completed",
		logging.Int("segments", len(result.Segments)),
		logging.String("srt", srtPath))

	if err := p.store.Ack(ctx, workerID, job.ID); err != nil {
		logger.Warn("ack completed job", logging.Error(err))
	}
	p.hub.CloseJob(job.ID)
	return nil
}

func (p *Pool) failJob(ctx context.Context, logger *slog.Logger, workerID string, job *jobs.Job, cause error) error {
	status := jobs.FailureStatus(cause)
	failed, err := p.store.Transition(ctx, job.ID, append(claimableStatuses, jobs.StatusEnriching), status, cause.Error(), 0)
	if err != nil {
		if errors.Is(err, services.ErrStaleTransition) {
			return p.dropDelivery(ctx, logger, workerID, job.ID)
		}
		return err
	}
	p.publish(failed)
	logger.Error("job failed",
		logging.String("status", string(status)),
		logging.Error(cause))

	if err := p.store.Ack(ctx, workerID, job.ID); err != nil {
		logger.Warn("ack failed job", logging.Error(err))
	}
	p.hub.CloseJob(job.ID)
	return nil
}

// dropDelivery acknowledges a delivery for a job whose state moved under us.
func (p *Pool) dropDelivery(ctx context.Context, logger *slog.Logger, workerID string, jobID int64) error {
	if err := p.store.Ack(ctx, workerID, jobID); err != nil {
		logger.Warn("ack superseded delivery", logging.Error(err))
	}
	p.hub.CloseJob(jobID)
	return nil
}

func jobEvent(jobID int64, status jobs.Status, progress float64, message string) broadcast.Event {
	return broadcast.Event{
		JobID:    jobID,
		Status:   string(status),
		Progress: progress,
		Message:  message,
	}
}
