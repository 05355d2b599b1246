package worker_test

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"scribe/internal/broadcast"
	"scribe/internal/engine"
	"scribe/internal/jobs"
	"scribe/internal/services"
	"scribe/internal/testsupport"
	"scribe/internal/worker"
)

type fakeEngine struct {
	calls      atomic.Int64
	transcribe func(ctx context.Context, req engine.Request, progress engine.ProgressFunc) (*engine.Result, error)
}

func (f *fakeEngine) Transcribe(ctx context.Context, req engine.Request, progress engine.ProgressFunc) (*engine.Result, error) {
	f.calls.Add(1)
	return f.transcribe(ctx, req, progress)
}

func successResult() *engine.Result {
	segments := []engine.Segment{
		{Text: "Hello there.", Start: 0, End: 1.2},
		{Text: "General Kenobi.", Start: 1.4, End: 2.9},
	}
	json, _ := engine.MarshalSegments(segments)
	return &engine.Result{
		Text:         engine.FlattenText(segments),
		Segments:     segments,
		SegmentsJSON: json,
	}
}

func waitForTerminal(t *testing.T, store *jobs.Store, id int64) *jobs.Job {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("GetByID failed: %v", err)
		}
		if job.IsTerminal() {
			return job
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return nil
}

func TestPoolCompletesJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Worker.EnrichmentEnabled = false
	store := testsupport.MustOpenStore(t, cfg)
	hub := broadcast.NewHub(nil)
	defer hub.Close()

	eng := &fakeEngine{transcribe: func(ctx context.Context, req engine.Request, progress engine.ProgressFunc) (*engine.Result, error) {
		progress(50, "transcribing")
		return successResult(), nil
	}}

	job := testsupport.NewJob(t, store, "talk.wav")

	pool := worker.NewPool(cfg, store, eng, hub, nil, nil)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer pool.Stop()

	done := waitForTerminal(t, store, job.ID)
	if done.Status != jobs.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", done.Status, done.ErrorMessage)
	}
	if done.TranscriptText != "Hello there. General Kenobi." {
		t.Fatalf("unexpected transcript: %q", done.TranscriptText)
	}
	if done.ProgressPercent != 100 {
		t.Fatalf("expected progress 100, got %v", done.ProgressPercent)
	}

	entry, err := store.Entry(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Entry failed: %v", err)
	}
	if entry != nil {
		t.Fatalf("expected queue entry acked, got %#v", entry)
	}
}

func TestPoolEnrichesWhenEnabled(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Worker.EnrichmentEnabled = true
	store := testsupport.MustOpenStore(t, cfg)
	hub := broadcast.NewHub(nil)
	defer hub.Close()

	eng := &fakeEngine{transcribe: func(ctx context.Context, req engine.Request, progress engine.ProgressFunc) (*engine.Result, error) {
		return successResult(), nil
	}}

	job := testsupport.NewJob(t, store, "talk.wav")

	pool := worker.NewPool(cfg, store, eng, hub, nil, nil)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer pool.Stop()

	done := waitForTerminal(t, store, job.ID)
	if done.Status != jobs.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", done.Status, done.ErrorMessage)
	}
	if done.SRTPath == "" {
		t.Fatal("expected enrichment to generate an SRT file")
	}
}

func TestPoolMapsEngineFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	hub := broadcast.NewHub(nil)
	defer hub.Close()

	eng := &fakeEngine{transcribe: func(ctx context.Context, req engine.Request, progress engine.ProgressFunc) (*engine.Result, error) {
		return nil, services.Wrap(services.ErrEngine, "engine", "transcribe", "exit status 1", nil)
	}}

	job := testsupport.NewJob(t, store, "broken.wav")

	pool := worker.NewPool(cfg, store, eng, hub, nil, nil)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer pool.Stop()

	done := waitForTerminal(t, store, job.ID)
	if done.Status != jobs.StatusFailedEngine {
		t.Fatalf("expected failed_engine, got %s", done.Status)
	}
	if !strings.Contains(done.ErrorMessage, "exit status 1") {
		t.Fatalf("expected engine detail in error message, got %q", done.ErrorMessage)
	}

	entry, err := store.Entry(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Entry failed: %v", err)
	}
	if entry != nil {
		t.Fatal("expected terminal failure to ack the queue entry")
	}
}

func TestPoolMapsTimeout(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Worker.ProcessingTimeout = 1
	store := testsupport.MustOpenStore(t, cfg)
	hub := broadcast.NewHub(nil)
	defer hub.Close()

	eng := &fakeEngine{transcribe: func(ctx context.Context, req engine.Request, progress engine.ProgressFunc) (*engine.Result, error) {
		<-ctx.Done()
		return nil, services.Wrap(services.ErrTimeout, "engine", "transcribe", "run exceeded deadline", ctx.Err())
	}}

	job := testsupport.NewJob(t, store, "slow.wav")

	pool := worker.NewPool(cfg, store, eng, hub, nil, nil)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer pool.Stop()

	done := waitForTerminal(t, store, job.ID)
	if done.Status != jobs.StatusFailedTimeout {
		t.Fatalf("expected failed_timeout, got %s", done.Status)
	}
}

func TestPoolExhaustsTransientRetries(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxAttempts(2))
	store := testsupport.MustOpenStore(t, cfg)
	hub := broadcast.NewHub(nil)
	defer hub.Close()

	eng := &fakeEngine{transcribe: func(ctx context.Context, req engine.Request, progress engine.ProgressFunc) (*engine.Result, error) {
		return nil, services.Wrap(services.ErrTransient, "engine", "transcribe", "scratch disk unavailable", nil)
	}}

	job := testsupport.NewJob(t, store, "flaky.wav")

	pool := worker.NewPool(cfg, store, eng, hub, nil, nil)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer pool.Stop()

	done := waitForTerminal(t, store, job.ID)
	if done.Status != jobs.StatusFailedInternal {
		t.Fatalf("expected failed_internal after retry budget, got %s", done.Status)
	}
	if got := eng.calls.Load(); got != 2 {
		t.Fatalf("expected 2 engine attempts, got %d", got)
	}

	entry, err := store.Entry(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Entry failed: %v", err)
	}
	if entry != nil {
		t.Fatal("expected exhausted delivery to ack the queue entry")
	}
}

func TestPoolPublishesProgressEvents(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Worker.EnrichmentEnabled = false
	store := testsupport.MustOpenStore(t, cfg)
	hub := broadcast.NewHub(nil)
	defer hub.Close()

	release := make(chan struct{})
	eng := &fakeEngine{transcribe: func(ctx context.Context, req engine.Request, progress engine.ProgressFunc) (*engine.Result, error) {
		progress(42, "transcribing")
		<-release
		return successResult(), nil
	}}

	job := testsupport.NewJob(t, store, "live.wav")
	events, cancel := hub.Subscribe(job.ID)
	defer cancel()

	pool := worker.NewPool(cfg, store, eng, hub, nil, nil)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer pool.Stop()

	sawProgress := false
	timeout := time.After(15 * time.Second)
	for !sawProgress {
		select {
		case event, open := <-events:
			if !open {
				t.Fatal("event stream closed before progress arrived")
			}
			if event.Progress == 42 {
				sawProgress = true
			}
		case <-timeout:
			t.Fatal("no progress event received")
		}
	}
	close(release)

	done := waitForTerminal(t, store, job.ID)
	if done.Status != jobs.StatusCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}
}

func TestWatchdogFailsWedgedJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Worker.ProcessingTimeout = 1
	store := testsupport.MustOpenStore(t, cfg)
	hub := broadcast.NewHub(nil)
	defer hub.Close()

	// The engine ignores cancellation entirely, so the worker never returns
	// on its own and the watchdog has to fail the job from the outside.
	release := make(chan struct{})
	eng := &fakeEngine{transcribe: func(ctx context.Context, req engine.Request, progress engine.ProgressFunc) (*engine.Result, error) {
		<-release
		return nil, services.Wrap(services.ErrEngine, "engine", "transcribe", "killed", nil)
	}}

	job := testsupport.NewJob(t, store, "wedged.wav")

	pool := worker.NewPool(cfg, store, eng, hub, nil, nil)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer pool.Stop()
	defer close(release)

	done := waitForTerminal(t, store, job.ID)
	if done.Status != jobs.StatusFailedTimeout {
		t.Fatalf("expected failed_timeout, got %s (%s)", done.Status, done.ErrorMessage)
	}
	if !strings.Contains(done.ErrorMessage, "exceeded deadline") {
		t.Fatalf("unexpected error message %q", done.ErrorMessage)
	}

	entry, err := store.Entry(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Entry failed: %v", err)
	}
	if entry != nil {
		t.Fatalf("expected watchdog to remove the queue entry, got %#v", entry)
	}
}
