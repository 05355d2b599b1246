package jobs_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"scribe/internal/jobs"
	"scribe/internal/services"
	"scribe/internal/testsupport"
)

func TestNewJobStartsQueued(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job, err := store.NewJob(ctx, jobs.NewJobParams{
		SourceFile: "/tmp/meeting.wav",
		Filename:   "meeting.wav",
		Model:      "small",
		Language:   "en",
	})
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}
	if job.ID == 0 {
		t.Fatal("expected job ID to be assigned")
	}
	if job.Status != jobs.StatusQueued {
		t.Fatalf("expected queued status, got %s", job.Status)
	}

	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched.Filename != "meeting.wav" || fetched.Model != "small" {
		t.Fatalf("unexpected fetched job: %#v", fetched)
	}

	entry, err := store.Entry(ctx, job.ID)
	if err != nil {
		t.Fatalf("Entry failed: %v", err)
	}
	if entry == nil || entry.Attempts != 0 {
		t.Fatalf("expected fresh queue entry, got %#v", entry)
	}
}

func TestGetByIDUnknownJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	_, err := store.GetByID(context.Background(), 9999)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestTransitionCompareAndSet(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "talk.mp3")

	updated, err := store.Transition(ctx, job.ID, []jobs.Status{jobs.StatusQueued}, jobs.StatusProcessing, "transcribing", 0)
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if updated.Status != jobs.StatusProcessing {
		t.Fatalf("expected processing, got %s", updated.Status)
	}
	if updated.StartedAt == nil {
		t.Fatal("expected started_at to be stamped on processing")
	}

	// A second actor expecting queued must lose.
	_, err = store.Transition(ctx, job.ID, []jobs.Status{jobs.StatusQueued}, jobs.StatusProcessing, "transcribing", 0)
	if !errors.Is(err, services.ErrStaleTransition) {
		t.Fatalf("expected stale transition, got %v", err)
	}
}

func TestTransitionToFailureRecordsError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "broken.flac")

	if _, err := store.Transition(ctx, job.ID, []jobs.Status{jobs.StatusQueued}, jobs.StatusProcessing, "transcribing", 0); err != nil {
		t.Fatalf("Transition to processing failed: %v", err)
	}
	failed, err := store.Transition(ctx, job.ID, jobs.ActiveStatuses, jobs.StatusFailedEngine, "engine exited with status 1", 0)
	if err != nil {
		t.Fatalf("Transition to failure failed: %v", err)
	}
	if failed.ErrorMessage == "" {
		t.Fatal("expected error message on failure transition")
	}
	if !failed.IsTerminal() {
		t.Fatalf("expected terminal status, got %s", failed.Status)
	}
}

func TestSetProgressOnlyWhileActive(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "lecture.m4a")

	// Progress on a queued job is silently ignored.
	if err := store.SetProgress(ctx, job.ID, 50, "halfway"); err != nil {
		t.Fatalf("SetProgress failed: %v", err)
	}
	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched.ProgressPercent != 0 {
		t.Fatalf("expected progress untouched on queued job, got %v", fetched.ProgressPercent)
	}

	if _, err := store.Transition(ctx, job.ID, []jobs.Status{jobs.StatusQueued}, jobs.StatusProcessing, "transcribing", 0); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if err := store.SetProgress(ctx, job.ID, 40, "transcribing"); err != nil {
		t.Fatalf("SetProgress failed: %v", err)
	}
	// Regressions are dropped so late engine output never rolls progress back.
	if err := store.SetProgress(ctx, job.ID, 25, "stale update"); err != nil {
		t.Fatalf("SetProgress failed: %v", err)
	}
	fetched, err = store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched.ProgressPercent != 40 {
		t.Fatalf("expected progress 40, got %v", fetched.ProgressPercent)
	}
	if fetched.ProgressMessage != "transcribing" {
		t.Fatalf("expected message preserved, got %q", fetched.ProgressMessage)
	}
}

func TestCompleteClearsErrorAndStoresTranscript(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "standup.ogg")

	if _, err := store.Transition(ctx, job.ID, []jobs.Status{jobs.StatusQueued}, jobs.StatusProcessing, "transcribing", 0); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	done, err := store.Complete(ctx, job.ID, jobs.ActiveStatuses, "hello world", `[{"start":0,"end":1.5,"text":"hello world"}]`, "/tmp/standup.srt")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if done.Status != jobs.StatusCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}
	if done.ProgressPercent != 100 {
		t.Fatalf("expected progress 100, got %v", done.ProgressPercent)
	}
	if done.TranscriptText != "hello world" || done.SRTPath != "/tmp/standup.srt" {
		t.Fatalf("unexpected completion fields: %#v", done)
	}
}

func TestListFiltersByStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	first := testsupport.NewJob(t, store, "a.wav")
	second := testsupport.NewJob(t, store, "b.wav")

	if _, err := store.Transition(ctx, second.ID, []jobs.Status{jobs.StatusQueued}, jobs.StatusProcessing, "transcribing", 0); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}

	queued, err := store.List(ctx, jobs.StatusQueued)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(queued) != 1 || queued[0].ID != first.ID {
		t.Fatalf("expected only first job queued, got %#v", queued)
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected two jobs, got %d", len(all))
	}
}

func TestSessionLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	session := &jobs.Session{
		ID:          "sess-1",
		Filename:    "interview.wav",
		TotalSize:   3_500_000,
		ChunkSize:   1_000_000,
		TotalChunks: 4,
		Model:       "small",
		PartPath:    "/tmp/sess-1.part",
	}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	fetched, err := store.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if fetched.TotalChunks != 4 || fetched.Filename != "interview.wav" {
		t.Fatalf("unexpected session: %#v", fetched)
	}

	for index := 0; index < 3; index++ {
		if err := store.RecordChunk(ctx, "sess-1", index, 1_000_000); err != nil {
			t.Fatalf("RecordChunk failed: %v", err)
		}
	}
	// Re-recording an index must not double count.
	if err := store.RecordChunk(ctx, "sess-1", 1, 1_000_000); err != nil {
		t.Fatalf("RecordChunk rewrite failed: %v", err)
	}
	count, err := store.ReceivedChunks(ctx, "sess-1")
	if err != nil {
		t.Fatalf("ReceivedChunks failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 chunks, got %d", count)
	}

	if err := store.RecordChunk(ctx, "sess-1", 3, 500_000); err != nil {
		t.Fatalf("RecordChunk failed: %v", err)
	}

	consumed, ok, err := store.ConsumeSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("ConsumeSession failed: %v", err)
	}
	if !ok || consumed == nil || consumed.ID != "sess-1" {
		t.Fatalf("expected to win session claim, got ok=%v session=%#v", ok, consumed)
	}

	// The loser of a finalize race observes ok=false, not an error.
	_, ok, err = store.ConsumeSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("second ConsumeSession failed: %v", err)
	}
	if ok {
		t.Fatal("expected second consume to lose")
	}

	if _, err := store.GetSession(ctx, "sess-1"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected consumed session to be gone, got %v", err)
	}
}

func TestExpiredSessions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	stale := &jobs.Session{ID: "stale", Filename: "old.wav", TotalSize: 10, ChunkSize: 10, TotalChunks: 1, PartPath: "/tmp/stale.part"}
	fresh := &jobs.Session{ID: "fresh", Filename: "new.wav", TotalSize: 10, ChunkSize: 10, TotalChunks: 1, PartPath: "/tmp/fresh.part"}
	if err := store.CreateSession(ctx, stale); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if err := store.CreateSession(ctx, fresh); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	// Everything is expired against a future cutoff, nothing against a past one.
	expired, err := store.ExpiredSessions(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ExpiredSessions failed: %v", err)
	}
	if len(expired) != 2 {
		t.Fatalf("expected both sessions expired, got %d", len(expired))
	}
	expired, err = store.ExpiredSessions(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ExpiredSessions failed: %v", err)
	}
	if len(expired) != 0 {
		t.Fatalf("expected no expired sessions, got %d", len(expired))
	}

	if err := store.DeleteSession(ctx, "stale"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if _, err := store.GetSession(ctx, "stale"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected deleted session to be gone, got %v", err)
	}
}

func TestHealthSummary(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.NewJob(t, store, "one.wav")
	second := testsupport.NewJob(t, store, "two.wav")
	third := testsupport.NewJob(t, store, "three.wav")

	if _, err := store.Transition(ctx, second.ID, []jobs.Status{jobs.StatusQueued}, jobs.StatusProcessing, "transcribing", 0); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if _, err := store.Transition(ctx, third.ID, []jobs.Status{jobs.StatusQueued}, jobs.StatusFailedEngine, "boom", 0); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	want := jobs.HealthSummary{Total: 3, Queued: 1, Processing: 1, Failed: 1}
	if health != want {
		t.Fatalf("unexpected health summary: %#v", health)
	}
}

func TestSweepTerminalRemovesOldJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	done := testsupport.NewJob(t, store, "done.wav")
	active := testsupport.NewJob(t, store, "active.wav")

	if _, err := store.Transition(ctx, done.ID, []jobs.Status{jobs.StatusQueued}, jobs.StatusProcessing, "transcribing", 0); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if _, err := store.Complete(ctx, done.ID, jobs.ActiveStatuses, "text", "[]", ""); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	swept, err := store.SweepTerminal(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("SweepTerminal failed: %v", err)
	}
	if len(swept) != 1 || swept[0].ID != done.ID {
		t.Fatalf("expected only completed job swept, got %#v", swept)
	}

	if _, err := store.GetByID(ctx, done.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected swept job gone, got %v", err)
	}
	if _, err := store.GetByID(ctx, active.ID); err != nil {
		t.Fatalf("expected active job kept: %v", err)
	}
}

func TestRetryFailedRequeues(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "retry.wav")

	if _, err := store.Transition(ctx, job.ID, []jobs.Status{jobs.StatusQueued}, jobs.StatusFailedEngine, "boom", 0); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if err := store.RemoveEntry(ctx, job.ID); err != nil {
		t.Fatalf("RemoveEntry failed: %v", err)
	}

	retried, err := store.RetryFailed(ctx, job.ID)
	if err != nil {
		t.Fatalf("RetryFailed failed: %v", err)
	}
	if retried.Status != jobs.StatusQueued {
		t.Fatalf("expected queued after retry, got %s", retried.Status)
	}

	entry, err := store.Entry(ctx, job.ID)
	if err != nil {
		t.Fatalf("Entry failed: %v", err)
	}
	if entry == nil || entry.Attempts != 0 {
		t.Fatalf("expected fresh attempt budget, got %#v", entry)
	}

	// Retrying a non-failed job must refuse.
	if _, err := store.RetryFailed(ctx, job.ID); !errors.Is(err, services.ErrStaleTransition) {
		t.Fatalf("expected stale transition, got %v", err)
	}
}

func TestOverdueProcessing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "slow.wav")

	if _, err := store.Transition(ctx, job.ID, []jobs.Status{jobs.StatusQueued}, jobs.StatusProcessing, "transcribing", 0); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}

	overdue, err := store.OverdueProcessing(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("OverdueProcessing failed: %v", err)
	}
	if len(overdue) != 0 {
		t.Fatalf("expected nothing overdue yet, got %d", len(overdue))
	}

	overdue, err = store.OverdueProcessing(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("OverdueProcessing failed: %v", err)
	}
	if len(overdue) != 1 || overdue[0].ID != job.ID {
		t.Fatalf("expected slow job overdue, got %#v", overdue)
	}
}
