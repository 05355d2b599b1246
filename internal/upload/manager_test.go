package upload_test

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"testing"

	"scribe/internal/jobs"
	"scribe/internal/services"
	"scribe/internal/testsupport"
	"scribe/internal/upload"
)

func newManager(t *testing.T) (*upload.Manager, *jobs.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	return upload.NewManager(store, cfg, nil), store
}

func TestInitializeDerivesChunkCount(t *testing.T) {
	mgr, _ := newManager(t)

	session, err := mgr.Initialize(context.Background(), upload.InitRequest{
		Filename:  "interview.wav",
		TotalSize: 3_500_000,
		ChunkSize: 1_000_000,
	})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if session.TotalChunks != 4 {
		t.Fatalf("expected 4 chunks for 3.5MB/1MB, got %d", session.TotalChunks)
	}

	info, err := os.Stat(session.PartPath)
	if err != nil {
		t.Fatalf("stat part file: %v", err)
	}
	if info.Size() != 3_500_000 {
		t.Fatalf("expected preallocated part file of 3500000 bytes, got %d", info.Size())
	}
}

func TestInitializeValidation(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  upload.InitRequest
	}{
		{"missing filename", upload.InitRequest{TotalSize: 10, ChunkSize: 10}},
		{"zero size", upload.InitRequest{Filename: "a.wav", ChunkSize: 10}},
		{"zero chunk size", upload.InitRequest{Filename: "a.wav", TotalSize: 10}},
		{"chunk size overflows count", upload.InitRequest{Filename: "a.wav", TotalSize: 10, ChunkSize: math.MaxInt64}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := mgr.Initialize(ctx, tc.req); !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestInitializeRejectsOversizedFile(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxFileSize(1))
	store := testsupport.MustOpenStore(t, cfg)
	mgr := upload.NewManager(store, cfg, nil)

	_, err := mgr.Initialize(context.Background(), upload.InitRequest{
		Filename:  "huge.wav",
		TotalSize: 2 << 20,
		ChunkSize: 1 << 20,
	})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestWriteChunkPlacesBytesAtOffset(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()

	const total, chunk = 3_500_000, 1_000_000
	session, err := mgr.Initialize(ctx, upload.InitRequest{Filename: "interview.wav", TotalSize: total, ChunkSize: chunk})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	// Deliver out of order; each chunk carries offset-dependent bytes.
	for _, index := range []int{2, 0, 3, 1} {
		offset := int64(index) * chunk
		size := session.ExpectedChunkSize(index)
		received, err := mgr.WriteChunk(ctx, session.ID, index, testsupport.PatternBytes(offset, size))
		if err != nil {
			t.Fatalf("WriteChunk %d failed: %v", index, err)
		}
		if received == 0 {
			t.Fatalf("expected positive received count after chunk %d", index)
		}
	}

	got, err := os.ReadFile(session.PartPath)
	if err != nil {
		t.Fatalf("read part file: %v", err)
	}
	if !bytes.Equal(got, testsupport.PatternBytes(0, total)) {
		t.Fatal("reassembled bytes do not match original content")
	}
}

func TestWriteChunkRejectsBadIndexAndSize(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()

	session, err := mgr.Initialize(ctx, upload.InitRequest{Filename: "a.wav", TotalSize: 150, ChunkSize: 100})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if _, err := mgr.WriteChunk(ctx, session.ID, 2, make([]byte, 100)); !errors.Is(err, services.ErrOutOfRange) {
		t.Fatalf("expected out-of-range error, got %v", err)
	}
	if _, err := mgr.WriteChunk(ctx, session.ID, -1, make([]byte, 100)); !errors.Is(err, services.ErrOutOfRange) {
		t.Fatalf("expected out-of-range error, got %v", err)
	}
	if _, err := mgr.WriteChunk(ctx, session.ID, 0, make([]byte, 99)); !errors.Is(err, services.ErrSizeMismatch) {
		t.Fatalf("expected size mismatch, got %v", err)
	}
	// The final chunk must carry exactly the remainder.
	if _, err := mgr.WriteChunk(ctx, session.ID, 1, make([]byte, 100)); !errors.Is(err, services.ErrSizeMismatch) {
		t.Fatalf("expected size mismatch on long tail chunk, got %v", err)
	}
	if _, err := mgr.WriteChunk(ctx, session.ID, 1, make([]byte, 50)); err != nil {
		t.Fatalf("WriteChunk tail failed: %v", err)
	}
}

func TestWriteChunkRetryIsIdempotent(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()

	session, err := mgr.Initialize(ctx, upload.InitRequest{Filename: "a.wav", TotalSize: 200, ChunkSize: 100})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	body := testsupport.PatternBytes(0, 100)
	if _, err := mgr.WriteChunk(ctx, session.ID, 0, body); err != nil {
		t.Fatalf("WriteChunk failed: %v", err)
	}
	received, err := mgr.WriteChunk(ctx, session.ID, 0, body)
	if err != nil {
		t.Fatalf("WriteChunk retry failed: %v", err)
	}
	if received != 1 {
		t.Fatalf("expected retry to count once, got %d", received)
	}
}

func TestFinalizeRequiresAllChunks(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()

	session, err := mgr.Initialize(ctx, upload.InitRequest{Filename: "a.wav", TotalSize: 200, ChunkSize: 100})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if _, err := mgr.WriteChunk(ctx, session.ID, 0, testsupport.PatternBytes(0, 100)); err != nil {
		t.Fatalf("WriteChunk failed: %v", err)
	}

	if _, err := mgr.Finalize(ctx, session.ID); !errors.Is(err, services.ErrIncomplete) {
		t.Fatalf("expected incomplete error, got %v", err)
	}
}

func TestFinalizeCreatesQueuedJob(t *testing.T) {
	mgr, store := newManager(t)
	ctx := context.Background()

	session, err := mgr.Initialize(ctx, upload.InitRequest{
		Filename:  "team meeting?.wav",
		TotalSize: 200,
		ChunkSize: 100,
		Model:     "medium",
		Language:  "de",
	})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	for index := 0; index < 2; index++ {
		offset := int64(index) * 100
		if _, err := mgr.WriteChunk(ctx, session.ID, index, testsupport.PatternBytes(offset, 100)); err != nil {
			t.Fatalf("WriteChunk %d failed: %v", index, err)
		}
	}

	job, err := mgr.Finalize(ctx, session.ID)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if job.Status != jobs.StatusQueued {
		t.Fatalf("expected queued job, got %s", job.Status)
	}
	if job.Model != "medium" || job.Language != "de" {
		t.Fatalf("expected session overrides on job, got %#v", job)
	}
	if job.Filename != "team meeting?.wav" {
		t.Fatalf("expected original filename preserved, got %q", job.Filename)
	}

	// The part file moved into the source dir under a sanitized name.
	if _, err := os.Stat(session.PartPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected part file gone, got %v", err)
	}
	info, err := os.Stat(job.SourceFile)
	if err != nil {
		t.Fatalf("stat source file: %v", err)
	}
	if info.Size() != 200 {
		t.Fatalf("expected 200-byte source file, got %d", info.Size())
	}

	entry, err := store.Entry(ctx, job.ID)
	if err != nil {
		t.Fatalf("Entry failed: %v", err)
	}
	if entry == nil {
		t.Fatal("expected job enqueued after finalize")
	}
}

func TestFinalizeTwiceLosesCleanly(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()

	session, err := mgr.Initialize(ctx, upload.InitRequest{Filename: "a.wav", TotalSize: 100, ChunkSize: 100})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if _, err := mgr.WriteChunk(ctx, session.ID, 0, testsupport.PatternBytes(0, 100)); err != nil {
		t.Fatalf("WriteChunk failed: %v", err)
	}
	if _, err := mgr.Finalize(ctx, session.ID); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	if _, err := mgr.Finalize(ctx, session.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found on second finalize, got %v", err)
	}
}

func TestExpireSessionsRemovesPartFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	// Negative timeout puts the cutoff in the future so the session is
	// already expired without sleeping.
	cfg.Upload.SessionTimeout = -5
	store := testsupport.MustOpenStore(t, cfg)
	mgr := upload.NewManager(store, cfg, nil)
	ctx := context.Background()

	session, err := mgr.Initialize(ctx, upload.InitRequest{Filename: "a.wav", TotalSize: 100, ChunkSize: 100})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	removed, err := mgr.ExpireSessions(ctx)
	if err != nil {
		t.Fatalf("ExpireSessions failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one expired session, got %d", removed)
	}
	if _, err := os.Stat(session.PartPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected part file removed, got %v", err)
	}
	if _, err := mgr.WriteChunk(ctx, session.ID, 0, testsupport.PatternBytes(0, 100)); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected chunk write after expiry to fail, got %v", err)
	}
}
