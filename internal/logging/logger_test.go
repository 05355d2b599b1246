package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"scribe/internal/services"
)

func TestNewJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("job enqueued", Args(Int64("job_id", 42))...)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if record["msg"] != "job enqueued" {
		t.Fatalf("msg = %v", record["msg"])
	}
	if record["job_id"] != float64(42) {
		t.Fatalf("job_id = %v", record["job_id"])
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "warn", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("hidden")
	logger.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatal("info line should be filtered at warn level")
	}
	if !strings.Contains(out, "visible") {
		t.Fatal("warn line missing")
	}
}

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "debug", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := services.WithJobID(context.Background(), 7)
	ctx = services.WithWorkerID(ctx, "worker-1")

	WithContext(ctx, logger).Info("processing")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if record[FieldJobID] != float64(7) {
		t.Fatalf("job_id = %v", record[FieldJobID])
	}
	if record[FieldWorkerID] != "worker-1" {
		t.Fatalf("worker_id = %v", record[FieldWorkerID])
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := NewNop()
	logger.Error("should not panic", Error(nil))
	NewComponentLogger(nil, "test").Info("still fine")
}
