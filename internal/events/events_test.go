package events

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLogAndReadLast(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal", "events.jsonl")

	logger, err := NewLogger(path)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	entries := []*Event{
		{Event: CaptureStarted, Path: "/tmp/a.wav"},
		{Event: CaptureStopped, Path: "/tmp/a.wav"},
		{Event: TranscribeStarted, Path: "/tmp/a.wav"},
	}
	for _, e := range entries {
		if err := logger.Log(e); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	got, err := ReadLast(path, 2)
	if err != nil {
		t.Fatalf("ReadLast failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	// Newest first.
	if got[0].Event != TranscribeStarted || got[1].Event != CaptureStopped {
		t.Fatalf("expected newest-first order, got %q then %q", got[0].Event, got[1].Event)
	}
	if got[0].Timestamp.IsZero() {
		t.Error("expected Log to stamp the event time")
	}
}

func TestReadLastMissingFile(t *testing.T) {
	got, err := ReadLast(filepath.Join(t.TempDir(), "absent.jsonl"), 10)
	if err != nil {
		t.Fatalf("ReadLast failed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no events, got %d", len(got))
	}
}

func TestReadLastSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	logger, err := NewLogger(path)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	if err := logger.Log(&Event{Event: CaptureStarted}); err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	if _, err := f.WriteString("not json\n"); err != nil {
		t.Fatalf("failed to append garbage: %v", err)
	}
	f.Close()

	got, err := ReadLast(path, 10)
	if err != nil {
		t.Fatalf("ReadLast failed: %v", err)
	}
	if len(got) != 1 || got[0].Event != CaptureStarted {
		t.Fatalf("expected the single valid event, got %v", got)
	}
}
