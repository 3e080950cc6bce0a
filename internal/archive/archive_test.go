package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/meetscribe/meetscribe/internal/config"
)

func TestExtractDate(t *testing.T) {
	cases := []struct {
		name     string
		filename string
		want     string
		ok       bool
	}{
		{"recording", "meeting-2026-08-25-14-30-00.wav", "2026-08-25", true},
		{"bareDate", "2025-01-15.wav", "2025-01-15", true},
		{"noDate", "transcript_speakers.txt", "", false},
		{"malformedDate", "meeting-2026-99-99.wav", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := extractDate(tc.filename)
			if ok != tc.ok {
				t.Fatalf("expected ok=%v, got %v", tc.ok, ok)
			}
			if ok && got.Format(time.DateOnly) != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got.Format(time.DateOnly))
			}
		})
	}
}

func TestObjectKeyPrefixes(t *testing.T) {
	plain := &Uploader{cfg: config.ArchiveConfig{}}
	if got := plain.objectKey("a.wav"); got != "a.wav" {
		t.Errorf("expected bare key, got %q", got)
	}

	prefixed := &Uploader{cfg: config.ArchiveConfig{Prefix: "meetings/"}}
	if got := prefixed.objectKey("a.wav"); got != "meetings/a.wav" {
		t.Errorf("expected prefixed key, got %q", got)
	}

	noSlash := &Uploader{cfg: config.ArchiveConfig{Prefix: "meetings"}}
	if got := noSlash.objectKey("a.wav"); got != "meetings/a.wav" {
		t.Errorf("expected prefixed key, got %q", got)
	}
}

func TestCleanupLocal(t *testing.T) {
	dir := t.TempDir()

	old := time.Now().AddDate(0, 0, -10).Format(time.DateOnly)
	fresh := time.Now().Format(time.DateOnly)

	oldFile := filepath.Join(dir, fmt.Sprintf("meeting-%s-10-00-00.wav", old))
	freshFile := filepath.Join(dir, fmt.Sprintf("meeting-%s-10-00-00.wav", fresh))
	undated := filepath.Join(dir, "transcript_speakers.txt")
	active := filepath.Join(dir, fmt.Sprintf("meeting-%s-11-00-00.wav", old))

	for _, p := range []string{oldFile, freshFile, undated, active} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("failed to seed file: %v", err)
		}
	}

	deleted := CleanupLocal(dir, 7, active, zerolog.Nop())
	if deleted != 1 {
		t.Fatalf("expected 1 deletion, got %d", deleted)
	}

	if _, err := os.Stat(oldFile); !os.IsNotExist(err) {
		t.Error("expected the old recording to be deleted")
	}
	for _, p := range []string{freshFile, undated, active} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("expected %s to survive the sweep: %v", filepath.Base(p), err)
		}
	}
}

func TestCleanupLocalDisabled(t *testing.T) {
	dir := t.TempDir()
	old := time.Now().AddDate(0, 0, -100).Format(time.DateOnly)
	path := filepath.Join(dir, fmt.Sprintf("meeting-%s-10-00-00.wav", old))
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("failed to seed file: %v", err)
	}

	if deleted := CleanupLocal(dir, 0, "", zerolog.Nop()); deleted != 0 {
		t.Fatalf("expected retention 0 to keep everything, got %d deletions", deleted)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to survive: %v", err)
	}
}

func TestNewUploaderRequiresConfiguration(t *testing.T) {
	if _, err := NewUploader(config.ArchiveConfig{Enabled: true}, nil, zerolog.Nop()); err == nil {
		t.Fatal("expected an incomplete archive config to be rejected")
	}
}

func TestContentTypeFor(t *testing.T) {
	cases := map[string]string{
		"meeting-2026-01-02-10-00-00.wav": "audio/wav",
		"transcript_speakers.txt":         "text/plain; charset=utf-8",
		"transcript_speakers.srt":         "application/x-subrip",
		"notes.bin":                       "application/octet-stream",
	}
	for name, want := range cases {
		if got := contentTypeFor(name); got != want {
			t.Errorf("contentTypeFor(%q) = %q, want %q", name, got, want)
		}
	}
}
