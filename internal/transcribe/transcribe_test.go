package transcribe

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/meetscribe/meetscribe/internal/config"
)

func TestBuildArgsWithoutOptions(t *testing.T) {
	cfg := config.TranscribeConfig{ScriptPath: "process_audio.py"}

	args, err := buildArgs(cfg, "/data/meeting.wav")
	if err != nil {
		t.Fatalf("buildArgs failed: %v", err)
	}
	if len(args) != 2 {
		t.Fatalf("expected 2 args, got %d: %v", len(args), args)
	}
	if args[0] != "process_audio.py" || args[1] != "/data/meeting.wav" {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestBuildArgsEncodesOptions(t *testing.T) {
	cfg := config.TranscribeConfig{
		ScriptPath: "process_audio.py",
		Options: map[string]any{
			"asr": map[string]any{"model": "small", "language": "ru"},
			"vad": map[string]any{"min_speech_sec": 0.5},
		},
	}

	args, err := buildArgs(cfg, "/data/meeting.wav")
	if err != nil {
		t.Fatalf("buildArgs failed: %v", err)
	}
	if len(args) != 3 {
		t.Fatalf("expected 3 args, got %d: %v", len(args), args)
	}

	var decoded map[string]map[string]any
	if err := json.Unmarshal([]byte(args[2]), &decoded); err != nil {
		t.Fatalf("options argument is not valid JSON: %v", err)
	}
	if decoded["asr"]["model"] != "small" {
		t.Fatalf("expected asr.model to survive encoding, got %v", decoded)
	}
}

func TestOutputPathsNextToRecording(t *testing.T) {
	transcript, subtitles := OutputPaths(filepath.Join("/data", "aug", "meeting.wav"))

	if transcript != filepath.Join("/data", "aug", TranscriptName) {
		t.Errorf("unexpected transcript path %q", transcript)
	}
	if subtitles != filepath.Join("/data", "aug", SubtitleName) {
		t.Errorf("unexpected subtitle path %q", subtitles)
	}
}

func TestExtractLastError(t *testing.T) {
	stderr := "Traceback (most recent call last):\n  File \"process_audio.py\", line 12\nValueError: bad sample rate\n\n"
	if got := extractLastError(stderr); got != "ValueError: bad sample rate" {
		t.Fatalf("expected last meaningful line, got %q", got)
	}

	if got := extractLastError("   \n \n"); got != "" {
		t.Fatalf("expected empty result for blank stderr, got %q", got)
	}

	long := strings.Repeat("x", 300)
	got := extractLastError(long)
	if len(got) != maxErrorLineLength+3 || !strings.HasSuffix(got, "...") {
		t.Fatalf("expected a capped line, got %d chars", len(got))
	}
}

func TestScriptErrorMessage(t *testing.T) {
	err := &ScriptError{ExitCode: 1, Stderr: "ValueError: bad sample rate"}
	if !strings.Contains(err.Error(), "code 1") || !strings.Contains(err.Error(), "ValueError") {
		t.Fatalf("unexpected message: %q", err.Error())
	}

	bare := &ScriptError{ExitCode: 2}
	if bare.Error() != "transcription script exited with code 2" {
		t.Fatalf("unexpected message: %q", bare.Error())
	}
}
