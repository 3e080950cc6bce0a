// Package transcribe drives the external speech-to-text pipeline over a
// finished recording. The pipeline is a Python script that reads the WAV,
// performs voice activity detection, diarization and recognition, and writes
// its transcripts next to the input file.
package transcribe

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/meetscribe/meetscribe/internal/config"
)

// File names the pipeline produces next to the input recording.
const (
	TranscriptName = "transcript_speakers.txt"
	SubtitleName   = "transcript_speakers.srt"
)

// maxErrorLineLength caps stderr lines attached to failures.
const maxErrorLineLength = 200

// Result reports a finished transcription run.
type Result struct {
	TranscriptPath string
	SubtitlePath   string
	Duration       time.Duration
}

// ScriptError reports a pipeline run that exited nonzero.
type ScriptError struct {
	ExitCode int
	Stderr   string
}

func (e *ScriptError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("transcription script exited with code %d: %s", e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("transcription script exited with code %d", e.ExitCode)
}

// Runner turns a recorded WAV file into transcripts.
type Runner interface {
	Transcribe(ctx context.Context, wavPath string) (*Result, error)
}

// ScriptRunner runs the pipeline as a subprocess.
type ScriptRunner struct {
	cfg config.TranscribeConfig
	log zerolog.Logger
}

// NewScriptRunner creates a runner from the transcription config.
func NewScriptRunner(cfg config.TranscribeConfig, logger zerolog.Logger) *ScriptRunner {
	return &ScriptRunner{
		cfg: cfg,
		log: logger.With().Str("component", "transcribe").Logger(),
	}
}

// Transcribe invokes the script with the recording path and the configured
// options payload. Script progress lines are mirrored to the log; on failure
// the exit code and the last stderr line are carried in a ScriptError.
func (r *ScriptRunner) Transcribe(ctx context.Context, wavPath string) (*Result, error) {
	if _, err := os.Stat(wavPath); err != nil {
		return nil, fmt.Errorf("failed to read recording: %w", err)
	}

	if r.cfg.TimeoutMinutes > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(r.cfg.TimeoutMinutes)*time.Minute)
		defer cancel()
	}

	args, err := buildArgs(r.cfg, wavPath)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, r.cfg.PythonPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	r.log.Info().Str("path", wavPath).Msg("Transcription started")
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start transcription script: %w", err)
	}

	// The script reports progress on stdout; mirror it into the log.
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		r.log.Info().Msg(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		r.log.Warn().Err(err).Msg("Lost script output")
	}

	waitErr := cmd.Wait()
	duration := time.Since(start)
	if waitErr != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("transcription aborted: %w", ctx.Err())
		}
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return nil, &ScriptError{ExitCode: exitCode, Stderr: extractLastError(stderr.String())}
	}

	transcript, subtitles := OutputPaths(wavPath)
	if _, err := os.Stat(transcript); err != nil {
		return nil, fmt.Errorf("script finished but produced no transcript: %w", err)
	}

	r.log.Info().Str("transcript", transcript).Dur("took", duration).Msg("Transcription completed")
	return &Result{
		TranscriptPath: transcript,
		SubtitlePath:   subtitles,
		Duration:       duration,
	}, nil
}

// OutputPaths returns where the pipeline writes its transcript and subtitle
// files for a given recording.
func OutputPaths(wavPath string) (transcript, subtitles string) {
	dir := filepath.Dir(wavPath)
	return filepath.Join(dir, TranscriptName), filepath.Join(dir, SubtitleName)
}

// buildArgs assembles the script argv: script path, recording path and, when
// options are configured, their JSON encoding as a single argument.
func buildArgs(cfg config.TranscribeConfig, wavPath string) ([]string, error) {
	args := []string{cfg.ScriptPath, wavPath}
	if len(cfg.Options) > 0 {
		opts, err := json.Marshal(cfg.Options)
		if err != nil {
			return nil, fmt.Errorf("failed to encode script options: %w", err)
		}
		args = append(args, string(opts))
	}
	return args, nil
}

// extractLastError extracts the last meaningful line from stderr output.
func extractLastError(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line != "" {
			if len(line) > maxErrorLineLength {
				return line[:maxErrorLineLength] + "..."
			}
			return line
		}
	}
	return ""
}
