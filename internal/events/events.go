// Package events keeps a JSON-lines journal of recording lifecycle events so
// the control surfaces can show recent history without parsing the log file.
package events

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	CaptureStarted      EventType = "capture_started"
	CaptureStopped      EventType = "capture_stopped"
	CaptureError        EventType = "capture_error"
	TranscribeStarted   EventType = "transcribe_started"
	TranscribeCompleted EventType = "transcribe_completed"
	TranscribeFailed    EventType = "transcribe_failed"
	UploadCompleted     EventType = "upload_completed"
	UploadFailed        EventType = "upload_failed"
)

// Event is a single journal entry.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Event     EventType `json:"event"`
	Path      string    `json:"path,omitempty"`
	Message   string    `json:"msg,omitempty"`
	Error     string    `json:"error,omitempty"`
	// Code carries the transcription script's exit code on failure.
	Code int `json:"code,omitempty"`
}

// Logger appends events to a JSON lines file.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
}

// NewLogger creates a journal at filePath, creating parent directories as
// needed.
func NewLogger(filePath string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	return &Logger{
		filePath: filePath,
		file:     file,
		encoder:  json.NewEncoder(file),
	}, nil
}

// Log appends an event, stamping it with the current time when unset.
func (l *Logger) Log(event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return l.encoder.Encode(event)
}

// Close closes the journal file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Path returns the journal file path.
func (l *Logger) Path() string {
	return l.filePath
}

// ReadLast reads the last n events from the journal, newest first. A missing
// file yields an empty slice; malformed lines are skipped.
func ReadLast(filePath string, n int) ([]Event, error) {
	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, nil
		}
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	start := 0
	if len(lines) > n {
		start = len(lines) - n
	}
	lines = lines[start:]

	events := make([]Event, 0, len(lines))
	for i := len(lines) - 1; i >= 0; i-- {
		var event Event
		if err := json.Unmarshal([]byte(lines[i]), &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// DefaultPath returns the platform-specific journal file path.
func DefaultPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("LOCALAPPDATA")
	default:
		if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.local/state"
		}
	}

	return filepath.Join(base, "meetscribe", "events.jsonl")
}
