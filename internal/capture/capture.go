// Package capture owns the recording lifecycle: it opens a loopback stream
// at the fixed source format, funnels delivered buffers through downmix and
// resample into a WAV file, and enforces that at most one session is active
// per manager.
package capture

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/meetscribe/meetscribe/internal/audio"
	"github.com/meetscribe/meetscribe/internal/pcm"
	"github.com/meetscribe/meetscribe/internal/wav"
)

// Source format requested from the driver and target format written to disk.
const (
	SourceChannels   = 2
	SourceSampleRate = 48000
	TargetSampleRate = 16000

	framesPerBuffer = 1024
)

// ErrAlreadyActive is returned by Start while a session is running.
var ErrAlreadyActive = errors.New("capture already active")

// State identifies the manager lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateCapturing State = "capturing"
)

// Notifier receives session lifecycle notifications. Calls are made with the
// manager lock held; implementations must be fast and must not call back
// into the Manager.
type Notifier interface {
	CaptureStarted(path string)
	CaptureStopped(path string)
	CaptureAborted(path string, err error)
}

// Manager enforces the one-active-session invariant and owns all lifecycle
// transitions.
type Manager struct {
	drv      audio.Driver
	notifier Notifier
	log      zerolog.Logger

	mu      sync.Mutex
	session *session
}

// New creates a Manager on top of drv. notifier may be nil.
func New(drv audio.Driver, notifier Notifier, logger zerolog.Logger) *Manager {
	return &Manager{
		drv:      drv,
		notifier: notifier,
		log:      logger.With().Str("component", "capture").Logger(),
	}
}

// Start begins capturing to outputPath, creating parent directories as
// needed. A nil deviceID selects the driver's default loopback device.
// Returns the resolved absolute path of the output file. Fails with
// ErrAlreadyActive while a session is running; a failure to start leaves no
// open handles behind.
func (m *Manager) Start(outputPath string, deviceID *int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		return "", ErrAlreadyActive
	}

	resolved, err := filepath.Abs(outputPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve output path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	writer, err := wav.Create(resolved, TargetSampleRate)
	if err != nil {
		return "", err
	}

	s := &session{
		mgr:    m,
		path:   resolved,
		writer: writer,
		log:    m.log,
	}

	stream, err := m.drv.OpenLoopback(audio.StreamConfig{
		DeviceID:        deviceID,
		Channels:        SourceChannels,
		SampleRate:      SourceSampleRate,
		FramesPerBuffer: framesPerBuffer,
	}, s.deliver, s.handleStreamError)
	if err != nil {
		writer.Close()
		return "", fmt.Errorf("failed to open loopback stream: %w", err)
	}
	s.stream = stream

	if err := stream.Start(); err != nil {
		stream.Close()
		writer.Close()
		return "", fmt.Errorf("failed to start loopback stream: %w", err)
	}

	m.session = s

	evt := m.log.Info().Str("path", resolved)
	if deviceID != nil {
		evt = evt.Int("device", *deviceID)
	}
	evt.Msg("Capture started")

	if m.notifier != nil {
		m.notifier.CaptureStarted(resolved)
	}
	return resolved, nil
}

// Stop ends the active session: the stream is released, the container header
// is patched with the final payload size and the file is closed. When no
// session is active it returns active=false rather than an error, so
// concurrent shutdown paths can all call it safely. A stop whose teardown
// fails is reported as an abort, so the notifier sees every session end
// exactly once.
func (m *Manager) Stop() (path string, active bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		m.log.Debug().Msg("Stop requested with no active capture")
		return "", false, nil
	}

	s := m.session
	m.session = nil

	payload, err := s.teardown()
	if err != nil {
		m.log.Error().Err(err).Str("path", s.path).Msg("Capture stop reported an error")
		if m.notifier != nil {
			m.notifier.CaptureAborted(s.path, err)
		}
		return s.path, true, err
	}

	m.log.Info().Str("path", s.path).Uint32("bytes", payload).Msg("Capture stopped")
	if m.notifier != nil {
		m.notifier.CaptureStopped(s.path)
	}
	return s.path, true, nil
}

// State reports the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		return StateCapturing
	}
	return StateIdle
}

// Path returns the output path of the active session, if any.
func (m *Manager) Path() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return "", false
	}
	return m.session.path, true
}

// abort performs stop cleanup for a session that failed asynchronously. It
// runs on its own goroutine so stream callbacks never block on the manager
// lock; a stale abort for an already-stopped session is a no-op.
func (m *Manager) abort(s *session, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != s {
		return
	}
	m.session = nil

	if _, err := s.teardown(); err != nil {
		m.log.Warn().Err(err).Str("path", s.path).Msg("Cleanup after capture failure reported an error")
	}
	m.log.Info().Str("path", s.path).Msg("Capture aborted")
	if m.notifier != nil {
		m.notifier.CaptureAborted(s.path, cause)
	}
}

// session holds the handles owned by one capture: the open stream, the open
// file and its byte counter. Fields exist only between a successful Start
// and the matching teardown.
type session struct {
	mgr    *Manager
	path   string
	stream audio.Stream
	log    zerolog.Logger

	// wmu covers the writer and its byte counter; deliver and teardown are
	// serialized on it.
	wmu    sync.Mutex
	writer *wav.Writer
	failed bool
}

// deliver is the stream data callback: downmix, resample, append, in buffer
// order. Buffers arriving after the file has been sealed are dropped. A
// failed append stops the session the same way a driver fault does.
func (s *session) deliver(samples []int16) {
	mono := pcm.Downmix(samples, SourceChannels)
	out := pcm.Resample(mono, SourceSampleRate, TargetSampleRate)

	s.wmu.Lock()
	defer s.wmu.Unlock()

	if s.writer == nil || s.failed {
		return
	}
	if err := s.writer.AppendSamples(out); err != nil {
		s.failed = true
		s.log.Error().Err(err).Str("path", s.path).Msg("Payload write failed, stopping capture")
		go s.mgr.abort(s, err)
	}
}

// handleStreamError is the stream error callback. The session
// self-terminates; the fault is reported through the log and notifier, not
// re-raised.
func (s *session) handleStreamError(err error) {
	s.log.Error().Err(err).Str("path", s.path).Msg("Stream error, stopping capture")
	go s.mgr.abort(s, err)
}

// teardown releases the stream and seals the file. The header patch runs
// even when the stream teardown fails; the first error wins. Returns the
// final payload size.
func (s *session) teardown() (uint32, error) {
	var firstErr error
	if err := s.stream.Stop(); err != nil {
		firstErr = err
	}
	// Close waits for the delivery goroutine, so after this point no append
	// can race the header patch.
	if err := s.stream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	s.wmu.Lock()
	w := s.writer
	s.writer = nil
	s.wmu.Unlock()

	var payload uint32
	if w != nil {
		payload = w.PayloadBytes()
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return payload, firstErr
}
