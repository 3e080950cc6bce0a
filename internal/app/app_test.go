package app

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/meetscribe/meetscribe/internal/audio"
	"github.com/meetscribe/meetscribe/internal/config"
	"github.com/meetscribe/meetscribe/internal/events"
	"github.com/meetscribe/meetscribe/internal/transcribe"
)

// Mock implementations for testing
type fakeStream struct {
	mu      sync.Mutex
	started bool
	stopped bool
	closed  bool
}

func (s *fakeStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStream) released() (stopped, closed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped, s.closed
}

type fakeDriver struct {
	stream *fakeStream
	cfg    audio.StreamConfig
}

func (d *fakeDriver) Devices() ([]audio.Device, error) {
	return []audio.Device{{ID: 0, Name: "Speakers", HostAPI: "Windows WASAPI", MaxOutputChannels: 2, Default: true}}, nil
}

func (d *fakeDriver) OpenLoopback(cfg audio.StreamConfig, onData func([]int16), onErr func(error)) (audio.Stream, error) {
	d.cfg = cfg
	d.stream = &fakeStream{}
	return d.stream, nil
}

func (d *fakeDriver) Close() error { return nil }

type mockRunner struct {
	err   error
	block chan struct{}

	mu    sync.Mutex
	calls []string
}

func (m *mockRunner) Transcribe(ctx context.Context, wavPath string) (*transcribe.Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, wavPath)
	m.mu.Unlock()

	if m.block != nil {
		<-m.block
	}
	if m.err != nil {
		return nil, m.err
	}
	transcript, subtitles := transcribe.OutputPaths(wavPath)
	return &transcribe.Result{TranscriptPath: transcript, SubtitlePath: subtitles}, nil
}

func (m *mockRunner) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockRunner) lastCall() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return ""
	}
	return m.calls[len(m.calls)-1]
}

type mockStatus struct {
	mu         sync.Mutex
	idle       int
	recording  int
	processing int
	failed     int
}

func (m *mockStatus) SetIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idle++
}

func (m *mockStatus) SetRecording() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recording++
}

func (m *mockStatus) SetProcessing() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processing++
}

func (m *mockStatus) SetError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed++
}

func (m *mockStatus) counts() (idle, recording, processing, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idle, m.recording, m.processing, m.failed
}

func newTestApp(t *testing.T, mutate func(*config.Config)) (*App, *fakeDriver, *mockRunner, *mockStatus) {
	t.Helper()

	cfg := config.Default()
	cfg.OutputDir = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}

	journal, err := events.NewLogger(filepath.Join(t.TempDir(), "events.jsonl"))
	if err != nil {
		t.Fatalf("failed to create journal: %v", err)
	}
	t.Cleanup(func() { journal.Close() })

	drv := &fakeDriver{}
	runner := &mockRunner{}
	status := &mockStatus{}

	a := New(Config{
		Driver:        drv,
		Transcriber:   runner,
		Journal:       journal,
		Config:        cfg,
		ConfigPath:    filepath.Join(t.TempDir(), "config.json"),
		Logger:        zerolog.Nop(),
		StatusUpdater: status,
	})
	return a, drv, runner, status
}

func waitForEvent(t *testing.T, a *App, kind events.EventType) events.Event {
	t.Helper()
	for i := 0; i < 100; i++ {
		evts, err := a.RecentEvents(20)
		if err != nil {
			t.Fatalf("failed to read events: %v", err)
		}
		for _, e := range evts {
			if e.Event == kind {
				return e
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("event %s never appeared in the journal", kind)
	return events.Event{}
}

func TestStartRecordingPicksTimestampedName(t *testing.T) {
	a, _, _, status := newTestApp(t, nil)

	path, err := a.StartRecording("", nil)
	if err != nil {
		t.Fatalf("failed to start recording: %v", err)
	}
	defer a.StopRecording()

	if dir := filepath.Dir(path); dir != a.OutputDir() {
		t.Errorf("expected recording under %s, got %s", a.OutputDir(), dir)
	}
	namePattern := regexp.MustCompile(`^meeting-\d{4}-\d{2}-\d{2}-\d{2}-\d{2}-\d{2}\.wav$`)
	if base := filepath.Base(path); !namePattern.MatchString(base) {
		t.Errorf("unexpected recording name %q", base)
	}

	st := a.Status()
	if st.State != StateRecording {
		t.Errorf("expected state %s, got %s", StateRecording, st.State)
	}
	if st.Recording != path || st.LastRecording != path {
		t.Errorf("expected status to report %s, got recording=%s last=%s", path, st.Recording, st.LastRecording)
	}
	if _, recording, _, _ := status.counts(); recording != 1 {
		t.Errorf("expected one SetRecording call, got %d", recording)
	}
	waitForEvent(t, a, events.CaptureStarted)
}

func TestStartRecordingHonoursConfiguredDevice(t *testing.T) {
	dev := 4
	a, drv, _, _ := newTestApp(t, func(c *config.Config) { c.Audio.DeviceID = &dev })

	if _, err := a.StartRecording("", nil); err != nil {
		t.Fatalf("failed to start recording: %v", err)
	}
	defer a.StopRecording()

	if drv.cfg.DeviceID == nil || *drv.cfg.DeviceID != dev {
		t.Fatalf("expected the configured device %d to reach the driver, got %v", dev, drv.cfg.DeviceID)
	}
}

func TestStopWithoutAutoTranscribe(t *testing.T) {
	a, _, runner, _ := newTestApp(t, nil)

	started, err := a.StartRecording("", nil)
	if err != nil {
		t.Fatalf("failed to start recording: %v", err)
	}
	path, active, err := a.StopRecording()
	if err != nil || !active {
		t.Fatalf("expected an active stop, got active=%v err=%v", active, err)
	}
	if path != started {
		t.Errorf("expected stop to report %s, got %s", started, path)
	}

	st := a.Status()
	if st.State != StateIdle {
		t.Errorf("expected state %s, got %s", StateIdle, st.State)
	}
	if st.Recording != "" {
		t.Errorf("expected no active recording, got %s", st.Recording)
	}
	if runner.callCount() != 0 {
		t.Errorf("expected no transcription without auto mode, got %d calls", runner.callCount())
	}
	waitForEvent(t, a, events.CaptureStopped)
}

func TestAutoTranscribeAfterStop(t *testing.T) {
	a, _, runner, status := newTestApp(t, func(c *config.Config) { c.Transcribe.Auto = true })

	if _, err := a.StartRecording("", nil); err != nil {
		t.Fatalf("failed to start recording: %v", err)
	}
	path, _, err := a.StopRecording()
	if err != nil {
		t.Fatalf("failed to stop recording: %v", err)
	}

	done := waitForEvent(t, a, events.TranscribeCompleted)

	if runner.callCount() != 1 || runner.lastCall() != path {
		t.Fatalf("expected one transcription of %s, got %d calls (last %q)", path, runner.callCount(), runner.lastCall())
	}
	wantTranscript, _ := transcribe.OutputPaths(path)
	if done.Path != wantTranscript {
		t.Errorf("expected completion event for %s, got %s", wantTranscript, done.Path)
	}

	st := a.Status()
	if st.State != StateIdle {
		t.Errorf("expected state %s after transcription, got %s", StateIdle, st.State)
	}
	if st.LastTranscript != wantTranscript {
		t.Errorf("expected last transcript %s, got %s", wantTranscript, st.LastTranscript)
	}
	if _, _, processing, _ := status.counts(); processing != 1 {
		t.Errorf("expected one SetProcessing call, got %d", processing)
	}
}

func TestTranscribeFailureSetsError(t *testing.T) {
	a, _, runner, status := newTestApp(t, nil)
	runner.err = &transcribe.ScriptError{ExitCode: 3, Stderr: "RuntimeError: model not found"}

	wav := filepath.Join(t.TempDir(), "meeting.wav")
	if err := os.WriteFile(wav, []byte("RIFF"), 0o644); err != nil {
		t.Fatalf("failed to seed wav: %v", err)
	}

	if err := a.Transcribe(wav); err != nil {
		t.Fatalf("failed to kick off transcription: %v", err)
	}

	failed := waitForEvent(t, a, events.TranscribeFailed)
	if failed.Code != 3 {
		t.Errorf("expected exit code 3 in the journal, got %d", failed.Code)
	}
	if a.Status().State != StateError {
		t.Errorf("expected state %s, got %s", StateError, a.Status().State)
	}
	if _, _, _, errored := status.counts(); errored != 1 {
		t.Errorf("expected one SetError call, got %d", errored)
	}
}

func TestTranscribeRejectsMissingRecording(t *testing.T) {
	a, _, _, _ := newTestApp(t, nil)

	if err := a.Transcribe(""); err == nil {
		t.Error("expected an error with no recording on record")
	}
	if err := a.Transcribe(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestSetDeviceGuardedWhileRecording(t *testing.T) {
	a, _, _, _ := newTestApp(t, nil)

	if _, err := a.StartRecording("", nil); err != nil {
		t.Fatalf("failed to start recording: %v", err)
	}

	id := 2
	if err := a.SetDevice(&id); err == nil {
		t.Fatal("expected SetDevice to be rejected while recording")
	}

	if _, _, err := a.StopRecording(); err != nil {
		t.Fatalf("failed to stop recording: %v", err)
	}
	if err := a.SetDevice(&id); err != nil {
		t.Fatalf("expected SetDevice to succeed once idle: %v", err)
	}
}

func TestShutdownStopsActiveCapture(t *testing.T) {
	a, drv, _, _ := newTestApp(t, nil)

	if _, err := a.StartRecording("", nil); err != nil {
		t.Fatalf("failed to start recording: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	if st := a.Status().State; st != StateIdle {
		t.Errorf("expected state %s after shutdown, got %s", StateIdle, st)
	}
	stopped, closed := drv.stream.released()
	if !stopped || !closed {
		t.Errorf("expected the stream to be released, got stopped=%v closed=%v", stopped, closed)
	}
}

func TestShutdownWaitsForTranscription(t *testing.T) {
	a, _, runner, _ := newTestApp(t, func(c *config.Config) { c.Transcribe.Auto = true })
	runner.block = make(chan struct{})

	if _, err := a.StartRecording("", nil); err != nil {
		t.Fatalf("failed to start recording: %v", err)
	}
	if _, _, err := a.StopRecording(); err != nil {
		t.Fatalf("failed to stop recording: %v", err)
	}

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := a.Shutdown(short); err == nil {
		t.Fatal("expected shutdown to time out while the script is running")
	}

	close(runner.block)
	long, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := a.Shutdown(long); err != nil {
		t.Fatalf("expected shutdown to finish once the script returned: %v", err)
	}
}

func TestRecentEventsWithoutJournal(t *testing.T) {
	cfg := config.Default()
	cfg.OutputDir = t.TempDir()
	a := New(Config{
		Driver:      &fakeDriver{},
		Transcriber: &mockRunner{},
		Config:      cfg,
		Logger:      zerolog.Nop(),
	})

	evts, err := a.RecentEvents(5)
	if err != nil {
		t.Fatalf("expected no error without a journal: %v", err)
	}
	if len(evts) != 0 {
		t.Fatalf("expected no events, got %d", len(evts))
	}
}
