package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/meetscribe/meetscribe/internal/archive"
	"github.com/meetscribe/meetscribe/internal/audio"
	"github.com/meetscribe/meetscribe/internal/capture"
	"github.com/meetscribe/meetscribe/internal/config"
	"github.com/meetscribe/meetscribe/internal/events"
	"github.com/meetscribe/meetscribe/internal/transcribe"
	"github.com/meetscribe/meetscribe/internal/version"
	"github.com/rs/zerolog"
)

// recordingNameFormat keeps a sortable timestamp in the file name; the
// leading date is what the retention sweep matches on.
const recordingNameFormat = "meeting-2006-01-02-15-04-05.wav"

// State is the application-level lifecycle, a superset of the capture
// state: transcription shows up as processing, failures as error until the
// next action clears them.
type State string

const (
	StateIdle       State = "idle"
	StateRecording  State = "recording"
	StateProcessing State = "processing"
	StateError      State = "error"
)

// StatusUpdater is an interface for updating status (e.g., tray icon)
type StatusUpdater interface {
	SetIdle()
	SetRecording()
	SetProcessing()
	SetError()
}

type Config struct {
	Driver        audio.Driver
	Transcriber   transcribe.Runner
	Uploader      *archive.Uploader // Optional - can be nil
	Journal       *events.Logger    // Optional - can be nil
	Updates       *version.Checker  // Optional - can be nil
	Config        *config.Config
	ConfigPath    string
	Logger        zerolog.Logger
	StatusUpdater StatusUpdater // Optional - can be nil
}

// App wires the capture manager, the transcription runner, the event
// journal and the uploader together. It implements capture.Notifier; the
// notifier calls arrive with the manager lock held, so App methods never
// call into the manager while holding their own lock.
type App struct {
	drv     audio.Driver
	mgr     *capture.Manager
	stt     transcribe.Runner
	arc     *archive.Uploader
	journal *events.Logger
	updates *version.Checker
	cfg     *config.Config
	cfgPath string
	log     zerolog.Logger
	status  StatusUpdater

	mu             sync.Mutex
	state          State
	lastRecording  string
	lastTranscript string

	jobs sync.WaitGroup
}

func New(cfg Config) *App {
	a := &App{
		drv:     cfg.Driver,
		stt:     cfg.Transcriber,
		arc:     cfg.Uploader,
		journal: cfg.Journal,
		updates: cfg.Updates,
		cfg:     cfg.Config,
		cfgPath: cfg.ConfigPath,
		log:     cfg.Logger.With().Str("component", "app").Logger(),
		status:  cfg.StatusUpdater,
		state:   StateIdle,
	}
	a.mgr = capture.New(cfg.Driver, a, cfg.Logger)
	return a
}

// StartRecording begins a capture session. An empty path picks a
// timestamped file under the configured output directory; a nil deviceID
// falls back to the configured device, then to the driver default.
func (a *App) StartRecording(path string, deviceID *int) (string, error) {
	a.mu.Lock()
	if deviceID == nil {
		deviceID = a.cfg.Audio.DeviceID
	}
	if path == "" {
		path = filepath.Join(a.cfg.OutputDir, time.Now().Format(recordingNameFormat))
	}
	a.mu.Unlock()

	return a.mgr.Start(path, deviceID)
}

// StopRecording ends the active session. active is false when there was
// nothing to stop.
func (a *App) StopRecording() (path string, active bool, err error) {
	return a.mgr.Stop()
}

// Transcribe runs the transcription script on path, or on the last
// recording when path is empty. The script runs on its own goroutine;
// progress is reported through the journal and the status updater.
func (a *App) Transcribe(path string) error {
	a.mu.Lock()
	if path == "" {
		path = a.lastRecording
	}
	a.mu.Unlock()

	if path == "" {
		return fmt.Errorf("no recording to transcribe")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("failed to stat recording: %w", err)
	}

	a.mu.Lock()
	if a.state == StateProcessing {
		a.mu.Unlock()
		return fmt.Errorf("transcription already running")
	}
	a.state = StateProcessing
	a.mu.Unlock()

	a.beginTranscription(path)
	return nil
}

// Devices refreshes the loopback-capable device catalog. An empty catalog
// is reported, not fatal; callers decide how to surface it.
func (a *App) Devices() ([]audio.Device, error) {
	devices, err := a.drv.Devices()
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		a.log.Warn().Msg("No loopback-capable devices found")
	} else {
		a.log.Debug().Int("devices", len(devices)).Msg("Refreshed device catalog")
	}
	return devices, nil
}

// SetDevice stores id as the capture device and persists the config.
func (a *App) SetDevice(id *int) error {
	if a.mgr.State() == capture.StateCapturing {
		return fmt.Errorf("cannot change device while recording")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.Audio.DeviceID = id
	return a.cfg.Save(a.cfgPath)
}

func (a *App) IsRecording() bool {
	return a.mgr.State() == capture.StateCapturing
}

func (a *App) OutputDir() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.OutputDir
}

// Status is a point-in-time snapshot of the application for the tray and
// the HTTP API.
type Status struct {
	State          State         `json:"state"`
	Recording      string        `json:"recording,omitempty"`
	LastRecording  string        `json:"lastRecording,omitempty"`
	LastTranscript string        `json:"lastTranscript,omitempty"`
	Version        *version.Info `json:"version,omitempty"`
}

func (a *App) Status() Status {
	recording, active := a.mgr.Path()

	a.mu.Lock()
	st := Status{
		State:          a.state,
		LastRecording:  a.lastRecording,
		LastTranscript: a.lastTranscript,
	}
	a.mu.Unlock()

	if active {
		st.Recording = recording
	}
	if a.updates != nil {
		info := a.updates.Info()
		st.Version = &info
	}
	return st
}

// RecentEvents returns the newest n journal entries, newest first.
func (a *App) RecentEvents(n int) ([]events.Event, error) {
	if a.journal == nil {
		return []events.Event{}, nil
	}
	return events.ReadLast(a.journal.Path(), n)
}

// Housekeeping applies the retention policy to local recordings and, when
// an uploader is configured, to the remote bucket.
func (a *App) Housekeeping(ctx context.Context) {
	a.mu.Lock()
	days := a.cfg.Archive.RetentionDays
	dir := a.cfg.OutputDir
	a.mu.Unlock()

	if days <= 0 {
		return
	}

	active, _ := a.mgr.Path()
	removed := archive.CleanupLocal(dir, days, active, a.log)
	if a.arc != nil {
		removed += a.arc.CleanupRemote(ctx, days)
	}
	if removed > 0 {
		a.log.Info().Int("removed", removed).Msg("Retention cleanup finished")
	}
}

// Shutdown stops any active capture and waits for in-flight transcription
// until ctx expires. Draining the upload queue is the caller's job, after
// this returns.
func (a *App) Shutdown(ctx context.Context) error {
	if _, active, err := a.StopRecording(); err != nil {
		a.log.Error().Err(err).Msg("Failed to stop capture during shutdown")
	} else if active {
		a.log.Info().Msg("Stopped active capture during shutdown")
	}

	done := make(chan struct{})
	go func() {
		a.jobs.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out waiting for transcription: %w", ctx.Err())
	}
}

// CaptureStarted implements capture.Notifier.
func (a *App) CaptureStarted(path string) {
	a.mu.Lock()
	a.state = StateRecording
	a.lastRecording = path
	a.mu.Unlock()

	if a.status != nil {
		a.status.SetRecording()
	}
	a.logEvent(&events.Event{Event: events.CaptureStarted, Path: path})
}

// CaptureStopped implements capture.Notifier.
func (a *App) CaptureStopped(path string) {
	a.mu.Lock()
	auto := a.cfg.Transcribe.Auto
	if auto {
		a.state = StateProcessing
	} else {
		a.state = StateIdle
	}
	a.mu.Unlock()

	a.logEvent(&events.Event{Event: events.CaptureStopped, Path: path})

	if auto {
		a.beginTranscription(path)
		return
	}

	if a.status != nil {
		a.status.SetIdle()
	}
	if a.arc != nil {
		a.arc.Enqueue(path)
	}
}

// CaptureAborted implements capture.Notifier.
func (a *App) CaptureAborted(path string, err error) {
	a.mu.Lock()
	a.state = StateError
	a.mu.Unlock()

	if a.status != nil {
		a.status.SetError()
	}
	a.logEvent(&events.Event{Event: events.CaptureError, Path: path, Error: err.Error()})
}

// beginTranscription launches the script on its own goroutine. The caller
// has already moved the state to processing.
func (a *App) beginTranscription(wavPath string) {
	if a.status != nil {
		a.status.SetProcessing()
	}
	a.logEvent(&events.Event{Event: events.TranscribeStarted, Path: wavPath})

	a.jobs.Add(1)
	go func() {
		defer a.jobs.Done()
		a.runTranscription(wavPath)
	}()
}

func (a *App) runTranscription(wavPath string) {
	res, err := a.stt.Transcribe(context.Background(), wavPath)
	if err != nil {
		a.mu.Lock()
		a.state = StateError
		a.mu.Unlock()

		if a.status != nil {
			a.status.SetError()
		}
		evt := &events.Event{Event: events.TranscribeFailed, Path: wavPath, Error: err.Error()}
		var scriptErr *transcribe.ScriptError
		if errors.As(err, &scriptErr) {
			evt.Code = scriptErr.ExitCode
		}
		a.logEvent(evt)
		a.log.Error().Err(err).Str("path", wavPath).Msg("Transcription failed")
		return
	}

	a.mu.Lock()
	a.state = StateIdle
	a.lastTranscript = res.TranscriptPath
	a.mu.Unlock()

	if a.status != nil {
		a.status.SetIdle()
	}
	a.logEvent(&events.Event{Event: events.TranscribeCompleted, Path: res.TranscriptPath})

	if a.arc != nil {
		a.arc.Enqueue(wavPath)
		a.arc.Enqueue(res.TranscriptPath)
		a.arc.Enqueue(res.SubtitlePath)
	}
}

func (a *App) logEvent(evt *events.Event) {
	if a.journal == nil {
		return
	}
	if err := a.journal.Log(evt); err != nil {
		a.log.Warn().Err(err).Msg("Failed to write event journal")
	}
}
