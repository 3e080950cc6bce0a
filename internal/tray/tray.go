package tray

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/atotto/clipboard"
	"github.com/getlantern/systray"
	"github.com/rs/zerolog"

	"github.com/meetscribe/meetscribe/internal/app"
	"github.com/meetscribe/meetscribe/internal/config"
)

type UI struct {
	app     *app.App
	cfg     *config.Config
	version string
	commit  string
	log     zerolog.Logger

	// Menu items
	mStartStop *systray.MenuItem
	mDevices   *systray.MenuItem
}

// Status update methods for the app to call
func (u *UI) SetIdle() {
	u.updateStatus("idle")
}

func (u *UI) SetRecording() {
	u.updateStatus("recording")
}

func (u *UI) SetProcessing() {
	u.updateStatus("processing")
}

func (u *UI) SetError() {
	u.updateStatus("error")
}

func New(application *app.App, cfg *config.Config, version, commit string, logger zerolog.Logger) *UI {
	return &UI{
		app:     application,
		cfg:     cfg,
		version: version,
		commit:  commit,
		log:     logger.With().Str("component", "tray").Logger(),
	}
}

// SetApp sets the app reference (for circular dependency resolution)
func (u *UI) SetApp(application *app.App) {
	u.app = application
}

func (u *UI) Run(ctx context.Context) error {
	systray.Run(u.onReady, u.onExit)
	return nil
}

func (u *UI) onReady() {
	// Use emoji instead of icon - headphones with status indicator
	u.updateStatus("idle")
	systray.SetTooltip("System audio meeting recorder")

	mInfo := systray.AddMenuItem(fmt.Sprintf("MeetScribe %s", u.version), "build "+u.commit)
	mInfo.Disable()
	systray.AddSeparator()

	u.mStartStop = systray.AddMenuItem("Start Recording", "Record what the system is playing")
	systray.AddSeparator()

	u.mDevices = systray.AddMenuItem("Devices", "Select loopback device")
	u.buildDeviceMenu()

	systray.AddSeparator()
	mTranscribe := systray.AddMenuItem("Transcribe Last Recording", "Run the transcription script")
	mCopy := systray.AddMenuItem("Copy Last Transcript", "Copy the transcript text to the clipboard")
	mOpenFolder := systray.AddMenuItem("Open Recordings Folder", "Show recordings in the file manager")

	systray.AddSeparator()
	mQuit := systray.AddMenuItem("Quit", "Exit application")

	// Event loop
	go u.handleEvents(mTranscribe, mCopy, mOpenFolder, mQuit)
}

func (u *UI) handleEvents(mTranscribe, mCopy, mOpenFolder, mQuit *systray.MenuItem) {
	for {
		select {
		case <-u.mStartStop.ClickedCh:
			u.toggleRecording()
		case <-mTranscribe.ClickedCh:
			u.transcribeLast()
		case <-mCopy.ClickedCh:
			u.copyLastTranscript()
		case <-mOpenFolder.ClickedCh:
			u.openRecordingsFolder()
		case <-mQuit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

func (u *UI) buildDeviceMenu() {
	devices, err := u.app.Devices()
	if err != nil {
		u.log.Error().Err(err).Msg("Failed to list audio devices")
		return
	}
	if len(devices) == 0 {
		item := u.mDevices.AddSubMenuItem("No loopback devices found", "")
		item.Disable()
		return
	}

	configured := u.cfg.Audio.DeviceID
	deviceItems := make(map[int]*systray.MenuItem)

	for _, dev := range devices {
		title := dev.Name
		if dev.Default {
			title += " (default)"
		}
		item := u.mDevices.AddSubMenuItem(title, dev.HostAPI)
		if (configured != nil && *configured == dev.ID) || (configured == nil && dev.Default) {
			item.Check()
		}
		deviceItems[dev.ID] = item

		go func(deviceID int, deviceName string, menuItem *systray.MenuItem) {
			for {
				<-menuItem.ClickedCh
				id := deviceID
				if err := u.app.SetDevice(&id); err != nil {
					u.log.Warn().Err(err).Str("device", deviceName).Msg("Failed to change audio device")
					continue
				}
				// Uncheck all other items
				for otherID, itm := range deviceItems {
					if otherID != deviceID {
						itm.Uncheck()
					}
				}
				menuItem.Check()
				u.log.Info().Str("device", deviceName).Msg("Changed audio device")
			}
		}(dev.ID, dev.Name, item)
	}
}

func (u *UI) toggleRecording() {
	if u.app.IsRecording() {
		if _, _, err := u.app.StopRecording(); err != nil {
			u.log.Error().Err(err).Msg("Failed to stop recording")
		}
		return
	}
	if _, err := u.app.StartRecording("", nil); err != nil {
		u.log.Error().Err(err).Msg("Failed to start recording")
	}
}

func (u *UI) transcribeLast() {
	if err := u.app.Transcribe(""); err != nil {
		u.log.Error().Err(err).Msg("Failed to start transcription")
	}
}

func (u *UI) copyLastTranscript() {
	path := u.app.Status().LastTranscript
	if path == "" {
		u.log.Warn().Msg("No transcript to copy yet")
		return
	}

	text, err := os.ReadFile(path)
	if err != nil {
		u.log.Error().Err(err).Str("path", path).Msg("Failed to read transcript")
		return
	}
	if err := clipboard.WriteAll(string(text)); err != nil {
		u.log.Error().Err(err).Msg("Failed to copy transcript to clipboard")
		return
	}
	u.log.Info().Str("path", path).Msg("Copied transcript to clipboard")
}

func (u *UI) openRecordingsFolder() {
	dir := u.app.OutputDir()
	if err := openFolder(dir); err != nil {
		u.log.Error().Err(err).Str("dir", dir).Msg("Failed to open recordings folder")
	}
}

// openFolder launches the platform file manager on dir. Start instead of
// Run: explorer.exe reports a nonzero exit status even on success.
func openFolder(dir string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("explorer", dir)
	case "darwin":
		cmd = exec.Command("open", dir)
	default:
		cmd = exec.Command("xdg-open", dir)
	}
	return cmd.Start()
}

func (u *UI) onExit() {
	// Cleanup
}

// updateStatus sets the tray title with headphones emoji and status indicator
func (u *UI) updateStatus(status string) {
	systray.SetTitle(fmt.Sprintf("🎧 %s", emojiForStatus(status)))

	if u.mStartStop == nil {
		return
	}
	if status == "recording" {
		u.mStartStop.SetTitle("Stop Recording")
	} else {
		u.mStartStop.SetTitle("Start Recording")
	}
}

// emojiForStatus returns the appropriate status emoji
func emojiForStatus(status string) string {
	switch status {
	case "recording":
		return "🔴" // Red - recording
	case "processing":
		return "🟡" // Yellow - transcription running
	case "idle":
		return "🟢" // Green - ready/idle
	case "error":
		return "⚪️" // White - error
	default:
		return "🟢" // Green - default to ready
	}
}
