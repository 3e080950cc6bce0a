package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/getlantern/systray"
	"github.com/spf13/cobra"

	"github.com/meetscribe/meetscribe/internal/app"
	"github.com/meetscribe/meetscribe/internal/archive"
	"github.com/meetscribe/meetscribe/internal/audio"
	"github.com/meetscribe/meetscribe/internal/config"
	"github.com/meetscribe/meetscribe/internal/events"
	"github.com/meetscribe/meetscribe/internal/logging"
	"github.com/meetscribe/meetscribe/internal/server"
	"github.com/meetscribe/meetscribe/internal/transcribe"
	"github.com/meetscribe/meetscribe/internal/tray"
	"github.com/meetscribe/meetscribe/internal/version"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

const (
	githubRepo      = "meetscribe/meetscribe"
	shutdownTimeout = 2 * time.Minute
)

var (
	cfgFile  string
	headless bool
)

var rootCmd = &cobra.Command{
	Use:   "meetscribe",
	Short: "System audio meeting recorder",
	Long: `MeetScribe records what the system is playing through a loopback device,
writes mono 16 kHz WAV files and hands them to a speaker-aware
transcription script.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the recorder with tray icon and control API",
	Run: func(cmd *cobra.Command, args []string) {
		runApp()
	},
}

var recordCmd = &cobra.Command{
	Use:   "record [path]",
	Short: "Record until interrupted, then transcribe if configured",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := ""
		if len(args) > 0 {
			path = args[0]
		}
		recordOnce(path)
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List loopback capture devices",
	Run: func(cmd *cobra.Command, args []string) {
		listDevices()
	},
}

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <wav>",
	Short: "Run the transcription script on an existing recording",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		transcribeFile(args[0])
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("meetscribe %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is the platform config dir)")
	runCmd.Flags().BoolVar(&headless, "headless", false, "run without the tray icon")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(transcribeCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runApp() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		// Use default logger if config fails to load
		log := logging.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	// Initialize logger with configured level
	log := logging.NewWithLevel(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	driver, err := audio.New()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize audio")
	}
	defer driver.Close()

	journal, err := events.NewLogger(events.DefaultPath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open event journal")
	}
	defer journal.Close()

	runner := transcribe.NewScriptRunner(cfg.Transcribe, log)

	var uploader *archive.Uploader
	if cfg.Archive.Enabled {
		uploader, err = archive.NewUploader(cfg.Archive, journal, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize archive uploader")
		}
		defer uploader.Stop()
	}

	var checker *version.Checker
	if cfg.CheckUpdates {
		checker = version.NewChecker(githubRepo, Version, Commit, log)
		defer checker.Stop()
	}

	useTray := cfg.Tray && !headless

	// Create tray UI first (we'll pass it to app)
	var trayUI *tray.UI
	var status app.StatusUpdater
	if useTray {
		trayUI = tray.New(nil, cfg, Version, Commit, log) // App reference set below
		status = trayUI
	}

	application := app.New(app.Config{
		Driver:        driver,
		Transcriber:   runner,
		Uploader:      uploader,
		Journal:       journal,
		Updates:       checker,
		Config:        cfg,
		ConfigPath:    cfgFile,
		Logger:        log,
		StatusUpdater: status,
	})
	if trayUI != nil {
		trayUI.SetApp(application)
	}

	var httpSrv *http.Server
	if cfg.Server.Enabled {
		httpSrv = server.New(application, log).Start(cfg.Server.Listen)
	}

	go runRetention(ctx, application)

	log.Info().Str("version", Version).Str("commit", Commit).Msg("MeetScribe starting")

	// Setup shutdown signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		<-sigChan
		if useTray {
			systray.Quit()
		} else {
			close(done)
		}
	}()

	if useTray {
		// Start tray UI - MUST run on main thread
		if err := trayUI.Run(ctx); err != nil {
			log.Fatal().Err(err).Msg("Tray error")
		}
	} else {
		<-done
	}

	log.Info().Msg("Shutting down...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if httpSrv != nil {
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP shutdown error")
		}
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
	}
}

// runRetention applies the retention policy on startup and then daily.
func runRetention(ctx context.Context, application *app.App) {
	application.Housekeeping(ctx)

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			application.Housekeeping(ctx)
		}
	}
}

func recordOnce(path string) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		log := logging.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	log := logging.NewWithLevel(cfg.LogLevel)

	driver, err := audio.New()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize audio")
	}
	defer driver.Close()

	journal, err := events.NewLogger(events.DefaultPath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open event journal")
	}
	defer journal.Close()

	runner := transcribe.NewScriptRunner(cfg.Transcribe, log)

	var uploader *archive.Uploader
	if cfg.Archive.Enabled {
		uploader, err = archive.NewUploader(cfg.Archive, journal, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize archive uploader")
		}
		defer uploader.Stop()
	}

	application := app.New(app.Config{
		Driver:      driver,
		Transcriber: runner,
		Uploader:    uploader,
		Journal:     journal,
		Config:      cfg,
		ConfigPath:  cfgFile,
		Logger:      log,
	})

	started, err := application.StartRecording(path, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start recording")
	}
	fmt.Printf("Recording to %s. Press Ctrl+C to stop.\n", started)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	signal.Stop(sigChan)

	fmt.Println("Stopping...")
	// No deadline: a one-shot run waits for the transcription to finish.
	if err := application.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
	}
	fmt.Printf("Saved %s\n", started)
}

func listDevices() {
	driver, err := audio.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize audio: %v\n", err)
		os.Exit(1)
	}
	defer driver.Close()

	devices, err := driver.Devices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to enumerate devices: %v\n", err)
		os.Exit(1)
	}
	if len(devices) == 0 {
		fmt.Println("No loopback-capable devices found.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tHOST API\tCHANNELS\tDEFAULT")
	for _, d := range devices {
		def := ""
		if d.Default {
			def = "*"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", d.ID, d.Name, d.HostAPI, d.MaxOutputChannels, def)
	}
	w.Flush()
}

func transcribeFile(path string) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logging.NewWithLevel(cfg.LogLevel)

	runner := transcribe.NewScriptRunner(cfg.Transcribe, log)
	res, err := runner.Transcribe(context.Background(), path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Transcription failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Transcript: %s\n", res.TranscriptPath)
	fmt.Printf("Subtitles:  %s\n", res.SubtitlePath)
	fmt.Printf("Took %s\n", res.Duration.Round(time.Second))
}
