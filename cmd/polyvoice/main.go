package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/polyvoice/polyvoice/internal/app"
	"github.com/polyvoice/polyvoice/internal/capture"
	"github.com/polyvoice/polyvoice/internal/config"
	"github.com/polyvoice/polyvoice/internal/gesture"
	"github.com/polyvoice/polyvoice/internal/hotkey"
	"github.com/polyvoice/polyvoice/internal/inject"
	"github.com/polyvoice/polyvoice/internal/level"
	"github.com/polyvoice/polyvoice/internal/logging"
	"github.com/polyvoice/polyvoice/internal/notify"
	"github.com/polyvoice/polyvoice/internal/permissions"
	"github.com/polyvoice/polyvoice/internal/transcribe"
	"github.com/polyvoice/polyvoice/internal/tray"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

// eventsRelay forwards capture events to a target installed after the
// engine exists. The engine and the app reference each other, so one side
// has to be wired late.
type eventsRelay struct {
	mu     sync.Mutex
	target capture.Events
}

func (r *eventsRelay) set(t capture.Events) {
	r.mu.Lock()
	r.target = t
	r.mu.Unlock()
}

func (r *eventsRelay) get() capture.Events {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.target == nil {
		return capture.NopEvents{}
	}
	return r.target
}

func (r *eventsRelay) CaptureStarted(sessionID string) { r.get().CaptureStarted(sessionID) }

func (r *eventsRelay) CaptureStopped(artifactPath string) { r.get().CaptureStopped(artifactPath) }

func (r *eventsRelay) CaptureFaulted(err error) { r.get().CaptureFaulted(err) }

func main() {
	// Load config from XDG/Library/AppData
	cfg, err := config.Load()
	if err != nil {
		// Use default logger if config fails to load
		log := logging.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	// Initialize logger with configured level
	log := logging.NewWithLevel(cfg.LogLevel)

	// macOS requires explicit microphone + accessibility approval before capture or hotkeys work
	if err := permissions.EnsurePermissions(); err != nil {
		log.Fatal().Err(err).Msg("Required permissions not granted")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Level stream shared by the engine and the tray meter
	levels := level.NewStream(cfg.Level.Alpha, cfg.Level.Capacity)

	// Initialize the capture engine
	relay := &eventsRelay{}
	engine, err := capture.New(capture.Options{
		DeviceID:         cfg.Audio.DeviceID,
		SampleRate:       cfg.Audio.SampleRate,
		FramesPerBuffer:  cfg.Audio.FramesPerBuffer,
		MaxWriteFailures: cfg.Capture.MaxWriteFailures,
		OpenTimeout:      time.Duration(cfg.Capture.OpenTimeoutMs) * time.Millisecond,
		SettleDelay:      time.Duration(cfg.Capture.SettleDelayMs) * time.Millisecond,
		ArtifactDir:      cfg.Capture.ArtifactDir,
	}, capture.NewPortAudioHost, levels, relay, permissions.HasMicrophoneAccess, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize audio")
	}
	defer engine.Close()

	// Remote transcription client
	transcriber := transcribe.NewClient(cfg.API.BaseURL, time.Duration(cfg.API.TimeoutMs)*time.Millisecond, log)
	if _, err := transcriber.CheckHealth(ctx); err != nil {
		log.Warn().Err(err).Str("url", cfg.API.BaseURL).Msg("Transcription service unreachable, continuing anyway")
	}

	// Initialize text injector
	injector := inject.New(cfg.Inject)

	// Initialize hotkey manager
	hkManager, err := hotkey.New()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize hotkeys")
	}
	defer hkManager.Close()

	// Create tray UI
	trayUI := tray.New(engine, levels, cfg, Version, Commit)

	// Create app with tray as status updater
	application := app.New(app.Config{
		Recorder:      engine,
		Transcriber:   transcriber,
		Injector:      injector,
		Notifier:      notify.New(),
		Config:        cfg,
		Logger:        log,
		StatusUpdater: trayUI,
	})
	relay.set(application)

	// Wire the hold-to-talk gesture to the app
	threshold := time.Duration(cfg.Gesture.HoldThresholdMs) * time.Millisecond
	monitor := gesture.NewMonitor(hkManager, cfg.PlatformHotkey(), threshold, log)
	monitor.AddListener(application)
	if err := monitor.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to register hotkey")
	}
	defer monitor.Stop()

	log.Info().Msg("PolyVoice starting...")

	// Setup shutdown signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Shutting down...")
		monitor.Stop()
		if err := application.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Shutdown error")
		}
		engine.Close()
		os.Exit(0)
	}()

	// Start tray UI - MUST run on main thread
	if err := trayUI.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Tray error")
	}
}
