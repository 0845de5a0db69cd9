package app

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/polyvoice/polyvoice/internal/capture"
	"github.com/polyvoice/polyvoice/internal/config"
	"github.com/polyvoice/polyvoice/internal/gesture"
	"github.com/polyvoice/polyvoice/internal/inject"
	"github.com/polyvoice/polyvoice/internal/notify"
	"github.com/polyvoice/polyvoice/internal/transcribe"
)

// StatusUpdater is an interface for updating status (e.g., tray icon)
type StatusUpdater interface {
	SetIdle()
	SetRecording()
	SetProcessing()
	SetError()
}

// Recorder is the capture engine surface the app drives.
type Recorder interface {
	Start(ctx context.Context) (string, error)
	Stop(ctx context.Context) (string, error)
}

type Config struct {
	Recorder    Recorder
	Transcriber transcribe.Transcriber
	Injector    inject.Injector
	Notifier    notify.Notifier
	Config      *config.Config
	Logger      zerolog.Logger
	// StatusUpdater is optional and can be nil.
	StatusUpdater StatusUpdater
	// Classified is optional; it is forwarded one classification per
	// completed gesture, independent of recording.
	Classified func(c gesture.Classification)
}

// App wires the gesture monitor to the capture engine and hands finished
// artifacts to the transcription sink. It implements gesture.Listener and
// capture.Events.
type App struct {
	rec        Recorder
	stt        transcribe.Transcriber
	inj        inject.Injector
	alert      notify.Notifier
	cfg        *config.Config
	log        zerolog.Logger
	status     StatusUpdater
	classified func(c gesture.Classification)

	mu        sync.Mutex
	recording bool
}

func New(cfg Config) *App {
	alert := cfg.Notifier
	if alert == nil {
		alert = notify.Nop{}
	}
	return &App{
		rec:        cfg.Recorder,
		stt:        cfg.Transcriber,
		inj:        cfg.Injector,
		alert:      alert,
		cfg:        cfg.Config,
		log:        cfg.Logger,
		status:     cfg.StatusUpdater,
		classified: cfg.Classified,
	}
}

// PressBegan starts a capture session. A start failure must never leave the
// UI showing a recording state.
func (a *App) PressBegan(at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.recording {
		return
	}

	if a.status != nil {
		a.status.SetRecording()
	}

	id, err := a.rec.Start(context.Background())
	if err != nil {
		a.log.Error().Err(err).Msg("Failed to start capture")
		if a.status != nil {
			a.status.SetError()
		}
		if errors.Is(err, capture.ErrHardwareUnavailable) {
			a.alert.Alert("PolyVoice", "Microphone unavailable. Check permissions and input device.")
		}
		return
	}

	a.recording = true
	a.log.Info().Str("session", id).Msg("Dictation started")
}

// PressEnded finalizes the session and hands the artifact off for
// transcription and injection.
func (a *App) PressEnded(at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.recording {
		return
	}
	a.recording = false

	if a.status != nil {
		a.status.SetProcessing()
	}

	path, err := a.rec.Stop(context.Background())
	if err != nil {
		if errors.Is(err, capture.ErrNotRecording) {
			// Session already gone, e.g. faulted between press and release.
			if a.status != nil {
				a.status.SetIdle()
			}
			return
		}
		a.log.Error().Err(err).Msg("Failed to stop capture")
		if a.status != nil {
			a.status.SetError()
		}
		return
	}

	go a.finishArtifact(path)
}

// PressClassified forwards the gesture classification to the UI/automation
// hook, independent of the recording outcome.
func (a *App) PressClassified(c gesture.Classification) {
	a.log.Debug().Str("kind", c.Kind.String()).Dur("duration", c.Duration).Msg("Gesture classified")
	if a.classified != nil {
		a.classified(c)
	}
}

// finishArtifact uploads the artifact, injects the transcript, and removes
// the temporary file.
func (a *App) finishArtifact(path string) {
	timeout := time.Duration(a.cfg.API.TimeoutMs) * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	res, err := a.stt.Transcribe(ctx, path)
	if err != nil {
		a.log.Error().Err(err).Str("artifact", path).Msg("Transcription failed")
		if a.status != nil {
			a.status.SetError()
		}
		a.alert.Alert("PolyVoice", "Transcription failed. Is the service running?")
		return
	}
	os.Remove(path)

	text := a.applyFilters(res.Text)
	if text == "" {
		a.log.Info().Msg("No text to inject")
		if a.status != nil {
			a.status.SetIdle()
		}
		return
	}

	injectCtx, injectCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer injectCancel()

	if err := a.inj.PasteOrType(injectCtx, text); err != nil {
		a.log.Error().Err(err).Msg("Inject error")
		if a.status != nil {
			a.status.SetError()
		}
	} else {
		a.log.Info().Str("text", text).Msg("Injected")
		if a.status != nil {
			a.status.SetIdle()
		}
	}
}

func (a *App) applyFilters(text string) string {
	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return text
	}

	// Auto-capitalize first letter
	if text[0] >= 'a' && text[0] <= 'z' {
		text = string(text[0]-32) + text[1:]
	}

	if a.cfg.AppendSpace {
		text += " "
	}

	return text
}

// capture.Events implementation.

func (a *App) CaptureStarted(sessionID string) {
	a.log.Debug().Str("session", sessionID).Msg("Capture running")
}

func (a *App) CaptureStopped(artifactPath string) {
	a.log.Debug().Str("artifact", artifactPath).Msg("Capture stopped")
}

func (a *App) CaptureFaulted(err error) {
	a.mu.Lock()
	a.recording = false
	a.mu.Unlock()

	a.log.Error().Err(err).Msg("Capture faulted")
	if a.status != nil {
		a.status.SetError()
	}
	a.alert.Alert("PolyVoice", "Recording stopped unexpectedly.")
}

// IsRecording reports whether a dictation session is active.
func (a *App) IsRecording() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.recording
}

func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	recording := a.recording
	a.recording = false
	a.mu.Unlock()

	if recording {
		if _, err := a.rec.Stop(ctx); err != nil && !errors.Is(err, capture.ErrNotRecording) {
			return err
		}
	}
	return nil
}
