// Package capture owns the microphone for the lifetime of one recording
// session. It streams hardware frames into a WAV artifact, feeds a loudness
// value per frame to the level stream, and tears the device down through the
// reclamation sequence so the OS recording indicator is released after every
// session, including faulted ones.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/polyvoice/polyvoice/internal/level"
)

// State is the engine lifecycle state. Exactly one engine exists per process
// and all transitions are serialized behind its mutex.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateFaulted:
		return "faulted"
	}
	return "unknown"
}

var (
	// ErrHardwareUnavailable means the input device could not be opened or
	// disappeared mid-session.
	ErrHardwareUnavailable = errors.New("audio input device unavailable")
	// ErrInvalidStateTransition is a precondition violation by the caller.
	ErrInvalidStateTransition = errors.New("capture engine is busy")
	// ErrNotRecording is returned by Stop when no session is active.
	ErrNotRecording = errors.New("no active recording")
)

// Session is one recording. Owned exclusively by the engine; at most one is
// active at a time.
type Session struct {
	ID           string
	StartedAt    time.Time
	ArtifactPath string
	FrameCount   int
}

// Events receives lifecycle notifications. Calls arrive from engine
// goroutines; implementations must not call back into the engine.
type Events interface {
	CaptureStarted(sessionID string)
	CaptureStopped(artifactPath string)
	CaptureFaulted(err error)
}

// NopEvents discards all notifications.
type NopEvents struct{}

func (NopEvents) CaptureStarted(string) {}
func (NopEvents) CaptureStopped(string) {}
func (NopEvents) CaptureFaulted(error)  {}

// Options tunes the engine.
type Options struct {
	DeviceID         string
	SampleRate       int
	FramesPerBuffer  int
	MaxWriteFailures int           // consecutive encoder failures before faulting
	OpenTimeout      time.Duration // bound on opening the hardware device
	SettleDelay      time.Duration // pause before the reclamation touch step
	ArtifactDir      string        // empty = os.TempDir
}

func (o *Options) applyDefaults() {
	if o.SampleRate <= 0 {
		o.SampleRate = 16000
	}
	if o.FramesPerBuffer <= 0 {
		o.FramesPerBuffer = 512
	}
	if o.MaxWriteFailures <= 0 {
		o.MaxWriteFailures = 5
	}
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = 2 * time.Second
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = 100 * time.Millisecond
	}
	if o.ArtifactDir == "" {
		o.ArtifactDir = os.TempDir()
	}
}

// frameWriter is the artifact encoder surface the engine writes against.
type frameWriter interface {
	WriteFrame(samples []int16) error
	Frames() int
	Close() error
}

// newEncoder is swapped out by tests to inject write failures.
var newEncoder = func(path string, sampleRate int) (frameWriter, error) {
	return newArtifactEncoder(path, sampleRate)
}

// Engine is the capture state machine.
type Engine struct {
	opts      Options
	newHost   HostFactory
	levels    *level.Stream
	events    Events
	hasMic    func() bool
	reclaimer *Reclaimer
	log       zerolog.Logger

	mu         sync.Mutex
	cond       *sync.Cond
	state      State
	session    *Session
	host       Host
	stream     InputStream
	enc        frameWriter
	detach     chan struct{}
	detachOnce *sync.Once
	loopDone   chan struct{}
}

// New creates an engine and opens its initial host handle.
func New(opts Options, factory HostFactory, levels *level.Stream, events Events, hasMic func() bool, log zerolog.Logger) (*Engine, error) {
	opts.applyDefaults()

	host, err := factory()
	if err != nil {
		return nil, err
	}

	if events == nil {
		events = NopEvents{}
	}

	e := &Engine{
		opts:      opts,
		newHost:   factory,
		levels:    levels,
		events:    events,
		hasMic:    hasMic,
		reclaimer: NewReclaimer(opts.SettleDelay, log),
		log:       log.With().Str("component", "capture").Logger(),
		host:      host,
	}
	e.cond = sync.NewCond(&e.mu)
	return e, nil
}

// State returns the current engine state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// ListInputDevices enumerates input devices on the current host handle.
func (e *Engine) ListInputDevices() ([]Device, error) {
	e.mu.Lock()
	host := e.host
	e.mu.Unlock()
	return host.ListInputDevices()
}

// SetDevice changes the input device for subsequent sessions. An active
// session keeps the device it opened.
func (e *Engine) SetDevice(deviceID string) {
	e.mu.Lock()
	e.opts.DeviceID = deviceID
	e.mu.Unlock()
}

// Start begins a new recording session. Precondition: the engine is idle;
// otherwise ErrInvalidStateTransition is returned and the active session is
// unaffected. A device that cannot be opened within the open timeout fails
// with ErrHardwareUnavailable and the engine returns to idle.
func (e *Engine) Start(ctx context.Context) (string, error) {
	e.mu.Lock()
	if e.state != StateIdle {
		state := e.state
		e.mu.Unlock()
		return "", fmt.Errorf("%w: cannot start while %s", ErrInvalidStateTransition, state)
	}
	if e.hasMic != nil && !e.hasMic() {
		e.mu.Unlock()
		return "", fmt.Errorf("%w: microphone permission not granted", ErrHardwareUnavailable)
	}

	sess := &Session{
		ID:        strings.ReplaceAll(uuid.New().String(), "-", "")[:16],
		StartedAt: time.Now(),
	}
	sess.ArtifactPath = filepath.Join(e.opts.ArtifactDir, fmt.Sprintf("polyvoice_%s.wav", sess.ID))
	e.state = StateStarting
	e.session = sess
	host := e.host
	e.mu.Unlock()

	e.log.Info().Str("session", sess.ID).Str("artifact", sess.ArtifactPath).Msg("Starting capture")

	stream, err := e.openInput(ctx, host)
	if err != nil {
		e.abortStart(nil, nil, sess)
		return "", err
	}

	enc, err := newEncoder(sess.ArtifactPath, e.opts.SampleRate)
	if err != nil {
		e.abortStart(stream, nil, sess)
		return "", fmt.Errorf("%w: %v", ErrHardwareUnavailable, err)
	}

	if err := stream.Start(); err != nil {
		e.abortStart(stream, enc, sess)
		return "", fmt.Errorf("%w: %v", ErrHardwareUnavailable, err)
	}

	detach := make(chan struct{})
	done := make(chan struct{})

	e.mu.Lock()
	e.stream = stream
	e.enc = enc
	e.detach = detach
	e.detachOnce = &sync.Once{}
	e.loopDone = done
	e.mu.Unlock()

	go e.frameLoop(stream, enc, detach, done)

	return sess.ID, nil
}

// openInput opens the device with a bounded timeout so a wedged backend
// cannot hang the caller.
func (e *Engine) openInput(ctx context.Context, host Host) (InputStream, error) {
	type result struct {
		stream InputStream
		err    error
	}
	ch := make(chan result, 1)

	go func() {
		s, err := host.OpenInput(e.opts.DeviceID, e.opts.SampleRate, e.opts.FramesPerBuffer)
		ch <- result{s, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrHardwareUnavailable, r.err)
		}
		return r.stream, nil
	case <-time.After(e.opts.OpenTimeout):
		// Close the handle if the open ever completes.
		go func() {
			if r := <-ch; r.stream != nil {
				r.stream.Close()
			}
		}()
		return nil, fmt.Errorf("%w: open timed out after %s", ErrHardwareUnavailable, e.opts.OpenTimeout)
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.stream != nil {
				r.stream.Close()
			}
		}()
		return nil, fmt.Errorf("%w: %v", ErrHardwareUnavailable, ctx.Err())
	}
}

// abortStart is the best-effort cleanup for a failed Start; it returns the
// engine straight to idle without the full reclamation sequence.
func (e *Engine) abortStart(stream InputStream, enc frameWriter, sess *Session) {
	if enc != nil {
		if err := enc.Close(); err != nil {
			e.log.Warn().Err(err).Msg("Encoder close during start abort failed")
		}
		os.Remove(sess.ArtifactPath)
	}
	if stream != nil {
		if err := stream.Close(); err != nil {
			e.log.Warn().Err(err).Msg("Stream close during start abort failed")
		}
	}

	e.mu.Lock()
	e.state = StateIdle
	e.session = nil
	e.cond.Broadcast()
	e.mu.Unlock()

	e.log.Warn().Str("session", sess.ID).Msg("Capture start aborted")
}

// frameLoop pulls frames at hardware cadence until detached or faulted.
func (e *Engine) frameLoop(stream InputStream, enc frameWriter, detach, done chan struct{}) {
	faultErr := e.runFrames(stream, enc, detach)
	close(done)
	if faultErr != nil {
		e.fault(faultErr, stream, enc)
	}
}

func (e *Engine) runFrames(stream InputStream, enc frameWriter, detach chan struct{}) error {
	writeFailures := 0

	for {
		select {
		case <-detach:
			return nil
		default:
		}

		samples, err := stream.Read()
		if err != nil {
			select {
			case <-detach:
				// Stream torn down under us during stop.
				return nil
			default:
			}
			return fmt.Errorf("%w: read failed: %v", ErrHardwareUnavailable, err)
		}

		if e.firstFrame() {
			e.log.Debug().Msg("First frame delivered, capture running")
		}

		if err := enc.WriteFrame(samples); err != nil {
			writeFailures++
			e.log.Warn().Err(err).Int("consecutive", writeFailures).Msg("Frame write failed")
			if writeFailures >= e.opts.MaxWriteFailures {
				return fmt.Errorf("artifact write failed %d times in a row: %w", writeFailures, err)
			}
		} else {
			writeFailures = 0
		}

		e.mu.Lock()
		if e.session != nil {
			e.session.FrameCount++
		}
		e.mu.Unlock()

		e.levels.Push(frameLevel(samples))
	}
}

// firstFrame flips Starting to Running exactly once per session and reports
// whether this call did the flip.
func (e *Engine) firstFrame() bool {
	e.mu.Lock()
	if e.state != StateStarting {
		e.mu.Unlock()
		return false
	}
	e.state = StateRunning
	sessionID := e.session.ID
	e.cond.Broadcast()
	e.mu.Unlock()

	e.events.CaptureStarted(sessionID)
	return true
}

// Stop finalizes the active session and returns the artifact path. Calling
// while idle returns ErrNotRecording. Calling during startup blocks until the
// engine is running or the startup failed, then proceeds. The frame callback
// is detached, and no further frames are delivered, before the artifact is
// finalized; reclamation always runs to completion before Stop returns.
func (e *Engine) Stop(ctx context.Context) (string, error) {
	e.mu.Lock()

	if e.state == StateStarting {
		// The wait is bounded: if the first frame never arrives the
		// timer wakes us and the stop is rejected below.
		deadline := time.Now().Add(e.opts.OpenTimeout)
		timer := time.AfterFunc(e.opts.OpenTimeout, func() {
			e.mu.Lock()
			e.cond.Broadcast()
			e.mu.Unlock()
		})
		// A fault during startup is transient; wait it out so the
		// caller sees ErrNotRecording, not a busy engine.
		for (e.state == StateStarting || e.state == StateFaulted) && time.Now().Before(deadline) {
			e.cond.Wait()
		}
		timer.Stop()
	}

	// Reclamation after a mid-session fault always finishes in Idle.
	for e.state == StateFaulted {
		e.cond.Wait()
	}

	switch e.state {
	case StateIdle:
		e.mu.Unlock()
		return "", ErrNotRecording
	case StateRunning:
		// proceed
	default:
		state := e.state
		e.mu.Unlock()
		return "", fmt.Errorf("%w: cannot stop while %s", ErrInvalidStateTransition, state)
	}

	e.state = StateStopping
	sess := e.session
	stream := e.stream
	enc := e.enc
	detach := e.detach
	once := e.detachOnce
	done := e.loopDone
	e.mu.Unlock()

	e.log.Info().Str("session", sess.ID).Msg("Stopping capture")

	detachFn := func() error {
		once.Do(func() { close(detach) })
		select {
		case <-done:
			return nil
		case <-time.After(e.opts.OpenTimeout):
			return fmt.Errorf("frame loop did not drain in %s", e.opts.OpenTimeout)
		}
	}

	// The callback must be gone before the encoder is touched.
	if err := detachFn(); err != nil {
		e.log.Error().Err(err).Msg("Frame loop detach failed")
	}

	frames := enc.Frames()
	if err := enc.Close(); err != nil {
		e.log.Error().Err(err).Msg("Artifact finalize failed")
	}

	e.reclaim(detachFn, stream)

	e.mu.Lock()
	e.state = StateIdle
	e.session = nil
	e.stream = nil
	e.enc = nil
	e.cond.Broadcast()
	e.mu.Unlock()

	e.levels.Reset()

	e.log.Info().
		Str("session", sess.ID).
		Int("frames", frames).
		Dur("duration", time.Since(sess.StartedAt)).
		Msg("Capture stopped")

	e.events.CaptureStopped(sess.ArtifactPath)
	return sess.ArtifactPath, nil
}

// fault moves a starting or running engine to Faulted, runs the full
// reclamation sequence, and only then returns to Idle. Runs on the frame
// loop's goroutine after it exits.
func (e *Engine) fault(cause error, stream InputStream, enc frameWriter) {
	e.mu.Lock()
	if e.state != StateStarting && e.state != StateRunning {
		e.mu.Unlock()
		return
	}
	e.state = StateFaulted
	sess := e.session
	once := e.detachOnce
	detach := e.detach
	done := e.loopDone
	e.cond.Broadcast()
	e.mu.Unlock()

	e.log.Error().Err(cause).Str("session", sess.ID).Msg("Capture faulted")

	if err := enc.Close(); err != nil {
		e.log.Warn().Err(err).Msg("Encoder close after fault failed")
	}
	os.Remove(sess.ArtifactPath)

	detachFn := func() error {
		once.Do(func() { close(detach) })
		<-done
		return nil
	}
	e.reclaim(detachFn, stream)

	e.mu.Lock()
	e.state = StateIdle
	e.session = nil
	e.stream = nil
	e.enc = nil
	e.cond.Broadcast()
	e.mu.Unlock()

	e.levels.Reset()
	e.events.CaptureFaulted(cause)
}

// reclaim runs the four-step teardown against the given stream and the
// engine's host handle.
func (e *Engine) reclaim(detach func() error, stream InputStream) {
	e.reclaimer.Run(Teardown{
		Detach: detach,
		StopStream: func() error {
			stopErr := stream.Stop()
			closeErr := stream.Close()
			if stopErr != nil {
				return stopErr
			}
			return closeErr
		},
		RecreateHost: func() error {
			e.mu.Lock()
			old := e.host
			e.mu.Unlock()

			if err := old.Close(); err != nil {
				e.log.Warn().Err(err).Msg("Old host close failed")
			}
			fresh, err := e.newHost()
			if err != nil {
				return err
			}
			e.mu.Lock()
			e.host = fresh
			e.mu.Unlock()
			return nil
		},
		TouchInput: func() error {
			e.mu.Lock()
			host := e.host
			e.mu.Unlock()

			// Throwaway open/close forces the OS to drop a stale
			// recording indicator.
			s, err := host.OpenInput(e.opts.DeviceID, 8000, 64)
			if err != nil {
				return err
			}
			return s.Close()
		},
	})
}

// Close shuts the engine down, stopping any active session first.
func (e *Engine) Close() error {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()

	if state == StateRunning || state == StateStarting {
		if _, err := e.Stop(context.Background()); err != nil && !errors.Is(err, ErrNotRecording) {
			e.log.Warn().Err(err).Msg("Stop during close failed")
		}
	}

	e.mu.Lock()
	host := e.host
	e.mu.Unlock()
	return host.Close()
}
