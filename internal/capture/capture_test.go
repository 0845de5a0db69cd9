package capture

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyvoice/polyvoice/internal/level"
)

// fakeBackend stands in for the audio hardware across host recreations.
type fakeBackend struct {
	mu           sync.Mutex
	hostsMade    int
	hostsClosed  int
	sessionOpens int
	touchOpens   int
	openErr      error
	openDelay    time.Duration
	makeStream   func() *fakeStream
}

func newFakeBackend() *fakeBackend {
	b := &fakeBackend{}
	b.makeStream = func() *fakeStream { return newFakeStream() }
	return b
}

func (b *fakeBackend) factory() (Host, error) {
	b.mu.Lock()
	b.hostsMade++
	b.mu.Unlock()
	return &fakeHost{b: b}, nil
}

func (b *fakeBackend) counts() (hostsMade, hostsClosed, sessionOpens, touchOpens int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hostsMade, b.hostsClosed, b.sessionOpens, b.touchOpens
}

type fakeHost struct {
	b *fakeBackend
}

func (h *fakeHost) OpenInput(deviceID string, sampleRate, framesPerBuffer int) (InputStream, error) {
	h.b.mu.Lock()
	delay, openErr := h.b.openDelay, h.b.openErr
	h.b.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if openErr != nil {
		return nil, openErr
	}

	h.b.mu.Lock()
	defer h.b.mu.Unlock()
	if sampleRate == 8000 {
		// Reclamation touch open.
		h.b.touchOpens++
		return newFakeStream(), nil
	}
	h.b.sessionOpens++
	return h.b.makeStream(), nil
}

func (h *fakeHost) ListInputDevices() ([]Device, error) {
	return []Device{{ID: "fake", Name: "Fake Microphone", Default: true}}, nil
}

func (h *fakeHost) Close() error {
	h.b.mu.Lock()
	h.b.hostsClosed++
	h.b.mu.Unlock()
	return nil
}

// fakeStream delivers queued frames, then silence at a steady cadence, the
// way real hardware keeps the callback firing.
type fakeStream struct {
	mu         sync.Mutex
	queue      [][]int16
	delivered  int
	errAfter   int // >0: fail reads once this many frames were delivered
	firstDelay time.Duration
	readGap    time.Duration
	stopped    bool
	closed     bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{readGap: time.Millisecond}
}

func (s *fakeStream) Start() error { return nil }

func (s *fakeStream) Read() ([]int16, error) {
	s.mu.Lock()
	gap := s.readGap
	if s.delivered == 0 && s.firstDelay > 0 {
		gap = s.firstDelay
	}
	s.mu.Unlock()
	time.Sleep(gap)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.stopped {
		return nil, errors.New("stream closed")
	}
	if s.errAfter > 0 && s.delivered >= s.errAfter {
		return nil, errors.New("device vanished")
	}

	var out []int16
	if len(s.queue) > 0 {
		out = s.queue[0]
		s.queue = s.queue[1:]
	} else {
		out = make([]int16, 4)
	}
	s.delivered++
	return out, nil
}

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) deliveredCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delivered
}

type eventRecorder struct {
	mu      sync.Mutex
	started []string
	stopped []string
	faulted []error
}

func (r *eventRecorder) CaptureStarted(id string) {
	r.mu.Lock()
	r.started = append(r.started, id)
	r.mu.Unlock()
}

func (r *eventRecorder) CaptureStopped(path string) {
	r.mu.Lock()
	r.stopped = append(r.stopped, path)
	r.mu.Unlock()
}

func (r *eventRecorder) CaptureFaulted(err error) {
	r.mu.Lock()
	r.faulted = append(r.faulted, err)
	r.mu.Unlock()
}

func (r *eventRecorder) counts() (started, stopped, faulted int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.started), len(r.stopped), len(r.faulted)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func newTestEngine(t *testing.T, backend *fakeBackend) (*Engine, *level.Stream, *eventRecorder) {
	t.Helper()
	levels := level.NewStream(0.3, 40)
	rec := &eventRecorder{}
	eng, err := New(Options{
		SampleRate:       16000,
		FramesPerBuffer:  4,
		MaxWriteFailures: 3,
		OpenTimeout:      500 * time.Millisecond,
		SettleDelay:      time.Millisecond,
		ArtifactDir:      t.TempDir(),
	}, backend.factory, levels, rec, nil, zerolog.Nop())
	require.NoError(t, err)
	return eng, levels, rec
}

func loudFrame() []int16 {
	return []int16{12000, -12000, 12000, -12000}
}

func TestStartStopRoundTrip(t *testing.T) {
	backend := newFakeBackend()
	stream := newFakeStream()
	for i := 0; i < 10; i++ {
		stream.queue = append(stream.queue, loudFrame())
	}
	backend.makeStream = func() *fakeStream { return stream }

	eng, _, rec := newTestEngine(t, backend)

	id, err := eng.Start(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	waitFor(t, func() bool { return eng.State() == StateRunning }, "engine never reached running")
	waitFor(t, func() bool { return stream.deliveredCount() >= 10 }, "queued frames never delivered")

	path, err := eng.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateIdle, eng.State())

	// The loop is drained before the artifact was finalized, so the
	// delivered count is stable and must match the samples on disk.
	delivered := stream.deliveredCount()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	dec := wav.NewDecoder(f)
	require.True(t, dec.IsValidFile(), "artifact must be a closed, readable WAV file")
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, delivered*4, len(buf.Data), "artifact sample count must match frames delivered")

	started, stopped, faulted := rec.counts()
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, stopped)
	assert.Equal(t, 0, faulted)
}

func TestDoubleStartRejected(t *testing.T) {
	backend := newFakeBackend()
	eng, _, _ := newTestEngine(t, backend)

	_, err := eng.Start(context.Background())
	require.NoError(t, err)
	waitFor(t, func() bool { return eng.State() == StateRunning }, "engine never reached running")

	_, err = eng.Start(context.Background())
	assert.ErrorIs(t, err, ErrInvalidStateTransition)

	// The original session is unaffected.
	assert.Equal(t, StateRunning, eng.State())
	path, err := eng.Stop(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestStopWhileIdle(t *testing.T) {
	backend := newFakeBackend()
	eng, _, _ := newTestEngine(t, backend)

	_, err := eng.Stop(context.Background())
	assert.ErrorIs(t, err, ErrNotRecording)
}

func TestStartHardwareUnavailable(t *testing.T) {
	backend := newFakeBackend()
	backend.openErr = errors.New("no such device")
	eng, _, rec := newTestEngine(t, backend)

	_, err := eng.Start(context.Background())
	assert.ErrorIs(t, err, ErrHardwareUnavailable)
	assert.Equal(t, StateIdle, eng.State())

	started, _, _ := rec.counts()
	assert.Zero(t, started)

	// Caller may retry once the device is back.
	backend.mu.Lock()
	backend.openErr = nil
	backend.mu.Unlock()

	_, err = eng.Start(context.Background())
	require.NoError(t, err)
	waitFor(t, func() bool { return eng.State() == StateRunning }, "retry never reached running")
	_, err = eng.Stop(context.Background())
	require.NoError(t, err)
}

func TestStartOpenTimeout(t *testing.T) {
	backend := newFakeBackend()
	backend.openDelay = time.Second

	levels := level.NewStream(0.3, 40)
	eng, err := New(Options{
		FramesPerBuffer: 4,
		OpenTimeout:     50 * time.Millisecond,
		SettleDelay:     time.Millisecond,
		ArtifactDir:     t.TempDir(),
	}, backend.factory, levels, nil, nil, zerolog.Nop())
	require.NoError(t, err)

	begin := time.Now()
	_, err = eng.Start(context.Background())
	assert.ErrorIs(t, err, ErrHardwareUnavailable)
	assert.Less(t, time.Since(begin), 500*time.Millisecond, "start must fail fast, not hang on the open")
	assert.Equal(t, StateIdle, eng.State())
}

func TestReadErrorFaultsAndReclaims(t *testing.T) {
	backend := newFakeBackend()
	stream := newFakeStream()
	stream.errAfter = 3
	backend.makeStream = func() *fakeStream { return stream }

	eng, _, rec := newTestEngine(t, backend)

	_, err := eng.Start(context.Background())
	require.NoError(t, err)

	waitFor(t, func() bool { _, _, faulted := rec.counts(); return faulted == 1 }, "fault never surfaced")
	waitFor(t, func() bool { return eng.State() == StateIdle }, "engine never returned to idle after fault")

	hostsMade, hostsClosed, _, touchOpens := backend.counts()
	assert.Equal(t, 2, hostsMade, "reclamation must recreate the host handle")
	assert.Equal(t, 1, hostsClosed)
	assert.Equal(t, 1, touchOpens, "reclamation must touch the input device")

	// Faulted sessions leave no artifact behind.
	_, _, faulted := rec.counts()
	assert.Equal(t, 1, faulted)
	assert.ErrorIs(t, rec.faulted[0], ErrHardwareUnavailable)
}

type fakeEncoder struct {
	mu     sync.Mutex
	writes int
	frames int
	failOn func(write int) bool
}

func (f *fakeEncoder) WriteFrame(samples []int16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.failOn != nil && f.failOn(f.writes) {
		return errors.New("disk full")
	}
	f.frames++
	return nil
}

func (f *fakeEncoder) Frames() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames
}

func (f *fakeEncoder) Close() error { return nil }

func withFakeEncoder(t *testing.T, enc *fakeEncoder) {
	t.Helper()
	orig := newEncoder
	newEncoder = func(path string, sampleRate int) (frameWriter, error) { return enc, nil }
	t.Cleanup(func() { newEncoder = orig })
}

func TestWriteFailureEscalatesToFault(t *testing.T) {
	backend := newFakeBackend()
	enc := &fakeEncoder{failOn: func(int) bool { return true }}
	withFakeEncoder(t, enc)

	eng, _, rec := newTestEngine(t, backend)

	_, err := eng.Start(context.Background())
	require.NoError(t, err)

	waitFor(t, func() bool { _, _, faulted := rec.counts(); return faulted == 1 }, "write failures never escalated")
	waitFor(t, func() bool { return eng.State() == StateIdle }, "engine never recovered to idle")

	enc.mu.Lock()
	writes := enc.writes
	enc.mu.Unlock()
	assert.Equal(t, 3, writes, "fault must trigger after exactly MaxWriteFailures consecutive failures")
}

func TestTransientWriteFailureTolerated(t *testing.T) {
	backend := newFakeBackend()
	enc := &fakeEncoder{failOn: func(write int) bool { return write == 2 }}
	withFakeEncoder(t, enc)

	eng, _, rec := newTestEngine(t, backend)

	_, err := eng.Start(context.Background())
	require.NoError(t, err)

	waitFor(t, func() bool { return enc.Frames() >= 6 }, "frames never flowed past the transient failure")

	_, err = eng.Stop(context.Background())
	require.NoError(t, err)

	_, _, faulted := rec.counts()
	assert.Zero(t, faulted, "a single write failure must be invisible to the caller")
}

func TestStopDuringStartingWaitsForRunning(t *testing.T) {
	backend := newFakeBackend()
	stream := newFakeStream()
	stream.firstDelay = 100 * time.Millisecond
	backend.makeStream = func() *fakeStream { return stream }

	eng, _, _ := newTestEngine(t, backend)

	_, err := eng.Start(context.Background())
	require.NoError(t, err)

	// The first frame has not arrived yet; Stop must wait it out rather
	// than fail or tear down a half-open stream.
	path, err := eng.Stop(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, StateIdle, eng.State())
}

func TestPermissionDeniedFailsStart(t *testing.T) {
	backend := newFakeBackend()
	levels := level.NewStream(0.3, 40)
	eng, err := New(Options{
		FramesPerBuffer: 4,
		SettleDelay:     time.Millisecond,
		ArtifactDir:     t.TempDir(),
	}, backend.factory, levels, nil, func() bool { return false }, zerolog.Nop())
	require.NoError(t, err)

	_, err = eng.Start(context.Background())
	assert.ErrorIs(t, err, ErrHardwareUnavailable)
	assert.Equal(t, StateIdle, eng.State())
}

func TestLevelsPushedAndResetOnStop(t *testing.T) {
	backend := newFakeBackend()
	stream := newFakeStream()
	for i := 0; i < 20; i++ {
		stream.queue = append(stream.queue, loudFrame())
	}
	backend.makeStream = func() *fakeStream { return stream }

	eng, levels, _ := newTestEngine(t, backend)

	_, err := eng.Start(context.Background())
	require.NoError(t, err)

	waitFor(t, func() bool { return levels.Smoothed() > 0.1 }, "loud frames never moved the level stream")

	_, err = eng.Stop(context.Background())
	require.NoError(t, err)

	for _, v := range levels.Snapshot() {
		assert.Zero(t, v, "levels must reset to a clean idle visual after stop")
	}
}
