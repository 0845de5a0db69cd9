package gesture

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type mockSource struct {
	registered   int
	unregistered int
	callback     func(pressed bool)
}

func (s *mockSource) Register(accel string, callback func(pressed bool)) error {
	s.registered++
	s.callback = callback
	return nil
}

func (s *mockSource) Unregister(accel string) error {
	s.unregistered++
	return nil
}

type recordingListener struct {
	begins          []time.Time
	ends            []time.Time
	classifications []Classification
}

func (l *recordingListener) PressBegan(at time.Time)          { l.begins = append(l.begins, at) }
func (l *recordingListener) PressEnded(at time.Time)          { l.ends = append(l.ends, at) }
func (l *recordingListener) PressClassified(c Classification) { l.classifications = append(l.classifications, c) }

func newTestMonitor(t *testing.T, threshold time.Duration) (*Monitor, *recordingListener) {
	t.Helper()
	m := NewMonitor(&mockSource{}, "RightAlt", threshold, zerolog.Nop())
	l := &recordingListener{}
	m.AddListener(l)
	return m, l
}

func TestShortPressClassification(t *testing.T) {
	m, l := newTestMonitor(t, 500*time.Millisecond)

	t0 := time.Now()
	m.OnRawTransition(true, t0)
	m.OnRawTransition(false, t0.Add(300*time.Millisecond))

	if len(l.classifications) != 1 {
		t.Fatalf("expected exactly one classification, got %d", len(l.classifications))
	}
	c := l.classifications[0]
	if c.Kind != ShortPress {
		t.Errorf("expected short press, got %s", c.Kind)
	}
	if c.Duration != 300*time.Millisecond {
		t.Errorf("expected 300ms duration, got %s", c.Duration)
	}
	if len(l.begins) != 1 || len(l.ends) != 1 {
		t.Errorf("expected one begin and one end, got %d/%d", len(l.begins), len(l.ends))
	}
}

func TestLongPressClassification(t *testing.T) {
	m, l := newTestMonitor(t, 500*time.Millisecond)

	t0 := time.Now()
	m.OnRawTransition(true, t0)
	m.OnRawTransition(false, t0.Add(600*time.Millisecond))

	if len(l.classifications) != 1 {
		t.Fatalf("expected exactly one classification, got %d", len(l.classifications))
	}
	if l.classifications[0].Kind != LongPress {
		t.Errorf("expected long press, got %s", l.classifications[0].Kind)
	}
}

func TestThresholdBoundaryIsLong(t *testing.T) {
	m, l := newTestMonitor(t, 500*time.Millisecond)

	t0 := time.Now()
	m.OnRawTransition(true, t0)
	m.OnRawTransition(false, t0.Add(500*time.Millisecond))

	if len(l.classifications) != 1 {
		t.Fatalf("expected exactly one classification, got %d", len(l.classifications))
	}
	if l.classifications[0].Kind != LongPress {
		t.Errorf("hold of exactly the threshold must classify long, got %s", l.classifications[0].Kind)
	}
}

func TestOrphanReleaseIsDiscarded(t *testing.T) {
	m, l := newTestMonitor(t, 500*time.Millisecond)

	m.OnRawTransition(false, time.Now())

	if len(l.begins) != 0 || len(l.ends) != 0 || len(l.classifications) != 0 {
		t.Fatal("release without press must not emit anything")
	}

	// Monitor must still work normally afterwards.
	t0 := time.Now()
	m.OnRawTransition(true, t0)
	m.OnRawTransition(false, t0.Add(100*time.Millisecond))
	if len(l.classifications) != 1 {
		t.Fatalf("expected one classification after recovery, got %d", len(l.classifications))
	}
}

func TestSecondPressBeforeReleaseIsIgnored(t *testing.T) {
	m, l := newTestMonitor(t, 500*time.Millisecond)

	t0 := time.Now()
	m.OnRawTransition(true, t0)
	m.OnRawTransition(true, t0.Add(50*time.Millisecond))

	if len(l.begins) != 1 {
		t.Fatalf("expected one begin, got %d", len(l.begins))
	}

	// Release pairs with the first press, not the duplicate.
	m.OnRawTransition(false, t0.Add(700*time.Millisecond))
	if len(l.classifications) != 1 {
		t.Fatalf("expected one classification, got %d", len(l.classifications))
	}
	if l.classifications[0].Duration != 700*time.Millisecond {
		t.Errorf("duration must be measured from the first press, got %s", l.classifications[0].Duration)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	src := &mockSource{}
	m := NewMonitor(src, "RightAlt", 0, zerolog.Nop())

	if err := m.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("second start failed: %v", err)
	}
	if src.registered != 1 {
		t.Errorf("expected exactly one subscription, got %d", src.registered)
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("second stop failed: %v", err)
	}
	if src.unregistered != 1 {
		t.Errorf("expected exactly one unsubscription, got %d", src.unregistered)
	}
}

func TestStartStopStartResubscribes(t *testing.T) {
	src := &mockSource{}
	m := NewMonitor(src, "RightAlt", 0, zerolog.Nop())

	m.Start()
	m.Stop()
	m.Start()

	if src.registered != 2 {
		t.Errorf("expected a fresh subscription per start, got %d", src.registered)
	}
}
