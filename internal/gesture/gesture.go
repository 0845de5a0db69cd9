// Package gesture turns raw trigger-key transitions into press/release events
// and classifies each completed hold as a short tap or a long press.
package gesture

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultHoldThreshold separates a short tap from a held press.
const DefaultHoldThreshold = 500 * time.Millisecond

type EventKind int

const (
	PressBegin EventKind = iota
	PressEnd
)

// TriggerEvent is one observed transition of the monitored key.
type TriggerEvent struct {
	Kind EventKind
	At   time.Time
}

type PressKind int

const (
	ShortPress PressKind = iota
	LongPress
)

func (k PressKind) String() string {
	if k == LongPress {
		return "long"
	}
	return "short"
}

// Classification is emitted exactly once per completed press/release cycle.
type Classification struct {
	Kind     PressKind
	Duration time.Duration
}

// Listener receives monitor events. Calls are serialized; implementations
// must not block.
type Listener interface {
	PressBegan(at time.Time)
	PressEnded(at time.Time)
	PressClassified(c Classification)
}

// Source is the system-wide key event source the monitor subscribes to.
// Satisfied by hotkey.Manager.
type Source interface {
	Register(accel string, callback func(pressed bool)) error
	Unregister(accel string) error
}

// Monitor pairs press and release transitions for one trigger key. Malformed
// streams (duplicate states, release without press) are discarded without
// notifying listeners.
type Monitor struct {
	src       Source
	accel     string
	threshold time.Duration
	log       zerolog.Logger

	mu         sync.Mutex
	started    bool
	keyDown    bool
	pressStart time.Time
	listeners  []Listener
}

// NewMonitor creates a monitor for the given accelerator. A non-positive
// threshold falls back to DefaultHoldThreshold.
func NewMonitor(src Source, accel string, threshold time.Duration, log zerolog.Logger) *Monitor {
	if threshold <= 0 {
		threshold = DefaultHoldThreshold
	}
	return &Monitor{
		src:       src,
		accel:     accel,
		threshold: threshold,
		log:       log.With().Str("component", "gesture").Logger(),
	}
}

// AddListener registers a listener for subsequent events.
func (m *Monitor) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Start subscribes to the key source. Calling Start on a started monitor is a
// logged no-op; the subscription happens exactly once per Start/Stop pair.
func (m *Monitor) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		m.log.Warn().Msg("Monitor already started")
		return nil
	}
	m.started = true
	m.mu.Unlock()

	if err := m.src.Register(m.accel, func(pressed bool) {
		m.OnRawTransition(pressed, time.Now())
	}); err != nil {
		m.mu.Lock()
		m.started = false
		m.mu.Unlock()
		return err
	}

	m.log.Info().Str("accel", m.accel).Dur("threshold", m.threshold).Msg("Gesture monitor started")
	return nil
}

// Stop unsubscribes from the key source. Stopping a stopped monitor is a
// no-op.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	m.keyDown = false
	m.pressStart = time.Time{}
	m.mu.Unlock()

	if err := m.src.Unregister(m.accel); err != nil {
		return err
	}
	m.log.Info().Msg("Gesture monitor stopped")
	return nil
}

// OnRawTransition handles one hardware transition for the monitored key.
// Duplicate consecutive states are discarded: a second press before a release
// and a release without a matching press both leave monitor state untouched.
func (m *Monitor) OnRawTransition(down bool, ts time.Time) {
	m.mu.Lock()

	if down == m.keyDown {
		m.mu.Unlock()
		if down {
			m.log.Debug().Msg("Duplicate press ignored")
		} else {
			m.log.Debug().Msg("Release without matching press ignored")
		}
		return
	}

	if down {
		m.keyDown = true
		m.pressStart = ts
		listeners := m.snapshotListenersLocked()
		m.mu.Unlock()

		for _, l := range listeners {
			l.PressBegan(ts)
		}
		return
	}

	m.keyDown = false
	start := m.pressStart
	m.pressStart = time.Time{}
	listeners := m.snapshotListenersLocked()
	m.mu.Unlock()

	if start.IsZero() {
		m.log.Warn().Msg("Release with no recorded press start discarded")
		return
	}

	duration := ts.Sub(start)
	kind := ShortPress
	if duration >= m.threshold {
		kind = LongPress
	}
	c := Classification{Kind: kind, Duration: duration}

	m.log.Debug().Dur("duration", duration).Str("kind", kind.String()).Msg("Press classified")

	for _, l := range listeners {
		l.PressEnded(ts)
	}
	for _, l := range listeners {
		l.PressClassified(c)
	}
}

func (m *Monitor) snapshotListenersLocked() []Listener {
	out := make([]Listener, len(m.listeners))
	copy(out, m.listeners)
	return out
}
