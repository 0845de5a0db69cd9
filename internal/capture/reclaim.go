package capture

import (
	"time"

	"github.com/rs/zerolog"
)

// Teardown holds the four reclamation steps for one ended session. Steps are
// plain funcs so tests can instrument each one.
type Teardown struct {
	// Detach removes the frame callback and waits until no further frames
	// are delivered. Must be safe to call after the loop already exited.
	Detach func() error
	// StopStream stops and closes the hardware input stream.
	StopStream func() error
	// RecreateHost discards the backend handle and opens a fresh one. Some
	// backends retain internal state a stop/start cycle does not clear;
	// recreation is the only way to guarantee a pristine handle.
	RecreateHost func() error
	// TouchInput opens and immediately closes the input with a minimal
	// throwaway configuration so the OS re-evaluates its recording
	// indicator.
	TouchInput func() error
}

// Reclaimer runs the teardown sequence after every stop and every fault.
// Each step runs even when an earlier one fails; an early abort would leave
// the device handle or the OS indicator stuck, which is strictly worse than
// a partially redundant teardown.
type Reclaimer struct {
	settle time.Duration
	sleep  func(time.Duration)
	log    zerolog.Logger
}

// NewReclaimer creates a reclaimer with the given settle delay between host
// recreation and the touch open.
func NewReclaimer(settle time.Duration, log zerolog.Logger) *Reclaimer {
	return &Reclaimer{
		settle: settle,
		sleep:  time.Sleep,
		log:    log.With().Str("component", "reclaim").Logger(),
	}
}

// Run executes all four steps in order. Individual failures are logged and
// the sequence continues.
func (r *Reclaimer) Run(t Teardown) {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"detach_callback", t.Detach},
		{"stop_stream", t.StopStream},
		{"recreate_host", t.RecreateHost},
		{"touch_input", t.TouchInput},
	}

	for _, step := range steps {
		if step.name == "touch_input" && r.settle > 0 {
			r.sleep(r.settle)
		}
		if step.fn == nil {
			continue
		}
		if err := step.fn(); err != nil {
			r.log.Warn().Err(err).Str("step", step.name).Msg("Reclamation step failed, continuing")
		} else {
			r.log.Debug().Str("step", step.name).Msg("Reclamation step complete")
		}
	}
}
