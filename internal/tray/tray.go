package tray

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/getlantern/systray"
	"github.com/rs/zerolog"

	"github.com/polyvoice/polyvoice/internal/capture"
	"github.com/polyvoice/polyvoice/internal/config"
	"github.com/polyvoice/polyvoice/internal/level"
	"github.com/polyvoice/polyvoice/internal/logging"
)

const (
	// meterWidth is how many level samples the title meter shows.
	meterWidth = 12
	// meterInterval is the redraw cadence while recording.
	meterInterval = 33 * time.Millisecond
)

// meterGlyphs maps a normalized level [0,1] onto block characters.
var meterGlyphs = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// DeviceSource is the capture surface the tray needs for the device picker.
type DeviceSource interface {
	ListInputDevices() ([]capture.Device, error)
	SetDevice(deviceID string)
}

type UI struct {
	devices DeviceSource
	levels  *level.Stream
	cfg     *config.Config
	version string
	commit  string
	log     zerolog.Logger

	// Menu items
	mDevices     *systray.MenuItem
	mPastePrefer *systray.MenuItem
	mAppendSpace *systray.MenuItem

	mu        sync.Mutex
	status    string
	meterStop chan struct{}
}

func New(devices DeviceSource, levels *level.Stream, cfg *config.Config, version, commit string) *UI {
	log := logging.New()
	return &UI{
		devices: devices,
		levels:  levels,
		cfg:     cfg,
		version: version,
		commit:  commit,
		log:     log,
		status:  "idle",
	}
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

func (u *UI) Run(ctx context.Context) error {
	systray.Run(u.onReady, u.onExit)
	return nil
}

func (u *UI) onReady() {
	// Use emoji instead of icon - microphone with initial status
	u.redrawTitle()
	systray.SetTooltip("Push-to-talk voice dictation")

	// Build menu
	mStatus := systray.AddMenuItem("Hold hotkey to dictate", "")
	mStatus.Disable()
	systray.AddSeparator()

	u.mDevices = systray.AddMenuItem("Microphone", "Select audio device")
	u.buildDeviceMenu()

	systray.AddSeparator()
	u.mPastePrefer = systray.AddMenuItemCheckbox("Prefer Paste", "Use clipboard paste", u.cfg.Inject.PreferPaste)
	u.mAppendSpace = systray.AddMenuItemCheckbox("Append Space", "Add a trailing space after injection", u.cfg.AppendSpace)

	systray.AddSeparator()
	mLogs := systray.AddMenuItem("Open Logs", "View application logs")
	mAbout := systray.AddMenuItem("About", "About PolyVoice")
	mQuit := systray.AddMenuItem("Quit", "Exit application")

	// Event loop
	go u.handleEvents(mLogs, mAbout, mQuit)
}

func (u *UI) handleEvents(mLogs, mAbout, mQuit *systray.MenuItem) {
	for {
		select {
		case <-u.mPastePrefer.ClickedCh:
			u.togglePastePrefer()
		case <-u.mAppendSpace.ClickedCh:
			u.toggleAppendSpace()
		case <-mLogs.ClickedCh:
			u.openLogs()
		case <-mAbout.ClickedCh:
			u.showAbout()
		case <-mQuit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

func (u *UI) buildDeviceMenu() {
	devices, err := u.devices.ListInputDevices()
	if err != nil {
		u.log.Error().Err(err).Msg("Failed to list audio devices")
		return
	}

	deviceItems := make(map[string]*systray.MenuItem)

	for _, dev := range devices {
		item := u.mDevices.AddSubMenuItem(dev.Name, "")
		if dev.ID == u.cfg.Audio.DeviceID || (u.cfg.Audio.DeviceID == "" && dev.Default) {
			item.Check()
		}
		deviceItems[dev.ID] = item

		go func(deviceID, deviceName string, menuItem *systray.MenuItem) {
			for {
				<-menuItem.ClickedCh
				for id, itm := range deviceItems {
					if id != deviceID {
						itm.Uncheck()
					}
				}
				menuItem.Check()
				u.cfg.Audio.DeviceID = deviceID
				u.cfg.Save()
				u.log.Info().Str("device", deviceName).Msg("Changed audio device")
				u.devices.SetDevice(deviceID)
			}
		}(dev.ID, dev.Name, item)
	}
}

func (u *UI) togglePastePrefer() {
	u.cfg.Inject.PreferPaste = !u.cfg.Inject.PreferPaste
	if u.cfg.Inject.PreferPaste {
		u.mPastePrefer.Check()
		u.log.Info().Msg("Enabled prefer paste")
	} else {
		u.mPastePrefer.Uncheck()
		u.log.Info().Msg("Disabled prefer paste (using keyboard typing)")
	}
	u.cfg.Save()
}

func (u *UI) toggleAppendSpace() {
	u.cfg.AppendSpace = !u.cfg.AppendSpace
	if u.cfg.AppendSpace {
		u.mAppendSpace.Check()
	} else {
		u.mAppendSpace.Uncheck()
	}
	u.cfg.Save()
}

func (u *UI) openLogs() {
	path := logging.Path()
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", "", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}
	if err := cmd.Start(); err != nil {
		u.log.Error().Err(err).Str("path", path).Msg("Failed to open log file")
	}
}

func (u *UI) showAbout() {
	fmt.Printf("PolyVoice %s (%s)\nPush-to-talk voice dictation\n", u.version, u.commit)
}

func (u *UI) onExit() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.stopMeterLocked()
}

// updateStatus sets the tray title with microphone emoji and status
// indicator, and starts or stops the waveform meter with the recording
// state.
func (u *UI) updateStatus(status string) {
	u.mu.Lock()
	u.status = status
	if status == "recording" {
		u.startMeterLocked()
	} else {
		u.stopMeterLocked()
	}
	u.mu.Unlock()

	u.redrawTitle()
}

func (u *UI) redrawTitle() {
	u.mu.Lock()
	status := u.status
	u.mu.Unlock()

	title := fmt.Sprintf("🎤 %s", emojiForStatus(status))
	if status == "recording" && u.levels != nil {
		title += " " + renderMeter(u.levels.Snapshot(), meterWidth)
	}
	systray.SetTitle(title)
}

func (u *UI) startMeterLocked() {
	if u.meterStop != nil {
		return
	}
	stop := make(chan struct{})
	u.meterStop = stop

	go func() {
		ticker := time.NewTicker(meterInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				u.redrawTitle()
			}
		}
	}()
}

func (u *UI) stopMeterLocked() {
	if u.meterStop != nil {
		close(u.meterStop)
		u.meterStop = nil
	}
}

// renderMeter draws the most recent width samples as block glyphs, newest
// on the right.
func renderMeter(samples []float64, width int) string {
	if width <= 0 {
		return ""
	}
	if len(samples) > width {
		samples = samples[len(samples)-width:]
	}

	var b strings.Builder
	for _, v := range samples {
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		idx := int(v * float64(len(meterGlyphs)))
		if idx >= len(meterGlyphs) {
			idx = len(meterGlyphs) - 1
		}
		b.WriteRune(meterGlyphs[idx])
	}
	return b.String()
}

// emojiForStatus returns the appropriate status emoji
func emojiForStatus(status string) string {
	switch status {
	case "recording":
		return "🔴" // Red - recording
	case "processing":
		return "🟡" // Yellow - processing transcription
	case "idle":
		return "🟢" // Green - ready/idle
	case "error":
		return "⚪️" // White - error
	default:
		return "🟢" // Green - default to ready
	}
}
