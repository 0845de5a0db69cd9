package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
)

type Config struct {
	Hotkey       string        `json:"hotkey"`
	HotkeyDarwin string        `json:"hotkey_darwin"`
	LogLevel     string        `json:"log_level"`
	Gesture      GestureConfig `json:"gesture"`
	Audio        AudioConfig   `json:"audio"`
	Capture      CaptureConfig `json:"capture"`
	Level        LevelConfig   `json:"level"`
	API          APIConfig     `json:"api"`
	Inject       InjectConfig  `json:"inject"`
	AppendSpace  bool          `json:"append_space"`
}

type GestureConfig struct {
	// HoldThresholdMs separates a short tap from a held press.
	HoldThresholdMs int `json:"hold_threshold_ms"`
}

type AudioConfig struct {
	DeviceID        string `json:"device_id"` // empty = system default input
	SampleRate      int    `json:"sample_rate"`
	FramesPerBuffer int    `json:"frames_per_buffer"`
}

type CaptureConfig struct {
	// MaxWriteFailures is the consecutive encoder-write failure count that
	// faults a session.
	MaxWriteFailures int    `json:"max_write_failures"`
	OpenTimeoutMs    int    `json:"open_timeout_ms"`
	SettleDelayMs    int    `json:"settle_delay_ms"`
	ArtifactDir      string `json:"artifact_dir"` // empty = os.TempDir
}

type LevelConfig struct {
	Alpha    float64 `json:"alpha"`
	Capacity int     `json:"capacity"`
}

type APIConfig struct {
	BaseURL   string `json:"base_url"`
	TimeoutMs int    `json:"timeout_ms"`
}

type InjectConfig struct {
	PreferPaste bool `json:"prefer_paste"`
}

// Load reads the config from disk or returns defaults
func Load() (*Config, error) {
	path := configPath()

	// Default config
	cfg := &Config{
		Hotkey:       "RightAlt",
		HotkeyDarwin: "RightOption",
		LogLevel:     "info",
		Gesture: GestureConfig{
			HoldThresholdMs: 500,
		},
		Audio: AudioConfig{
			DeviceID:        "",
			SampleRate:      16000,
			FramesPerBuffer: 512,
		},
		Capture: CaptureConfig{
			MaxWriteFailures: 5,
			OpenTimeoutMs:    2000,
			SettleDelayMs:    100,
		},
		Level: LevelConfig{
			Alpha:    0.3,
			Capacity: 40,
		},
		API: APIConfig{
			BaseURL:   "http://127.0.0.1:8000",
			TimeoutMs: 30000,
		},
		Inject: InjectConfig{
			PreferPaste: true,
		},
		AppendSpace: true,
	}

	// Load existing config if it exists
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	path := configPath()

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// PlatformHotkey returns the appropriate hotkey for the current platform
func (c *Config) PlatformHotkey() string {
	if runtime.GOOS == "darwin" && c.HotkeyDarwin != "" {
		return c.HotkeyDarwin
	}
	return c.Hotkey
}

// configPath returns the platform-specific config file path
func configPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "polyvoice", "config.json")
}
