package capture

// Host owns the audio backend handle. The engine discards and recreates its
// host during reclamation, so opening a host must be cheap and side-effect
// free until an input is opened.
type Host interface {
	OpenInput(deviceID string, sampleRate, framesPerBuffer int) (InputStream, error)
	ListInputDevices() ([]Device, error)
	Close() error
}

// HostFactory produces a fresh Host.
type HostFactory func() (Host, error)

// InputStream is one open hardware input.
type InputStream interface {
	Start() error
	// Read blocks until one frame of samples is available and returns a
	// copy owned by the caller.
	Read() ([]int16, error)
	Stop() error
	Close() error
}

// Device describes an audio input device.
type Device struct {
	ID      string
	Name    string
	Default bool
}
