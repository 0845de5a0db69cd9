package hotkey

import "fmt"

// Manager is a system-wide key event source. Registered callbacks receive
// both the press and the release transition of the key.
type Manager interface {
	Register(accel string, callback func(pressed bool)) error
	Unregister(accel string) error
	Close() error
}

// Key is a platform-neutral identifier for a trigger key. The dictation
// trigger is a single held key, typically a right-hand modifier that is
// otherwise unused.
type Key int

const (
	KeyRightAlt Key = iota
	KeyRightCtrl
	KeyRightSuper
	KeyF13
)

// ParseAccel maps an accelerator name from the config file to a Key.
// "RightOption" is accepted as the macOS spelling of RightAlt.
func ParseAccel(accel string) (Key, error) {
	switch accel {
	case "RightAlt", "RightOption":
		return KeyRightAlt, nil
	case "RightCtrl", "RightControl":
		return KeyRightCtrl, nil
	case "RightSuper", "RightCmd", "RightCommand":
		return KeyRightSuper, nil
	case "F13":
		return KeyF13, nil
	default:
		return 0, fmt.Errorf("unknown trigger key %q", accel)
	}
}
