// Package notify shows desktop notifications for capture faults.
package notify

import "github.com/gen2brain/beeep"

// Notifier shows a user-visible alert.
type Notifier interface {
	Alert(title, message string)
}

type desktopNotifier struct{}

// New returns the system desktop notifier.
func New() Notifier {
	return desktopNotifier{}
}

func (desktopNotifier) Alert(title, message string) {
	_ = beeep.Alert(title, message, "")
}

// Nop discards notifications; used in tests.
type Nop struct{}

func (Nop) Alert(string, string) {}
