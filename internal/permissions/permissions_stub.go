//go:build !darwin

package permissions

// EnsurePermissions is a no-op on non-macOS platforms.
func EnsurePermissions() error {
	return nil
}

// HasMicrophoneAccess always reports true off macOS; the capture engine
// surfaces an open failure if the device is actually unavailable.
func HasMicrophoneAccess() bool {
	return true
}
