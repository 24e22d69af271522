//go:build !linux

package limits

// Lockdown is unsupported on this platform.
func Lockdown() error { return ErrUnsupported }

// LandlockABI reports no Landlock support.
func LandlockABI() int { return 0 }
