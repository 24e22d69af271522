//go:build !linux

package limits

import "time"

// Apply records every requested limit as unsupported.
func Apply(p Profile) *Applied {
	a := newApplied()
	if p.CPUSeconds > 0 {
		a.fail(CPU, ErrUnsupported)
	}
	if p.MemoryBytes > 0 {
		a.fail(AddressSpace, ErrUnsupported)
	}
	if p.OutputBytes > 0 {
		a.fail(FileSize, ErrUnsupported)
	}
	if p.MaxProcesses >= 0 {
		a.fail(Processes, ErrUnsupported)
	}
	return a
}

// Restore is a no-op; nothing was applied.
func (a *Applied) Restore() error { return nil }

// Supported reports no limits.
func Supported() Support { return Support{} }

// CPUTime is not tracked on this platform.
func CPUTime() time.Duration { return 0 }

// Harden is a no-op on this platform.
func Harden() error { return nil }
