package scriptbox

import (
	"fmt"
	"time"
)

// Default resource budgets.
const (
	DefaultCPUSeconds = 2
	DefaultMemoryMB   = 128
	DefaultWallClock  = 5 * time.Second
)

// Profile bounds the resources of one run. A zero field means the platform
// default, never unlimited.
type Profile struct {
	// CPUSeconds is the CPU time budget.
	CPUSeconds int `json:"cpu_seconds"`

	// MemoryMB is the memory budget in mebibytes.
	MemoryMB int `json:"memory_mb"`

	// WallClock is the deadline measured from submission.
	WallClock time.Duration `json:"wall_clock"`
}

// DefaultProfile returns the platform defaults: 2 CPU seconds, 128 MB and a
// 5 second wall clock.
func DefaultProfile() Profile {
	return Profile{
		CPUSeconds: DefaultCPUSeconds,
		MemoryMB:   DefaultMemoryMB,
		WallClock:  DefaultWallClock,
	}
}

// Validate reports negative budgets. The returned error wraps
// ErrInvalidProfile.
func (p Profile) Validate() error {
	switch {
	case p.CPUSeconds < 0:
		return fmt.Errorf("%w: cpu_seconds %d is negative", ErrInvalidProfile, p.CPUSeconds)
	case p.MemoryMB < 0:
		return fmt.Errorf("%w: memory_mb %d is negative", ErrInvalidProfile, p.MemoryMB)
	case p.WallClock < 0:
		return fmt.Errorf("%w: wall_clock %v is negative", ErrInvalidProfile, p.WallClock)
	}
	return nil
}

// withDefaults replaces zero fields with the fields of def.
func (p Profile) withDefaults(def Profile) Profile {
	if p.CPUSeconds == 0 {
		p.CPUSeconds = def.CPUSeconds
	}
	if p.MemoryMB == 0 {
		p.MemoryMB = def.MemoryMB
	}
	if p.WallClock == 0 {
		p.WallClock = def.WallClock
	}
	return p
}

func (p Profile) memoryBytes() int64 { return int64(p.MemoryMB) << 20 }

func (p Profile) cpu() time.Duration { return time.Duration(p.CPUSeconds) * time.Second }
