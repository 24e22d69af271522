// Package limits applies OS resource limits to the current process.
//
// Every limit is best-effort. A limit the host refuses is recorded in the
// returned Applied value and the remaining limits are still attempted.
package limits

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnsupported is recorded for limits the platform cannot set.
var ErrUnsupported = errors.New("limits: not supported on this platform")

// Resource names one limit.
type Resource string

const (
	CPU          Resource = "cpu"
	AddressSpace Resource = "address_space"
	FileSize     Resource = "file_size"
	Processes    Resource = "processes"
)

// addressSpaceHeadroom is added on top of the baseline mapping size and the
// requested budget. The Go runtime reserves address space in large arenas,
// so a limit at exactly the budget would fail before the heap reached it.
const addressSpaceHeadroom = 128 << 20

// Profile describes the limits to apply. Zero fields leave the
// corresponding limit unchanged.
type Profile struct {
	// CPUSeconds is the CPU time the process may consume from now on.
	CPUSeconds int
	// MemoryBytes is the address space the process may grow by.
	MemoryBytes int64
	// OutputBytes caps the size of any file the process writes.
	OutputBytes int64
	// MaxProcesses caps child processes. Negative leaves it unchanged, zero
	// forbids new processes.
	MaxProcesses int
	// SoftOnly keeps hard limits untouched so Restore can undo the change.
	SoftOnly bool
}

// Applied reports the outcome of Apply.
type Applied struct {
	set   map[Resource]bool
	errs  []error
	saved []saved
}

type saved struct {
	res      Resource
	resource int
	old      rlimit
}

// rlimit mirrors the platform rlimit pair so the bookkeeping stays portable.
type rlimit struct {
	Cur, Max uint64
}

func newApplied() *Applied {
	return &Applied{set: make(map[Resource]bool)}
}

// Has reports whether r was applied.
func (a *Applied) Has(r Resource) bool { return a != nil && a.set[r] }

// Resources returns the applied limits in sorted order.
func (a *Applied) Resources() []Resource {
	var out []Resource
	for r, ok := range a.set {
		if ok {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Err joins the failures of individual limits, or returns nil.
func (a *Applied) Err() error { return errors.Join(a.errs...) }

// Failures returns the number of limits that could not be set.
func (a *Applied) Failures() int { return len(a.errs) }

func (a *Applied) fail(r Resource, err error) {
	a.errs = append(a.errs, fmt.Errorf("limits: %s: %w", r, err))
}

func (a *Applied) String() string {
	names := make([]string, 0, len(a.set))
	for _, r := range a.Resources() {
		names = append(names, string(r))
	}
	return "[" + strings.Join(names, " ") + "]"
}

// Support reports which limits the host lets this process read and set.
type Support struct {
	CPU          bool `json:"cpu"`
	AddressSpace bool `json:"address_space"`
	FileSize     bool `json:"file_size"`
	Processes    bool `json:"processes"`
}

// All reports whether every limit is supported.
func (s Support) All() bool {
	return s.CPU && s.AddressSpace && s.FileSize && s.Processes
}

// Any reports whether at least one limit is supported.
func (s Support) Any() bool {
	return s.CPU || s.AddressSpace || s.FileSize || s.Processes
}
