//go:build linux

package limits

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Function variables for dependency injection in tests.
var (
	getrlimitFn  = unix.Getrlimit
	setrlimitFn  = unix.Setrlimit
	getrusageFn  = unix.Getrusage
	prctlFn      = unix.Prctl
	allThreadsFn = syscall.AllThreadsSyscall
	readStatmFn  = func() ([]byte, error) { return os.ReadFile("/proc/self/statm") }
	pageSizeFn   = unix.Getpagesize
	cpuTimeNowFn = CPUTime
)

// Apply sets the limits in p on the current process.
//
// CPU and address space are relative to the process's current usage: the
// CPU soft limit is the time already consumed plus p.CPUSeconds, with the
// hard limit one second later so SIGXCPU arrives before SIGKILL. The address
// space limit is the current mapping size plus twice the budget plus
// headroom for the runtime.
func Apply(p Profile) *Applied {
	a := newApplied()
	if p.CPUSeconds > 0 {
		soft := uint64(cpuTimeNowFn()/time.Second) + uint64(p.CPUSeconds)
		a.setLimit(CPU, unix.RLIMIT_CPU, soft, soft+1, p.SoftOnly)
	}
	if p.MemoryBytes > 0 {
		base, err := baselineAddressSpace()
		if err != nil {
			a.fail(AddressSpace, err)
		} else {
			v := base + 2*uint64(p.MemoryBytes) + addressSpaceHeadroom
			a.setLimit(AddressSpace, unix.RLIMIT_AS, v, v, p.SoftOnly)
		}
	}
	if p.OutputBytes > 0 {
		a.setLimit(FileSize, unix.RLIMIT_FSIZE, uint64(p.OutputBytes), uint64(p.OutputBytes), p.SoftOnly)
	}
	if p.MaxProcesses >= 0 {
		a.setLimit(Processes, unix.RLIMIT_NPROC, uint64(p.MaxProcesses), uint64(p.MaxProcesses), p.SoftOnly)
	}
	return a
}

func (a *Applied) setLimit(r Resource, resource int, cur, max uint64, softOnly bool) {
	var old unix.Rlimit
	if err := getrlimitFn(resource, &old); err != nil {
		a.fail(r, err)
		return
	}
	next := unix.Rlimit{Cur: cur, Max: max}
	// Raising a hard limit needs privilege, so never ask for more than is
	// already held.
	if softOnly || next.Max > old.Max {
		next.Max = old.Max
	}
	if next.Cur > next.Max {
		next.Cur = next.Max
	}
	if err := setrlimitFn(resource, &next); err != nil {
		a.fail(r, err)
		return
	}
	a.set[r] = true
	a.saved = append(a.saved, saved{res: r, resource: resource, old: rlimit{Cur: old.Cur, Max: old.Max}})
}

// Restore puts back the limits Apply replaced, newest first. Lowered hard
// limits cannot be raised again without privilege, so only profiles applied
// with SoftOnly restore completely.
func (a *Applied) Restore() error {
	var errs []error
	for i := len(a.saved) - 1; i >= 0; i-- {
		s := a.saved[i]
		lim := unix.Rlimit{Cur: s.old.Cur, Max: s.old.Max}
		if err := setrlimitFn(s.resource, &lim); err != nil {
			errs = append(errs, fmt.Errorf("limits: restore %s: %w", s.res, err))
		}
	}
	a.saved = nil
	return errors.Join(errs...)
}

// Supported probes which limits can be read on this host.
func Supported() Support {
	probe := func(resource int) bool {
		var lim unix.Rlimit
		return getrlimitFn(resource, &lim) == nil
	}
	return Support{
		CPU:          probe(unix.RLIMIT_CPU),
		AddressSpace: probe(unix.RLIMIT_AS),
		FileSize:     probe(unix.RLIMIT_FSIZE),
		Processes:    probe(unix.RLIMIT_NPROC),
	}
}

// CPUTime returns the user plus system CPU time consumed by the process.
func CPUTime() time.Duration {
	var ru unix.Rusage
	if err := getrusageFn(unix.RUSAGE_SELF, &ru); err != nil {
		return 0
	}
	return time.Duration(ru.Utime.Nano() + ru.Stime.Nano())
}

// Harden drops the ability to gain privileges and disables core dumps.
// Each step is attempted even when an earlier one fails.
//
// No-new-privs is a per-thread attribute, so it is set on every thread the
// runtime has started. Builds with cgo cannot do that and fall back to the
// calling thread.
func Harden() error {
	var errs []error
	if _, _, errno := allThreadsFn(unix.SYS_PRCTL, unix.PR_SET_NO_NEW_PRIVS, 1, 0); errno != 0 {
		err := error(errno)
		if errno == syscall.ENOTSUP {
			err = prctlFn(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("limits: prctl(PR_SET_NO_NEW_PRIVS): %w", err))
		}
	}
	if err := prctlFn(unix.PR_SET_DUMPABLE, 0, 0, 0, 0); err != nil {
		errs = append(errs, fmt.Errorf("limits: prctl(PR_SET_DUMPABLE): %w", err))
	}
	core := unix.Rlimit{Cur: 0, Max: 0}
	if err := setrlimitFn(unix.RLIMIT_CORE, &core); err != nil {
		errs = append(errs, fmt.Errorf("limits: setrlimit(RLIMIT_CORE): %w", err))
	}
	return errors.Join(errs...)
}

// baselineAddressSpace returns the current virtual memory size in bytes.
func baselineAddressSpace() (uint64, error) {
	data, err := readStatmFn()
	if err != nil {
		return 0, err
	}
	field, _, _ := bytes.Cut(bytes.TrimSpace(data), []byte(" "))
	pages, err := strconv.ParseUint(string(field), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse statm: %w", err)
	}
	return pages * uint64(pageSizeFn()), nil
}
