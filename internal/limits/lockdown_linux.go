//go:build linux

package limits

import (
	"errors"
	"fmt"
	"runtime"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Landlock syscall numbers are shared by every architecture.
const (
	sysLandlockCreateRuleset = 444
	sysLandlockRestrictSelf  = 446

	landlockCreateRulesetVersion = 1
)

// Landlock filesystem access rights.
const (
	accessFSExecute    = 1 << 0
	accessFSWriteFile  = 1 << 1
	accessFSReadFile   = 1 << 2
	accessFSReadDir    = 1 << 3
	accessFSRemoveDir  = 1 << 4
	accessFSRemoveFile = 1 << 5
	accessFSMakeChar   = 1 << 6
	accessFSMakeDir    = 1 << 7
	accessFSMakeReg    = 1 << 8
	accessFSMakeSock   = 1 << 9
	accessFSMakeFifo   = 1 << 10
	accessFSMakeBlock  = 1 << 11
	accessFSMakeSym    = 1 << 12
	accessFSRefer      = 1 << 13 // ABI v2
	accessFSTruncate   = 1 << 14 // ABI v3
)

// Seccomp constants not exported by every x/sys release.
const (
	seccompSetModeFilter   = 1
	seccompFilterFlagTsync = 1
	seccompRetAllow        = 0x7fff0000
	seccompRetErrno        = 0x00050000
	seccompRetKill         = 0x00000000

	auditArchX86_64  = 0xc000003e
	auditArchAarch64 = 0xc00000b7

	seccompDataArchOffset = 4
)

// Function variables for dependency injection in tests.
var (
	rawSyscallFn     = unix.Syscall
	lockdownThreadFn = syscall.AllThreadsSyscall
	closeFn          = unix.Close
	blockedFn        = func() (blockedSyscalls, error) { return blockedSyscallsFor(runtime.GOARCH) }
)

type landlockRulesetAttr struct {
	handledAccessFS uint64
}

// blockedSyscalls lists the syscalls the seccomp filter refuses with EPERM.
type blockedSyscalls struct {
	auditArch uint32
	numbers   []uint32
}

// blockedSyscallsFor returns the refused syscall numbers for goarch: socket
// creation, program execution, tracing, mounts, reboot, swap and device
// nodes.
func blockedSyscallsFor(goarch string) (blockedSyscalls, error) {
	switch goarch {
	case "amd64":
		// socket socketpair execve execveat ptrace mount umount2 reboot
		// swapon swapoff mknod mknodat
		return blockedSyscalls{
			auditArch: auditArchX86_64,
			numbers:   []uint32{41, 53, 59, 322, 101, 165, 166, 169, 167, 168, 133, 259},
		}, nil
	case "arm64":
		// arm64 has no mknod, only mknodat.
		return blockedSyscalls{
			auditArch: auditArchAarch64,
			numbers:   []uint32{198, 199, 221, 281, 117, 40, 39, 142, 224, 225, 33},
		}, nil
	}
	return blockedSyscalls{}, fmt.Errorf("unsupported architecture for seccomp: %s", goarch)
}

// Lockdown removes filesystem access with Landlock and refuses the syscalls
// in blockedSyscallsFor with seccomp, on every thread. Call it after Harden
// and after every file the process still needs is open. Both layers are
// attempted; the error joins their failures.
func Lockdown() error {
	var errs []error
	if err := denyFilesystem(); err != nil {
		errs = append(errs, fmt.Errorf("limits: landlock: %w", err))
	}
	if err := applySeccomp(); err != nil {
		errs = append(errs, fmt.Errorf("limits: seccomp: %w", err))
	}
	return errors.Join(errs...)
}

// LandlockABI returns the kernel's Landlock ABI version, or 0 when
// Landlock is unavailable.
func LandlockABI() int {
	v, _, errno := rawSyscallFn(sysLandlockCreateRuleset, 0, 0, landlockCreateRulesetVersion)
	if errno != 0 {
		return 0
	}
	return int(v)
}

// denyFilesystem installs a ruleset that handles every access right and
// grants none. Descriptors opened earlier stay usable.
func denyFilesystem() error {
	abi := LandlockABI()
	if abi == 0 {
		return errors.New("not available (requires kernel >= 5.13)")
	}
	handled := uint64(accessFSExecute | accessFSWriteFile | accessFSReadFile |
		accessFSReadDir | accessFSRemoveDir | accessFSRemoveFile |
		accessFSMakeChar | accessFSMakeDir | accessFSMakeReg |
		accessFSMakeSock | accessFSMakeFifo | accessFSMakeBlock |
		accessFSMakeSym)
	if abi >= 2 {
		handled |= accessFSRefer
	}
	if abi >= 3 {
		handled |= accessFSTruncate
	}
	attr := landlockRulesetAttr{handledAccessFS: handled}
	fd, _, errno := rawSyscallFn(sysLandlockCreateRuleset, uintptr(unsafe.Pointer(&attr)), unsafe.Sizeof(attr), 0)
	if errno != 0 {
		return fmt.Errorf("landlock_create_ruleset: %w", errno)
	}
	defer func() { _ = closeFn(int(fd)) }()
	if _, _, errno := lockdownThreadFn(sysLandlockRestrictSelf, fd, 0, 0); errno != 0 {
		return fmt.Errorf("landlock_restrict_self: %w", errno)
	}
	return nil
}

// buildSeccompFilter returns a program that kills on a foreign
// architecture, answers EPERM for every blocked syscall and allows the rest.
func buildSeccompFilter(b blockedSyscalls) []unix.SockFilter {
	n := len(b.numbers)
	allowIdx := 3 + n
	epermIdx := allowIdx + 1
	killIdx := allowIdx + 2

	filter := make([]unix.SockFilter, 0, killIdx+1)
	filter = append(filter,
		unix.SockFilter{Code: unix.BPF_LD | unix.BPF_W | unix.BPF_ABS, K: seccompDataArchOffset},
		unix.SockFilter{Code: unix.BPF_JMP | unix.BPF_JEQ | unix.BPF_K, Jt: 0, Jf: uint8(killIdx - 2), K: b.auditArch}, //nolint:gosec
		unix.SockFilter{Code: unix.BPF_LD | unix.BPF_W | unix.BPF_ABS, K: 0},
	)
	for i, nr := range b.numbers {
		idx := 3 + i
		filter = append(filter, unix.SockFilter{
			Code: unix.BPF_JMP | unix.BPF_JEQ | unix.BPF_K,
			Jt:   uint8(epermIdx - idx - 1), //nolint:gosec
			K:    nr,
		})
	}
	filter = append(filter,
		unix.SockFilter{Code: unix.BPF_RET | unix.BPF_K, K: seccompRetAllow},
		unix.SockFilter{Code: unix.BPF_RET | unix.BPF_K, K: seccompRetErrno | uint32(unix.EPERM)},
		unix.SockFilter{Code: unix.BPF_RET | unix.BPF_K, K: seccompRetKill},
	)
	return filter
}

// applySeccomp installs the filter on all threads at once.
func applySeccomp() error {
	b, err := blockedFn()
	if err != nil {
		return err
	}
	filter := buildSeccompFilter(b)
	prog := unix.SockFprog{
		Len:    uint16(len(filter)), //nolint:gosec
		Filter: &filter[0],
	}
	r1, _, errno := rawSyscallFn(unix.SYS_SECCOMP, seccompSetModeFilter, seccompFilterFlagTsync, uintptr(unsafe.Pointer(&prog)))
	runtime.KeepAlive(filter)
	if errno != 0 {
		return errno
	}
	// With TSYNC a positive return names a thread that could not be synced.
	if r1 != 0 {
		return fmt.Errorf("thread %d could not be synchronized", r1)
	}
	return nil
}
