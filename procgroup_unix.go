//go:build darwin || linux

package scriptbox

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// processGroupWaitDelay bounds how long Wait keeps reading a killed child's
// output pipes.
const processGroupWaitDelay = 3 * time.Second

// setupProcessGroup starts cmd in its own session so the whole group can be
// signalled at once.
func setupProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setsid = true
	cmd.SysProcAttr.Setpgid = false
	cmd.SysProcAttr.Pgid = 0
	cmd.WaitDelay = processGroupWaitDelay
}

// signalGroup sends sig to the process group led by pid. It returns
// os.ErrProcessDone when the group no longer exists.
func signalGroup(pid int, sig syscall.Signal) error {
	// kill(-1) reaches every process of the user and kill(0) the caller's
	// own group.
	if pid <= 1 {
		return os.ErrProcessDone
	}
	if err := syscall.Kill(-pid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	return nil
}
