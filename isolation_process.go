//go:build darwin || linux

package scriptbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/zhangyunhao116/scriptbox/internal/envutil"
	"github.com/zhangyunhao116/scriptbox/internal/interp"
	"github.com/zhangyunhao116/scriptbox/internal/limits"
	"github.com/zhangyunhao116/scriptbox/internal/metrics"
)

// childEnvKeep lists the host variables a child inherits. Everything else,
// credentials included, is dropped.
var childEnvKeep = []string{"GODEBUG", "GOTRACEBACK", "TZ"}

// cpuSlack is how close to the CPU budget a killed child must have come for
// the kill to count as CPU exhaustion.
const cpuSlack = 100 * time.Millisecond

// stderrTail bounds the stderr excerpt in a sandbox failure message.
const stderrTail = 512

// oomMarkers appear on stderr when the Go runtime of a child dies for lack
// of memory.
var oomMarkers = []string{"out of memory", "cannot allocate memory"}

// Function variables for dependency injection in tests.
var executableFn = os.Executable

// processSupported reports whether this host can run process isolation:
// the binary can locate itself and at least one resource limit can be set.
func processSupported() error {
	if _, err := executableFn(); err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	if !limits.Supported().Any() {
		return errors.New("no resource limits can be set on this host")
	}
	return nil
}

// processIsolator re-executes the host binary once per run. The child
// confines itself, runs the script and reports one CBOR frame on fd 3.
type processIsolator struct {
	exe      string
	grace    time.Duration
	children *xsync.MapOf[int, *os.Process]
	logger   *slog.Logger
	metrics  *metrics.Collector
	closed   atomic.Bool
}

func newProcessIsolator(grace time.Duration, logger *slog.Logger, m *metrics.Collector) (*processIsolator, error) {
	if err := processSupported(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIsolationUnavailable, err)
	}
	exe, err := executableFn()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIsolationUnavailable, err)
	}
	return &processIsolator{
		exe:      exe,
		grace:    grace,
		children: xsync.NewMapOf[int, *os.Process](),
		logger:   logger,
		metrics:  m,
	}, nil
}

func (p *processIsolator) name() string { return IsolationProcess.String() }

func (p *processIsolator) run(ctx context.Context, j job) Result {
	if p.closed.Load() {
		return Result{Kind: KindSandbox, Error: ErrRunnerClosed.Error()}
	}
	runCtx, cancel := withWallClock(ctx, j.profile.WallClock)
	defer cancel()

	in, err := marshalFrame(childRequest{
		Request: interp.Request{
			Source:      j.source,
			Payload:     j.payload,
			Filename:    j.filename,
			MaxOutput:   j.maxOutput,
			MemoryBytes: j.profile.memoryBytes(),
			CPU:         j.profile.cpu(),
		},
		CPUSeconds:  j.profile.CPUSeconds,
		MemoryBytes: j.profile.memoryBytes(),
		OutputBytes: j.maxOutput,
	})
	if err != nil {
		return Result{Kind: KindSandbox, Error: "Sandbox request encoding failed: " + err.Error()}
	}

	frameR, frameW, err := os.Pipe()
	if err != nil {
		return Result{Kind: KindSandbox, Error: "Sandbox pipe failed: " + err.Error()}
	}
	defer func() { _ = frameR.Close() }()

	stdout := interp.NewLimitedBuffer(j.maxOutput)
	stderr := interp.NewLimitedBuffer(j.maxOutput)
	cmd := exec.Command(p.exe)
	cmd.Env = envutil.SetEnv(envutil.Minimal(os.Environ(), childEnvKeep...), childEnvKey, "1")
	cmd.Stdin = bytes.NewReader(in)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.ExtraFiles = []*os.File{frameW} // fd 3
	setupProcessGroup(cmd)

	j.tracer.record(EventExecStart, nil)
	err = cmd.Start()
	_ = frameW.Close()
	if err != nil {
		return Result{Kind: KindSandbox, Error: "Sandbox process failed to start: " + err.Error()}
	}
	pid := cmd.Process.Pid
	p.children.Store(pid, cmd.Process)
	p.metrics.ChildStarted()
	defer func() {
		p.children.Delete(pid)
		p.metrics.ChildExited()
	}()

	frameCh := make(chan []byte, 1)
	go func() {
		data, _ := io.ReadAll(io.LimitReader(frameR, maxFrameBytes))
		frameCh <- data
	}()
	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var res Result
	select {
	case waitErr := <-waitCh:
		res = p.finish(j, <-frameCh, cmd.ProcessState, waitErr, stderr)
	case <-runCtx.Done():
		p.terminate(pid, waitCh)
		res = stopped(stopKind(ctx))
		res.Stderr = stderr.String()
	}
	res.Truncated = res.Truncated || stdout.Truncated() || stderr.Truncated()
	j.tracer.record(EventExecComplete, map[string]any{"ok": res.OK, "kind": string(res.Kind)})
	return res
}

// finish relays the child's frame, or classifies its exit when it left none.
func (p *processIsolator) finish(j job, frame []byte, state *os.ProcessState, waitErr error, stderr *interp.LimitedBuffer) Result {
	var (
		res Result
		fr  resultFrame
	)
	if len(frame) > 0 && unmarshalFrame(frame, &fr) == nil {
		res = fromOutcome(fr.Outcome)
		if len(fr.LimitFailures) > 0 {
			p.logger.Debug("scriptbox: child confinement incomplete", "failures", fr.LimitFailures)
			p.metrics.RecordLimitFailures(p.name(), len(fr.LimitFailures))
		}
	} else {
		res = classifyExit(state, waitErr, stderr.String(), j.profile)
	}
	res.Stderr = stderr.String()
	if state != nil {
		res.ExitCode = state.ExitCode()
	}
	return res
}

// classifyExit explains a child that exited without a frame.
func classifyExit(state *os.ProcessState, waitErr error, stderr string, prof Profile) Result {
	if state == nil {
		return Result{Kind: KindSandbox, Error: fmt.Sprintf("Sandbox process failed: %v", waitErr)}
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		sig := ws.Signal()
		if sig == syscall.SIGXCPU || (sig == syscall.SIGKILL && cpuExhausted(state, prof)) {
			return Result{Kind: KindCPU, Error: interp.MsgCPU}
		}
	}
	lower := strings.ToLower(stderr)
	for _, m := range oomMarkers {
		if strings.Contains(lower, m) {
			return Result{Kind: KindMemory, Error: interp.MsgMemory}
		}
	}
	msg := fmt.Sprintf("Sandbox process exited with code %d", state.ExitCode())
	if tail := lastBytes(strings.TrimSpace(stderr), stderrTail); tail != "" {
		msg += ": " + tail
	}
	return Result{Kind: KindSandbox, Error: msg}
}

func cpuExhausted(state *os.ProcessState, prof Profile) bool {
	used := state.UserTime() + state.SystemTime()
	return prof.CPUSeconds > 0 && used >= prof.cpu()-cpuSlack
}

func lastBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// terminate asks the child's group to exit, then kills it after the grace
// period. It returns once the child is reaped.
func (p *processIsolator) terminate(pid int, waitCh <-chan error) {
	if err := signalGroup(pid, syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Debug("scriptbox: SIGTERM child", "pid", pid, "error", err)
	}
	timer := time.NewTimer(p.grace)
	defer timer.Stop()
	select {
	case <-waitCh:
		return
	case <-timer.C:
	}
	if err := signalGroup(pid, syscall.SIGKILL); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Warn("scriptbox: SIGKILL child", "pid", pid, "error", err)
	}
	<-waitCh
}

// live returns the number of running children.
func (p *processIsolator) live() int { return p.children.Size() }

// close kills every live child. Runs in progress report the kill as a
// sandbox failure.
func (p *processIsolator) close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	p.children.Range(func(pid int, _ *os.Process) bool {
		if err := signalGroup(pid, syscall.SIGKILL); err != nil && !errors.Is(err, os.ErrProcessDone) {
			errs = append(errs, fmt.Errorf("kill child %d: %w", pid, err))
		}
		return true
	})
	return errors.Join(errs...)
}
