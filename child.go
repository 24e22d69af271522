//go:build darwin || linux

package scriptbox

import (
	"context"
	"io"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"sync"
	"syscall"

	"github.com/zhangyunhao116/scriptbox/internal/interp"
	"github.com/zhangyunhao116/scriptbox/internal/limits"
)

// childEnvKey marks a process re-executed as a sandbox child.
const childEnvKey = "_SCRIPTBOX_CHILD"

// childResultFD is the descriptor the child writes its result frame to.
const childResultFD = 3

// Child exit codes. A child that wrote a frame exits with exitOK or exitCPU.
const (
	exitOK         = 0
	exitBadRequest = 2
	exitCPU        = 3
)

const (
	// childThreads OS threads are started before RLIMIT_NPROC forbids new
	// ones, so the runtime can hand off blocked goroutines afterwards.
	childThreads  = 8
	childMaxProcs = 2

	// childHeapSlack is the soft memory limit above the script budget that
	// covers the interpreter itself.
	childHeapSlack = 32 << 20
)

// Function variables for dependency injection in tests.
var (
	osExitFn  = os.Exit
	confineFn = confine
)

func maybeSandboxInitChild() bool {
	if os.Getenv(childEnvKey) != "1" {
		return false
	}
	result := os.NewFile(childResultFD, "result")
	code := childMain(os.Stdin, result)
	_ = result.Close()
	osExitFn(code)
	return true // unreachable, but satisfies the compiler
}

// frameWriter writes at most one frame. The SIGXCPU handler and the normal
// completion path race for it.
type frameWriter struct {
	once sync.Once
	w    io.Writer
}

func (f *frameWriter) write(fr resultFrame) {
	f.once.Do(func() {
		data, err := marshalFrame(fr)
		if err != nil {
			data, _ = marshalFrame(resultFrame{
				Outcome:       interp.Outcome{Kind: interp.KindSandbox, Error: "encode result: " + err.Error()},
				LimitFailures: fr.LimitFailures,
			})
		}
		_, _ = f.w.Write(data)
	})
}

// childMain decodes the request from in, confines the process, runs the
// script and writes the result frame to out. It returns the exit code.
func childMain(in io.Reader, out io.Writer) int {
	fw := &frameWriter{w: out}

	var req childRequest
	data, err := io.ReadAll(io.LimitReader(in, maxFrameBytes))
	if err == nil {
		err = unmarshalFrame(data, &req)
	}
	if err != nil {
		fw.write(resultFrame{Outcome: interp.Outcome{
			Kind:  interp.KindSandbox,
			Error: "decode request: " + err.Error(),
		}})
		return exitBadRequest
	}

	failures := confineFn(req)

	xcpu := make(chan os.Signal, 1)
	signal.Notify(xcpu, syscall.SIGXCPU)
	defer signal.Stop(xcpu)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-xcpu:
			fw.write(resultFrame{
				Outcome:       interp.Outcome{Kind: interp.KindCPU, Error: interp.MsgCPU},
				LimitFailures: failures,
			})
			osExitFn(exitCPU)
		case <-done:
		}
	}()

	if req.MemoryBytes > 0 {
		debug.SetMemoryLimit(req.MemoryBytes + childHeapSlack)
	}
	outcome := interp.Exec(context.Background(), req.Request)
	fw.write(resultFrame{Outcome: outcome, LimitFailures: failures})
	return exitOK
}

// confine hardens the process, applies the resource limits and removes
// filesystem and process access. Every step is best-effort; the failures
// are returned for the parent to log.
func confine(req childRequest) []string {
	var failures []string
	note := func(err error) {
		if err != nil {
			failures = append(failures, err.Error())
		}
	}

	note(limits.Harden())
	prewarmThreads(childThreads)
	applied := limits.Apply(limits.Profile{
		CPUSeconds:   req.CPUSeconds,
		MemoryBytes:  req.MemoryBytes,
		OutputBytes:  req.OutputBytes,
		MaxProcesses: 0,
	})
	note(applied.Err())
	note(limits.Lockdown())
	return failures
}

// prewarmThreads makes the runtime start n OS threads and leaves them idle.
func prewarmThreads(n int) {
	runtime.GOMAXPROCS(childMaxProcs)
	var locked, exited sync.WaitGroup
	release := make(chan struct{})
	locked.Add(n)
	exited.Add(n)
	for range n {
		go func() {
			defer exited.Done()
			runtime.LockOSThread()
			locked.Done()
			<-release
			// Unlocking before returning keeps the thread for reuse.
			runtime.UnlockOSThread()
		}()
	}
	locked.Wait()
	close(release)
	exited.Wait()
}
