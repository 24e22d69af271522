// Package interp executes one screened script against the sandbox
// namespace and reduces the run to a plain-data Outcome.
//
// Exec does no screening of its own. Callers run the guard first.
package interp

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"go.starlark.net/starlark"

	"github.com/zhangyunhao116/scriptbox/internal/guard"
	"github.com/zhangyunhao116/scriptbox/internal/sandboxenv"
)

// Outcome kinds. They match the result kinds reported to callers.
const (
	KindSyntax         = "syntax_error"
	KindTimeout        = "timeout"
	KindMemory         = "memory_exceeded"
	KindCPU            = "cpu_exceeded"
	KindRuntime        = "runtime_failure"
	KindModuleNotFound = "module_not_found"
	KindSandbox        = "sandbox_failure"
	KindCanceled       = "canceled"
)

// Messages for runs stopped from outside the script.
const (
	MsgTimeout  = "Execution timeout"
	MsgMemory   = "Memory limit exceeded"
	MsgCPU      = "CPU time limit exceeded"
	MsgCanceled = "Execution canceled"
)

// Global names a script returns data through, in lookup order.
var resultNames = []string{"result", "output"}

// Request describes one execution.
type Request struct {
	Source   string `cbor:"source"`
	Payload  any    `cbor:"payload"`
	Filename string `cbor:"filename,omitempty"`
	// MaxOutput caps captured print output in bytes. Zero keeps everything.
	MaxOutput int64 `cbor:"max_output,omitempty"`
	// MemoryBytes is the heap growth the watchdog tolerates. Zero disables
	// the memory watchdog.
	MemoryBytes int64 `cbor:"memory_bytes,omitempty"`
	// CPU is the process CPU time the watchdog tolerates. Zero disables the
	// CPU watchdog. Only meaningful when the process runs nothing else.
	CPU time.Duration `cbor:"cpu,omitempty"`
}

// Outcome is the plain-data result of one execution.
type Outcome struct {
	OK        bool           `cbor:"ok"`
	Value     any            `cbor:"result,omitempty"`
	Locals    map[string]any `cbor:"locals,omitempty"`
	Stdout    string         `cbor:"stdout,omitempty"`
	Truncated bool           `cbor:"truncated,omitempty"`
	Error     string         `cbor:"error,omitempty"`
	Kind      string         `cbor:"kind,omitempty"`
	Traceback string         `cbor:"traceback,omitempty"`
}

// Exec runs req to completion, until ctx is done, or until a watchdog
// budget is exhausted. Script failures are reported in the Outcome, never
// as a panic.
func Exec(ctx context.Context, req Request) Outcome {
	filename := req.Filename
	if filename == "" {
		filename = guard.Filename
	}
	src, _, err := guard.Rewrite(filename, req.Source)
	if err != nil {
		return Outcome{Kind: KindSyntax, Error: "SyntaxError: " + err.Error()}
	}
	env, err := sandboxenv.Build(req.Payload)
	if err != nil {
		return Outcome{Kind: KindSandbox, Error: err.Error()}
	}

	stdout := NewLimitedBuffer(req.MaxOutput)
	thread := &starlark.Thread{
		Name: "script",
		Load: sandboxenv.Load,
		Print: func(_ *starlark.Thread, msg string) {
			_, _ = stdout.Write([]byte(msg))
			_, _ = stdout.Write([]byte{'\n'})
		},
	}
	st := &stopper{thread: thread}
	unregister := context.AfterFunc(ctx, func() {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			st.stop(KindTimeout, "deadline exceeded")
			return
		}
		st.stop(KindCanceled, "canceled")
	})
	defer unregister()
	stopWatch := watch(req, st)
	defer stopWatch()

	globals, err := execute(thread, filename, src, env)
	out := Outcome{Stdout: stdout.String(), Truncated: stdout.Truncated()}
	if err != nil {
		if kind := st.reason(); kind != "" {
			out.Kind = kind
			out.Error = stopMessage(kind)
			return out
		}
		out.Kind, out.Error, out.Traceback = classify(err)
		return out
	}

	out.OK = true
	for _, name := range resultNames {
		if v, ok := globals[name]; ok {
			out.Value = sandboxenv.FromValue(v)
			break
		}
	}
	out.Locals = collectLocals(globals)
	return out
}

// execute runs the file and turns an interpreter panic into an error.
func execute(thread *starlark.Thread, filename, src string, env starlark.StringDict) (globals starlark.StringDict, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: string(debug.Stack())}
		}
	}()
	return starlark.ExecFileOptions(guard.FileOptions, thread, filename, src, env)
}

type panicError struct {
	value any
	stack string
}

func (e *panicError) Error() string { return fmt.Sprintf("interpreter panic: %v", e.value) }

// collectLocals keeps the script's public data globals.
func collectLocals(globals starlark.StringDict) map[string]any {
	names := make([]string, 0, len(globals))
	for name := range globals {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make(map[string]any)
	for _, name := range names {
		v := globals[name]
		if strings.HasPrefix(name, "_") || name == sandboxenv.InputName || name == sandboxenv.PayloadName {
			continue
		}
		if !sandboxenv.IsData(v) {
			continue
		}
		out[name] = sandboxenv.FromValue(v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// stopper cancels the thread once and remembers why.
type stopper struct {
	mu     sync.Mutex
	kind   string
	thread *starlark.Thread
}

func (s *stopper) stop(kind, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.kind != "" {
		return
	}
	s.kind = kind
	s.thread.Cancel(reason)
}

func (s *stopper) reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kind
}

func stopMessage(kind string) string {
	switch kind {
	case KindTimeout:
		return MsgTimeout
	case KindMemory:
		return MsgMemory
	case KindCPU:
		return MsgCPU
	default:
		return MsgCanceled
	}
}
