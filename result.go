package scriptbox

import (
	"encoding/json"
	"time"

	"github.com/zhangyunhao116/scriptbox/internal/guard"
	"github.com/zhangyunhao116/scriptbox/internal/interp"
)

// Kind classifies a failed run.
type Kind string

const (
	KindSyntax            Kind = interp.KindSyntax
	KindSecurityViolation Kind = "security_violation"
	KindTimeout           Kind = interp.KindTimeout
	KindMemory            Kind = interp.KindMemory
	KindCPU               Kind = interp.KindCPU
	KindRuntime           Kind = interp.KindRuntime
	KindModuleNotFound    Kind = interp.KindModuleNotFound
	KindSandbox           Kind = interp.KindSandbox
	KindCanceled          Kind = interp.KindCanceled
)

// msgViolations is the Error of a run the guard rejected.
const msgViolations = "Guard violations"

// Result is the outcome of one run. Script failures are reported here, never
// as a Go error.
//
// OK false implies at least one of Violations, Error or Timeout is set. OK
// true implies neither Violations nor Timeout is.
type Result struct {
	// OK reports whether the script ran to completion.
	OK bool `json:"ok"`

	// Value is the script's result global, or output when result is unset.
	Value any `json:"result,omitempty"`

	// Error describes a failure as "<Category>: <message>" for runtime
	// failures.
	Error string `json:"error,omitempty"`

	// Kind classifies the failure.
	Kind Kind `json:"kind,omitempty"`

	// Stdout holds the script's printed output.
	Stdout string `json:"stdout,omitempty"`

	// Stderr holds what a child process wrote to its standard error.
	Stderr string `json:"stderr,omitempty"`

	// Timeout reports that the caller stopped waiting at the deadline. The
	// work itself may not have stopped under thread isolation.
	Timeout bool `json:"timeout,omitempty"`

	// Violations lists the constructs the guard rejected, in source order.
	Violations []string `json:"violations,omitempty"`

	// Trace is the execution trace when tracing was requested.
	Trace []TraceEvent `json:"trace,omitempty"`

	// Locals holds the script's public data globals.
	Locals map[string]any `json:"locals,omitempty"`

	// Traceback is the interpreter's backtrace of a runtime failure.
	Traceback string `json:"traceback,omitempty"`

	// Duration is the wall-clock time of the whole call.
	Duration time.Duration `json:"-"`

	// ExitCode is the child's exit code under process isolation.
	ExitCode int `json:"exit_code,omitempty"`

	// Strategy names the isolation strategy that handled the run.
	Strategy string `json:"strategy"`

	// RunID identifies the run in logs.
	RunID string `json:"run_id"`

	// Truncated reports that Stdout or Stderr hit the output cap.
	Truncated bool `json:"truncated,omitempty"`
}

// MarshalJSON adds duration_ms to the encoded result.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	return json.Marshal(struct {
		plain
		DurationMS float64 `json:"duration_ms"`
	}{plain(r), float64(r.Duration.Microseconds()) / 1000})
}

// fromOutcome converts an interpreter outcome.
func fromOutcome(o interp.Outcome) Result {
	r := Result{
		OK:        o.OK,
		Value:     o.Value,
		Error:     o.Error,
		Kind:      Kind(o.Kind),
		Stdout:    o.Stdout,
		Locals:    o.Locals,
		Traceback: o.Traceback,
		Truncated: o.Truncated,
	}
	r.Timeout = r.Kind == KindTimeout
	return r
}

// stopped returns the result of a run the caller gave up on.
func stopped(kind Kind) Result {
	r := Result{Kind: kind}
	switch kind {
	case KindTimeout:
		r.Error = interp.MsgTimeout
		r.Timeout = true
	default:
		r.Error = interp.MsgCanceled
	}
	return r
}

// GuardStats counts the constructs a validation inspected.
type GuardStats = guard.Stats

// Validation is the outcome of a guard-only check.
type Validation struct {
	Valid      bool       `json:"valid"`
	Violations []string   `json:"violations,omitempty"`
	Stats      GuardStats `json:"stats"`
}

func validationOf(rep guard.Report) Validation {
	return Validation{
		Valid:      rep.Allowed(),
		Violations: rep.Violations,
		Stats:      rep.Stats,
	}
}

// rejected returns the result of a run the guard refused.
func rejected(rep guard.Report) Result {
	kind := KindSecurityViolation
	if !rep.Parseable {
		kind = KindSyntax
	}
	return Result{
		Kind:       kind,
		Error:      msgViolations,
		Violations: rep.Violations,
	}
}
