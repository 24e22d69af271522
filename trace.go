package scriptbox

import (
	"encoding/json"
	"sync"
	"time"
)

// Trace event types.
const (
	EventGuardStart   = "guard_start"
	EventGuardPass    = "guard_pass"
	EventGuardReject  = "guard_reject"
	EventExecStart    = "exec_start"
	EventExecComplete = "exec_complete"
)

// TraceEvent is one entry of an execution trace.
type TraceEvent struct {
	// Elapsed is the time since the trace started.
	Elapsed time.Duration `json:"time"`
	Type    string        `json:"type"`
	Details any           `json:"details,omitempty"`
}

// MarshalJSON encodes Elapsed as fractional seconds.
func (e TraceEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Time    float64 `json:"time"`
		Type    string  `json:"type"`
		Details any     `json:"details,omitempty"`
	}{e.Elapsed.Seconds(), e.Type, e.Details})
}

// tracer collects events for one run. A nil tracer records nothing.
// Events may arrive from the worker after the caller stopped waiting, so
// recording is locked.
type tracer struct {
	mu     sync.Mutex
	start  time.Time
	events []TraceEvent
}

func newTracer(enabled bool) *tracer {
	if !enabled {
		return nil
	}
	return &tracer{start: time.Now()}
}

func (t *tracer) record(typ string, details any) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, TraceEvent{
		Elapsed: time.Since(t.start),
		Type:    typ,
		Details: details,
	})
}

// snapshot returns the events recorded so far.
func (t *tracer) snapshot() []TraceEvent {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TraceEvent(nil), t.events...)
}
