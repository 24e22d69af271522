package scriptbox

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/zhangyunhao116/scriptbox/internal/guard"
	"github.com/zhangyunhao116/scriptbox/internal/interp"
)

func TestResultJSON(t *testing.T) {
	r := Result{
		OK:       true,
		Value:    int64(6),
		Duration: 1500 * time.Microsecond,
		Strategy: "thread",
		RunID:    "id",
		Trace:    []TraceEvent{{Elapsed: 250 * time.Millisecond, Type: EventGuardStart}},
	}
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	want := map[string]any{
		"ok":          true,
		"result":      float64(6),
		"duration_ms": 1.5,
		"strategy":    "thread",
		"run_id":      "id",
		"trace":       []any{map[string]any{"time": 0.25, "type": "guard_start"}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestResultJSONFailure(t *testing.T) {
	data, err := json.Marshal(Result{Kind: KindTimeout, Error: "Execution timeout", Timeout: true})
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if got["ok"] != false || got["timeout"] != true || got["kind"] != "timeout" {
		t.Errorf("got %v", got)
	}
	if _, ok := got["result"]; ok {
		t.Error("result present on failure")
	}
}

func TestFromOutcome(t *testing.T) {
	r := fromOutcome(interp.Outcome{Kind: interp.KindTimeout, Error: interp.MsgTimeout, Stdout: "x\n"})
	if !r.Timeout || r.OK || r.Stdout != "x\n" {
		t.Errorf("got %+v", r)
	}
	r = fromOutcome(interp.Outcome{OK: true, Value: "v", Locals: map[string]any{"a": int64(1)}})
	if !r.OK || r.Timeout || r.Value != "v" || r.Locals["a"] != int64(1) {
		t.Errorf("got %+v", r)
	}
}

func TestStopped(t *testing.T) {
	r := stopped(KindTimeout)
	if !r.Timeout || r.Error != interp.MsgTimeout {
		t.Errorf("timeout result = %+v", r)
	}
	r = stopped(KindCanceled)
	if r.Timeout || r.Kind != KindCanceled || r.Error != interp.MsgCanceled {
		t.Errorf("canceled result = %+v", r)
	}
}

func TestRejected(t *testing.T) {
	r := rejected(guard.Report{Parseable: true, Violations: []string{"Blocked import: os"}})
	if r.OK || r.Kind != KindSecurityViolation || len(r.Violations) != 1 {
		t.Errorf("violation result = %+v", r)
	}
	r = rejected(guard.Report{Violations: []string{"Syntax error: x"}})
	if r.Kind != KindSyntax {
		t.Errorf("syntax result kind = %q, want %q", r.Kind, KindSyntax)
	}
}

func TestTracer(t *testing.T) {
	var nilTracer *tracer
	nilTracer.record(EventGuardStart, nil)
	if got := nilTracer.snapshot(); got != nil {
		t.Errorf("nil tracer snapshot = %v", got)
	}
	if newTracer(false) != nil {
		t.Error("disabled tracer is not nil")
	}

	tr := newTracer(true)
	tr.record(EventGuardStart, nil)
	tr.record(EventGuardPass, guard.Stats{Calls: 1})
	events := tr.snapshot()
	if len(events) != 2 || events[0].Type != EventGuardStart || events[1].Type != EventGuardPass {
		t.Fatalf("events = %+v", events)
	}
	if events[1].Elapsed < events[0].Elapsed {
		t.Errorf("events not monotonic: %v then %v", events[0].Elapsed, events[1].Elapsed)
	}
}
