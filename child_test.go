//go:build darwin || linux

package scriptbox

import (
	"bytes"
	"reflect"
	"strings"
	"testing"

	"github.com/zhangyunhao116/scriptbox/internal/interp"
)

func stubConfine(t *testing.T, failures ...string) *[]childRequest {
	t.Helper()
	orig := confineFn
	t.Cleanup(func() { confineFn = orig })
	var seen []childRequest
	confineFn = func(req childRequest) []string {
		seen = append(seen, req)
		return failures
	}
	return &seen
}

func readFrame(t *testing.T, out *bytes.Buffer) resultFrame {
	t.Helper()
	var fr resultFrame
	if err := unmarshalFrame(out.Bytes(), &fr); err != nil {
		t.Fatalf("unmarshalFrame() error: %v", err)
	}
	return fr
}

func TestChildMainRunsScript(t *testing.T) {
	seen := stubConfine(t, "set RLIMIT_NPROC: operation not permitted")
	req := childRequest{
		Request: interp.Request{
			Source:  "print('hi')\nresult = [x * 2 for x in input_data]",
			Payload: []any{int64(1), int64(2)},
		},
		CPUSeconds:  2,
		OutputBytes: 1 << 10,
	}
	in, err := marshalFrame(req)
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if code := childMain(bytes.NewReader(in), &out); code != exitOK {
		t.Fatalf("childMain() = %d, want %d", code, exitOK)
	}
	if len(*seen) != 1 || (*seen)[0].CPUSeconds != 2 || (*seen)[0].OutputBytes != 1<<10 {
		t.Errorf("confine saw %+v", *seen)
	}
	fr := readFrame(t, &out)
	if !fr.Outcome.OK || fr.Outcome.Stdout != "hi\n" {
		t.Errorf("outcome = %+v", fr.Outcome)
	}
	if want := []any{int64(2), int64(4)}; !reflect.DeepEqual(fr.Outcome.Value, want) {
		t.Errorf("got %#v, want %#v", fr.Outcome.Value, want)
	}
	if !reflect.DeepEqual(fr.LimitFailures, []string{"set RLIMIT_NPROC: operation not permitted"}) {
		t.Errorf("limit failures = %v", fr.LimitFailures)
	}
}

func TestChildMainBadRequest(t *testing.T) {
	seen := stubConfine(t)
	var out bytes.Buffer
	if code := childMain(strings.NewReader("not cbor"), &out); code != exitBadRequest {
		t.Fatalf("childMain() = %d, want %d", code, exitBadRequest)
	}
	if len(*seen) != 0 {
		t.Error("confine ran for a bad request")
	}
	fr := readFrame(t, &out)
	if fr.Outcome.OK || fr.Outcome.Kind != interp.KindSandbox || !strings.HasPrefix(fr.Outcome.Error, "decode request: ") {
		t.Errorf("outcome = %+v", fr.Outcome)
	}
}

func TestChildMainScriptFailure(t *testing.T) {
	stubConfine(t)
	in, err := marshalFrame(childRequest{Request: interp.Request{Source: "x = 1 // 0"}})
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if code := childMain(bytes.NewReader(in), &out); code != exitOK {
		t.Fatalf("childMain() = %d, want %d", code, exitOK)
	}
	fr := readFrame(t, &out)
	if fr.Outcome.OK || fr.Outcome.Kind != interp.KindRuntime {
		t.Errorf("outcome = %+v", fr.Outcome)
	}
}

func TestFrameWriterWritesOnce(t *testing.T) {
	var out bytes.Buffer
	fw := &frameWriter{w: &out}
	fw.write(resultFrame{Outcome: interp.Outcome{Kind: interp.KindCPU, Error: interp.MsgCPU}})
	fw.write(resultFrame{Outcome: interp.Outcome{OK: true}})
	fr := readFrame(t, &out)
	if fr.Outcome.Kind != interp.KindCPU {
		t.Errorf("got %+v, want the first frame", fr.Outcome)
	}
}

func TestFrameWriterEncodeFailure(t *testing.T) {
	var out bytes.Buffer
	fw := &frameWriter{w: &out}
	fw.write(resultFrame{Outcome: interp.Outcome{OK: true, Value: make(chan int)}})
	fr := readFrame(t, &out)
	if fr.Outcome.Kind != interp.KindSandbox || !strings.HasPrefix(fr.Outcome.Error, "encode result: ") {
		t.Errorf("got %+v", fr.Outcome)
	}
}

func TestPrewarmThreads(t *testing.T) {
	done := make(chan struct{})
	go func() {
		prewarmThreads(4)
		close(done)
	}()
	<-done
}

func TestMaybeSandboxInitChildOutsideChild(t *testing.T) {
	t.Setenv(childEnvKey, "")
	if maybeSandboxInitChild() {
		t.Error("maybeSandboxInitChild() = true outside a child")
	}
}
