package scriptbox

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestRunBatchOrder(t *testing.T) {
	dir := t.TempDir()
	mod := writeModule(t, dir, "double.star", "def execute(d):\n    return d * 2\n")
	r := newThreadRunner(t, func(c *Config) { c.BatchParallelism = 3 })

	items := []BatchItem{
		{Source: "result = input_data + 1", Payload: 1},
		{Path: mod, Payload: 5},
		{Source: "import socket"},
		{Source: "result = 1 // 0"},
		{Path: filepath.Join(dir, "missing.star")},
		{Source: "while True:\n    pass", Options: []Option{WithTimeout(100 * time.Millisecond)}},
	}
	res, err := r.RunBatch(context.Background(), items)
	if err != nil {
		t.Fatalf("RunBatch() error: %v", err)
	}
	if len(res) != len(items) {
		t.Fatalf("got %d results, want %d", len(res), len(items))
	}
	wantKinds := []Kind{"", "", KindSecurityViolation, KindRuntime, KindModuleNotFound, KindTimeout}
	for i, want := range wantKinds {
		if res[i].Kind != want {
			t.Errorf("item %d kind = %q, want %q (%s)", i, res[i].Kind, want, res[i].Error)
		}
	}
	if res[0].Value != int64(2) || res[1].Value != int64(10) {
		t.Errorf("values = %v, %v", res[0].Value, res[1].Value)
	}
	if res[0].RunID == res[1].RunID {
		t.Error("batch items share a run id")
	}
}

func TestRunBatchSharedOptions(t *testing.T) {
	r := newThreadRunner(t)
	items := []BatchItem{
		{Source: "print('abcdef')"},
		{Source: "print('abcdef')", Options: []Option{WithMaxOutputBytes(3)}},
	}
	res, err := r.RunBatch(context.Background(), items, WithTrace())
	if err != nil {
		t.Fatalf("RunBatch() error: %v", err)
	}
	for i := range res {
		if len(res[i].Trace) == 0 {
			t.Errorf("item %d: shared WithTrace not applied", i)
		}
	}
	if res[0].Truncated || res[0].Stdout != "abcdef\n" {
		t.Errorf("item 0 = %+v", res[0])
	}
	if !res[1].Truncated || res[1].Stdout != "abc" {
		t.Errorf("item 1 = %+v, want truncated output", res[1])
	}
}

func TestRunBatchMisuse(t *testing.T) {
	r := newThreadRunner(t)
	items := []BatchItem{
		{Source: "result = 1"},
		{Source: "result = 2", Options: []Option{WithTimeout(-time.Second)}},
	}
	if _, err := r.RunBatch(context.Background(), items); !errors.Is(err, ErrInvalidProfile) {
		t.Errorf("got %v, want %v", err, ErrInvalidProfile)
	}

	if res, err := r.RunBatch(context.Background(), nil); err != nil || len(res) != 0 {
		t.Errorf("empty batch = %v, %v", res, err)
	}

	_ = r.Close()
	if _, err := r.RunBatch(context.Background(), items); !errors.Is(err, ErrRunnerClosed) {
		t.Errorf("after Close got %v, want %v", err, ErrRunnerClosed)
	}
}
