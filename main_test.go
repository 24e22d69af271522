package scriptbox

import (
	"os"
	"testing"
)

func TestMain(m *testing.M) {
	// Process isolation re-executes this test binary as the sandbox child.
	if MaybeSandboxInit() {
		return
	}
	os.Exit(m.Run())
}

// newThreadRunner returns a thread-isolated runner closed at test end.
func newThreadRunner(t *testing.T, mutate ...func(*Config)) *Runner {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Isolation = IsolationThread
	for _, fn := range mutate {
		fn(cfg)
	}
	r, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}
