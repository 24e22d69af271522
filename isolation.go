package scriptbox

import (
	"context"
	"errors"
	"time"
)

// job is one screened script ready for an isolator.
type job struct {
	source    string
	payload   any
	filename  string
	profile   Profile
	maxOutput int64
	tracer    *tracer
}

// isolator runs screened scripts. Implementations are chosen once, in New.
type isolator interface {
	name() string
	run(ctx context.Context, j job) Result
	close() error
}

// withWallClock bounds ctx by the profile's wall clock, measured from now.
func withWallClock(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}

// stopKind tells a caller cancellation from an expired deadline once the
// run context is done. A caller deadline counts as a timeout.
func stopKind(parent context.Context) Kind {
	if errors.Is(parent.Err(), context.Canceled) {
		return KindCanceled
	}
	return KindTimeout
}
