package scriptbox

import (
	"context"
	"log/slog"
	"sync"

	"github.com/zhangyunhao116/scriptbox/internal/interp"
	"github.com/zhangyunhao116/scriptbox/internal/limits"
	"github.com/zhangyunhao116/scriptbox/internal/metrics"
)

// threadIsolator runs scripts one at a time on a worker goroutine inside
// the host process. Callers queue behind the worker.
//
// A caller that reaches its deadline returns without waiting. The
// interpreter is asked to stop, but that is advisory.
type threadIsolator struct {
	jobs       chan threadJob
	done       chan struct{}
	closeOnce  sync.Once
	hostLimits bool
	logger     *slog.Logger
	metrics    *metrics.Collector
}

type threadJob struct {
	ctx   context.Context
	job   job
	reply chan interp.Outcome
}

func newThreadIsolator(hostLimits bool, logger *slog.Logger, m *metrics.Collector) *threadIsolator {
	t := &threadIsolator{
		jobs:       make(chan threadJob),
		done:       make(chan struct{}),
		hostLimits: hostLimits,
		logger:     logger,
		metrics:    m,
	}
	go t.loop()
	return t
}

func (t *threadIsolator) name() string { return IsolationThread.String() }

func (t *threadIsolator) loop() {
	for {
		select {
		case <-t.done:
			return
		case tj := <-t.jobs:
			tj.reply <- t.exec(tj.ctx, tj.job)
		}
	}
}

// exec runs one job on the worker. The CPU and memory budgets are enforced
// by the interpreter's watchdog. Host limits only add a soft RLIMIT_AS;
// RLIMIT_CPU is never set because its signal would end the host.
func (t *threadIsolator) exec(ctx context.Context, j job) interp.Outcome {
	if ctx.Err() != nil {
		// The caller stopped waiting while the job was queued.
		return interp.Outcome{Kind: interp.KindCanceled, Error: interp.MsgCanceled}
	}
	req := interp.Request{
		Source:      j.source,
		Payload:     j.payload,
		Filename:    j.filename,
		MaxOutput:   j.maxOutput,
		MemoryBytes: j.profile.memoryBytes(),
		CPU:         j.profile.cpu(),
	}
	if t.hostLimits {
		applied := limits.Apply(limits.Profile{
			MemoryBytes:  j.profile.memoryBytes(),
			MaxProcesses: -1,
			SoftOnly:     true,
		})
		defer func() {
			if err := applied.Restore(); err != nil {
				t.logger.Warn("scriptbox: restore host limits", "error", err)
			}
		}()
		if err := applied.Err(); err != nil {
			t.logger.Debug("scriptbox: host limits partially applied",
				"applied", applied.String(), "error", err)
			t.metrics.RecordLimitFailures(t.name(), applied.Failures())
		}
	}

	j.tracer.record(EventExecStart, nil)
	out := interp.Exec(ctx, req)
	j.tracer.record(EventExecComplete, map[string]any{"ok": out.OK, "kind": out.Kind})
	return out
}

func (t *threadIsolator) run(ctx context.Context, j job) Result {
	runCtx, cancel := withWallClock(ctx, j.profile.WallClock)
	defer cancel()

	tj := threadJob{ctx: runCtx, job: j, reply: make(chan interp.Outcome, 1)}
	select {
	case t.jobs <- tj:
	case <-runCtx.Done():
		return stopped(stopKind(ctx))
	case <-t.done:
		return Result{Kind: KindSandbox, Error: ErrRunnerClosed.Error()}
	}

	select {
	case out := <-tj.reply:
		return fromOutcome(out)
	case <-runCtx.Done():
		// The worker's result, when it arrives, lands in the buffered reply
		// channel and is dropped.
		return stopped(stopKind(ctx))
	}
}

// close stops the worker once its current job returns. Queued callers
// receive a sandbox failure.
func (t *threadIsolator) close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}
