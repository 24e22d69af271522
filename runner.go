package scriptbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zhangyunhao116/scriptbox/internal/guard"
	"github.com/zhangyunhao116/scriptbox/internal/metrics"
	"github.com/zhangyunhao116/scriptbox/internal/policy"
	"github.com/zhangyunhao116/scriptbox/internal/sandboxenv"
)

// Runner screens and executes untrusted scripts. It is safe for concurrent
// use. Under thread isolation concurrent calls queue behind one worker.
type Runner struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Collector
	iso     isolator
	policy  atomic.Pointer[policy.Policy]
	closed  atomic.Bool

	mu       sync.Mutex
	watchers []*policy.Watcher
	wg       sync.WaitGroup
}

// New creates a Runner from cfg. The configuration is copied, so later
// changes to cfg have no effect.
func New(cfg *Config) (*Runner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config must not be nil", ErrConfigInvalid)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := deepCopyConfig(cfg).withDefaults()
	pol, err := c.resolvePolicy()
	if err != nil {
		return nil, err
	}

	r := &Runner{
		cfg:     c,
		logger:  c.Logger,
		metrics: metrics.NewCollector(c.Registerer),
	}
	r.policy.Store(pol)
	iso, err := r.chooseIsolator()
	if err != nil {
		return nil, err
	}
	r.iso = iso
	r.logger.Debug("scriptbox: runner ready",
		"strategy", iso.name(),
		"policy_version", pol.Version(),
		"fallback", c.FallbackPolicy.String())
	return r, nil
}

// chooseIsolator picks the isolation strategy once, at construction.
func (r *Runner) chooseIsolator() (isolator, error) {
	thread := func() isolator {
		return newThreadIsolator(r.cfg.ApplyHostLimits, r.logger, r.metrics)
	}
	switch r.cfg.Isolation {
	case IsolationThread:
		return thread(), nil
	case IsolationAuto:
		if err := processSupported(); err != nil {
			r.logger.Info("scriptbox: process isolation unavailable, using thread isolation", "reason", err)
			return thread(), nil
		}
		iso, err := newProcessIsolator(r.cfg.GracePeriod, r.logger, r.metrics)
		if err != nil {
			r.logger.Info("scriptbox: process isolation unavailable, using thread isolation", "reason", err)
			return thread(), nil
		}
		return iso, nil
	default:
		iso, err := newProcessIsolator(r.cfg.GracePeriod, r.logger, r.metrics)
		if err == nil {
			return iso, nil
		}
		if r.cfg.FallbackPolicy == FallbackWarn {
			r.logger.Warn("scriptbox: process isolation unavailable, running scripts in-process", "error", err)
			return thread(), nil
		}
		return nil, err
	}
}

// Run screens source against the policy and, if it passes, executes it with
// payload bound to input_data and payload. Script failures are reported in
// the Result; the error is non-nil only for misuse.
func (r *Runner) Run(ctx context.Context, source string, payload any, opts ...Option) (Result, error) {
	if r.closed.Load() {
		return Result{}, ErrRunnerClosed
	}
	o, err := resolveOptions(&r.cfg, opts)
	if err != nil {
		return Result{}, err
	}
	payload, err = normalizePayload(payload)
	if err != nil {
		return Result{}, err
	}
	return r.execute(ctx, job{source: source, payload: payload, filename: guard.Filename}, o), nil
}

// execute runs the guard and hands a passing script to the isolator.
func (r *Runner) execute(ctx context.Context, j job, o resolved) Result {
	start := time.Now()
	runID := uuid.NewString()
	pol := r.policy.Load()
	tr := newTracer(o.trace)
	j.profile = o.profile
	j.maxOutput = o.maxOutput
	j.tracer = tr

	var res Result
	tr.record(EventGuardStart, nil)
	rep := guard.Scan(j.source, pol)
	if rep.Allowed() {
		tr.record(EventGuardPass, rep.Stats)
		res = r.iso.run(ctx, j)
	} else {
		tr.record(EventGuardReject, rep.Violations)
		r.metrics.RecordViolations(pol.Version(), len(rep.Violations))
		res = rejected(rep)
	}
	return r.finish(res, runID, start, tr)
}

// finish stamps the bookkeeping fields and records the run.
func (r *Runner) finish(res Result, runID string, start time.Time, tr *tracer) Result {
	res.RunID = runID
	res.Strategy = r.iso.name()
	res.Duration = time.Since(start)
	res.Trace = tr.snapshot()
	r.metrics.RecordRun(res.Strategy, string(res.Kind), res.Duration)
	r.logger.Debug("scriptbox: run finished",
		"run_id", runID,
		"strategy", res.Strategy,
		"ok", res.OK,
		"kind", res.Kind,
		"duration", res.Duration)
	return res
}

// Validate screens source without running it.
func (r *Runner) Validate(source string) Validation {
	return validationOf(guard.Scan(source, r.policy.Load()))
}

// Policy returns the policy in effect.
func (r *Runner) Policy() *Policy {
	return r.policy.Load()
}

// UpdatePolicy replaces the policy for subsequent runs. Runs already past
// the guard are unaffected.
func (r *Runner) UpdatePolicy(p *Policy) error {
	if p == nil {
		return &PolicyError{Err: errors.New("policy must not be nil")}
	}
	r.policy.Store(p)
	r.logger.Info("scriptbox: policy updated", "policy_version", p.Version())
	return nil
}

// WatchPolicy loads the policy file at path and keeps reloading it whenever
// it changes, until ctx is done or the runner is closed. A file that fails
// to parse leaves the previous policy in effect.
func (r *Runner) WatchPolicy(ctx context.Context, path string) error {
	if r.closed.Load() {
		return ErrRunnerClosed
	}
	p, err := LoadPolicy(path)
	if err != nil {
		return err
	}
	w, err := policy.NewWatcher(path,
		func(p *policy.Policy) {
			r.policy.Store(p)
			r.metrics.RecordPolicyReload(nil)
			r.logger.Info("scriptbox: policy reloaded", "path", path, "policy_version", p.Version())
		},
		func(err error) {
			r.metrics.RecordPolicyReload(err)
			r.logger.Warn("scriptbox: policy reload failed, keeping previous policy", "path", path, "error", err)
		})
	if err != nil {
		return &PolicyError{Path: path, Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed.Load() {
		_ = w.Close()
		return ErrRunnerClosed
	}
	r.policy.Store(p)
	r.watchers = append(r.watchers, w)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		w.Run(ctx)
	}()
	return nil
}

// Close stops policy watchers and releases the isolator: the thread worker
// exits after its current job and live child processes are killed. Close is
// idempotent.
func (r *Runner) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.mu.Lock()
	watchers := r.watchers
	r.watchers = nil
	r.mu.Unlock()

	var errs []error
	for _, w := range watchers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.wg.Wait()
	if err := r.iso.close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// normalizePayload reduces payload to the plain data a script sees, so both
// strategies receive identical values.
func normalizePayload(payload any) (any, error) {
	if payload == nil {
		return nil, nil
	}
	v, err := sandboxenv.ToValue(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return sandboxenv.FromValue(v), nil
}
