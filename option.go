package scriptbox

import "time"

// Option configures a single Run, RunModule or RunBatch call.
type Option func(*callOptions)

// callOptions holds per-call configuration applied via Option functions.
type callOptions struct {
	profile        *Profile
	timeout        time.Duration
	entry          string
	trace          bool
	maxOutputBytes *int64
}

// WithProfile overrides the resource profile for a single call. Zero fields
// take the runner's profile.
func WithProfile(p Profile) Option {
	return func(o *callOptions) {
		o.profile = &p
	}
}

// WithTimeout overrides the wall-clock budget for a single call.
func WithTimeout(d time.Duration) Option {
	return func(o *callOptions) {
		o.timeout = d
	}
}

// WithEntry names the function RunModule calls with the payload. The
// default is "execute".
func WithEntry(name string) Option {
	return func(o *callOptions) {
		o.entry = name
	}
}

// WithTrace records an execution trace for a single call.
func WithTrace() Option {
	return func(o *callOptions) {
		o.trace = true
	}
}

// WithMaxOutputBytes sets the output cap for a single call. 0 disables it.
func WithMaxOutputBytes(n int64) Option {
	return func(o *callOptions) {
		o.maxOutputBytes = &n
	}
}

// resolved is the effective per-call configuration.
type resolved struct {
	profile   Profile
	entry     string
	trace     bool
	maxOutput int64
}

// resolveOptions merges opts over cfg. It fails with ErrInvalidProfile for
// negative budgets.
func resolveOptions(cfg *Config, opts []Option) (resolved, error) {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	r := resolved{
		profile:   cfg.Profile,
		entry:     defaultEntry,
		trace:     cfg.Trace || o.trace,
		maxOutput: cfg.MaxOutputBytes,
	}
	if o.profile != nil {
		if err := o.profile.Validate(); err != nil {
			return resolved{}, err
		}
		r.profile = o.profile.withDefaults(cfg.Profile)
	}
	if o.timeout < 0 {
		return resolved{}, ErrInvalidProfile
	}
	if o.timeout > 0 {
		r.profile.WallClock = o.timeout
	}
	if o.entry != "" {
		r.entry = o.entry
	}
	if o.maxOutputBytes != nil {
		if *o.maxOutputBytes < 0 {
			return resolved{}, ErrConfigInvalid
		}
		r.maxOutput = *o.maxOutputBytes
	}
	return r, nil
}
