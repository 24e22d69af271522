package scriptbox

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zhangyunhao116/scriptbox/internal/pathutil"
	"github.com/zhangyunhao116/scriptbox/internal/policy"
)

const (
	unknownStr = "unknown"

	defaultMaxOutputBytes   = 10 << 20
	defaultGracePeriod      = 500 * time.Millisecond
	defaultBatchParallelism = 4
)

// Isolation selects how scripts are separated from the host.
type Isolation int

const (
	// IsolationAuto uses process isolation when the host supports it and
	// thread isolation otherwise.
	IsolationAuto Isolation = iota

	// IsolationProcess runs every script in a disposable child process.
	IsolationProcess

	// IsolationThread runs scripts on a single worker goroutine inside the
	// host process.
	IsolationThread
)

// String returns the string representation of an Isolation.
func (i Isolation) String() string {
	switch i {
	case IsolationAuto:
		return "auto"
	case IsolationProcess:
		return "process"
	case IsolationThread:
		return "thread"
	default:
		return unknownStr
	}
}

// ParseIsolation parses the names returned by Isolation.String.
func ParseIsolation(s string) (Isolation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return IsolationAuto, nil
	case "process":
		return IsolationProcess, nil
	case "thread":
		return IsolationThread, nil
	}
	return IsolationAuto, fmt.Errorf("%w: unknown isolation %q", ErrConfigInvalid, s)
}

// FallbackPolicy determines behavior when process isolation is requested but
// unavailable.
type FallbackPolicy int

const (
	// FallbackStrict makes New fail with ErrIsolationUnavailable.
	FallbackStrict FallbackPolicy = iota

	// FallbackWarn uses thread isolation and logs a warning.
	FallbackWarn
)

// String returns the string representation of a FallbackPolicy.
func (f FallbackPolicy) String() string {
	switch f {
	case FallbackStrict:
		return "strict"
	case FallbackWarn:
		return "warn"
	default:
		return unknownStr
	}
}

// Config holds the complete configuration for a Runner.
type Config struct {
	// Isolation selects the isolation strategy.
	Isolation Isolation

	// FallbackPolicy applies when Isolation is IsolationProcess and the host
	// cannot re-execute itself under resource limits.
	FallbackPolicy FallbackPolicy

	// Profile is the default resource profile. Zero fields take the
	// platform defaults from DefaultProfile.
	Profile Profile

	// MaxOutputBytes caps captured stdout and stderr, each. 0 means no
	// limit. DefaultConfig sets 10 MB.
	MaxOutputBytes int64

	// Policy is the denylist. If nil, PolicyFile is loaded, or the built-in
	// default is used when PolicyFile is empty too.
	Policy *Policy

	// PolicyFile is a YAML policy loaded by New when Policy is nil.
	PolicyFile string

	// ModuleRoot confines RunModule and ValidateModule to files below it,
	// symlinks resolved. Empty allows any path.
	ModuleRoot string

	// ApplyHostLimits applies the resource limiter to the host process
	// during thread-isolated runs. It changes process-wide limits, so it
	// is off by default.
	ApplyHostLimits bool

	// Trace records an execution trace for every run.
	Trace bool

	// GracePeriod is how long a timed-out child gets between SIGTERM and
	// SIGKILL.
	GracePeriod time.Duration

	// BatchParallelism bounds the concurrent runs of RunBatch.
	BatchParallelism int

	// Logger receives operational messages. If nil, slog.Default() is used.
	Logger *slog.Logger

	// Registerer receives the runner's metrics. If nil, metrics are kept on
	// a private registry.
	Registerer prometheus.Registerer
}

// DefaultConfig returns a Config with the platform defaults.
func DefaultConfig() *Config {
	return &Config{
		Isolation:        IsolationAuto,
		FallbackPolicy:   FallbackStrict,
		Profile:          DefaultProfile(),
		MaxOutputBytes:   defaultMaxOutputBytes,
		GracePeriod:      defaultGracePeriod,
		BatchParallelism: defaultBatchParallelism,
	}
}

// Validate checks the configuration for errors and returns a descriptive error
// if any field is invalid. The returned error wraps ErrConfigInvalid.
func (c *Config) Validate() error {
	var errs []string

	if c.Isolation < IsolationAuto || c.Isolation > IsolationThread {
		errs = append(errs, "Isolation: invalid value")
	}
	if c.FallbackPolicy < FallbackStrict || c.FallbackPolicy > FallbackWarn {
		errs = append(errs, "FallbackPolicy: invalid value")
	}
	if err := c.Profile.Validate(); err != nil {
		errs = append(errs, "Profile: "+err.Error())
	}
	if c.MaxOutputBytes < 0 {
		errs = append(errs, "MaxOutputBytes: must be >= 0")
	}
	if c.GracePeriod < 0 {
		errs = append(errs, "GracePeriod: must be >= 0")
	}
	if c.BatchParallelism < 0 {
		errs = append(errs, "BatchParallelism: must be >= 0")
	}
	if c.PolicyFile != "" && pathutil.ContainsNullByte(c.PolicyFile) {
		errs = append(errs, "PolicyFile: must not contain null bytes")
	}
	if c.ModuleRoot != "" {
		if pathutil.ContainsNullByte(c.ModuleRoot) {
			errs = append(errs, "ModuleRoot: must not contain null bytes")
		} else if _, err := filepath.Abs(c.ModuleRoot); err != nil {
			errs = append(errs, fmt.Sprintf("ModuleRoot: cannot resolve to absolute path: %v", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrConfigInvalid, strings.Join(errs, "; "))
	}
	return nil
}

// withDefaults fills the zero durations and sizes DefaultConfig would set.
// MaxOutputBytes keeps its zero value, which disables the cap.
func (c Config) withDefaults() Config {
	c.Profile = c.Profile.withDefaults(DefaultProfile())
	if c.GracePeriod == 0 {
		c.GracePeriod = defaultGracePeriod
	}
	if c.BatchParallelism == 0 {
		c.BatchParallelism = defaultBatchParallelism
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// resolvePolicy returns the policy the configuration names.
func (c *Config) resolvePolicy() (*policy.Policy, error) {
	if c.Policy != nil {
		return c.Policy, nil
	}
	if c.PolicyFile != "" {
		return LoadPolicy(c.PolicyFile)
	}
	return policy.Default(), nil
}

// deepCopyConfig returns a copy of cfg. Policies are immutable and the
// Logger and Registerer are shared by reference.
func deepCopyConfig(cfg *Config) Config {
	return *cfg
}
