package scriptbox

import (
	"github.com/zhangyunhao116/scriptbox/internal/limits"
	"github.com/zhangyunhao116/scriptbox/internal/sandboxenv"
)

// LimitSupport reports which OS resource limits the host lets a process set.
type LimitSupport = limits.Support

// Capabilities describes what a Runner enforces on this host.
type Capabilities struct {
	Strategy        string       `json:"strategy"`
	Limits          LimitSupport `json:"limits"`
	LandlockABI     int          `json:"landlock_abi"`
	Builtins        []string     `json:"builtins"`
	Modules         []string     `json:"modules"`
	PolicyVersion   string       `json:"policy_version"`
	DeniedModules   int          `json:"denied_modules"`
	DeniedCalls     int          `json:"denied_calls"`
	DeniedAttrs     int          `json:"denied_attributes"`
	DefaultProfile  Profile      `json:"default_profile"`
	MaxOutputBytes  int64        `json:"max_output_bytes"`
	ApplyHostLimits bool         `json:"apply_host_limits"`
}

// Capabilities reports the active strategy, the supported OS limits, the
// script namespace and the policy in effect.
func (r *Runner) Capabilities() Capabilities {
	pol := r.policy.Load()
	return Capabilities{
		Strategy:        r.iso.name(),
		Limits:          limits.Supported(),
		LandlockABI:     limits.LandlockABI(),
		Builtins:        sandboxenv.Names(),
		Modules:         sandboxenv.Modules(),
		PolicyVersion:   pol.Version(),
		DeniedModules:   len(pol.Modules()),
		DeniedCalls:     len(pol.Calls()),
		DeniedAttrs:     len(pol.Attributes()),
		DefaultProfile:  r.cfg.Profile,
		MaxOutputBytes:  r.cfg.MaxOutputBytes,
		ApplyHostLimits: r.cfg.ApplyHostLimits,
	}
}
