package scriptbox

import (
	"errors"
	"fmt"

	"github.com/zhangyunhao116/scriptbox/internal/policy"
)

// Sentinel errors returned by the scriptbox package. Failures that originate
// in a script are reported in Result, never as one of these.
var (
	// ErrConfigInvalid indicates the provided configuration failed validation.
	ErrConfigInvalid = errors.New("scriptbox: invalid configuration")

	// ErrInvalidProfile indicates a resource profile with negative values.
	ErrInvalidProfile = errors.New("scriptbox: invalid resource profile")

	// ErrEmptyModulePath indicates a module call without a path.
	ErrEmptyModulePath = errors.New("scriptbox: module path must not be empty")

	// ErrModuleNotFound indicates ValidateModule was given a path that does
	// not resolve to a readable file, or resolves outside the module root.
	ErrModuleNotFound = errors.New("scriptbox: module not found")

	// ErrInvalidEntry indicates an entry point that is not an identifier.
	ErrInvalidEntry = errors.New("scriptbox: invalid entry point name")

	// ErrInvalidPayload indicates a payload that cannot be converted to
	// script values.
	ErrInvalidPayload = errors.New("scriptbox: payload cannot be converted")

	// ErrRunnerClosed indicates the runner has already been closed.
	ErrRunnerClosed = errors.New("scriptbox: runner already closed")

	// ErrIsolationUnavailable indicates process isolation was required but
	// the host cannot provide it.
	ErrIsolationUnavailable = errors.New("scriptbox: process isolation unavailable")

	// ErrPolicyInvalid indicates a policy document failed validation.
	ErrPolicyInvalid = policy.ErrInvalid
)

// PolicyError is returned when a policy file cannot be loaded or parsed.
// It matches both ErrPolicyInvalid and the underlying cause.
type PolicyError struct {
	// Path is the policy file, empty for in-memory policies.
	Path string
	// Err is the underlying cause.
	Err error
}

func (e *PolicyError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("scriptbox: policy: %v", e.Err)
	}
	return fmt.Sprintf("scriptbox: policy %s: %v", e.Path, e.Err)
}

func (e *PolicyError) Unwrap() []error {
	return []error{ErrPolicyInvalid, e.Err}
}
