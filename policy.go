package scriptbox

import "github.com/zhangyunhao116/scriptbox/internal/policy"

// Policy is the versioned denylist of module, call and attribute names the
// guard rejects. Policies are immutable.
type Policy = policy.Policy

// DefaultPolicy returns the built-in denylist.
func DefaultPolicy() *Policy { return policy.Default() }

// ParsePolicy parses a YAML policy document. The returned error is a
// *PolicyError.
func ParsePolicy(data []byte) (*Policy, error) {
	p, err := policy.Parse(data)
	if err != nil {
		return nil, &PolicyError{Err: err}
	}
	return p, nil
}

// LoadPolicy reads and parses the YAML policy at path. The returned error is
// a *PolicyError.
func LoadPolicy(path string) (*Policy, error) {
	p, err := policy.Load(path)
	if err != nil {
		return nil, &PolicyError{Path: path, Err: err}
	}
	return p, nil
}
