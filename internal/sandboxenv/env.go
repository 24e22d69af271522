// Package sandboxenv builds the namespace a script executes in.
//
// The namespace is an explicit allow-list: every name a script can reach is
// listed in allowed below. Names the interpreter would otherwise provide are
// shadowed by a builtin that fails when called.
package sandboxenv

import (
	"fmt"
	"sort"

	"go.starlark.net/lib/json"
	"go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Names bound to the caller's payload.
const (
	InputName   = "input_data"
	PayloadName = "payload"
)

// allowed maps each reachable name to its implementation. A nil value means
// the interpreter's own universe entry of the same name.
var allowed = map[string]starlark.Value{
	"None": nil, "True": nil, "False": nil,
	"all": nil, "any": nil, "bool": nil, "chr": nil, "dict": nil,
	"enumerate": nil, "float": nil, "getattr": nil, "hasattr": nil,
	"hash": nil, "int": nil, "len": nil, "list": nil, "max": nil, "min": nil,
	"ord": nil, "print": nil, "range": nil, "repr": nil, "reversed": nil,
	"set": nil, "sorted": nil, "str": nil, "tuple": nil, "type": nil, "zip": nil,

	"abs":        starlark.NewBuiltin("abs", builtinAbs),
	"sum":        starlark.NewBuiltin("sum", builtinSum),
	"round":      starlark.NewBuiltin("round", builtinRound),
	"pow":        starlark.NewBuiltin("pow", builtinPow),
	"divmod":     starlark.NewBuiltin("divmod", builtinDivmod),
	"map":        starlark.NewBuiltin("map", builtinMap),
	"filter":     starlark.NewBuiltin("filter", builtinFilter),
	"bin":        starlark.NewBuiltin("bin", radix(2, "0b")),
	"oct":        starlark.NewBuiltin("oct", radix(8, "0o")),
	"hex":        starlark.NewBuiltin("hex", radix(16, "0x")),
	"isinstance": starlark.NewBuiltin("isinstance", builtinIsinstance),
}

// modules are the only importable modules. All of them are pure.
var modules = map[string]*starlarkstruct.Module{
	"math": math.Module,
	"json": json.Module,
}

// Builtins returns a fresh copy of the allow-listed namespace, with every
// other universe name shadowed.
func Builtins() starlark.StringDict {
	env := make(starlark.StringDict, len(starlark.Universe)+len(allowed))
	for name := range starlark.Universe {
		if _, ok := allowed[name]; !ok {
			env[name] = unavailable(name)
		}
	}
	for name, v := range allowed {
		if v == nil {
			v = starlark.Universe[name]
		}
		if v != nil {
			env[name] = v
		}
	}
	return env
}

// Build returns the namespace for one run with the payload bound to
// input_data and payload.
func Build(payload any) (starlark.StringDict, error) {
	v, err := ToValue(payload)
	if err != nil {
		return nil, fmt.Errorf("sandboxenv: payload: %w", err)
	}
	env := Builtins()
	env[InputName] = v
	env[PayloadName] = v
	return env, nil
}

// Names returns the allow-listed builtin names in sorted order.
func Names() []string {
	out := make([]string, 0, len(allowed))
	for name := range allowed {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Modules returns the importable module names in sorted order.
func Modules() []string {
	out := make([]string, 0, len(modules))
	for name := range modules {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ModuleNotFoundError is returned by Load for modules outside the allow-list.
type ModuleNotFoundError struct {
	Name string
}

func (e *ModuleNotFoundError) Error() string {
	return fmt.Sprintf("No module named '%s'", e.Name)
}

// Load is the thread loader for scripts. The loaded dictionary holds the
// module itself under its own name and each of its members, which serves
// both "import m" and "from m import x".
func Load(_ *starlark.Thread, module string) (starlark.StringDict, error) {
	m, ok := modules[module]
	if !ok {
		return nil, &ModuleNotFoundError{Name: module}
	}
	out := make(starlark.StringDict, len(m.Members)+1)
	for k, v := range m.Members {
		out[k] = v
	}
	out[module] = m
	return out, nil
}

func unavailable(name string) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
		return nil, fmt.Errorf("name %q is not available in the sandbox", name)
	})
}
