package interp

import (
	"errors"
	"regexp"
	"strings"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/zhangyunhao116/scriptbox/internal/sandboxenv"
)

// categories maps interpreter messages to the familiar error category names.
// The first match wins.
var categories = []struct {
	name string
	re   *regexp.Regexp
}{
	{"ZeroDivisionError", regexp.MustCompile(`division by zero|modulo by zero`)},
	{"KeyError", regexp.MustCompile(`not in dict|key .+ not found`)},
	{"IndexError", regexp.MustCompile(`out of range`)},
	{"AttributeError", regexp.MustCompile(`has no \.\w+ field or method`)},
	{"NameError", regexp.MustCompile(`not available in the sandbox`)},
	{"RecursionError", regexp.MustCompile(`called recursively`)},
	{"TypeError", regexp.MustCompile(`unsupported|not iterable|not callable|unhashable|missing argument|unexpected keyword|got .+, want |takes .*argument`)},
	{"ValueError", regexp.MustCompile(`invalid literal|invalid syntax for|empty sequence`)},
}

var undefinedRe = regexp.MustCompile(`^undefined: (\w+)`)

// classify returns the kind, message and traceback for a failed run.
// Messages have the form "<Category>: <message>".
func classify(err error) (kind, msg, traceback string) {
	var (
		mnf      *sandboxenv.ModuleNotFoundError
		resolved resolve.ErrorList
		parsed   syntax.Error
		evalErr  *starlark.EvalError
		pe       *panicError
	)
	switch {
	case errors.As(err, &mnf):
		return KindModuleNotFound, "ModuleNotFoundError: " + mnf.Error(), backtrace(err)
	case strings.Contains(err.Error(), "No module named"):
		text := err.Error()
		return KindModuleNotFound, "ModuleNotFoundError: " + text[strings.Index(text, "No module named"):], backtrace(err)
	case errors.As(err, &resolved) && len(resolved) > 0:
		first := resolved[0]
		if m := undefinedRe.FindStringSubmatch(first.Msg); m != nil {
			return KindRuntime, "NameError: name '" + m[1] + "' is not defined", resolved.Error()
		}
		return KindSyntax, "SyntaxError: " + first.Msg, resolved.Error()
	case errors.As(err, &parsed):
		return KindSyntax, "SyntaxError: " + parsed.Msg, parsed.Error()
	case errors.As(err, &pe):
		return KindSandbox, "InternalError: " + pe.Error(), pe.stack
	case errors.As(err, &evalErr):
		return KindRuntime, category(evalErr.Msg) + ": " + evalErr.Msg, evalErr.Backtrace()
	}
	return KindRuntime, category(err.Error()) + ": " + err.Error(), ""
}

func category(msg string) string {
	for _, c := range categories {
		if c.re.MatchString(msg) {
			return c.name
		}
	}
	return "EvalError"
}

func backtrace(err error) string {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return evalErr.Backtrace()
	}
	return err.Error()
}
