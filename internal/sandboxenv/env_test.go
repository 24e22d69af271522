package sandboxenv

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

var testOpts = &syntax.FileOptions{Set: true, While: true, TopLevelControl: true, GlobalReassign: true}

// run executes src against the sandbox namespace and returns "result".
func run(t *testing.T, src string, payload any) (any, error) {
	t.Helper()
	env, err := Build(payload)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	thread := &starlark.Thread{Name: "test", Load: Load, Print: func(*starlark.Thread, string) {}}
	globals, err := starlark.ExecFileOptions(testOpts, thread, "test.py", src, env)
	if err != nil {
		return nil, err
	}
	return FromValue(globals["result"]), nil
}

func TestBuiltins(t *testing.T) {
	tests := []struct {
		src     string
		payload any
		want    any
	}{
		{"result = sum(input_data)", []any{1, 2, 3}, int64(6)},
		{"result = sum(payload, 10)", []any{1, 2}, int64(13)},
		{"result = sum([0.5, 0.25])", nil, 0.75},
		{"result = round(2.5)", nil, int64(2)},
		{"result = round(3.14159, 2)", nil, 3.14},
		{"result = round(1234, -2)", nil, int64(1200)},
		{"result = pow(2, 10)", nil, int64(1024)},
		{"result = pow(2, 10, 1000)", nil, int64(24)},
		{"result = pow(2, -1)", nil, 0.5},
		{"result = divmod(7, 2)", nil, []any{int64(3), int64(1)}},
		{"result = divmod(-7, 2)", nil, []any{int64(-4), int64(1)}},
		{"result = map(lambda x: x * 2, input_data)", []any{1, 2}, []any{int64(2), int64(4)}},
		{"result = map(lambda a, b: a + b, [1, 2], [10, 20, 30])", nil, []any{int64(11), int64(22)}},
		{"result = filter(lambda x: x > 1, [0, 1, 2, 3])", nil, []any{int64(2), int64(3)}},
		{"result = filter(None, [0, 1, '', 'a'])", nil, []any{int64(1), "a"}},
		{"result = [bin(5), oct(8), hex(255), hex(-1)]", nil, []any{"0b101", "0o10", "0xff", "-0x1"}},
		{"result = [abs(-3), abs(-2.5)]", nil, []any{int64(3), 2.5}},
		{"result = [isinstance(1, int), isinstance(True, int), isinstance('a', (int, str)), isinstance([], dict)]", nil, []any{true, true, true, false}},
		{"result = input_data['k'] + payload['k']", map[string]any{"k": "v"}, "vv"},
		{"import math\nresult = math.floor(2.7)", nil, int64(2)},
		{"from math import sqrt\nresult = sqrt(16.0)", nil, 4.0},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			src := strings.ReplaceAll(tt.src, "import math\n", "load(\"math\", math=\"math\")\n")
			src = strings.ReplaceAll(src, "from math import sqrt\n", "load(\"math\", \"sqrt\")\n")
			got, err := run(t, src, tt.payload)
			if err != nil {
				t.Fatalf("exec error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("result = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestShadowedNames(t *testing.T) {
	for name := range starlark.Universe {
		if _, ok := allowed[name]; ok {
			continue
		}
		t.Run(name, func(t *testing.T) {
			_, err := run(t, "x = "+name+"()", nil)
			if err == nil || !strings.Contains(err.Error(), "not available in the sandbox") {
				t.Errorf("calling %s: got %v, want sandbox error", name, err)
			}
		})
	}
}

func TestLoadUnknownModule(t *testing.T) {
	_, err := Load(nil, "os")
	var mnf *ModuleNotFoundError
	if !errors.As(err, &mnf) || mnf.Name != "os" {
		t.Fatalf("Load(os) error = %v, want ModuleNotFoundError", err)
	}
	if err.Error() != "No module named 'os'" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestNamesIsSorted(t *testing.T) {
	names := Names()
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("Names() not sorted at %d: %q > %q", i, names[i-1], names[i])
		}
	}
	for _, want := range []string{"sum", "print", "True", "isinstance"} {
		found := false
		for _, n := range names {
			if n == want {
				found = true
			}
		}
		if !found {
			t.Errorf("Names() missing %q", want)
		}
	}
	if got := Modules(); !reflect.DeepEqual(got, []string{"json", "math"}) {
		t.Errorf("Modules() = %v", got)
	}
}

func TestPowTooLarge(t *testing.T) {
	if _, err := run(t, "result = pow(10, 100000000)", nil); err == nil {
		t.Error("expected pow size error")
	}
}
