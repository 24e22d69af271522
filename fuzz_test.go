package scriptbox

import (
	"reflect"
	"testing"
)

// FuzzValidate exercises Runner.Validate with arbitrary source. The guard
// must never panic, and screening the same source twice must agree.
func FuzzValidate(f *testing.F) {
	seeds := []string{
		"result = sum(input_data)",
		"import socket\nresult = 1",
		"from os import path",
		"import os.path as p",
		"open('/etc/passwd')",
		"x = input_data.__class__.__mro__",
		"def f(:",
		"",
		"while True:\n    pass",
		"def execute(d):\n    return [getattr(d, '__globals__')]",
		"\x00\xff",
	}
	for _, s := range seeds {
		f.Add(s)
	}

	r, err := New(&Config{Isolation: IsolationThread})
	if err != nil {
		f.Fatal(err)
	}
	defer r.Close()
	f.Fuzz(func(t *testing.T, src string) {
		a := r.Validate(src)
		b := r.Validate(src)
		if !reflect.DeepEqual(a, b) {
			t.Errorf("Validate(%q) not deterministic: %+v vs %+v", src, a, b)
		}
		if a.Valid != (len(a.Violations) == 0) {
			t.Errorf("Validate(%q) = %+v: Valid disagrees with Violations", src, a)
		}
	})
}

// FuzzParsePolicy exercises ParsePolicy with arbitrary documents. Errors are
// expected for most inputs; panics are not.
func FuzzParsePolicy(f *testing.F) {
	seeds := []string{
		"version: v1\nmodules: [os]\n",
		"extends_default: true\ncalls: [eval]\n",
		"attributes: [__class__]",
		"modules: [\"os path\"]",
		"{}",
		"",
		"version: [",
	}
	for _, s := range seeds {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, doc string) {
		p, err := ParsePolicy([]byte(doc))
		if err == nil && p == nil {
			t.Errorf("ParsePolicy(%q) returned neither a policy nor an error", doc)
		}
	})
}
