package guard

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestRewrite(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
		recs []Import
	}{
		{
			name: "plain",
			src:  "import math",
			want: `load("math", math="math")`,
			recs: []Import{{Line: 1, Module: "math"}},
		},
		{
			name: "alias and list",
			src:  "import a.b as x, c",
			want: `load("a.b", x="a.b"); load("c", c="c")`,
			recs: []Import{{Line: 1, Module: "a.b"}, {Line: 1, Module: "c"}},
		},
		{
			name: "dotted binds first segment",
			src:  "import os.path",
			want: `load("os.path", os="os.path")`,
			recs: []Import{{Line: 1, Module: "os.path"}},
		},
		{
			name: "from with alias",
			src:  "from m import a, b as c",
			want: `load("m", "a", c="b")`,
			recs: []Import{{Line: 1, Module: "m", From: true}},
		},
		{
			name: "parenthesized from",
			src:  "from m import (a, b)",
			want: `load("m", "a", "b")`,
			recs: []Import{{Line: 1, Module: "m", From: true}},
		},
		{
			name: "indent and trailing statement",
			src:  "x = 1\n    import math; y = \"a;b\"",
			want: "x = 1\n    load(\"math\", math=\"math\"); y = \"a;b\"",
			recs: []Import{{Line: 2, Module: "math"}},
		},
		{
			name: "two imports on one line with comment",
			src:  "import math; from json import encode  # both",
			want: `load("math", math="math"); load("json", "encode")  # both`,
			recs: []Import{{Line: 1, Module: "math"}, {Line: 1, Module: "json", From: true}},
		},
		{
			name: "inside triple-quoted string",
			src:  "s = \"\"\"\nimport os\n\"\"\"\nimport math",
			want: "s = \"\"\"\nimport os\n\"\"\"\nload(\"math\", math=\"math\")",
			recs: []Import{{Line: 4, Module: "math"}},
		},
		{
			name: "identifier with import prefix untouched",
			src:  "important = 1\nfrom_here = 2",
			want: "important = 1\nfrom_here = 2",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, recs, err := Rewrite(Filename, tt.src)
			if err != nil {
				t.Fatalf("Rewrite() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Rewrite() = %q, want %q", got, tt.want)
			}
			if !reflect.DeepEqual(recs, tt.recs) {
				t.Errorf("imports = %+v, want %+v", recs, tt.recs)
			}
			if strings.Count(got, "\n") != strings.Count(tt.src, "\n") {
				t.Error("line count changed")
			}
		})
	}
}

func TestRewriteErrors(t *testing.T) {
	for _, src := range []string{
		"from os import *",
		"from . import x",
		"from m import (a,",
		"import 1abc",
		"import a as",
	} {
		_, _, err := Rewrite(Filename, "x = 1\n"+src)
		var rerr *RewriteError
		if !errors.As(err, &rerr) {
			t.Errorf("Rewrite(%q) error = %v, want *RewriteError", src, err)
			continue
		}
		if rerr.Line != 2 || rerr.Filename != Filename {
			t.Errorf("Rewrite(%q) position = %s:%d, want %s:2", src, rerr.Filename, rerr.Line, Filename)
		}
	}
}
