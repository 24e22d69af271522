package policy

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultDenies(t *testing.T) {
	p := Default()
	if p.Version() != DefaultVersion {
		t.Errorf("Version() = %q, want %q", p.Version(), DefaultVersion)
	}
	for _, m := range []string{"os", "socket", "subprocess", "ctypes", "os.path", "urllib.request"} {
		if !p.DeniesModule(m) {
			t.Errorf("DeniesModule(%q) = false, want true", m)
		}
	}
	for _, m := range []string{"math", "json", "osx", "collections"} {
		if p.DeniesModule(m) {
			t.Errorf("DeniesModule(%q) = true, want false", m)
		}
	}
	if !p.DeniesCall("eval") || p.DeniesCall("sum") {
		t.Error("unexpected call verdicts for eval/sum")
	}
	if !p.DeniesAttribute("system") || p.DeniesAttribute("append") {
		t.Error("unexpected attribute verdicts for system/append")
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name       string
		doc        string
		wantErr    bool
		denyModule string
		allowCall  string
	}{
		{
			name:       "standalone",
			doc:        "version: \"2\"\nmodules: [numpy]\ncalls: [print]\n",
			denyModule: "numpy",
			allowCall:  "eval",
		},
		{
			name:       "extends default",
			doc:        "version: \"3\"\nextends_default: true\nmodules: [numpy]\n",
			denyModule: "os",
		},
		{
			name:    "missing version",
			doc:     "modules: [numpy]\n",
			wantErr: true,
		},
		{
			name:    "bad module name",
			doc:     "version: \"1\"\nmodules: [\"os path\"]\n",
			wantErr: true,
		},
		{
			name:    "bad attribute name",
			doc:     "version: \"1\"\nattributes: [\"a.b\"]\n",
			wantErr: true,
		},
		{
			name:    "not yaml",
			doc:     "version: [",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse([]byte(tt.doc))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalid) {
					t.Fatalf("Parse() error = %v, want ErrInvalid", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() error: %v", err)
			}
			if !p.DeniesModule(tt.denyModule) {
				t.Errorf("DeniesModule(%q) = false, want true", tt.denyModule)
			}
			if tt.allowCall != "" && p.DeniesCall(tt.allowCall) {
				t.Errorf("DeniesCall(%q) = true, want false", tt.allowCall)
			}
		})
	}
}

func TestExtendKeepsVersion(t *testing.T) {
	extra, err := New("custom", []string{"numpy"}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	p := Default().Extend(extra)
	if p.Version() != "custom" {
		t.Errorf("Version() = %q, want custom", p.Version())
	}
	if !p.DeniesModule("numpy") || !p.DeniesModule("os") {
		t.Error("extended policy lost entries")
	}
	if Default().DeniesModule("numpy") {
		t.Error("Extend mutated the default policy")
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	data, err := Default().Marshal()
	if err != nil {
		t.Fatal(err)
	}
	p, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse(Marshal()) error: %v", err)
	}
	if got, want := len(p.Modules()), len(Default().Modules()); got != want {
		t.Errorf("modules: got %d, want %d", got, want)
	}
	if got, want := len(p.Attributes()), len(Default().Attributes()); got != want {
		t.Errorf("attributes: got %d, want %d", got, want)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load() error = %v, want os.ErrNotExist", err)
	}
}
