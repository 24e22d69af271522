package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/zhangyunhao116/scriptbox"
)

func TestMain(m *testing.M) {
	if scriptbox.MaybeSandboxInit() {
		return
	}
	color.NoColor = true
	os.Exit(m.Run())
}

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func runCLI(t *testing.T, env map[string]string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), args, &stdout, &stderr, envMap(env))
	return code, stdout.String(), stderr.String()
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadEnvDefaults(t *testing.T) {
	d, err := loadEnvDefaults(envMap(map[string]string{
		envLogLevel:   "debug",
		envIsolation:  "thread",
		envCPUSeconds: "3",
		envMemoryMB:   "64",
		envTimeout:    "1500ms",
		envMaxOutput:  "4096",
		envPolicy:     "/etc/scriptbox/policy.yaml",
	}))
	if err != nil {
		t.Fatalf("loadEnvDefaults() error: %v", err)
	}
	want := envDefaults{
		logLevel:   "debug",
		isolation:  "thread",
		fallback:   "strict",
		policy:     "/etc/scriptbox/policy.yaml",
		cpuSeconds: 3,
		memoryMB:   64,
		timeout:    1500 * time.Millisecond,
		maxOutput:  4096,
	}
	if !reflect.DeepEqual(d, want) {
		t.Errorf("got %+v, want %+v", d, want)
	}

	for _, key := range []string{envCPUSeconds, envMemoryMB, envTimeout, envMaxOutput} {
		if _, err := loadEnvDefaults(envMap(map[string]string{key: "lots"})); err == nil || !strings.Contains(err.Error(), key) {
			t.Errorf("%s=lots: got %v, want an error naming the variable", key, err)
		}
	}
}

func TestParsePayload(t *testing.T) {
	tests := []struct {
		in      string
		want    any
		wantErr bool
	}{
		{`[1, 2.5, "x"]`, []any{json.Number("1"), json.Number("2.5"), "x"}, false},
		{`{"big": 123456789012345678901234567890}`, map[string]any{"big": json.Number("123456789012345678901234567890")}, false},
		{`null`, nil, false},
		{`{"a": 1} {"b": 2}`, nil, true},
		{`{"a":`, nil, true},
	}
	for _, tt := range tests {
		got, err := parsePayload(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parsePayload(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
			t.Errorf("parsePayload(%q) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

func TestRunCommand(t *testing.T) {
	script := writeFile(t, "sum.star", "result = sum(input_data)\n")
	code, out, errOut := runCLI(t, nil, "run", "--isolation", "thread", "--payload", "[1,2,3]", script)
	if code != 0 {
		t.Fatalf("exit code %d, stderr %q", code, errOut)
	}
	var res map[string]any
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if res["ok"] != true || res["result"] != float64(6) || res["strategy"] != "thread" {
		t.Errorf("got %v", res)
	}
}

func TestRunCommandBigPayload(t *testing.T) {
	script := writeFile(t, "id.star", "result = str(input_data + 1)\n")
	code, out, errOut := runCLI(t, nil, "run", "--isolation", "thread", "--payload", "9007199254740993", script)
	if code != 0 {
		t.Fatalf("exit code %d, stderr %q", code, errOut)
	}
	if !strings.Contains(out, `"9007199254740994"`) {
		t.Errorf("integer precision lost: %s", out)
	}
}

func TestRunCommandFailures(t *testing.T) {
	tests := []struct {
		name   string
		script string
		args   []string
		kind   string
	}{
		{"violation", "import socket\nresult = 1\n", nil, "security_violation"},
		{"runtime", "result = 1 // 0\n", nil, "runtime_failure"},
		{"timeout", "while True:\n    pass\n", []string{"--timeout", "200ms"}, "timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script := writeFile(t, "s.star", tt.script)
			args := append([]string{"run", "--isolation", "thread"}, tt.args...)
			code, out, _ := runCLI(t, nil, append(args, script)...)
			if code != 1 {
				t.Errorf("exit code = %d, want 1", code)
			}
			if !strings.Contains(out, `"kind": "`+tt.kind+`"`) {
				t.Errorf("output missing kind %s:\n%s", tt.kind, out)
			}
		})
	}
}

func TestModuleCommand(t *testing.T) {
	mod := writeFile(t, "m.star", "def handle(d):\n    return d['name'].upper()\n")
	code, out, errOut := runCLI(t, nil, "module", "--isolation", "thread", "--entry", "handle", "--payload", `{"name":"ada"}`, mod)
	if code != 0 {
		t.Fatalf("exit code %d, stderr %q", code, errOut)
	}
	if !strings.Contains(out, `"result": "ADA"`) {
		t.Errorf("got %s", out)
	}
}

func TestValidateCommand(t *testing.T) {
	bad := writeFile(t, "bad.star", "import socket\nimport subprocess\n")
	code, out, _ := runCLI(t, nil, "validate", bad)
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	for _, want := range []string{"FAIL", "2 violation(s)", "Blocked import: socket", "Blocked import: subprocess"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}

	good := writeFile(t, "good.star", "result = 1\n")
	code, out, _ = runCLI(t, nil, "validate", "--json", good)
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	var v scriptbox.Validation
	if err := json.Unmarshal([]byte(out), &v); err != nil || !v.Valid {
		t.Errorf("got %+v, %v from %s", v, err, out)
	}
}

func TestValidateModuleCommand(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "loop.star")
	src := "def execute(d):\n    while d:\n        d = d.__class__\n    return d\n"
	if err := os.WriteFile(path, []byte(src), 0o600); err != nil {
		t.Fatal(err)
	}
	code, out, _ := runCLI(t, nil, "validate", "--module", "--module-root", root, path)
	if code != 1 || !strings.Contains(out, "Blocked attribute access: __class__") {
		t.Errorf("exit code %d, output:\n%s", code, out)
	}

	code, _, errOut := runCLI(t, nil, "validate", "--module", "--module-root", root, filepath.Join(root, "missing.star"))
	if code != 2 || !strings.Contains(errOut, "module not found") {
		t.Errorf("missing module: exit code %d, stderr %q", code, errOut)
	}
}

func TestCapsCommand(t *testing.T) {
	code, out, errOut := runCLI(t, map[string]string{envIsolation: "thread"}, "caps")
	if code != 0 {
		t.Fatalf("exit code %d, stderr %q", code, errOut)
	}
	var caps scriptbox.Capabilities
	if err := json.Unmarshal([]byte(out), &caps); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if caps.Strategy != "thread" || caps.PolicyVersion == "" || len(caps.Builtins) == 0 {
		t.Errorf("got %+v", caps)
	}
}

func TestUsageErrors(t *testing.T) {
	script := writeFile(t, "s.star", "result = 1\n")
	tests := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{"bad log level", nil, []string{"--log-level", "loud", "run", script}},
		{"bad isolation", nil, []string{"run", "--isolation", "vm", script}},
		{"bad fallback", nil, []string{"run", "--fallback", "maybe", script}},
		{"bad payload", nil, []string{"run", "--isolation", "thread", "--payload", "{", script}},
		{"missing script", nil, []string{"run", "--isolation", "thread", filepath.Join(t.TempDir(), "nope.star")}},
		{"bad env", map[string]string{envCPUSeconds: "x"}, []string{"caps"}},
		{"missing policy", nil, []string{"caps", "--isolation", "thread", "--policy", filepath.Join(t.TempDir(), "p.yaml")}},
		{"module without path", nil, []string{"module"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, errOut := runCLI(t, tt.env, tt.args...)
			if code != 2 {
				t.Errorf("exit code = %d, want 2", code)
			}
			if !strings.Contains(errOut, "scriptbox:") {
				t.Errorf("stderr = %q, want an error message", errOut)
			}
		})
	}
}
