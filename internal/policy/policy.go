// Package policy holds the denylist consulted by the static guard.
//
// A Policy is immutable once built. Reloading replaces the whole value, so a
// Policy can be shared by concurrent scans without locking.
package policy

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"gopkg.in/yaml.v3"
)

// DefaultVersion is the version string of the built-in denylist.
const DefaultVersion = "builtin-1"

// ErrInvalid indicates a policy document failed validation.
var ErrInvalid = errors.New("scriptbox: invalid policy")

var (
	identRe  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	moduleRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)
)

// Modules that give access to the OS, processes, the interpreter itself,
// the network, raw memory, concurrency, signals or resource limits.
var defaultModules = []string{
	// OS and filesystem
	"os", "pathlib", "shutil", "glob", "tempfile", "fileinput", "io",
	// processes
	"subprocess", "multiprocessing", "pty", "pwd", "grp",
	// interpreter introspection
	"sys", "builtins", "__builtins__", "importlib", "inspect", "gc", "code",
	"codeop", "marshal", "pickle", "runpy", "ast", "dis",
	// networking
	"socket", "http", "urllib", "requests", "ssl", "asyncio", "ftplib",
	"smtplib", "telnetlib", "select", "selectors",
	// memory and FFI
	"ctypes", "cffi", "mmap",
	// concurrency
	"threading", "_thread", "concurrent",
	// signals and limits
	"signal", "resource",
	// names that are also blocked as calls
	"compile", "exec", "eval", "open", "input", "breakpoint",
}

var defaultCalls = []string{
	"exec", "eval", "compile", "open", "__import__", "input", "breakpoint",
	"globals", "locals", "vars", "exit", "quit", "help", "memoryview",
}

var defaultAttributes = []string{
	"__import__", "__loader__", "__spec__", "__builtins__", "__file__",
	"__cached__", "__doc__", "__class__", "__subclasses__", "__globals__",
	"__code__", "__dict__", "__bases__", "__mro__",
	"system", "popen", "spawn", "fork", "exec", "execv", "execve", "execl",
	"execvp", "spawnv", "kill",
}

// Policy is a versioned set of denied module, call and attribute names.
type Policy struct {
	version    string
	modules    mapset.Set[string]
	calls      mapset.Set[string]
	attributes mapset.Set[string]
}

// Default returns the built-in denylist.
func Default() *Policy {
	return &Policy{
		version:    DefaultVersion,
		modules:    mapset.NewThreadUnsafeSet(defaultModules...),
		calls:      mapset.NewThreadUnsafeSet(defaultCalls...),
		attributes: mapset.NewThreadUnsafeSet(defaultAttributes...),
	}
}

// New builds a policy from explicit name lists. Every name is validated and
// the returned error wraps ErrInvalid.
func New(version string, modules, calls, attributes []string) (*Policy, error) {
	var errs []string
	if strings.TrimSpace(version) == "" {
		errs = append(errs, "version: must not be empty")
	}
	errs = checkNames(errs, "modules", modules, moduleRe)
	errs = checkNames(errs, "calls", calls, identRe)
	errs = checkNames(errs, "attributes", attributes, identRe)
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalid, strings.Join(errs, "; "))
	}
	return &Policy{
		version:    version,
		modules:    mapset.NewThreadUnsafeSet(modules...),
		calls:      mapset.NewThreadUnsafeSet(calls...),
		attributes: mapset.NewThreadUnsafeSet(attributes...),
	}, nil
}

func checkNames(errs []string, field string, names []string, re *regexp.Regexp) []string {
	for i, n := range names {
		if !re.MatchString(n) {
			errs = append(errs, fmt.Sprintf("%s[%d]: %q is not a valid name", field, i, n))
		}
	}
	return errs
}

// document is the on-disk YAML shape of a policy.
type document struct {
	Version        string   `yaml:"version"`
	ExtendsDefault bool     `yaml:"extends_default"`
	Modules        []string `yaml:"modules"`
	Calls          []string `yaml:"calls"`
	Attributes     []string `yaml:"attributes"`
}

// Parse decodes a YAML policy document. With extends_default set, the listed
// names are added to the built-in denylist.
func Parse(data []byte) (*Policy, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	p, err := New(doc.Version, doc.Modules, doc.Calls, doc.Attributes)
	if err != nil {
		return nil, err
	}
	if doc.ExtendsDefault {
		p = Default().Extend(p)
	}
	return p, nil
}

// Load reads and parses the policy file at path.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	return Parse(data)
}

// Extend returns a policy holding the union of p and other, carrying
// other's version.
func (p *Policy) Extend(other *Policy) *Policy {
	return &Policy{
		version:    other.version,
		modules:    p.modules.Union(other.modules),
		calls:      p.calls.Union(other.calls),
		attributes: p.attributes.Union(other.attributes),
	}
}

// Version returns the policy version string.
func (p *Policy) Version() string { return p.version }

// DeniesModule reports whether importing name is denied. A dotted name is
// denied when any of its prefixes is, so "os.path" is covered by "os".
func (p *Policy) DeniesModule(name string) bool {
	if p.modules.Contains(name) {
		return true
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '.' && p.modules.Contains(name[:i]) {
			return true
		}
	}
	return false
}

// DeniesCall reports whether calling a bare function named name is denied.
func (p *Policy) DeniesCall(name string) bool { return p.calls.Contains(name) }

// DeniesAttribute reports whether accessing attribute name is denied.
func (p *Policy) DeniesAttribute(name string) bool { return p.attributes.Contains(name) }

// Modules returns the denied module names in sorted order.
func (p *Policy) Modules() []string { return sorted(p.modules) }

// Calls returns the denied call names in sorted order.
func (p *Policy) Calls() []string { return sorted(p.calls) }

// Attributes returns the denied attribute names in sorted order.
func (p *Policy) Attributes() []string { return sorted(p.attributes) }

// Marshal encodes p as a YAML policy document.
func (p *Policy) Marshal() ([]byte, error) {
	return yaml.Marshal(document{
		Version:    p.version,
		Modules:    p.Modules(),
		Calls:      p.Calls(),
		Attributes: p.Attributes(),
	})
}

func sorted(s mapset.Set[string]) []string {
	out := s.ToSlice()
	sort.Strings(out)
	return out
}
