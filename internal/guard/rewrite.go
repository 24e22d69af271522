package guard

import (
	"fmt"
	"regexp"
	"strings"
)

// Import records one module named by a Python-style import statement.
type Import struct {
	Line   int
	Module string
	// From is set for "from m import x" statements.
	From bool
}

// RewriteError reports an import statement that has no load equivalent.
type RewriteError struct {
	Filename string
	Line     int
	Msg      string
}

func (e *RewriteError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.Filename, e.Line, e.Msg)
}

var (
	importRe    = regexp.MustCompile(`^import\s+(.+)$`)
	fromRe      = regexp.MustCompile(`^from\s+(\S+)\s+import\s+(.+)$`)
	dottedRe    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)
	identOnlyRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Rewrite translates Python import statements into load statements, one
// source line at a time so positions reported by the parser stay valid.
//
//	import a.b as x, c      ->  load("a.b", x="a.b"); load("c", c="c")
//	from m import a, b as c ->  load("m", "a", c="b")
//
// Lines inside triple-quoted strings are left alone.
func Rewrite(filename, src string) (string, []Import, error) {
	lines := strings.Split(src, "\n")
	var imports []Import
	inString := ""
	for i, line := range lines {
		if inString != "" {
			if strings.Count(line, inString)%2 == 1 {
				inString = ""
			}
			continue
		}
		trimmed := strings.TrimLeft(line, " \t")
		indent := line[:len(line)-len(trimmed)]
		if strings.HasPrefix(trimmed, "import ") || strings.HasPrefix(trimmed, "import\t") ||
			strings.HasPrefix(trimmed, "from ") || strings.HasPrefix(trimmed, "from\t") {
			out, recs, err := rewriteLine(trimmed, i+1)
			if err != nil {
				err.Filename = filename
				return "", nil, err
			}
			lines[i] = indent + out
			imports = append(imports, recs...)
			continue
		}
		for _, q := range []string{`"""`, `'''`} {
			if strings.Count(line, q)%2 == 1 {
				inString = q
				break
			}
		}
	}
	return strings.Join(lines, "\n"), imports, nil
}

// rewriteLine handles a line that starts with an import. Statements after a
// ';' are rewritten too when they are imports and kept verbatim otherwise.
func rewriteLine(line string, lineno int) (string, []Import, *RewriteError) {
	var (
		parts []string
		recs  []Import
	)
	rest := line
	for rest != "" {
		stmt, tail := rest, ""
		if idx := strings.IndexAny(rest, ";#"); idx >= 0 {
			stmt, tail = rest[:idx], rest[idx:]
		}
		stmt = strings.TrimSpace(stmt)
		loads, r, err := rewriteStmt(stmt, lineno)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, loads...)
		recs = append(recs, r...)

		if strings.HasPrefix(tail, "#") || tail == "" {
			out := strings.Join(parts, "; ")
			if tail != "" {
				out += "  " + tail
			}
			return out, recs, nil
		}
		rest = strings.TrimSpace(tail[1:])
		if !isImportStmt(rest) {
			out := strings.Join(parts, "; ")
			if rest != "" {
				out += "; " + rest
			}
			return out, recs, nil
		}
	}
	return strings.Join(parts, "; "), recs, nil
}

func isImportStmt(s string) bool {
	return importRe.MatchString(s) || fromRe.MatchString(s)
}

func rewriteStmt(stmt string, lineno int) ([]string, []Import, *RewriteError) {
	fail := func(format string, args ...any) ([]string, []Import, *RewriteError) {
		return nil, nil, &RewriteError{Line: lineno, Msg: fmt.Sprintf(format, args...)}
	}

	if m := fromRe.FindStringSubmatch(stmt); m != nil {
		module, names := m[1], strings.TrimSpace(m[2])
		if !dottedRe.MatchString(module) {
			return fail("invalid module name %q in import", module)
		}
		if strings.HasPrefix(names, "(") {
			if !strings.HasSuffix(names, ")") {
				return fail("multi-line import lists are not supported")
			}
			names = strings.TrimSuffix(strings.TrimPrefix(names, "("), ")")
		}
		args := []string{quote(module)}
		for _, item := range splitList(names) {
			if item == "*" {
				return fail("wildcard import from %s is not supported", module)
			}
			name, alias, ok := parseAlias(item)
			if !ok || !identOnlyRe.MatchString(name) {
				return fail("invalid import name %q", item)
			}
			if alias == name {
				args = append(args, quote(name))
			} else {
				args = append(args, alias+"="+quote(name))
			}
		}
		if len(args) == 1 {
			return fail("import from %s names nothing", module)
		}
		load := "load(" + strings.Join(args, ", ") + ")"
		return []string{load}, []Import{{Line: lineno, Module: module, From: true}}, nil
	}

	m := importRe.FindStringSubmatch(stmt)
	if m == nil {
		return fail("invalid import statement")
	}
	var (
		loads []string
		recs  []Import
	)
	for _, item := range splitList(m[1]) {
		module, alias, ok := parseAlias(item)
		if !ok || !dottedRe.MatchString(module) {
			return fail("invalid import name %q", item)
		}
		if alias == module {
			alias, _, _ = strings.Cut(module, ".")
		}
		loads = append(loads, fmt.Sprintf("load(%s, %s=%s)", quote(module), alias, quote(module)))
		recs = append(recs, Import{Line: lineno, Module: module})
	}
	if len(loads) == 0 {
		return fail("import names nothing")
	}
	return loads, recs, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseAlias splits "name as alias". Without an alias, alias equals name.
func parseAlias(item string) (name, alias string, ok bool) {
	fields := strings.Fields(item)
	switch {
	case len(fields) == 1:
		return fields[0], fields[0], true
	case len(fields) == 3 && fields[1] == "as" && identOnlyRe.MatchString(fields[2]):
		return fields[0], fields[2], true
	default:
		return "", "", false
	}
}

func quote(s string) string { return `"` + s + `"` }
