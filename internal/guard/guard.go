// Package guard statically screens script source for denied constructs.
//
// Scan never executes anything. It parses the script, walks every syntax
// node and reports each import, call and attribute access the policy denies.
// The scan is name based and conservative: it cannot see names assembled at
// run time.
package guard

import (
	"fmt"

	"go.starlark.net/syntax"

	"github.com/zhangyunhao116/scriptbox/internal/policy"
)

// Filename is the name scripts are parsed and executed under.
const Filename = "script.py"

// FileOptions are the dialect options shared by the guard and the
// interpreter. Recursion stays disabled: unbounded recursion would grow the
// goroutine stack of the host process.
var FileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// Stats counts the constructs a scan inspected.
type Stats struct {
	Imports    int `json:"imports"`
	Calls      int `json:"calls"`
	Attributes int `json:"attributes"`
}

// Report is the outcome of one scan.
type Report struct {
	// Parseable is false when the script failed to parse. Violations then
	// holds exactly one syntax error.
	Parseable  bool
	Violations []string
	Stats      Stats
}

// Allowed reports whether the script may run.
func (r Report) Allowed() bool {
	return r.Parseable && len(r.Violations) == 0
}

// Scan parses src and reports every construct pol denies, in source order.
func Scan(src string, pol *policy.Policy) Report {
	rewritten, imports, err := Rewrite(Filename, src)
	if err != nil {
		return syntaxReport(err)
	}
	f, err := FileOptions.Parse(Filename, rewritten, 0)
	if err != nil {
		return syntaxReport(err)
	}

	// Loads on the same line are visited in order, so each line's records
	// are consumed front to back.
	byLine := make(map[int][]Import, len(imports))
	for _, imp := range imports {
		byLine[imp.Line] = append(byLine[imp.Line], imp)
	}

	var (
		rep    = Report{Parseable: true}
		stack  []syntax.Node
		nested error
	)
	walk(f, func(n syntax.Node) bool {
		if n == nil {
			stack = stack[:len(stack)-1]
			return true
		}
		stack = append(stack, n)
		switch n := n.(type) {
		case *syntax.LoadStmt:
			rep.Stats.Imports++
			name := n.ModuleName()
			from := false
			if recs := byLine[int(n.Load.Line)]; len(recs) > 0 {
				from = recs[0].From
				byLine[int(n.Load.Line)] = recs[1:]
			}
			if !pol.DeniesModule(name) {
				if where := enclosing(stack); where != "" && nested == nil {
					nested = fmt.Errorf("%s: import statement within a %s", n.Load, where)
				}
				break
			}
			if from {
				rep.Violations = append(rep.Violations, "Blocked import from: "+name)
			} else {
				rep.Violations = append(rep.Violations, "Blocked import: "+name)
			}
		case *syntax.CallExpr:
			rep.Stats.Calls++
			switch fn := n.Fn.(type) {
			case *syntax.Ident:
				if pol.DeniesCall(fn.Name) {
					rep.Violations = append(rep.Violations, "Blocked call: "+fn.Name)
				}
			case *syntax.DotExpr:
				if pol.DeniesAttribute(fn.Name.Name) {
					rep.Violations = append(rep.Violations, "Blocked attribute call: "+fn.Name.Name)
				}
			}
		case *syntax.DotExpr:
			rep.Stats.Attributes++
			if pol.DeniesAttribute(n.Name.Name) {
				rep.Violations = append(rep.Violations, "Blocked attribute access: "+n.Name.Name)
			}
		}
		return true
	})
	// The interpreter only loads modules at top level.
	if nested != nil && len(rep.Violations) == 0 {
		return syntaxReport(nested)
	}
	return rep
}

// enclosing names the block holding the last node of stack, with a function
// taking precedence over a loop and a loop over a conditional. It is empty
// at top level.
func enclosing(stack []syntax.Node) string {
	where := ""
	for _, n := range stack[:len(stack)-1] {
		switch n.(type) {
		case *syntax.DefStmt:
			return "function"
		case *syntax.ForStmt, *syntax.WhileStmt:
			where = "loop"
		case *syntax.IfStmt:
			if where == "" {
				where = "conditional"
			}
		}
	}
	return where
}

// walk is syntax.Walk extended to while loops, which syntax.Walk panics on.
// Statements holding a body are descended here so a loop at any depth is
// reached; everything else is handed to syntax.Walk.
func walk(n syntax.Node, f func(syntax.Node) bool) {
	switch n := n.(type) {
	case *syntax.File:
		if f(n) {
			walkStmts(n.Stmts, f)
			f(nil)
		}
	case *syntax.WhileStmt:
		if f(n) {
			syntax.Walk(n.Cond, f)
			walkStmts(n.Body, f)
			f(nil)
		}
	case *syntax.IfStmt:
		if f(n) {
			syntax.Walk(n.Cond, f)
			walkStmts(n.True, f)
			walkStmts(n.False, f)
			f(nil)
		}
	case *syntax.ForStmt:
		if f(n) {
			syntax.Walk(n.Vars, f)
			syntax.Walk(n.X, f)
			walkStmts(n.Body, f)
			f(nil)
		}
	case *syntax.DefStmt:
		if f(n) {
			syntax.Walk(n.Name, f)
			for _, param := range n.Params {
				syntax.Walk(param, f)
			}
			walkStmts(n.Body, f)
			f(nil)
		}
	default:
		syntax.Walk(n, f)
	}
}

func walkStmts(stmts []syntax.Stmt, f func(syntax.Node) bool) {
	for _, stmt := range stmts {
		walk(stmt, f)
	}
}

func syntaxReport(err error) Report {
	return Report{Violations: []string{fmt.Sprintf("Syntax error: %v", err)}}
}

// Binds reports whether src binds name at top level, through a def, an
// assignment or an import. It returns false when src does not parse.
func Binds(src, name string) bool {
	rewritten, _, err := Rewrite(Filename, src)
	if err != nil {
		return false
	}
	f, err := FileOptions.Parse(Filename, rewritten, 0)
	if err != nil {
		return false
	}
	for _, stmt := range f.Stmts {
		switch s := stmt.(type) {
		case *syntax.DefStmt:
			if s.Name.Name == name {
				return true
			}
		case *syntax.AssignStmt:
			if bindsIdent(s.LHS, name) {
				return true
			}
		case *syntax.LoadStmt:
			for _, to := range s.To {
				if to.Name == name {
					return true
				}
			}
		}
	}
	return false
}

func bindsIdent(e syntax.Expr, name string) bool {
	switch e := e.(type) {
	case *syntax.Ident:
		return e.Name == name
	case *syntax.ParenExpr:
		return bindsIdent(e.X, name)
	case *syntax.TupleExpr:
		for _, x := range e.List {
			if bindsIdent(x, name) {
				return true
			}
		}
	case *syntax.ListExpr:
		for _, x := range e.List {
			if bindsIdent(x, name) {
				return true
			}
		}
	}
	return false
}
