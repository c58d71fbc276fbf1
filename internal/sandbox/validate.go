package sandbox

import (
	"fmt"
	"strings"
)

// reservedPrefix marks names that can never be read, written or declared by
// a transform. The interpreter has no state behind such names, but rejecting
// them statically keeps the grammar aligned with the rest of the platform's
// reserved-identifier convention.
const reservedPrefix = "__"

// deniedCalls maps classic escape-hatch names to targeted diagnostics. They
// would be rejected as unknown helpers anyway; naming them makes playground
// feedback unambiguous about why.
var deniedCalls = map[string]string{
	"import":     "module imports are not available in transforms",
	"require":    "module imports are not available in transforms",
	"eval":       "dynamic code evaluation is not allowed",
	"exec":       "dynamic code evaluation is not allowed",
	"compile":    "dynamic code evaluation is not allowed",
	"open":       "file access is not available in transforms",
	"read":       "file access is not available in transforms",
	"write":      "file access is not available in transforms",
	"fetch":      "network access is not available in transforms",
	"connect":    "network access is not available in transforms",
	"system":     "process access is not available in transforms",
	"spawn":      "process access is not available in transforms",
	"getenv":     "environment access is not available in transforms",
	"exit":       "process access is not available in transforms",
	"globals":    "host namespace access is not allowed",
	"locals":     "host namespace access is not allowed",
	"getattr":    "dynamic attribute access is not allowed",
	"setattr":    "dynamic attribute access is not allowed",
}

// BatchVar is the namespace variable holding the signal batch.
const BatchVar = "signals"

// MathVar is the restricted math namespace.
const MathVar = "math"

// Validate statically checks submitted code against the transform grammar.
// It returns nil when the code is admissible and a KindGrammar *Error for the
// first violation found. It is a pure function: validating the same code
// twice yields the same result, and nothing is ever executed.
func Validate(code string) *Error {
	prog, err := parse(code)
	if err != nil {
		return AsGrammarError(err)
	}
	v := &validator{
		builtins: builtinTable(),
		mathFns:  mathNamespace().fields,
		defined:  map[string]bool{BatchVar: true, MathVar: true},
	}
	// Assignments anywhere in the program count as declarations; whether a
	// given read happens before its write is a runtime concern, not a
	// grammar one.
	v.collectAssigned(prog.stmts)
	for _, s := range prog.stmts {
		if err := v.checkStmt(s); err != nil {
			return err
		}
	}
	return nil
}

// AsGrammarError coerces a parse/validation error to *Error.
func AsGrammarError(err error) *Error {
	if se, ok := err.(*Error); ok {
		return se
	}
	return &Error{Kind: KindGrammar, Message: err.Error()}
}

type validator struct {
	builtins map[string]*builtinVal
	mathFns  map[string]Value
	defined  map[string]bool
}

func (v *validator) collectAssigned(stmts []stmt) {
	for _, s := range stmts {
		switch t := s.(type) {
		case *assignStmt:
			if id, ok := t.target.(*identExpr); ok {
				v.defined[id.name] = true
			}
		case *ifStmt:
			v.collectAssigned(t.then)
			v.collectAssigned(t.alt)
		case *forStmt:
			v.defined[t.loopVar] = true
			v.collectAssigned(t.body)
		}
	}
}

func (v *validator) checkStmt(s stmt) *Error {
	switch t := s.(type) {
	case *assignStmt:
		if err := v.checkAssignTarget(t.target); err != nil {
			return err
		}
		return v.checkExpr(t.value)
	case *exprStmt:
		return v.checkExpr(t.x)
	case *ifStmt:
		if err := v.checkExpr(t.cond); err != nil {
			return err
		}
		if err := v.checkBlock(t.then); err != nil {
			return err
		}
		return v.checkBlock(t.alt)
	case *forStmt:
		if err := v.checkName(t.loopVar, t.pos, "loop variable"); err != nil {
			return err
		}
		if err := v.checkExpr(t.iter); err != nil {
			return err
		}
		return v.checkBlock(t.body)
	}
	return nil
}

func (v *validator) checkBlock(stmts []stmt) *Error {
	for _, s := range stmts {
		if err := v.checkStmt(s); err != nil {
			return err
		}
	}
	return nil
}

func (v *validator) checkAssignTarget(target expr) *Error {
	switch t := target.(type) {
	case *identExpr:
		return v.checkName(t.name, t.pos, "variable")
	case *fieldExpr:
		if err := v.checkFieldName(t.field, t.pos); err != nil {
			return err
		}
		if id, ok := t.base.(*identExpr); ok && id.name == MathVar {
			return grammarErrAt(t.pos, "the math namespace is read-only")
		}
		return v.checkExpr(t.base)
	case *indexExpr:
		if err := v.checkExpr(t.base); err != nil {
			return err
		}
		return v.checkExpr(t.index)
	}
	return grammarErrAt(target.nodePos(), "invalid assignment target")
}

func (v *validator) checkName(name string, pos Pos, what string) *Error {
	if strings.HasPrefix(name, reservedPrefix) {
		return grammarErrAt(pos, fmt.Sprintf("names with the %q prefix are reserved", reservedPrefix))
	}
	if _, ok := v.builtins[name]; ok {
		return grammarErrAt(pos, fmt.Sprintf("cannot use builtin %q as a %s", name, what))
	}
	if name == MathVar {
		return grammarErrAt(pos, fmt.Sprintf("cannot use %q as a %s", MathVar, what))
	}
	return nil
}

func (v *validator) checkFieldName(name string, pos Pos) *Error {
	if strings.HasPrefix(name, reservedPrefix) {
		return grammarErrAt(pos, fmt.Sprintf("field names with the %q prefix are reserved", reservedPrefix))
	}
	return nil
}

func (v *validator) checkExpr(x expr) *Error {
	switch t := x.(type) {
	case *numberLit, *stringLit, *boolLit, *nullLit:
		return nil
	case *listLit:
		for _, e := range t.elems {
			if err := v.checkExpr(e); err != nil {
				return err
			}
		}
		return nil
	case *recordLit:
		for i, k := range t.keys {
			if err := v.checkFieldName(k, t.pos); err != nil {
				return err
			}
			if err := v.checkExpr(t.vals[i]); err != nil {
				return err
			}
		}
		return nil
	case *identExpr:
		return v.checkIdentRead(t)
	case *fieldExpr:
		if err := v.checkFieldName(t.field, t.pos); err != nil {
			return err
		}
		return v.checkExpr(t.base)
	case *indexExpr:
		if err := v.checkExpr(t.base); err != nil {
			return err
		}
		return v.checkExpr(t.index)
	case *unaryExpr:
		return v.checkExpr(t.x)
	case *binaryExpr:
		if err := v.checkExpr(t.lhs); err != nil {
			return err
		}
		return v.checkExpr(t.rhs)
	case *callExpr:
		return v.checkCall(t)
	}
	return grammarErrAt(x.nodePos(), "construct is outside the transform grammar")
}

func (v *validator) checkIdentRead(id *identExpr) *Error {
	if strings.HasPrefix(id.name, reservedPrefix) {
		return grammarErrAt(id.pos, fmt.Sprintf("names with the %q prefix are reserved", reservedPrefix))
	}
	if v.defined[id.name] {
		return nil
	}
	if _, ok := v.builtins[id.name]; ok {
		return nil
	}
	if msg, ok := deniedCalls[id.name]; ok {
		return grammarErrAt(id.pos, msg)
	}
	return grammarErrAt(id.pos, fmt.Sprintf("unknown identifier %q", id.name))
}

func (v *validator) checkCall(c *callExpr) *Error {
	for _, a := range c.args {
		if err := v.checkExpr(a); err != nil {
			return err
		}
	}
	switch fn := c.fn.(type) {
	case *identExpr:
		if msg, ok := deniedCalls[fn.name]; ok {
			return grammarErrAt(fn.pos, msg)
		}
		b, ok := v.builtins[fn.name]
		if !ok {
			return grammarErrAt(fn.pos, fmt.Sprintf("%q is not an allowed helper function", fn.name))
		}
		if b.arity >= 0 && len(c.args) != b.arity {
			return grammarErrAt(c.pos, fmt.Sprintf("%s expects %d argument(s), got %d", fn.name, b.arity, len(c.args)))
		}
		return nil
	case *fieldExpr:
		base, ok := fn.base.(*identExpr)
		if !ok || base.name != MathVar {
			return grammarErrAt(fn.pos.orElse(c.pos), "only builtin helpers and the math namespace can be called")
		}
		entry, ok := v.mathFns[fn.field]
		if !ok {
			return grammarErrAt(fn.pos, fmt.Sprintf("math has no function %q", fn.field))
		}
		b, ok := entry.(*builtinVal)
		if !ok {
			return grammarErrAt(fn.pos, fmt.Sprintf("math.%s is not callable", fn.field))
		}
		if b.arity >= 0 && len(c.args) != b.arity {
			return grammarErrAt(c.pos, fmt.Sprintf("math.%s expects %d argument(s), got %d", fn.field, b.arity, len(c.args)))
		}
		return nil
	}
	return grammarErrAt(c.pos, "only named helper functions can be called")
}

func (p Pos) orElse(alt Pos) Pos {
	if p.Line == 0 {
		return alt
	}
	return p
}
