package sandbox

import (
	"context"
	"math"
	"time"
)

// Budget bounds a single execution. Values come from operator configuration,
// never from the caller.
type Budget struct {
	MaxSteps       int
	Timeout        time.Duration
	MaxOutputBytes int
}

// DefaultBudget is used when configuration leaves a field zero.
var DefaultBudget = Budget{
	MaxSteps:       250_000,
	Timeout:        250 * time.Millisecond,
	MaxOutputBytes: 16 * 1024,
}

func (b Budget) withDefaults() Budget {
	if b.MaxSteps <= 0 {
		b.MaxSteps = DefaultBudget.MaxSteps
	}
	if b.Timeout <= 0 {
		b.Timeout = DefaultBudget.Timeout
	}
	if b.MaxOutputBytes <= 0 {
		b.MaxOutputBytes = DefaultBudget.MaxOutputBytes
	}
	return b
}

// maxStrBytes bounds any single string value, so repeated concatenation
// cannot blow up memory within the step budget.
const maxStrBytes = 256 * 1024

// RunResult is the successful outcome of one confined execution.
type RunResult struct {
	Batch           Value
	Output          []string
	OutputTruncated bool
	Steps           int
}

// Execute runs validated transform code against a batch inside a fresh
// namespace. The batch is deep-copied in, so the interpreter never holds the
// caller's collection; the post-transform batch is returned as a sandbox
// value and must be converted out with ToRecords.
//
// Code is re-validated here regardless of what the caller did: execution of
// unvalidated code is a sandbox bug, not a recoverable state.
func Execute(ctx context.Context, code string, batch Value, budget Budget) (*RunResult, *Error) {
	if verr := Validate(code); verr != nil {
		return nil, verr
	}
	prog, err := parse(code)
	if err != nil {
		return nil, AsGrammarError(err)
	}

	budget = budget.withDefaults()
	in := &interp{
		ctx:      ctx,
		env:      map[string]Value{BatchVar: deepCopy(batch), MathVar: mathNamespace()},
		builtins: builtinTable(),
		maxSteps: budget.MaxSteps,
		deadline: time.Now().Add(budget.Timeout),
		maxOut:   budget.MaxOutputBytes,
	}

	for _, s := range prog.stmts {
		if err := in.execStmt(s); err != nil {
			return &RunResult{Output: in.out, OutputTruncated: in.trunc, Steps: in.steps}, AsError(err)
		}
	}

	result, ok := in.env[BatchVar]
	if !ok {
		result = &listVal{}
	}
	return &RunResult{
		Batch:           result,
		Output:          in.out,
		OutputTruncated: in.trunc,
		Steps:           in.steps,
	}, nil
}

type interp struct {
	ctx      context.Context
	env      map[string]Value
	builtins map[string]*builtinVal
	steps    int
	maxSteps int
	deadline time.Time
	out      []string
	outBytes int
	maxOut   int
	trunc    bool
}

// step charges one unit of work and aborts when the budget is exhausted.
// The wall clock and the context are consulted every 256 steps to keep the
// common path cheap.
func (in *interp) step() error {
	return in.charge(1)
}

func (in *interp) charge(n int) error {
	in.steps += n
	if in.steps > in.maxSteps {
		return budgetErr("transform exceeded the step limit")
	}
	if in.steps&0xff < n {
		if time.Now().After(in.deadline) {
			return budgetErr("transform exceeded the time limit")
		}
		select {
		case <-in.ctx.Done():
			return budgetErr("transform exceeded the time limit")
		default:
		}
	}
	return nil
}

// capture appends one print line, truncating once the output budget is spent.
func (in *interp) capture(line string) {
	if in.trunc {
		return
	}
	if in.outBytes+len(line) > in.maxOut {
		in.trunc = true
		return
	}
	in.out = append(in.out, line)
	in.outBytes += len(line)
}

// --- statements ---

func (in *interp) execStmt(s stmt) error {
	if err := in.step(); err != nil {
		return err
	}
	switch t := s.(type) {
	case *assignStmt:
		v, err := in.eval(t.value)
		if err != nil {
			return err
		}
		return in.assign(t.target, v)
	case *exprStmt:
		_, err := in.eval(t.x)
		return err
	case *ifStmt:
		cond, err := in.eval(t.cond)
		if err != nil {
			return err
		}
		b, ok := truthy(cond)
		if !ok {
			return runtimeErrAt(t.cond.nodePos(), "if condition must be a bool, got %s", cond.typeName())
		}
		if b {
			return in.execBlock(t.then)
		}
		return in.execBlock(t.alt)
	case *forStmt:
		iter, err := in.eval(t.iter)
		if err != nil {
			return err
		}
		list, ok := iter.(*listVal)
		if !ok {
			return runtimeErrAt(t.iter.nodePos(), "for expects a list, got %s", iter.typeName())
		}
		elems := list.elems
		for _, e := range elems {
			if err := in.step(); err != nil {
				return err
			}
			in.env[t.loopVar] = e
			if err := in.execBlock(t.body); err != nil {
				return err
			}
		}
		return nil
	}
	return runtimeErrAt(s.nodePos(), "unsupported statement")
}

func (in *interp) execBlock(stmts []stmt) error {
	for _, s := range stmts {
		if err := in.execStmt(s); err != nil {
			return err
		}
	}
	return nil
}

// assign routes every write through the container guards: the only mutable
// targets are namespace variables and sandbox-owned lists and records.
func (in *interp) assign(target expr, v Value) error {
	switch t := target.(type) {
	case *identExpr:
		in.env[t.name] = v
		return nil
	case *fieldExpr:
		base, err := in.eval(t.base)
		if err != nil {
			return err
		}
		rec, ok := base.(*recordVal)
		if !ok {
			return runtimeErrAt(t.pos, "cannot set field %q on %s", t.field, base.typeName())
		}
		if err := in.checkCycle(t.pos, rec, v); err != nil {
			return err
		}
		rec.fields[t.field] = v
		return nil
	case *indexExpr:
		base, err := in.eval(t.base)
		if err != nil {
			return err
		}
		idx, err := in.eval(t.index)
		if err != nil {
			return err
		}
		switch c := base.(type) {
		case *listVal:
			i, err := listIndex(t.pos, c, idx)
			if err != nil {
				return err
			}
			if err := in.checkCycle(t.pos, c, v); err != nil {
				return err
			}
			c.elems[i] = v
			return nil
		case *recordVal:
			key, ok := idx.(strVal)
			if !ok {
				return runtimeErrAt(t.pos, "record index must be a string, got %s", idx.typeName())
			}
			if err := in.checkCycle(t.pos, c, v); err != nil {
				return err
			}
			c.fields[string(key)] = v
			return nil
		}
		return runtimeErrAt(t.pos, "cannot index into %s", base.typeName())
	}
	return runtimeErrAt(target.nodePos(), "invalid assignment target")
}

// checkCycle rejects a container write whose value already reaches the target
// container. Every value graph stays acyclic, so render, comparison and copy
// recursion always terminates.
func (in *interp) checkCycle(pos Pos, container, v Value) error {
	switch v.(type) {
	case *listVal, *recordVal:
	default:
		return nil
	}
	found, err := in.reaches(v, container)
	if err != nil {
		return err
	}
	if found {
		return runtimeErrAt(pos, "cannot store a container inside itself")
	}
	return nil
}

func (in *interp) reaches(v, target Value) (bool, error) {
	if err := in.step(); err != nil {
		return false, err
	}
	if v == target {
		return true, nil
	}
	switch t := v.(type) {
	case *listVal:
		for _, e := range t.elems {
			found, err := in.reaches(e, target)
			if err != nil || found {
				return found, err
			}
		}
	case *recordVal:
		for _, e := range t.fields {
			found, err := in.reaches(e, target)
			if err != nil || found {
				return found, err
			}
		}
	}
	return false, nil
}

// --- expressions ---

func (in *interp) eval(x expr) (Value, error) {
	if err := in.step(); err != nil {
		return nil, err
	}
	switch t := x.(type) {
	case *numberLit:
		return numVal(t.val), nil
	case *stringLit:
		return strVal(t.val), nil
	case *boolLit:
		return boolVal(t.val), nil
	case *nullLit:
		return nullVal{}, nil
	case *listLit:
		list := &listVal{elems: make([]Value, 0, len(t.elems))}
		for _, e := range t.elems {
			v, err := in.eval(e)
			if err != nil {
				return nil, err
			}
			list.elems = append(list.elems, v)
		}
		return list, nil
	case *recordLit:
		rec := &recordVal{fields: make(map[string]Value, len(t.keys))}
		for i, k := range t.keys {
			v, err := in.eval(t.vals[i])
			if err != nil {
				return nil, err
			}
			rec.fields[k] = v
		}
		return rec, nil
	case *identExpr:
		if v, ok := in.env[t.name]; ok {
			return v, nil
		}
		if b, ok := in.builtins[t.name]; ok {
			return b, nil
		}
		return nil, runtimeErrAt(t.pos, "variable %q is not defined", t.name)
	case *fieldExpr:
		base, err := in.eval(t.base)
		if err != nil {
			return nil, err
		}
		rec, ok := base.(*recordVal)
		if !ok {
			return nil, runtimeErrAt(t.pos, "%s has no fields", base.typeName())
		}
		v, ok := rec.fields[t.field]
		if !ok {
			return nil, runtimeErrAt(t.pos, "record has no field %q", t.field)
		}
		return v, nil
	case *indexExpr:
		return in.evalIndex(t)
	case *callExpr:
		return in.evalCall(t)
	case *unaryExpr:
		return in.evalUnary(t)
	case *binaryExpr:
		return in.evalBinary(t)
	}
	return nil, runtimeErrAt(x.nodePos(), "unsupported expression")
}

func (in *interp) evalIndex(t *indexExpr) (Value, error) {
	base, err := in.eval(t.base)
	if err != nil {
		return nil, err
	}
	idx, err := in.eval(t.index)
	if err != nil {
		return nil, err
	}
	switch c := base.(type) {
	case *listVal:
		i, err := listIndex(t.pos, c, idx)
		if err != nil {
			return nil, err
		}
		return c.elems[i], nil
	case *recordVal:
		key, ok := idx.(strVal)
		if !ok {
			return nil, runtimeErrAt(t.pos, "record index must be a string, got %s", idx.typeName())
		}
		v, ok := c.fields[string(key)]
		if !ok {
			return nil, runtimeErrAt(t.pos, "record has no field %q", string(key))
		}
		return v, nil
	case strVal:
		key, ok := idx.(numVal)
		if !ok {
			return nil, runtimeErrAt(t.pos, "string index must be a number, got %s", idx.typeName())
		}
		i := int(key)
		if float64(i) != float64(key) || i < 0 || i >= len(c) {
			return nil, runtimeErrAt(t.pos, "string index %s out of range", formatNum(float64(key)))
		}
		return strVal(c[i : i+1]), nil
	}
	return nil, runtimeErrAt(t.pos, "cannot index into %s", base.typeName())
}

func (in *interp) evalCall(t *callExpr) (Value, error) {
	fn, err := in.eval(t.fn)
	if err != nil {
		return nil, err
	}
	b, ok := fn.(*builtinVal)
	if !ok {
		return nil, runtimeErrAt(t.pos, "%s is not callable", fn.typeName())
	}
	args := make([]Value, 0, len(t.args))
	for _, a := range t.args {
		v, err := in.eval(a)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	if b.arity >= 0 && len(args) != b.arity {
		return nil, runtimeErrAt(t.pos, "%s expects %d argument(s), got %d", b.name, b.arity, len(args))
	}
	// append and print do work proportional to their input; charge for it.
	if b.name == "append" {
		if list, ok := args[0].(*listVal); ok {
			if err := in.charge(len(list.elems)); err != nil {
				return nil, err
			}
		}
	}
	return b.fn(in, t.pos, args)
}

func (in *interp) evalUnary(t *unaryExpr) (Value, error) {
	v, err := in.eval(t.x)
	if err != nil {
		return nil, err
	}
	switch t.op {
	case tokMinus:
		n, ok := v.(numVal)
		if !ok {
			return nil, runtimeErrAt(t.pos, "unary - expects a number, got %s", v.typeName())
		}
		return -n, nil
	case tokBang:
		b, ok := v.(boolVal)
		if !ok {
			return nil, runtimeErrAt(t.pos, "! expects a bool, got %s", v.typeName())
		}
		return !b, nil
	}
	return nil, runtimeErrAt(t.pos, "unsupported operator")
}

func (in *interp) evalBinary(t *binaryExpr) (Value, error) {
	// && and || short-circuit; everything else is strict.
	if t.op == tokAnd || t.op == tokOr {
		lhs, err := in.eval(t.lhs)
		if err != nil {
			return nil, err
		}
		lb, ok := truthy(lhs)
		if !ok {
			return nil, runtimeErrAt(t.pos, "%s expects bools, got %s", opText(t.op), lhs.typeName())
		}
		if (t.op == tokAnd && !lb) || (t.op == tokOr && lb) {
			return boolVal(lb), nil
		}
		rhs, err := in.eval(t.rhs)
		if err != nil {
			return nil, err
		}
		rb, ok := truthy(rhs)
		if !ok {
			return nil, runtimeErrAt(t.pos, "%s expects bools, got %s", opText(t.op), rhs.typeName())
		}
		return boolVal(rb), nil
	}

	lhs, err := in.eval(t.lhs)
	if err != nil {
		return nil, err
	}
	rhs, err := in.eval(t.rhs)
	if err != nil {
		return nil, err
	}

	switch t.op {
	case tokEq, tokNeq:
		eq, err := valuesEqual(in, lhs, rhs)
		if err != nil {
			return nil, err
		}
		if t.op == tokNeq {
			eq = !eq
		}
		return boolVal(eq), nil
	}

	if ls, ok := lhs.(strVal); ok {
		rs, ok := rhs.(strVal)
		if !ok {
			return nil, runtimeErrAt(t.pos, "cannot apply %s to string and %s", opText(t.op), rhs.typeName())
		}
		return stringOp(t.pos, t.op, string(ls), string(rs))
	}

	ln, ok := lhs.(numVal)
	if !ok {
		return nil, runtimeErrAt(t.pos, "cannot apply %s to %s", opText(t.op), lhs.typeName())
	}
	rn, ok := rhs.(numVal)
	if !ok {
		return nil, runtimeErrAt(t.pos, "cannot apply %s to %s", opText(t.op), rhs.typeName())
	}
	return numberOp(t.pos, t.op, float64(ln), float64(rn))
}

func stringOp(pos Pos, op tokenKind, a, b string) (Value, error) {
	switch op {
	case tokPlus:
		if len(a)+len(b) > maxStrBytes {
			return nil, budgetErr("string exceeds the size limit")
		}
		return strVal(a + b), nil
	case tokLt:
		return boolVal(a < b), nil
	case tokLte:
		return boolVal(a <= b), nil
	case tokGt:
		return boolVal(a > b), nil
	case tokGte:
		return boolVal(a >= b), nil
	}
	return nil, runtimeErrAt(pos, "cannot apply %s to strings", opText(op))
}

func numberOp(pos Pos, op tokenKind, a, b float64) (Value, error) {
	switch op {
	case tokPlus:
		return checkNum(pos, opText(op), a+b)
	case tokMinus:
		return checkNum(pos, opText(op), a-b)
	case tokStar:
		return checkNum(pos, opText(op), a*b)
	case tokSlash:
		if b == 0 {
			return nil, runtimeErrAt(pos, "division by zero")
		}
		return checkNum(pos, opText(op), a/b)
	case tokPercent:
		if b == 0 {
			return nil, runtimeErrAt(pos, "division by zero")
		}
		return checkNum(pos, opText(op), math.Mod(a, b))
	case tokLt:
		return boolVal(a < b), nil
	case tokLte:
		return boolVal(a <= b), nil
	case tokGt:
		return boolVal(a > b), nil
	case tokGte:
		return boolVal(a >= b), nil
	}
	return nil, runtimeErrAt(pos, "unsupported operator")
}

func listIndex(pos Pos, list *listVal, idx Value) (int, error) {
	n, ok := idx.(numVal)
	if !ok {
		return 0, runtimeErrAt(pos, "list index must be a number, got %s", idx.typeName())
	}
	i := int(n)
	if float64(i) != float64(n) || i < 0 || i >= len(list.elems) {
		return 0, runtimeErrAt(pos, "list index %s out of range", formatNum(float64(n)))
	}
	return i, nil
}

func opText(op tokenKind) string {
	switch op {
	case tokPlus:
		return "+"
	case tokMinus:
		return "-"
	case tokStar:
		return "*"
	case tokSlash:
		return "/"
	case tokPercent:
		return "%"
	case tokLt:
		return "<"
	case tokLte:
		return "<="
	case tokGt:
		return ">"
	case tokGte:
		return ">="
	case tokAnd:
		return "&&"
	case tokOr:
		return "||"
	}
	return "?"
}
