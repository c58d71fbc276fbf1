package sandbox

import (
	"math"
	"strconv"
	"strings"
)

// The builtin table is the entire callable surface of the sandbox. Everything
// here is pure over its arguments except print, which appends to the per-call
// capture buffer. Names outside this table (plus the math namespace) are
// rejected statically by the validator.

func builtinTable() map[string]*builtinVal {
	return map[string]*builtinVal{
		"print":       {name: "print", arity: -1, fn: biPrint},
		"len":         {name: "len", arity: 1, fn: biLen},
		"append":      {name: "append", arity: -1, fn: biAppend},
		"has":         {name: "has", arity: 2, fn: biHas},
		"keys":        {name: "keys", arity: 1, fn: biKeys},
		"str":         {name: "str", arity: 1, fn: biStr},
		"num":         {name: "num", arity: 1, fn: biNum},
		"upper":       {name: "upper", arity: 1, fn: biUpper},
		"lower":       {name: "lower", arity: 1, fn: biLower},
		"trim":        {name: "trim", arity: 1, fn: biTrim},
		"contains":    {name: "contains", arity: 2, fn: biContains},
		"starts_with": {name: "starts_with", arity: 2, fn: biStartsWith},
		"replace":     {name: "replace", arity: 3, fn: biReplace},
		"abs":         {name: "abs", arity: 1, fn: numFn1("abs", math.Abs)},
		"round":       {name: "round", arity: 1, fn: numFn1("round", math.Round)},
		"min":         {name: "min", arity: 2, fn: numFn2("min", math.Min)},
		"max":         {name: "max", arity: 2, fn: numFn2("max", math.Max)},
	}
}

// mathNamespace is exposed as a read-only record named math.
func mathNamespace() *recordVal {
	fields := map[string]Value{
		"pi": numVal(math.Pi),
		"e":  numVal(math.E),
	}
	fns := map[string]func(float64) float64{
		"abs":   math.Abs,
		"floor": math.Floor,
		"ceil":  math.Ceil,
		"round": math.Round,
		"sqrt":  math.Sqrt,
		"log":   math.Log,
		"exp":   math.Exp,
	}
	for name, fn := range fns {
		fields[name] = &builtinVal{name: "math." + name, arity: 1, fn: numFn1("math."+name, fn)}
	}
	fields["pow"] = &builtinVal{name: "math.pow", arity: 2, fn: numFn2("math.pow", math.Pow)}
	return &recordVal{fields: fields}
}

func numFn1(name string, fn func(float64) float64) func(*interp, Pos, []Value) (Value, error) {
	return func(_ *interp, pos Pos, args []Value) (Value, error) {
		n, err := argNum(name, pos, args, 0)
		if err != nil {
			return nil, err
		}
		return checkNum(pos, name, fn(n))
	}
}

func numFn2(name string, fn func(float64, float64) float64) func(*interp, Pos, []Value) (Value, error) {
	return func(_ *interp, pos Pos, args []Value) (Value, error) {
		a, err := argNum(name, pos, args, 0)
		if err != nil {
			return nil, err
		}
		b, err := argNum(name, pos, args, 1)
		if err != nil {
			return nil, err
		}
		return checkNum(pos, name, fn(a, b))
	}
}

// checkNum keeps NaN/Inf out of the value space so they can never reach the
// caller's records through a transform.
func checkNum(pos Pos, name string, f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, runtimeErrAt(pos, "%s produced a non-finite number", name)
	}
	return numVal(f), nil
}

func biPrint(in *interp, pos Pos, args []Value) (Value, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		s, err := render(in, a)
		if err != nil {
			return nil, err
		}
		parts[i] = s
	}
	in.capture(strings.Join(parts, " "))
	return nullVal{}, nil
}

func biLen(_ *interp, pos Pos, args []Value) (Value, error) {
	switch t := args[0].(type) {
	case strVal:
		return numVal(float64(len(t))), nil
	case *listVal:
		return numVal(float64(len(t.elems))), nil
	case *recordVal:
		return numVal(float64(len(t.fields))), nil
	}
	return nil, runtimeErrAt(pos, "len expects a string, list or record, got %s", args[0].typeName())
}

func biAppend(_ *interp, pos Pos, args []Value) (Value, error) {
	if len(args) < 2 {
		return nil, runtimeErrAt(pos, "append expects a list and at least one value")
	}
	list, ok := args[0].(*listVal)
	if !ok {
		return nil, runtimeErrAt(pos, "append expects a list, got %s", args[0].typeName())
	}
	out := &listVal{elems: make([]Value, 0, len(list.elems)+len(args)-1)}
	out.elems = append(out.elems, list.elems...)
	out.elems = append(out.elems, args[1:]...)
	return out, nil
}

func biHas(_ *interp, pos Pos, args []Value) (Value, error) {
	rec, ok := args[0].(*recordVal)
	if !ok {
		return nil, runtimeErrAt(pos, "has expects a record, got %s", args[0].typeName())
	}
	name, ok := args[1].(strVal)
	if !ok {
		return nil, runtimeErrAt(pos, "has expects a field name string, got %s", args[1].typeName())
	}
	_, present := rec.fields[string(name)]
	return boolVal(present), nil
}

func biKeys(_ *interp, pos Pos, args []Value) (Value, error) {
	rec, ok := args[0].(*recordVal)
	if !ok {
		return nil, runtimeErrAt(pos, "keys expects a record, got %s", args[0].typeName())
	}
	out := &listVal{}
	for _, k := range sortedKeys(rec.fields) {
		out.elems = append(out.elems, strVal(k))
	}
	return out, nil
}

func biStr(in *interp, _ Pos, args []Value) (Value, error) {
	s, err := render(in, args[0])
	if err != nil {
		return nil, err
	}
	return strVal(s), nil
}

func biNum(_ *interp, pos Pos, args []Value) (Value, error) {
	switch t := args[0].(type) {
	case numVal:
		return t, nil
	case boolVal:
		if t {
			return numVal(1), nil
		}
		return numVal(0), nil
	case strVal:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(t)), 64)
		if err != nil {
			return nil, runtimeErrAt(pos, "num cannot parse %q", string(t))
		}
		return checkNum(pos, "num", f)
	}
	return nil, runtimeErrAt(pos, "num expects a number, bool or string, got %s", args[0].typeName())
}

func biUpper(_ *interp, pos Pos, args []Value) (Value, error) {
	s, err := argStr("upper", pos, args, 0)
	if err != nil {
		return nil, err
	}
	return strVal(strings.ToUpper(s)), nil
}

func biLower(_ *interp, pos Pos, args []Value) (Value, error) {
	s, err := argStr("lower", pos, args, 0)
	if err != nil {
		return nil, err
	}
	return strVal(strings.ToLower(s)), nil
}

func biTrim(_ *interp, pos Pos, args []Value) (Value, error) {
	s, err := argStr("trim", pos, args, 0)
	if err != nil {
		return nil, err
	}
	return strVal(strings.TrimSpace(s)), nil
}

func biContains(in *interp, pos Pos, args []Value) (Value, error) {
	if list, ok := args[0].(*listVal); ok {
		for _, e := range list.elems {
			eq, err := valuesEqual(in, e, args[1])
			if err != nil {
				return nil, err
			}
			if eq {
				return boolVal(true), nil
			}
		}
		return boolVal(false), nil
	}
	s, err := argStr("contains", pos, args, 0)
	if err != nil {
		return nil, err
	}
	sub, err := argStr("contains", pos, args, 1)
	if err != nil {
		return nil, err
	}
	return boolVal(strings.Contains(s, sub)), nil
}

func biStartsWith(_ *interp, pos Pos, args []Value) (Value, error) {
	s, err := argStr("starts_with", pos, args, 0)
	if err != nil {
		return nil, err
	}
	prefix, err := argStr("starts_with", pos, args, 1)
	if err != nil {
		return nil, err
	}
	return boolVal(strings.HasPrefix(s, prefix)), nil
}

func biReplace(_ *interp, pos Pos, args []Value) (Value, error) {
	s, err := argStr("replace", pos, args, 0)
	if err != nil {
		return nil, err
	}
	old, err := argStr("replace", pos, args, 1)
	if err != nil {
		return nil, err
	}
	repl, err := argStr("replace", pos, args, 2)
	if err != nil {
		return nil, err
	}
	// Size-check the result before allocating it; replace can multiply its
	// input in a single call.
	size := len(s)
	if n := strings.Count(s, old); n > 0 && len(repl) > len(old) {
		size += n * (len(repl) - len(old))
	}
	if size > maxStrBytes {
		return nil, budgetErr("string exceeds the size limit")
	}
	return strVal(strings.ReplaceAll(s, old, repl)), nil
}

func argNum(name string, pos Pos, args []Value, i int) (float64, error) {
	n, ok := args[i].(numVal)
	if !ok {
		return 0, runtimeErrAt(pos, "%s expects a number, got %s", name, args[i].typeName())
	}
	return float64(n), nil
}

func argStr(name string, pos Pos, args []Value, i int) (string, error) {
	s, ok := args[i].(strVal)
	if !ok {
		return "", runtimeErrAt(pos, "%s expects a string, got %s", name, args[i].typeName())
	}
	return string(s), nil
}
