package sandbox

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Value is a sandbox-owned runtime value. Lists and records have reference
// semantics inside a single execution, matching how user code expects
// `for s in signals { s.score = ... }` to behave. Nothing of the host runtime
// is ever reachable from a Value: the only function-shaped values are entries
// of the fixed builtin table.
type Value interface {
	typeName() string
}

type nullVal struct{}

type boolVal bool

type numVal float64

type strVal string

type listVal struct {
	elems []Value
}

type recordVal struct {
	fields map[string]Value
}

// builtinVal is a whitelisted helper bound into the namespace. Builtins are
// pure except print, which writes to the per-call capture buffer.
type builtinVal struct {
	name  string
	arity int // -1 for variadic
	fn    func(in *interp, pos Pos, args []Value) (Value, error)
}

func (nullVal) typeName() string    { return "null" }
func (boolVal) typeName() string    { return "bool" }
func (numVal) typeName() string     { return "number" }
func (strVal) typeName() string     { return "string" }
func (*listVal) typeName() string   { return "list" }
func (*recordVal) typeName() string { return "record" }
func (*builtinVal) typeName() string { return "function" }

// deepCopy clones a value graph so no container reference crosses the
// execution boundary in either direction. Value graphs are acyclic (assign
// rejects writes that would close a cycle), so the recursion terminates.
func deepCopy(v Value) Value {
	switch t := v.(type) {
	case *listVal:
		out := &listVal{elems: make([]Value, len(t.elems))}
		for i, e := range t.elems {
			out.elems[i] = deepCopy(e)
		}
		return out
	case *recordVal:
		out := &recordVal{fields: make(map[string]Value, len(t.fields))}
		for k, e := range t.fields {
			out.fields[k] = deepCopy(e)
		}
		return out
	default:
		return v
	}
}

// render formats a value for print capture and diagnostics. Record fields are
// sorted so output is deterministic. Every visited node is charged against the
// step budget and the rendered size is capped at maxStrBytes, so values with
// heavy internal sharing cannot stall or blow up a run.
func render(in *interp, v Value) (string, error) {
	r := &renderer{in: in}
	if err := r.value(v, false); err != nil {
		return "", err
	}
	return r.b.String(), nil
}

type renderer struct {
	in *interp
	b  strings.Builder
}

func (r *renderer) value(v Value, quoted bool) error {
	if err := r.in.step(); err != nil {
		return err
	}
	if r.b.Len() > maxStrBytes {
		return budgetErr("string exceeds the size limit")
	}
	switch t := v.(type) {
	case nullVal:
		r.b.WriteString("null")
	case boolVal:
		r.b.WriteString(strconv.FormatBool(bool(t)))
	case numVal:
		r.b.WriteString(formatNum(float64(t)))
	case strVal:
		if quoted {
			r.b.WriteString(strconv.Quote(string(t)))
		} else {
			r.b.WriteString(string(t))
		}
	case *listVal:
		r.b.WriteByte('[')
		for i, e := range t.elems {
			if i > 0 {
				r.b.WriteString(", ")
			}
			if err := r.value(e, true); err != nil {
				return err
			}
		}
		r.b.WriteByte(']')
	case *recordVal:
		r.b.WriteByte('{')
		for i, k := range sortedKeys(t.fields) {
			if i > 0 {
				r.b.WriteString(", ")
			}
			r.b.WriteString(k)
			r.b.WriteString(": ")
			if err := r.value(t.fields[k], true); err != nil {
				return err
			}
		}
		r.b.WriteByte('}')
	case *builtinVal:
		r.b.WriteString("<builtin " + t.name + ">")
	default:
		r.b.WriteString("<?>")
	}
	return nil
}

func formatNum(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func sortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func truthy(v Value) (bool, bool) {
	b, ok := v.(boolVal)
	return bool(b), ok
}

// valuesEqual compares by structure. Each compared node is charged against
// the step budget so deep or heavily shared containers stay bounded.
func valuesEqual(in *interp, a, b Value) (bool, error) {
	if err := in.step(); err != nil {
		return false, err
	}
	switch x := a.(type) {
	case nullVal:
		_, ok := b.(nullVal)
		return ok, nil
	case boolVal:
		y, ok := b.(boolVal)
		return ok && x == y, nil
	case numVal:
		y, ok := b.(numVal)
		return ok && x == y, nil
	case strVal:
		y, ok := b.(strVal)
		return ok && x == y, nil
	case *listVal:
		y, ok := b.(*listVal)
		if !ok || len(x.elems) != len(y.elems) {
			return false, nil
		}
		for i := range x.elems {
			eq, err := valuesEqual(in, x.elems[i], y.elems[i])
			if err != nil || !eq {
				return false, err
			}
		}
		return true, nil
	case *recordVal:
		y, ok := b.(*recordVal)
		if !ok || len(x.fields) != len(y.fields) {
			return false, nil
		}
		for k, v := range x.fields {
			w, ok := y.fields[k]
			if !ok {
				return false, nil
			}
			eq, err := valuesEqual(in, v, w)
			if err != nil || !eq {
				return false, err
			}
		}
		return true, nil
	}
	return false, nil
}

// FromRecords converts caller records into a sandbox list value. Only flat
// records of scalars are accepted; anything else is a structural violation
// surfaced before execution.
func FromRecords(records []map[string]any) (Value, error) {
	list := &listVal{elems: make([]Value, 0, len(records))}
	for i, r := range records {
		rec := &recordVal{fields: make(map[string]Value, len(r))}
		for k, v := range r {
			fv, err := fromScalar(v)
			if err != nil {
				return nil, fmt.Errorf("signal %d, field %q: %w", i, k, err)
			}
			rec.fields[k] = fv
		}
		list.elems = append(list.elems, rec)
	}
	return list, nil
}

func fromScalar(v any) (Value, error) {
	switch t := v.(type) {
	case nil:
		return nullVal{}, nil
	case bool:
		return boolVal(t), nil
	case float64:
		return numVal(t), nil
	case int:
		return numVal(float64(t)), nil
	case int64:
		return numVal(float64(t)), nil
	case string:
		return strVal(t), nil
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}

// ToRecords converts the post-transform value back into caller records.
// The transform must have left a list of flat scalar records behind.
func ToRecords(v Value) ([]map[string]any, error) {
	list, ok := v.(*listVal)
	if !ok {
		return nil, fmt.Errorf("transform left %s where a list of signals was expected", v.typeName())
	}
	out := make([]map[string]any, 0, len(list.elems))
	for i, e := range list.elems {
		rec, ok := e.(*recordVal)
		if !ok {
			return nil, fmt.Errorf("signal %d is a %s, not a record", i, e.typeName())
		}
		m := make(map[string]any, len(rec.fields))
		for k, fv := range rec.fields {
			switch t := fv.(type) {
			case nullVal:
				m[k] = nil
			case boolVal:
				m[k] = bool(t)
			case numVal:
				m[k] = float64(t)
			case strVal:
				m[k] = string(t)
			default:
				return nil, fmt.Errorf("signal %d, field %q holds a %s; signals may only hold scalars", i, k, fv.typeName())
			}
		}
		out = append(out, m)
	}
	return out, nil
}
