package sandbox

import "fmt"

// ErrorKind classifies sandbox failures. Grammar errors are static rejections,
// runtime errors are faults raised by the submitted code, budget errors mean
// the step ceiling or deadline was hit. The caller recovers from all three;
// none of them indicates a sandbox fault.
type ErrorKind string

const (
	KindGrammar ErrorKind = "grammar_violation"
	KindRuntime ErrorKind = "runtime_error"
	KindBudget  ErrorKind = "resource_limit"
)

// Error is the only error type that crosses the sandbox boundary. It carries
// no references into interpreter state, so nothing can leak through it.
type Error struct {
	Kind    ErrorKind
	Message string
	Pos     Pos  // zero when no location is derivable
	HasPos  bool // distinguishes "line 1" from "no location"
}

func (e *Error) Error() string {
	if e.HasPos {
		return fmt.Sprintf("%s at %s: %s", e.Kind, e.Pos, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func grammarErrAt(pos Pos, msg string) *Error {
	return &Error{Kind: KindGrammar, Message: msg, Pos: pos, HasPos: true}
}

func runtimeErrAt(pos Pos, format string, args ...any) *Error {
	return &Error{Kind: KindRuntime, Message: fmt.Sprintf(format, args...), Pos: pos, HasPos: true}
}

func budgetErr(msg string) *Error {
	return &Error{Kind: KindBudget, Message: msg}
}

// AsError extracts a sandbox *Error from err, or wraps an unexpected error as
// a runtime error with an opaque message so internal detail never escapes.
func AsError(err error) *Error {
	if se, ok := err.(*Error); ok {
		return se
	}
	return &Error{Kind: KindRuntime, Message: "transform failed"}
}
