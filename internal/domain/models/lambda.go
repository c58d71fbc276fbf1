package models

import "time"

// SignalRecord is an opaque, caller-defined mapping of field name to scalar
// value (ticker, confidence, signal type and so on). Records cross the
// sandbox boundary by value; a transform can only ever produce new records.
type SignalRecord map[string]any

// Trace entry kinds, in the order they typically appear.
const (
	TraceInput  = "input"  // pre-transform batch snapshot
	TracePrint  = "print"  // one captured output line
	TraceDiff   = "diff"   // field-level before/after for a sampled record
	TraceResult = "result" // post-transform batch snapshot
	TraceStatus = "status" // terminal status of the call
	TraceError  = "error"  // surfaced error message
)

// TraceEntry is one step of an execution trace. The trace exists for
// transparency of user code, not for replay.
type TraceEntry struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// Terminal statuses recorded in the trace and in audit records.
const (
	StatusSuccess     = "success"
	StatusGrammar     = "grammar_violation"
	StatusRuntime     = "runtime_error"
	StatusBudget      = "resource_limit"
	StatusUnavailable = "sandbox_unavailable"
)

// TransformResult is a successful apply outcome.
type TransformResult struct {
	Signals []SignalRecord `json:"signals"`
	Trace   []TraceEntry   `json:"trace"`
}

// AuditRecord summarizes one sandbox run for the audit pipeline. It carries
// a hash of the submitted code, never the code itself.
type AuditRecord struct {
	Timestamp   time.Time `json:"ts"`
	CodeHash    string    `json:"code_hash"`
	Status      string    `json:"status"`
	InputCount  int       `json:"input_count"`
	OutputCount int       `json:"output_count"`
	Steps       int       `json:"steps"`
	DurationMs  float64   `json:"duration_ms"`
	Error       string    `json:"error,omitempty"`
}
