package sandbox

import (
	"context"
	"sync/atomic"
	"time"
)

// Sandbox is the confinement runtime. One instance is shared by all
// requests; executions are independent and safe to run concurrently because
// every run gets a fresh namespace and its own copy of the batch.
type Sandbox struct {
	budget Budget
	ready  atomic.Bool
}

func New(budget Budget) *Sandbox {
	return &Sandbox{budget: budget.withDefaults()}
}

// Result is the outcome of one confined run, converted back to plain records.
type Result struct {
	Signals         []map[string]any
	Output          []string
	OutputTruncated bool
	Steps           int
	Duration        time.Duration
}

// Run validates and executes code against the given batch. The batch is
// copied on the way in and materialized into fresh maps on the way out, so
// nothing the transform touched survives past the return.
//
// On a runtime or budget fault the returned Result carries the output
// captured before the fault and no signals; the batch is never valid then.
func (s *Sandbox) Run(ctx context.Context, code string, signals []map[string]any) (*Result, *Error) {
	batch, err := FromRecords(signals)
	if err != nil {
		return nil, &Error{Kind: KindRuntime, Message: err.Error()}
	}

	start := time.Now()
	run, rerr := Execute(ctx, code, batch, s.budget)
	if rerr != nil {
		if run == nil {
			return nil, rerr
		}
		return &Result{
			Output:          run.Output,
			OutputTruncated: run.OutputTruncated,
			Steps:           run.Steps,
			Duration:        time.Since(start),
		}, rerr
	}

	out, err := ToRecords(run.Batch)
	if err != nil {
		return nil, &Error{Kind: KindRuntime, Message: err.Error()}
	}
	return &Result{
		Signals:         out,
		Output:          run.Output,
		OutputTruncated: run.OutputTruncated,
		Steps:           run.Steps,
		Duration:        time.Since(start),
	}, nil
}

// Available reports whether the last probe succeeded. Callers must refuse to
// execute when this is false.
func (s *Sandbox) Available() bool {
	return s.ready.Load()
}

// probeCode exercises validation, arithmetic, control flow and batch
// mutation in one pass. Any deviation from the expected result marks the
// sandbox unavailable.
const probeCode = `kept = []
for s in signals {
	if s.score >= 0.5 {
		s.score = math.round(s.score * 200) / 100
		kept = append(kept, s)
	}
}
signals = kept
`

// Probe runs a self-test transform and records the outcome. It is called at
// startup and may be re-run periodically.
func (s *Sandbox) Probe(ctx context.Context) error {
	in := []map[string]any{
		{"id": "a", "score": 0.9},
		{"id": "b", "score": 0.2},
	}
	res, rerr := s.Run(ctx, probeCode, in)
	if rerr != nil {
		s.ready.Store(false)
		return rerr
	}
	if len(res.Signals) != 1 || res.Signals[0]["id"] != "a" || res.Signals[0]["score"] != 1.8 {
		s.ready.Store(false)
		return &Error{Kind: KindRuntime, Message: "self-test produced an unexpected batch"}
	}
	s.ready.Store(true)
	return nil
}
