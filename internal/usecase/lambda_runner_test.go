package usecase

import (
	"context"
	"strings"
	"sync"
	"testing"

	"CapTrades/internal/domain/models"
	"CapTrades/internal/sandbox"
)

type fakeMetrics struct {
	mu          sync.Mutex
	runs        map[string]int
	validations map[bool]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{runs: map[string]int{}, validations: map[bool]int{}}
}

func (m *fakeMetrics) RecordRun(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[status]++
}

func (m *fakeMetrics) RecordValidation(valid bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validations[valid]++
}

func (m *fakeMetrics) RecordAuditFlush(string, int) {}
func (m *fakeMetrics) RecordError(string)           {}
func (m *fakeMetrics) RecordLatency(string, float64) {}

func readySandbox(t *testing.T) *sandbox.Sandbox {
	t.Helper()
	sb := sandbox.New(sandbox.Budget{})
	if err := sb.Probe(context.Background()); err != nil {
		t.Fatalf("probe: %v", err)
	}
	return sb
}

func traceKinds(trace []models.TraceEntry) map[string]int {
	kinds := map[string]int{}
	for _, e := range trace {
		kinds[e.Kind]++
	}
	return kinds
}

func finalStatus(t *testing.T, trace []models.TraceEntry) string {
	t.Helper()
	if len(trace) == 0 {
		t.Fatal("empty trace")
	}
	last := trace[len(trace)-1]
	if last.Kind != models.TraceStatus {
		t.Fatalf("trace must end with a status entry, got %+v", last)
	}
	return last.Detail
}

func TestApplyDoubleAndFilter(t *testing.T) {
	r := NewLambdaRunner(readySandbox(t), nil, newFakeMetrics(), nil)
	code := `kept = []
for s in signals {
	s.confidence = s.confidence * 2
	if s.confidence > 0.5 {
		kept = append(kept, s)
	}
}
signals = kept
`
	in := []models.SignalRecord{
		{"ticker": "AAPL", "confidence": 0.9},
		{"ticker": "MSFT", "confidence": 0.4},
	}
	res, fail := r.Apply(context.Background(), code, in)
	if fail != nil {
		t.Fatalf("apply: %s: %s", fail.Status, fail.Message)
	}
	if len(res.Signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(res.Signals))
	}
	if res.Signals[0]["ticker"] != "AAPL" || res.Signals[0]["confidence"] != 1.8 {
		t.Fatalf("unexpected record %v", res.Signals[0])
	}
	// The caller's records must be untouched.
	if in[0]["confidence"] != 0.9 {
		t.Fatalf("input batch was mutated: %v", in)
	}
	if res.Trace[0].Kind != models.TraceInput || !strings.Contains(res.Trace[0].Detail, "2 signal") {
		t.Fatalf("unexpected input entry %+v", res.Trace[0])
	}
	if got := finalStatus(t, res.Trace); got != models.StatusSuccess {
		t.Fatalf("expected success status, got %s", got)
	}
	found := false
	for _, e := range res.Trace {
		if e.Kind == models.TraceResult && strings.Contains(e.Detail, "1 signal") {
			found = true
		}
	}
	if !found {
		t.Fatal("trace missing post-transform count")
	}
}

func TestApplyTraceDiff(t *testing.T) {
	r := NewLambdaRunner(readySandbox(t), nil, nil, nil)
	code := `for s in signals {
	s.confidence = s.confidence * 2
}
`
	res, fail := r.Apply(context.Background(), code, []models.SignalRecord{{"ticker": "AAPL", "confidence": 0.9}})
	if fail != nil {
		t.Fatalf("apply: %v", fail.Message)
	}
	found := false
	for _, e := range res.Trace {
		if e.Kind == models.TraceDiff && strings.Contains(e.Detail, "confidence") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a confidence diff entry, got %+v", res.Trace)
	}
}

func TestApplyGrammarShortCircuit(t *testing.T) {
	r := NewLambdaRunner(readySandbox(t), nil, newFakeMetrics(), nil)
	_, fail := r.Apply(context.Background(), "print(\"side effect\")\neval(\"1\")\n", []models.SignalRecord{{"ticker": "AAPL"}})
	if fail == nil {
		t.Fatal("expected failure")
	}
	if fail.Status != models.StatusGrammar {
		t.Fatalf("expected grammar status, got %s", fail.Status)
	}
	// Nothing may execute on a grammar violation.
	if kinds := traceKinds(fail.Trace); kinds[models.TracePrint] != 0 {
		t.Fatalf("captured output from rejected code: %+v", fail.Trace)
	}
	if got := finalStatus(t, fail.Trace); got != models.StatusGrammar {
		t.Fatalf("unexpected trace status %s", got)
	}
}

func TestApplyRuntimeFailureWithholdsBatch(t *testing.T) {
	r := NewLambdaRunner(readySandbox(t), nil, newFakeMetrics(), nil)
	code := `print("before")
x = 1 / 0
`
	res, fail := r.Apply(context.Background(), code, []models.SignalRecord{{"ticker": "AAPL"}})
	if res != nil {
		t.Fatal("batch must be withheld on failure")
	}
	if fail.Status != models.StatusRuntime {
		t.Fatalf("expected runtime status, got %s", fail.Status)
	}
	// Output captured before the fault stays in the trace.
	if kinds := traceKinds(fail.Trace); kinds[models.TracePrint] != 1 {
		t.Fatalf("expected captured output in trace, got %+v", fail.Trace)
	}
}

func TestApplyFailClosed(t *testing.T) {
	sb := sandbox.New(sandbox.Budget{}) // never probed, so unavailable
	m := newFakeMetrics()
	r := NewLambdaRunner(sb, nil, m, nil)
	_, fail := r.Apply(context.Background(), "x = 1\n", nil)
	if fail == nil {
		t.Fatal("expected failure")
	}
	if fail.Status != models.StatusUnavailable {
		t.Fatalf("expected unavailable status, got %s", fail.Status)
	}
	if fail.Message != "sandbox unavailable" {
		t.Fatalf("unexpected message %q", fail.Message)
	}
	if m.runs[models.StatusUnavailable] != 1 {
		t.Fatalf("unexpected run metrics %v", m.runs)
	}
}

func TestValidateCodeIdempotent(t *testing.T) {
	r := NewLambdaRunner(readySandbox(t), nil, newFakeMetrics(), nil)
	code := "import(\"os\")\n"
	a := r.ValidateCode(code)
	b := r.ValidateCode(code)
	if a.Valid || b.Valid {
		t.Fatal("expected invalid")
	}
	if a.Error != b.Error {
		t.Fatalf("validation is not stable: %q vs %q", a.Error, b.Error)
	}
	ok := r.ValidateCode("x = 1\n")
	if !ok.Valid || ok.Error != "" {
		t.Fatalf("expected valid, got %+v", ok)
	}
}

func TestApplyConcurrentIsolation(t *testing.T) {
	r := NewLambdaRunner(readySandbox(t), nil, nil, nil)
	var wg sync.WaitGroup
	errs := make(chan string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tag := strings.Repeat("x", i+1)
			code := "print(\"" + tag + "\")\n"
			res, fail := r.Apply(context.Background(), code, []models.SignalRecord{{"tag": tag}})
			if fail != nil {
				errs <- fail.Message
				return
			}
			for _, e := range res.Trace {
				if e.Kind == models.TracePrint && e.Detail != tag {
					errs <- "foreign output " + e.Detail + " in run " + tag
				}
			}
			if res.Signals[0]["tag"] != tag {
				errs <- "foreign record in run " + tag
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for msg := range errs {
		t.Fatal(msg)
	}
}
