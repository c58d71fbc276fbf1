package sandbox

import (
	"context"
	"sync"
	"testing"
)

func TestSandboxRunIsolation(t *testing.T) {
	sb := New(Budget{})
	in := []map[string]any{{"ticker": "AAPL", "confidence": 0.9}}

	res, rerr := sb.Run(context.Background(), "for s in signals {\n\ts.confidence = 0\n}\n", in)
	if rerr != nil {
		t.Fatalf("run: %v", rerr)
	}
	if res.Signals[0]["confidence"] != float64(0) {
		t.Fatalf("unexpected result %v", res.Signals)
	}
	// The caller's batch must be untouched.
	if in[0]["confidence"] != 0.9 {
		t.Fatalf("input batch was mutated: %v", in)
	}
	// And the returned records must not alias sandbox state.
	res.Signals[0]["confidence"] = 42.0
	res2, rerr := sb.Run(context.Background(), "x = 1\n", in)
	if rerr != nil {
		t.Fatalf("run: %v", rerr)
	}
	if res2.Signals[0]["confidence"] != 0.9 {
		t.Fatalf("state leaked across runs: %v", res2.Signals)
	}
}

func TestSandboxRunConcurrent(t *testing.T) {
	sb := New(Budget{})
	code := `for s in signals {
	s.n = s.n + 1
}
`
	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := []map[string]any{{"n": float64(i)}}
			res, rerr := sb.Run(context.Background(), code, in)
			if rerr != nil {
				errs <- rerr
				return
			}
			if res.Signals[0]["n"] != float64(i+1) {
				errs <- rerr
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent run: %v", err)
	}
}

func TestSandboxRunRejectsNestedInput(t *testing.T) {
	sb := New(Budget{})
	in := []map[string]any{{"nested": map[string]any{"x": 1}}}
	if _, rerr := sb.Run(context.Background(), "x = 1\n", in); rerr == nil {
		t.Fatal("expected rejection of non-scalar field")
	}
}

func TestSandboxRunRejectsNonBatchResult(t *testing.T) {
	sb := New(Budget{})
	_, rerr := sb.Run(context.Background(), "signals = {a: 1}\n", nil)
	if rerr == nil {
		t.Fatal("expected error")
	}
	if rerr.Kind != KindRuntime {
		t.Fatalf("expected runtime error, got %s", rerr.Kind)
	}
}

func TestSandboxProbe(t *testing.T) {
	sb := New(Budget{})
	if sb.Available() {
		t.Fatal("must start unavailable")
	}
	if err := sb.Probe(context.Background()); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !sb.Available() {
		t.Fatal("expected available after probe")
	}
}
