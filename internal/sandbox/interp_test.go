package sandbox

import (
	"context"
	"strings"
	"testing"
	"time"
)

func runCode(t *testing.T, code string, signals []map[string]any) *RunResult {
	t.Helper()
	batch, err := FromRecords(signals)
	if err != nil {
		t.Fatalf("convert batch: %v", err)
	}
	res, rerr := Execute(context.Background(), code, batch, Budget{})
	if rerr != nil {
		t.Fatalf("execute: %v", rerr)
	}
	return res
}

func runCodeErr(t *testing.T, code string, signals []map[string]any, budget Budget) *Error {
	t.Helper()
	batch, err := FromRecords(signals)
	if err != nil {
		t.Fatalf("convert batch: %v", err)
	}
	_, rerr := Execute(context.Background(), code, batch, budget)
	if rerr == nil {
		t.Fatalf("expected error for %q", code)
	}
	return rerr
}

func TestExecuteFilterAndScale(t *testing.T) {
	code := `kept = []
for s in signals {
	if s.confidence > 0.8 {
		s.confidence = s.confidence * 2
		kept = append(kept, s)
	}
}
signals = kept
`
	in := []map[string]any{
		{"ticker": "AAPL", "confidence": 0.9},
		{"ticker": "MSFT", "confidence": 0.7},
	}
	res := runCode(t, code, in)
	out, err := ToRecords(res.Batch)
	if err != nil {
		t.Fatalf("convert result: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(out))
	}
	if out[0]["ticker"] != "AAPL" || out[0]["confidence"] != 1.8 {
		t.Fatalf("unexpected record %v", out[0])
	}
}

func TestExecuteLoopVarAliasesBatch(t *testing.T) {
	code := `for s in signals {
	s.tag = upper(s.tag)
}
`
	res := runCode(t, code, []map[string]any{{"tag": "buy"}, {"tag": "sell"}})
	out, err := ToRecords(res.Batch)
	if err != nil {
		t.Fatalf("convert result: %v", err)
	}
	if out[0]["tag"] != "BUY" || out[1]["tag"] != "SELL" {
		t.Fatalf("unexpected batch %v", out)
	}
}

func TestExecutePrintCapture(t *testing.T) {
	code := `print("n =", len(signals))
print(signals[0].ticker)
`
	res := runCode(t, code, []map[string]any{{"ticker": "AAPL"}})
	if len(res.Output) != 2 {
		t.Fatalf("expected 2 lines, got %v", res.Output)
	}
	if res.Output[0] != "n = 1" || res.Output[1] != "AAPL" {
		t.Fatalf("unexpected output %v", res.Output)
	}
}

func TestExecuteOutputTruncation(t *testing.T) {
	code := `for s in signals {
	print("xxxxxxxxxx")
}
`
	in := make([]map[string]any, 20)
	for i := range in {
		in[i] = map[string]any{"i": float64(i)}
	}
	batch, _ := FromRecords(in)
	res, rerr := Execute(context.Background(), code, batch, Budget{MaxOutputBytes: 35})
	if rerr != nil {
		t.Fatalf("execute: %v", rerr)
	}
	if !res.OutputTruncated {
		t.Fatal("expected truncation")
	}
	if len(res.Output) != 3 {
		t.Fatalf("expected 3 lines before the cap, got %d", len(res.Output))
	}
}

func TestExecuteStepLimit(t *testing.T) {
	code := `big = []
for a in signals {
	for b in signals {
		big = append(big, a.i + b.i)
	}
}
`
	in := make([]map[string]any, 50)
	for i := range in {
		in[i] = map[string]any{"i": float64(i)}
	}
	batch, _ := FromRecords(in)
	_, rerr := Execute(context.Background(), code, batch, Budget{MaxSteps: 500})
	if rerr == nil {
		t.Fatal("expected step limit error")
	}
	if rerr.Kind != KindBudget {
		t.Fatalf("expected resource limit, got %s", rerr.Kind)
	}
}

func TestExecuteContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	in := make([]map[string]any, 100)
	for i := range in {
		in[i] = map[string]any{"i": float64(i)}
	}
	batch, _ := FromRecords(in)
	code := `x = 0
for a in signals {
	for b in signals {
		x = x + a.i
	}
}
`
	_, rerr := Execute(ctx, code, batch, Budget{Timeout: time.Minute})
	if rerr == nil || rerr.Kind != KindBudget {
		t.Fatalf("expected resource limit, got %v", rerr)
	}
}

func TestExecuteStringGrowthBounded(t *testing.T) {
	// Doubling a string every iteration must hit the size bound long
	// before the step budget runs out.
	code := `s = "abcdefgh"
for i in signals {
	s = s + s
}
`
	in := make([]map[string]any, 40)
	for i := range in {
		in[i] = map[string]any{"i": float64(i)}
	}
	rerr := runCodeErr(t, code, in, Budget{})
	if rerr.Kind != KindBudget {
		t.Fatalf("expected resource limit, got %s: %s", rerr.Kind, rerr.Message)
	}
}

func TestExecuteRuntimeErrors(t *testing.T) {
	cases := map[string]string{
		"x = 1 / 0\n":               "division by zero",
		"x = 1 + \"a\"\n":           "cannot apply",
		"x = signals[5]\n":          "out of range",
		"x = signals[0].missing\n":  "no field",
		"x = math.sqrt(0 - 1)\n":    "non-finite",
		"for s in \"abc\" {\n\tprint(s)\n}\n": "expects a list",
		"x = num(\"abc\")\n":        "cannot parse",
	}
	for code, want := range cases {
		rerr := runCodeErr(t, code, []map[string]any{{"ticker": "AAPL"}}, Budget{})
		if rerr.Kind != KindRuntime {
			t.Fatalf("expected runtime error for %q, got %s", code, rerr.Kind)
		}
		if !strings.Contains(rerr.Message, want) {
			t.Fatalf("expected %q in message, got %q", want, rerr.Message)
		}
	}
}

func TestExecuteRuntimeErrorPosition(t *testing.T) {
	rerr := runCodeErr(t, "x = 1\ny = x / 0\n", nil, Budget{})
	if !rerr.HasPos || rerr.Pos.Line != 2 {
		t.Fatalf("expected line 2, got %+v", rerr.Pos)
	}
}

func TestExecuteShortCircuit(t *testing.T) {
	// The right operand would divide by zero; && must never reach it.
	code := `x = false && 1 / 0 > 0
if x {
	print("bad")
} else {
	print("ok")
}
`
	res := runCode(t, code, nil)
	if len(res.Output) != 1 || res.Output[0] != "ok" {
		t.Fatalf("unexpected output %v", res.Output)
	}
}

func TestExecuteAppendCopies(t *testing.T) {
	code := `a = [1, 2]
b = append(a, 3)
print(len(a), len(b))
`
	res := runCode(t, code, nil)
	if res.Output[0] != "2 3" {
		t.Fatalf("append must not mutate its input, got %v", res.Output)
	}
}

func TestExecuteRecordHelpers(t *testing.T) {
	code := `s = signals[0]
print(has(s, "ticker"), has(s, "nope"))
print(keys(s))
`
	res := runCode(t, code, []map[string]any{{"ticker": "AAPL", "side": "buy"}})
	if res.Output[0] != "true false" {
		t.Fatalf("unexpected has output %v", res.Output)
	}
	if res.Output[1] != `["side", "ticker"]` {
		t.Fatalf("keys must be sorted, got %q", res.Output[1])
	}
}

func TestExecuteBatchReplacedWithNonList(t *testing.T) {
	res := runCode(t, "signals = 5\n", nil)
	if _, err := ToRecords(res.Batch); err == nil {
		t.Fatal("expected conversion failure")
	}
}

func TestExecuteCyclicContainerRejected(t *testing.T) {
	// A container may never be stored inside itself, directly or through
	// an intermediate container.
	cases := []string{
		"l = [0]\nl[0] = l\nprint(l)\n",
		"r = {a: 1}\nr.self = r\n",
		"r = {a: 1}\nr[\"a\"] = r\n",
		"a = [0]\nb = [a]\na[0] = b\nprint(a)\n",
	}
	for _, code := range cases {
		rerr := runCodeErr(t, code, nil, Budget{})
		if rerr.Kind != KindRuntime {
			t.Fatalf("%q: expected runtime error, got %s", code, rerr.Kind)
		}
		if !strings.Contains(rerr.Message, "cannot store a container inside itself") {
			t.Fatalf("%q: unexpected message %q", code, rerr.Message)
		}
	}
}

func TestExecuteSharedStructureAllowed(t *testing.T) {
	// Sharing without a cycle stays legal: two slots referencing the same
	// list is not self-containment.
	code := `inner = [1, 2]
outer = [0, 0]
outer[0] = inner
outer[1] = inner
print(len(outer))
`
	res := runCode(t, code, nil)
	if len(res.Output) != 1 || res.Output[0] != "2" {
		t.Fatalf("unexpected output %v", res.Output)
	}
}

func TestExecuteReplaceGrowthBounded(t *testing.T) {
	// replace can multiply its input in one call; the result must be
	// size-checked before it is built.
	code := `s = "aaaaaaaaaaaaaaaa"
for i in signals {
	s = s + s
}
big = replace(s, "a", s)
`
	in := make([]map[string]any, 6)
	for i := range in {
		in[i] = map[string]any{"i": float64(i)}
	}
	rerr := runCodeErr(t, code, in, Budget{})
	if rerr.Kind != KindBudget {
		t.Fatalf("expected resource limit, got %s: %s", rerr.Kind, rerr.Message)
	}
	if !strings.Contains(rerr.Message, "size limit") {
		t.Fatalf("unexpected message %q", rerr.Message)
	}
}

func TestExecutePrintSharedStructureBounded(t *testing.T) {
	// Doubling a list through shared references makes the rendered form
	// exponential in the loop count; rendering charges per node so the
	// step budget cuts it off.
	code := `l = [1]
for i in signals {
	l = [l, l]
}
print(l)
`
	in := make([]map[string]any, 30)
	for i := range in {
		in[i] = map[string]any{"i": float64(i)}
	}
	rerr := runCodeErr(t, code, in, Budget{})
	if rerr.Kind != KindBudget {
		t.Fatalf("expected resource limit, got %s: %s", rerr.Kind, rerr.Message)
	}
}
