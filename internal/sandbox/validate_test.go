package sandbox

import (
	"strings"
	"testing"
)

func TestValidateAccepts(t *testing.T) {
	codes := []string{
		"x = 1\n",
		"signals = append(signals, {ticker: \"AAPL\", score: 1})\n",
		"for s in signals {\n\ts.score = math.round(s.score * 100) / 100\n}\n",
		"if len(signals) > 0 {\n\tprint(signals[0])\n} else {\n\tprint(\"empty\")\n}\n",
		"# comment only\n",
		"total = 0\nfor s in signals {\n\ttotal = total + s.score\n}\n",
	}
	for _, code := range codes {
		if err := Validate(code); err != nil {
			t.Fatalf("expected valid, got %v for %q", err, code)
		}
	}
}

func TestValidateRejectsDeniedCalls(t *testing.T) {
	cases := map[string]string{
		"import(\"os\")\n":        "module imports",
		"eval(\"1+1\")\n":         "dynamic code evaluation",
		"open(\"/etc/passwd\")\n": "file access",
		"fetch(\"http://x\")\n":   "network",
		"exit(1)\n":               "process",
		"getenv(\"HOME\")\n":      "environment",
	}
	for code, want := range cases {
		err := Validate(code)
		if err == nil {
			t.Fatalf("expected rejection for %q", code)
		}
		if err.Kind != KindGrammar {
			t.Fatalf("expected grammar violation, got %s", err.Kind)
		}
		if !strings.Contains(err.Message, want) {
			t.Fatalf("expected %q in diagnostic, got %q", want, err.Message)
		}
	}
}

func TestValidateRejectsReservedPrefix(t *testing.T) {
	codes := []string{
		"__x = 1\n",
		"x = __y\n",
		"s = {__k: 1}\n",
		"x = signals[0].__proto\n",
	}
	for _, code := range codes {
		err := Validate(code)
		if err == nil {
			t.Fatalf("expected rejection for %q", code)
		}
		if err.Kind != KindGrammar {
			t.Fatalf("expected grammar violation, got %s", err.Kind)
		}
	}
}

func TestValidateRejectsUnknownIdentifier(t *testing.T) {
	err := Validate("x = y + 1\n")
	if err == nil {
		t.Fatal("expected rejection")
	}
	if !strings.Contains(err.Message, "y") {
		t.Fatalf("diagnostic should name the identifier, got %q", err.Message)
	}
}

func TestValidateRejectsUnknownCall(t *testing.T) {
	err := Validate("x = frobnicate(1)\n")
	if err == nil {
		t.Fatal("expected rejection")
	}
	if err.Kind != KindGrammar {
		t.Fatalf("expected grammar violation, got %s", err.Kind)
	}
}

func TestValidateRejectsBuiltinReassignment(t *testing.T) {
	for _, code := range []string{"len = 1\n", "math = 1\n", "math.pi = 4\n"} {
		if err := Validate(code); err == nil {
			t.Fatalf("expected rejection for %q", code)
		}
	}
}

func TestValidateRejectsSyntaxErrors(t *testing.T) {
	codes := []string{
		"x = \n",
		"if x {\n",
		"for in signals {}\n",
		"x = (1 + 2\n",
		"x = 'unterminated\n",
	}
	for _, code := range codes {
		err := Validate(code)
		if err == nil {
			t.Fatalf("expected syntax error for %q", code)
		}
		if err.Kind != KindGrammar {
			t.Fatalf("expected grammar violation, got %s", err.Kind)
		}
	}
}

func TestValidateReportsPosition(t *testing.T) {
	err := Validate("x = 1\nexec(\"rm\")\n")
	if err == nil {
		t.Fatal("expected rejection")
	}
	if !err.HasPos || err.Pos.Line != 2 {
		t.Fatalf("expected line 2, got %+v", err.Pos)
	}
}

func TestValidateRejectsOversizedCode(t *testing.T) {
	code := "x = 1\n" + strings.Repeat("# padding line\n", maxCodeBytes/8)
	err := Validate(code)
	if err == nil {
		t.Fatal("expected rejection")
	}
	if err.Kind != KindGrammar {
		t.Fatalf("expected grammar violation, got %s", err.Kind)
	}
}

func TestValidateRejectsDeepNesting(t *testing.T) {
	code := "x = " + strings.Repeat("(", maxNestDepth+1) + "1" + strings.Repeat(")", maxNestDepth+1) + "\n"
	if err := Validate(code); err == nil {
		t.Fatal("expected rejection")
	}
}
