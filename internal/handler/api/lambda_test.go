package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"CapTrades/internal/domain/models"
	"CapTrades/internal/sandbox"
	"CapTrades/internal/service/cache"
	"CapTrades/internal/service/metrics"
	"CapTrades/internal/usecase"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newHandler(t *testing.T, ready bool) *LambdaHandler {
	t.Helper()
	sb := sandbox.New(sandbox.Budget{})
	if ready {
		if err := sb.Probe(context.Background()); err != nil {
			t.Fatalf("probe: %v", err)
		}
	}
	runner := usecase.NewLambdaRunner(sb, nil, nil, nil)
	h := NewLambdaHandler(runner, nil)
	h.SetCache(cache.NewTTLCache())
	return h
}

func post(t *testing.T, h echo.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	return rec
}

func TestValidateLambdaValid(t *testing.T) {
	h := newHandler(t, true)
	rec := post(t, h.ValidateLambda, "/signals/validate-lambda", `{"code":"x = 1\n"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["valid"] != true {
		t.Fatalf("expected valid, got %v", body)
	}
	if _, present := body["error"]; present {
		t.Fatalf("error must be omitted when valid, got %v", body)
	}
}

func TestValidateLambdaInvalid(t *testing.T) {
	h := newHandler(t, true)
	rec := post(t, h.ValidateLambda, "/signals/validate-lambda", `{"code":"eval(\"1\")\n"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("invalid code is still a 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["valid"] != false {
		t.Fatalf("expected invalid, got %v", body)
	}
	msg, _ := body["error"].(string)
	if !strings.Contains(msg, "dynamic code evaluation") {
		t.Fatalf("expected targeted diagnostic, got %q", msg)
	}
}

func TestValidateLambdaMissingCode(t *testing.T) {
	h := newHandler(t, true)
	rec := post(t, h.ValidateLambda, "/signals/validate-lambda", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestValidateLambdaCached(t *testing.T) {
	h := newHandler(t, true)
	first := post(t, h.ValidateLambda, "/signals/validate-lambda", `{"code":"import(\"os\")\n"}`)
	second := post(t, h.ValidateLambda, "/signals/validate-lambda", `{"code":"import(\"os\")\n"}`)
	if first.Body.String() != second.Body.String() {
		t.Fatalf("cached verdict differs: %s vs %s", first.Body.String(), second.Body.String())
	}
}

func TestApplyLambdaSuccess(t *testing.T) {
	h := newHandler(t, true)
	body := `{"code":"kept = []\nfor s in signals {\n\ts.confidence = s.confidence * 2\n\tif s.confidence > 0.5 {\n\t\tkept = append(kept, s)\n\t}\n}\nsignals = kept\n","signals":[{"ticker":"AAPL","confidence":0.9},{"ticker":"MSFT","confidence":0.4}]}`
	rec := post(t, h.ApplyLambda, "/signals/apply-lambda", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res struct {
		Signals []map[string]any `json:"signals"`
		Trace   []map[string]any `json:"trace"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Signals) != 1 || res.Signals[0]["ticker"] != "AAPL" {
		t.Fatalf("unexpected signals %v", res.Signals)
	}
	if res.Signals[0]["confidence"] != 1.8 {
		t.Fatalf("unexpected confidence %v", res.Signals[0]["confidence"])
	}
	if len(res.Trace) == 0 {
		t.Fatal("expected a trace")
	}
}

func TestApplyLambdaRuntimeError(t *testing.T) {
	h := newHandler(t, true)
	body := `{"code":"x = 1 / 0\n","signals":[{"ticker":"AAPL"}]}`
	rec := post(t, h.ApplyLambda, "/signals/apply-lambda", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var res struct {
		Trace []map[string]any `json:"trace"`
		Error string           `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(res.Error, "division by zero") {
		t.Fatalf("unexpected error %q", res.Error)
	}
	if len(res.Trace) == 0 {
		t.Fatal("trace must be returned on failure")
	}
}

func TestLambdaOutcomeCounters(t *testing.T) {
	h := newHandler(t, true)

	validBefore := testutil.ToFloat64(metrics.ValidateResults.WithLabelValues("valid"))
	invalidBefore := testutil.ToFloat64(metrics.ValidateResults.WithLabelValues("invalid"))
	successBefore := testutil.ToFloat64(metrics.RunStatus.WithLabelValues(models.StatusSuccess))
	runtimeBefore := testutil.ToFloat64(metrics.RunStatus.WithLabelValues(models.StatusRuntime))

	// Second identical validate is served from the cache and must still count.
	post(t, h.ValidateLambda, "/signals/validate-lambda", `{"code":"x = 1\n"}`)
	post(t, h.ValidateLambda, "/signals/validate-lambda", `{"code":"x = 1\n"}`)
	post(t, h.ValidateLambda, "/signals/validate-lambda", `{"code":"eval(\"1\")\n"}`)
	post(t, h.ApplyLambda, "/signals/apply-lambda", `{"code":"x = 1\n","signals":[]}`)
	post(t, h.ApplyLambda, "/signals/apply-lambda", `{"code":"x = 1 / 0\n","signals":[]}`)

	if got := testutil.ToFloat64(metrics.ValidateResults.WithLabelValues("valid")) - validBefore; got != 2 {
		t.Fatalf("expected 2 valid verdicts, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.ValidateResults.WithLabelValues("invalid")) - invalidBefore; got != 1 {
		t.Fatalf("expected 1 invalid verdict, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.RunStatus.WithLabelValues(models.StatusSuccess)) - successBefore; got != 1 {
		t.Fatalf("expected 1 successful run, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.RunStatus.WithLabelValues(models.StatusRuntime)) - runtimeBefore; got != 1 {
		t.Fatalf("expected 1 runtime failure, got %v", got)
	}
}

func TestApplyLambdaFailClosed(t *testing.T) {
	h := newHandler(t, false)
	body := `{"code":"x = 1\n","signals":[]}`
	rec := post(t, h.ApplyLambda, "/signals/apply-lambda", body)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var res map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res["error"] != "sandbox unavailable" {
		t.Fatalf("unexpected body %v", res)
	}
}
