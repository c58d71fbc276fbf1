package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"CapTrades/internal/domain/models"
	"CapTrades/internal/service/feed"

	"github.com/labstack/echo/v4"
)

func getSample(t *testing.T, h *SampleHandler, target string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	if err := h.Sample(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	return rec
}

func TestSampleFallback(t *testing.T) {
	h := NewSampleHandler(feed.NewSampleBuffer(16))
	rec := getSample(t, h, "/signals/sample")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Signals []models.SignalRecord `json:"signals"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Signals) == 0 {
		t.Fatal("expected fallback sample")
	}
}

func TestSampleFromBuffer(t *testing.T) {
	buf := feed.NewSampleBuffer(16)
	buf.Add(models.SignalRecord{"ticker": "NVDA", "confidence": 0.7})
	h := NewSampleHandler(buf)
	rec := getSample(t, h, "/signals/sample?n=5")
	var body struct {
		Signals []models.SignalRecord `json:"signals"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Signals) != 1 || body.Signals[0]["ticker"] != "NVDA" {
		t.Fatalf("unexpected signals %v", body.Signals)
	}
}
