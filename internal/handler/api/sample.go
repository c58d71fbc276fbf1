package api

import (
	"net/http"

	"CapTrades/internal/domain/models"
	"CapTrades/internal/service/feed"
	"CapTrades/pkg/util"

	"github.com/labstack/echo/v4"
)

// fallbackSample is served when the live feed has produced nothing yet, so
// the playground always has a batch to transform.
var fallbackSample = []models.SignalRecord{
	{"ticker": "AAPL", "confidence": 0.9, "kind": "buy"},
	{"ticker": "MSFT", "confidence": 0.4, "kind": "hold"},
}

// SampleHandler serves recent baseline signals for the playground.
type SampleHandler struct {
	buffer *feed.SampleBuffer
}

func NewSampleHandler(buffer *feed.SampleBuffer) *SampleHandler {
	return &SampleHandler{buffer: buffer}
}

func (h *SampleHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/signals/sample", h.Sample)
}

func (h *SampleHandler) Sample(c echo.Context) error {
	n := util.ParseIntDefault(c.QueryParam("n"), 10)
	if n > 100 {
		n = 100
	}
	var signals []models.SignalRecord
	if h.buffer != nil {
		signals = h.buffer.Snapshot(n)
	}
	if len(signals) == 0 {
		signals = fallbackSample
	}
	return c.JSON(http.StatusOK, map[string]any{"signals": signals})
}
