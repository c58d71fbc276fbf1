package api

import (
	"net/http"
	"time"

	"CapTrades/internal/domain/models"
	drepo "CapTrades/internal/domain/repository"
	applogger "CapTrades/pkg/logger"
	"CapTrades/pkg/util"

	"github.com/labstack/echo/v4"
)

// AuditHandler exposes the transform audit trail for operators. Registered
// only when the ClickHouse backend is configured.
type AuditHandler struct {
	store  drepo.AuditStorage
	logger *applogger.Logger
}

func NewAuditHandler(store drepo.AuditStorage, logger *applogger.Logger) *AuditHandler {
	return &AuditHandler{store: store, logger: logger}
}

func (h *AuditHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/audit/records", h.Records)
}

// Records returns recent audit entries filtered by status and time range.
func (h *AuditHandler) Records(c echo.Context) error {
	status := c.QueryParam("status")
	if status == "" {
		status = models.StatusSuccess
	}

	now := time.Now().UTC()
	from := util.ParseTimeDefault(c.QueryParam("from"), now.Add(-time.Hour))
	to := util.ParseTimeDefault(c.QueryParam("to"), now)
	limit := util.ParseIntDefault(c.QueryParam("limit"), 100)
	if limit > 1000 {
		limit = 1000
	}

	recs, err := h.store.Query(c.Request().Context(), status, from, to, limit)
	if err != nil {
		h.logger.Error("audit query failed", applogger.Error(err))
		return c.JSON(http.StatusInternalServerError, models.ErrorBody{Error: "internal error"})
	}
	if recs == nil {
		recs = []*models.AuditRecord{}
	}
	return c.JSON(http.StatusOK, map[string]any{"records": recs})
}
