package api

import (
	"encoding/json"
	"net/http"
	"time"

	"CapTrades/internal/domain/models"
	icache "CapTrades/internal/service/cache"
	"CapTrades/internal/service/metrics"
	"CapTrades/internal/service/ratelimit"
	"CapTrades/internal/usecase"
	xhttp "CapTrades/pkg/http"
	xlogger "CapTrades/pkg/logger"
	"CapTrades/pkg/util"

	"github.com/labstack/echo/v4"
)

// validateCacheTTL bounds how long a cached validation verdict is reused.
// Validation is a pure function of the code, so the TTL only caps memory.
const validateCacheTTL = 5 * time.Minute

// LambdaHandler exposes the sandbox boundary: validate-only and
// apply-and-trace. Response bodies are raw shapes, not the envelope, because
// the playground editor consumes them directly.
type LambdaHandler struct {
	runner   *usecase.LambdaRunner
	cache    icache.BytesCache
	cacheTTL time.Duration
	rl       *ratelimit.Limiter
	logger   *xlogger.Logger
}

func NewLambdaHandler(runner *usecase.LambdaRunner, logger *xlogger.Logger) *LambdaHandler {
	metrics.Register()
	return &LambdaHandler{runner: runner, cacheTTL: validateCacheTTL, rl: ratelimit.New(), logger: logger}
}

// SetCache injects a validation-verdict cache.
func (h *LambdaHandler) SetCache(c icache.BytesCache) { h.cache = c }

// SetCacheTTL overrides the verdict cache TTL.
func (h *LambdaHandler) SetCacheTTL(d time.Duration) {
	if d > 0 {
		h.cacheTTL = d
	}
}

func (h *LambdaHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/signals")
	g.POST("/validate-lambda", h.ValidateLambda)
	g.POST("/apply-lambda", h.ApplyLambda)
}

// ValidateLambda statically checks submitted code. Invalid code is still a
// 200; only a malformed request is a 400.
func (h *LambdaHandler) ValidateLambda(c echo.Context) error {
	start := time.Now()
	endpoint := "validate_lambda"
	defer func() { metrics.LambdaLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds()) }()

	req := &models.ValidateLambdaRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorBody{Error: "code is required"})
	}

	key := "validate:" + util.Sha256Hex(req.Code)
	if h.cache != nil {
		if b, ok, err := h.cache.GetBytes(key); err == nil && ok {
			var cached models.ValidateLambdaResponse
			if json.Unmarshal(b, &cached) == nil {
				metrics.ValidateResults.WithLabelValues(verdictLabel(cached.Valid)).Inc()
				return c.JSON(http.StatusOK, cached)
			}
		}
	}

	res := h.runner.ValidateCode(req.Code)
	metrics.ValidateResults.WithLabelValues(verdictLabel(res.Valid)).Inc()
	if h.cache != nil {
		if b, err := json.Marshal(res); err == nil {
			if err := h.cache.SetBytes(key, b, h.cacheTTL); err != nil && h.logger != nil {
				h.logger.Warn("validate cache_set_error", xlogger.Error(err))
			}
		}
	}
	return c.JSON(http.StatusOK, res)
}

// ApplyLambda runs code against a signal batch. The trace is returned on
// success and on execution-time failure; the transformed batch only on
// success.
func (h *LambdaHandler) ApplyLambda(c echo.Context) error {
	start := time.Now()
	endpoint := "apply_lambda"
	defer func() { metrics.LambdaLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds()) }()

	req := &models.ApplyLambdaRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorBody{Error: "code is required"})
	}

	if !h.rl.Allow(c.RealIP()+":apply", 5, 2) {
		if h.logger != nil {
			h.logger.Warn("apply rate_limited", xlogger.String("remote", c.RealIP()))
		}
		return c.JSON(http.StatusTooManyRequests, models.ErrorBody{Error: "rate limited"})
	}

	res, fail := h.runner.Apply(c.Request().Context(), req.Code, req.Signals)
	if fail != nil {
		metrics.LambdaErrors.WithLabelValues(endpoint).Inc()
		metrics.RunStatus.WithLabelValues(fail.Status).Inc()
		if fail.Status == models.StatusUnavailable {
			return c.JSON(http.StatusServiceUnavailable, models.ErrorBody{Error: "sandbox unavailable"})
		}
		return c.JSON(http.StatusBadRequest, models.ApplyLambdaFailure{Trace: fail.Trace, Error: fail.Message})
	}
	metrics.RunStatus.WithLabelValues(models.StatusSuccess).Inc()
	return c.JSON(http.StatusOK, res)
}

func verdictLabel(valid bool) string {
	if valid {
		return "valid"
	}
	return "invalid"
}
