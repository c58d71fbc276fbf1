package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"CapTrades/internal/sandbox"
	"CapTrades/internal/usecase"
	pkgch "CapTrades/pkg/clickhouse"
	"CapTrades/pkg/config"
	xhttp "CapTrades/pkg/http"
	applogger "CapTrades/pkg/logger"
)

// probeTimeout bounds the startup self-test of the sandbox.
const probeTimeout = 5 * time.Second

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	sb         *sandbox.Sandbox
	collector  *usecase.SignalCollector
	audit      *usecase.AuditProcessor
	chClient   *pkgch.Client
	httpServer *xhttp.Server
	handlers   []xhttp.Handler
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	sb *sandbox.Sandbox,
	collector *usecase.SignalCollector,
	audit *usecase.AuditProcessor,
	chClient *pkgch.Client,
) *App {
	return &App{
		cfg:       cfg,
		sb:        sb,
		collector: collector,
		audit:     audit,
		chClient:  chClient,
	}
}

// SetHTTPHandlers allows DI to inject HTTP handlers.
func (a *App) SetHTTPHandlers(hs ...xhttp.Handler) { a.handlers = hs }

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// init app logger (console info by default)
	l, _ := applogger.New(&applogger.Config{Level: "info", Format: "console", Output: "stdout"})

	// Probe the sandbox before taking traffic. A failed probe keeps the
	// service up but every apply request answers 503 until a later probe
	// succeeds.
	probeCtx, probeCancel := context.WithTimeout(ctx, probeTimeout)
	if err := a.sb.Probe(probeCtx); err != nil {
		l.Error("sandbox probe failed, applies fail closed", applogger.Error(err))
	} else {
		l.Info("sandbox probe ok")
	}
	probeCancel()

	a.httpServer = xhttp.NewServer(multiHandler(a.handlers),
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)
	a.registerHealth(a.httpServer.Echo())

	// Start audit flush loop
	if a.audit != nil {
		a.audit.Start(ctx)
		l.Info("audit processor started", applogger.String("backend", a.cfg.Audit.Backend))
	}

	// Start signal feed collector
	if a.collector != nil {
		go func() {
			if err := a.collector.Start(ctx); err != nil {
				l.Error("collector error", applogger.Error(err))
			}
		}()
		l.Info("feed collector started", applogger.String("source", a.cfg.Feed.Source))
	}

	// Start HTTP server
	if err := a.httpServer.Start(); err != nil {
		l.Error("http server start error", applogger.Error(err))
		return err
	}

	// Wait for interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	l.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// registerHealth exposes liveness and readiness probes. Readiness tracks the
// sandbox self-test so orchestrators stop routing applies to an instance
// whose interpreter is broken.
func (a *App) registerHealth(e *echo.Echo) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/readyz", func(c echo.Context) error {
		if !a.sb.Available() {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "sandbox unavailable"})
		}
		if a.chClient != nil {
			ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
			defer cancel()
			if err := a.chClient.Health(ctx); err != nil {
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "clickhouse unreachable"})
			}
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
	})
}

// shutdown gracefully stops all services.
func (a *App) shutdown(ctx context.Context) error {
	l, _ := applogger.New(&applogger.Config{Level: "info", Format: "console", Output: "stdout"})
	l.Info("shutting down...")

	// Stop collector (pipeline + stream)
	if a.collector != nil {
		if err := a.collector.Shutdown(ctx); err != nil {
			l.Warn("collector stop error", applogger.Error(err))
		}
	}

	// Shutdown HTTP server
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		l.Error("http shutdown error", applogger.Error(err))
	}

	// Flush and close audit sink
	if a.audit != nil {
		a.audit.Close()
	}

	// Close infrastructure clients
	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			l.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	l.Info("shutdown complete")
	return nil
}

// multiHandler folds several route handlers into the single Handler the
// server constructor accepts.
type multiHandler []xhttp.Handler

func (m multiHandler) RegisterRoutes(e *echo.Echo) {
	for _, h := range m {
		if h != nil {
			h.RegisterRoutes(e)
		}
	}
}
