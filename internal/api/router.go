package api

import (
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	echoSwagger "github.com/swaggo/echo-swagger"

	_ "github.com/loyalty/points-ledger/docs"
	"github.com/loyalty/points-ledger/internal/api/handler"
	"github.com/loyalty/points-ledger/internal/api/middleware"
	"github.com/loyalty/points-ledger/internal/core/ports"
)

// Deps are the collaborators the HTTP layer is built on.
type Deps struct {
	Ledger ports.LedgerService
	Queue  handler.TransferQueue
	// Checks are pinged by the readiness check, keyed by dependency name.
	Checks map[string]handler.Pinger
	Log    zerolog.Logger

	// Registerer and Gatherer back the HTTP metrics and /metrics. They
	// default to the global Prometheus registry.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// NewRouter builds and returns the Echo instance with all routes registered.
func NewRouter(deps Deps) *echo.Echo {
	if deps.Registerer == nil {
		deps.Registerer = prometheus.DefaultRegisterer
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(deps.Log)

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(middleware.RequestLogger(deps.Log))
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "loyalty_http",
		Registerer: deps.Registerer,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics"
		},
	}))

	// --- Operational endpoints ---
	health := handler.NewHealthHandler(deps.Checks)
	e.GET("/health", health.Liveness)
	e.GET("/health/ready", health.Readiness)
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: deps.Gatherer}))
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	// --- Ledger API ---
	users := handler.NewUserHandler(deps.Ledger)
	transfers := handler.NewTransferHandler(deps.Ledger)
	batch := handler.NewBatchHandler(deps.Queue)

	v1 := e.Group("/api/v1")
	v1.GET("/users", users.List)
	v1.POST("/users", users.Create)
	v1.GET("/users/:id", users.Get)
	v1.GET("/users/:id/transfers", transfers.List)
	v1.POST("/users/:id/transfers", transfers.Create, middleware.IdempotencyKey())
	v1.POST("/transfers/batch", batch.Create)

	return e
}
