// Package api exposes the administrative operations of an engine over
// HTTP using echo.
package api

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/nexus-link/durable/engine"
)

// API wires the HTTP handlers of the administrative surface together.
type API struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// New creates an API over an engine.
func New(eng *engine.Engine, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{eng: eng, logger: logger}
}

// Handler returns an echo server with every route registered.
func (a *API) Handler() http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = a.errorHandler
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("durable-admin"))
	a.RegisterRoutes(e.Group(""))
	return e
}

// RegisterRoutes registers all routes below g.
func (a *API) RegisterRoutes(g *echo.Group) {
	v1 := g.Group("/v1")

	v1.GET("/workflows", a.listWorkflows)

	v1.GET("/instances", a.listInstances)
	v1.GET("/instances/:instanceId", a.getInstance)
	v1.POST("/instances/:instanceId/cancel", a.cancelInstance)
	v1.POST("/instances/:instanceId/retry", a.retryHalted)
	v1.GET("/instances/:instanceId/activities", a.listActivities)
	v1.GET("/instances/:instanceId/logs", a.listLogs)

	v1.POST("/activities/:activityId/retry", a.retryActivity)
	v1.POST("/activities/:activityId/alert-handled", a.markAlertHandled)

	v1.GET("/maintenance", a.listMaintenance)
	v1.POST("/maintenance/:task/run", a.runMaintenance)

	v1.GET("/stats", a.stats)
}
