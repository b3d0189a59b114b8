// internal/server/routes.go
package server

import "github.com/labstack/echo/v4"

// RegisterRoutes wires the v1 API and /metrics.
func RegisterRoutes(e *echo.Echo, h *Handlers) {
	e.HTTPErrorHandler = JSONErrorHandler()

	v1 := e.Group("/v1")
	v1.GET("/health", h.Health)
	v1.GET("/pools", h.Pools)
	v1.GET("/bundles", h.Bundles)
	v1.GET("/bundles/:pool", h.Bundle)
	v1.GET("/prices", h.Prices)
	v1.GET("/prices/:mint", h.Price)
	v1.POST("/fetch", h.Fetch)

	e.GET("/metrics", metricsHandler(h.deps.Registry))
}
