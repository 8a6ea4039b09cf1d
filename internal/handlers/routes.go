package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"vodscribe/internal/version"
)

// Health reports liveness.
func Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

// Register mounts the ops API on e.
func Register(e *echo.Echo, jobs *JobHandler) {
	e.GET("/health", Health)

	g := e.Group("/jobs")
	g.POST("", jobs.Create)
	g.GET("", jobs.List)
	g.GET("/stats", jobs.Stats)
	g.GET("/:id", jobs.Get)
	g.GET("/:id/summary", jobs.Summary)
	g.GET("/:id/segments", jobs.Segments)
	g.GET("/:id/export/:format", jobs.Export)
}
