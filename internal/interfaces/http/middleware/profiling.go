package middleware

import (
	"context"

	"github.com/fitmarket/backend/internal/infrastructure/telemetry"
	"github.com/gin-gonic/gin"
)

// ProfilingConfig holds configuration for the profiling middleware.
type ProfilingConfig struct {
	Enabled bool
	// SkipPaths get no labels (probes, docs)
	SkipPaths []string
}

// Profiling tags CPU samples taken while serving a request with the route
// pattern and method, so Pyroscope can split webhook ingest from sync API load.
func Profiling(cfg ProfilingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}
	skip := make(map[string]bool, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = true
	}

	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" || skip[c.Request.URL.Path] {
			c.Next()
			return
		}
		labels := map[string]string{
			telemetry.ProfilingLabelRoute: route,
			"method":                      c.Request.Method,
		}
		telemetry.WithProfilingLabels(c.Request.Context(), labels, func(ctx context.Context) {
			c.Request = c.Request.WithContext(ctx)
			c.Next()
		})
	}
}
