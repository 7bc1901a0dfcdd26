package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/invigilation-planner/internal/service"
)

// UnmatchedRoute labels requests that hit no registered route, keeping the path label bounded.
const UnmatchedRoute = "unmatched"

// Metrics records method, route template, status and latency for every request except the
// listed scrape routes, typically /metrics and /health.
func Metrics(metricsSvc *service.MetricsService, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, path := range skip {
		skipped[path] = struct{}{}
	}
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if _, ok := skipped[route]; ok && route != "" {
			return
		}
		if route == "" {
			route = UnmatchedRoute
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
