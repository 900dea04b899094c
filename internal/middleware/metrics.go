package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hangawi/ai-schedule-api/internal/service"
)

// Metrics observes every request's method, route template, status and
// latency. Unmatched routes fall back to the raw URL path so 404 noise
// stays visible without exploding label cardinality for real routes.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	if metricsSvc == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
