package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hangawi/ai-schedule-api/internal/service"
)

// MetricsHandler serves the observability surface: liveness, the raw
// Prometheus registry and an aggregated JSON snapshot.
type MetricsHandler struct {
	metrics *service.MetricsService
}

func NewMetricsHandler(metrics *service.MetricsService) *MetricsHandler {
	return &MetricsHandler{metrics: metrics}
}

// Health reports liveness.
func (h *MetricsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Prometheus proxies the registry's scrape handler.
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Snapshot returns coordination counters in JSON for status dashboards.
func (h *MetricsHandler) Snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.metrics.Snapshot())
}
