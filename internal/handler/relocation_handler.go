package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hangawi/ai-schedule-api/internal/dto"
	"github.com/hangawi/ai-schedule-api/internal/service"
	appErrors "github.com/hangawi/ai-schedule-api/pkg/errors"
	"github.com/hangawi/ai-schedule-api/pkg/response"
)

// RelocationHandler manages slot relocation endpoints.
type RelocationHandler struct {
	service *service.RelocationService
	metrics *service.MetricsService
}

// NewRelocationHandler constructs the handler.
func NewRelocationHandler(svc *service.RelocationService, metrics *service.MetricsService) *RelocationHandler {
	return &RelocationHandler{service: svc, metrics: metrics}
}

// Relocate validates and executes a single-slot move.
func (h *RelocationHandler) Relocate(c *gin.Context) {
	var req dto.RelocateSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid relocation payload"))
		return
	}
	result, err := h.service.Relocate(c.Request.Context(), c.Param("roomId"), currentUserID(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordRelocation(result.Outcome)
	}
	response.JSON(c, http.StatusOK, result, nil)
}
