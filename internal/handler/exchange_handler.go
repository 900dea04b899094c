package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hangawi/ai-schedule-api/internal/dto"
	"github.com/hangawi/ai-schedule-api/internal/service"
	appErrors "github.com/hangawi/ai-schedule-api/pkg/errors"
	"github.com/hangawi/ai-schedule-api/pkg/response"
)

// ExchangeHandler manages negotiation request endpoints.
type ExchangeHandler struct {
	service *service.ExchangeService
	metrics *service.MetricsService
}

// NewExchangeHandler constructs the handler.
func NewExchangeHandler(svc *service.ExchangeService, metrics *service.MetricsService) *ExchangeHandler {
	return &ExchangeHandler{service: svc, metrics: metrics}
}

// Create files a new request.
func (h *ExchangeHandler) Create(c *gin.Context) {
	var req dto.CreateRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request payload"))
		return
	}
	request, err := h.service.Create(c.Request.Context(), c.Param("roomId"), currentUserID(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, request)
}

// List returns the room's requests, optionally filtered by status.
func (h *ExchangeHandler) List(c *gin.Context) {
	var query dto.RequestListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request filter"))
		return
	}
	list, err := h.service.List(c.Request.Context(), c.Param("roomId"), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, list, nil)
}

// Approve resolves a request in the requester's favor.
func (h *ExchangeHandler) Approve(c *gin.Context) {
	var req dto.RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid response payload"))
		return
	}
	resolution, err := h.service.Approve(c.Request.Context(), c.Param("id"), currentUserID(c), req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	if h.metrics != nil && resolution.ChainChild != nil {
		h.metrics.RecordChainEscalation()
	}
	response.JSON(c, http.StatusOK, resolution, nil)
}

// Reject declines a request.
func (h *ExchangeHandler) Reject(c *gin.Context) {
	var req dto.RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid response payload"))
		return
	}
	request, err := h.service.Reject(c.Request.Context(), c.Param("id"), currentUserID(c), req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// Cancel withdraws the caller's own request.
func (h *ExchangeHandler) Cancel(c *gin.Context) {
	request, err := h.service.Cancel(c.Request.Context(), c.Param("id"), currentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// ConfirmChain greenlights contacting a third party for a chain.
func (h *ExchangeHandler) ConfirmChain(c *gin.Context) {
	resolution, err := h.service.ConfirmChain(c.Request.Context(), c.Param("id"), currentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	if h.metrics != nil && resolution.ChainChild != nil {
		h.metrics.RecordChainEscalation()
	}
	response.JSON(c, http.StatusOK, resolution, nil)
}
