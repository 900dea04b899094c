package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hangawi/ai-schedule-api/internal/dto"
	"github.com/hangawi/ai-schedule-api/internal/middleware"
	"github.com/hangawi/ai-schedule-api/internal/service"
	appErrors "github.com/hangawi/ai-schedule-api/pkg/errors"
	"github.com/hangawi/ai-schedule-api/pkg/response"
)

// CoordinationHandler manages scheduling-run and calendar-view endpoints.
type CoordinationHandler struct {
	autoAssign *service.AutoAssignService
	schedule   *service.ScheduleService
	activity   *service.ActivityService
	metrics    *service.MetricsService
}

// NewCoordinationHandler constructs the handler.
func NewCoordinationHandler(autoAssign *service.AutoAssignService, schedule *service.ScheduleService, activity *service.ActivityService, metrics *service.MetricsService) *CoordinationHandler {
	return &CoordinationHandler{autoAssign: autoAssign, schedule: schedule, activity: activity, metrics: metrics}
}

// AutoAssign runs the five-phase assignment for a room.
func (h *CoordinationHandler) AutoAssign(c *gin.Context) {
	var req dto.AutoAssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid auto-assign payload"))
		return
	}

	started := time.Now()
	result, err := h.autoAssign.Run(c.Request.Context(), c.Param("roomId"), currentUserID(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if h.metrics != nil {
		assigned := 0
		for _, slots := range result.SlotsByMember {
			assigned += len(slots)
		}
		h.metrics.ObserveAutoAssignRun(assigned, len(result.CarryOvers), time.Since(started))
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Timetable serves the candidate grid for a date range.
func (h *CoordinationHandler) Timetable(c *gin.Context) {
	var query dto.TimetableQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid timetable query"))
		return
	}
	cells, cacheHit, err := h.schedule.Timetable(c.Request.Context(), c.Param("roomId"), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, cells, nil, middleware.ExtractMeta(c))
}

// Slots lists the room's assigned slots for a date range.
func (h *CoordinationHandler) Slots(c *gin.Context) {
	var query dto.TimetableQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid slot query"))
		return
	}
	slots, err := h.schedule.Slots(c.Request.Context(), c.Param("roomId"), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slots, nil)
}

// CarryOvers lists the room's carry-over ledger.
func (h *CoordinationHandler) CarryOvers(c *gin.Context) {
	records, err := h.schedule.CarryOvers(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, nil)
}

// Export streams the room's schedule as CSV or PDF.
func (h *CoordinationHandler) Export(c *gin.Context) {
	result, err := h.schedule.Export(c.Request.Context(), c.Param("roomId"),
		c.DefaultQuery("format", "csv"), c.Query("start"), c.Query("end"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if result.DownloadToken != "" {
		c.Header("X-Download-Token", result.DownloadToken)
	}
	c.Header("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
	c.Data(http.StatusOK, result.ContentType, result.Data)
}

// DownloadExport serves a previously archived export referenced by a
// signed token.
func (h *CoordinationHandler) DownloadExport(c *gin.Context) {
	file, name, err := h.schedule.OpenArchived(c.Query("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck
	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read archived export"))
		return
	}
	contentType := "application/pdf"
	if strings.HasSuffix(name, ".csv") {
		contentType = "text/csv"
	}
	c.DataFromReader(http.StatusOK, info.Size(), contentType, file, map[string]string{
		"Content-Disposition": `attachment; filename="` + name + `"`,
	})
}

// Activity lists the room's recent activity.
func (h *CoordinationHandler) Activity(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	list, err := h.activity.List(c.Request.Context(), c.Param("roomId"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, list, nil)
}
