package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/itd-tools/erp-change-portal/internal/models"
	"github.com/itd-tools/erp-change-portal/internal/service"
	"github.com/itd-tools/erp-change-portal/pkg/response"
)

// ConnectionLogHandler serves the terminal audit trail.
type ConnectionLogHandler struct {
	service *service.ConnectionLogService
}

// NewConnectionLogHandler creates a new handler.
func NewConnectionLogHandler(svc *service.ConnectionLogService) *ConnectionLogHandler {
	return &ConnectionLogHandler{service: svc}
}

// List godoc
// @Summary List terminal connection logs
// @Tags Terminal
// @Produce json
// @Param application_id query int false "Request id"
// @Param user_id query int false "User id"
// @Param status query string false "active or closed"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /connection-logs [get]
func (h *ConnectionLogHandler) List(c *gin.Context) {
	filter := models.ConnectionLogFilter{
		Status: models.ConnectionLogStatus(c.Query("status")),
	}
	filter.ApplicationID, _ = strconv.ParseInt(c.Query("application_id"), 10, 64)
	filter.UserID, _ = strconv.ParseInt(c.Query("user_id"), 10, 64)
	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "50"))

	rows, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}
