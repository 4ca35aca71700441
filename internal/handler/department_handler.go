package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/itd-tools/erp-change-portal/internal/models"
	"github.com/itd-tools/erp-change-portal/internal/service"
	appErrors "github.com/itd-tools/erp-change-portal/pkg/errors"
	"github.com/itd-tools/erp-change-portal/pkg/response"
)

// DepartmentHandler administers departments and approval chains.
type DepartmentHandler struct {
	service *service.DepartmentService
}

// NewDepartmentHandler creates a new handler.
func NewDepartmentHandler(svc *service.DepartmentService) *DepartmentHandler {
	return &DepartmentHandler{service: svc}
}

// List godoc
// @Summary List departments
// @Tags Departments
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /departments [get]
func (h *DepartmentHandler) List(c *gin.Context) {
	depts, err := h.service.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, depts, nil)
}

// Approvers godoc
// @Summary List approval chain
// @Tags Departments
// @Produce json
// @Param id path int true "Department id"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /departments/{id}/approvers [get]
func (h *DepartmentHandler) Approvers(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid department id"))
		return
	}

	approvers, err := h.service.Approvers(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, approvers, nil)
}

// CreateApprover godoc
// @Summary Add approver seat
// @Tags Departments
// @Accept json
// @Produce json
// @Param id path int true "Department id"
// @Param payload body models.DepartmentApprover true "Seat"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /departments/{id}/approvers [post]
func (h *DepartmentHandler) CreateApprover(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid department id"))
		return
	}

	var approver models.DepartmentApprover
	if err := c.ShouldBindJSON(&approver); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid approver payload"))
		return
	}

	if err := h.service.CreateApprover(c.Request.Context(), id, &approver); err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, approver)
}

// UpdateApprover godoc
// @Summary Update approver seat
// @Tags Departments
// @Accept json
// @Produce json
// @Param id path int true "Department id"
// @Param approverId path int true "Approver id"
// @Param payload body models.DepartmentApprover true "Seat"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /departments/{id}/approvers/{approverId} [put]
func (h *DepartmentHandler) UpdateApprover(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid department id"))
		return
	}
	approverID, ok := pathID(c, "approverId")
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid approver id"))
		return
	}

	var approver models.DepartmentApprover
	if err := c.ShouldBindJSON(&approver); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid approver payload"))
		return
	}

	if err := h.service.UpdateApprover(c.Request.Context(), id, approverID, &approver); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// DeleteApprover godoc
// @Summary Remove approver seat
// @Tags Departments
// @Produce json
// @Param id path int true "Department id"
// @Param approverId path int true "Approver id"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /departments/{id}/approvers/{approverId} [delete]
func (h *DepartmentHandler) DeleteApprover(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid department id"))
		return
	}
	approverID, ok := pathID(c, "approverId")
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid approver id"))
		return
	}

	if err := h.service.DeleteApprover(c.Request.Context(), id, approverID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
