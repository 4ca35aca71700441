package handler

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/itd-tools/erp-change-portal/internal/dto"
	"github.com/itd-tools/erp-change-portal/internal/models"
	"github.com/itd-tools/erp-change-portal/internal/service"
	appErrors "github.com/itd-tools/erp-change-portal/pkg/errors"
	"github.com/itd-tools/erp-change-portal/pkg/response"
)

// RequestHandler serves the change-request lifecycle endpoints.
type RequestHandler struct {
	apps      *service.ApplicationService
	approval  *service.ApprovalService
	uploadDir string
}

// NewRequestHandler creates a new handler.
func NewRequestHandler(apps *service.ApplicationService, approval *service.ApprovalService, uploadDir string) *RequestHandler {
	return &RequestHandler{apps: apps, approval: approval, uploadDir: uploadDir}
}

// Create godoc
// @Summary Create change request
// @Description Create a new draft change request with an assigned form id
// @Tags Requests
// @Accept json
// @Produce json
// @Param payload body dto.CreateApplicationRequest true "Request payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /requests [post]
func (h *RequestHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.CreateApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid request payload"))
		return
	}

	res, err := h.apps.Create(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}

// List godoc
// @Summary Search change requests
// @Description List requests matching the given filters, newest first
// @Tags Requests
// @Produce json
// @Param form_id query string false "Form id substring"
// @Param status query string false "Workflow status"
// @Param program_type query string false "Program type"
// @Param applicant query string false "Applicant name substring"
// @Param department query string false "Department substring"
// @Param file_keyword query string false "Attachment keyword"
// @Param start_date query string false "Apply date lower bound (RFC3339)"
// @Param end_date query string false "Apply date upper bound (RFC3339)"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /requests [get]
func (h *RequestHandler) List(c *gin.Context) {
	filter := models.ApplicationFilter{
		FormID:      c.Query("form_id"),
		Status:      models.ApplicationStatus(c.Query("status")),
		Applicant:   c.Query("applicant"),
		Department:  c.Query("department"),
		ProgramType: models.ProgramType(c.Query("program_type")),
		FileKeyword: c.Query("file_keyword"),
	}
	if t, ok := parseTimeQuery(c, "start_date"); ok {
		filter.StartDate = t
	}
	if t, ok := parseTimeQuery(c, "end_date"); ok {
		filter.EndDate = t
	}
	fmt.Sscanf(c.DefaultQuery("page", "1"), "%d", &filter.Page)           //nolint:errcheck
	fmt.Sscanf(c.DefaultQuery("page_size", "50"), "%d", &filter.PageSize) //nolint:errcheck

	rows, err := h.apps.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}

// Get godoc
// @Summary Get request detail
// @Description Fetch the request with files, reviews, and the caller's can_approve flag
// @Tags Requests
// @Produce json
// @Param id path int true "Request id"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /requests/{id} [get]
func (h *RequestHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request id"))
		return
	}

	res, err := h.apps.Get(c.Request.Context(), id, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// Update godoc
// @Summary Update change request
// @Description Edit a request while it is in the edit window
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path int true "Request id"
// @Param payload body dto.UpdateApplicationRequest true "Request payload"
// @Success 204 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /requests/{id} [put]
func (h *RequestHandler) Update(c *gin.Context) {
	claims := claimsFromContext(c)
	id, ok := pathID(c, "id")
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request id"))
		return
	}

	var req dto.UpdateApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid request payload"))
		return
	}

	if err := h.apps.Update(c.Request.Context(), id, claims, req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Delete godoc
// @Summary Delete change request
// @Description Remove a draft request the caller owns
// @Tags Requests
// @Produce json
// @Param id path int true "Request id"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /requests/{id} [delete]
func (h *RequestHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	id, ok := pathID(c, "id")
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request id"))
		return
	}

	if err := h.apps.Delete(c.Request.Context(), id, claims); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Action godoc
// @Summary Apply workflow action
// @Description Submit, approve, reject, void, or release a request
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path int true "Request id"
// @Param payload body dto.StatusActionRequest true "Action payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /requests/{id}/actions [post]
func (h *RequestHandler) Action(c *gin.Context) {
	claims := claimsFromContext(c)
	id, ok := pathID(c, "id")
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request id"))
		return
	}

	var req dto.StatusActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid action payload"))
		return
	}

	status, err := h.approval.ProcessAction(c.Request.Context(), id, claims, service.Action(req.Action), req.Comment)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.ActionResultResponse{Status: status}, nil)
}

// UploadFile godoc
// @Summary Attach file
// @Description Upload an artifact to an editable request
// @Tags Requests
// @Accept multipart/form-data
// @Produce json
// @Param id path int true "Request id"
// @Param file formData file true "Artifact"
// @Param description formData string false "Description"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /requests/{id}/files [post]
func (h *RequestHandler) UploadFile(c *gin.Context) {
	claims := claimsFromContext(c)
	id, ok := pathID(c, "id")
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request id"))
		return
	}

	upload, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}

	stored := fmt.Sprintf("%d_%s%s", id, uuid.NewString(), filepath.Ext(upload.Filename))
	dir := filepath.Join(h.uploadDir, fmt.Sprintf("app%d", id))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to prepare upload directory"))
		return
	}
	dest := filepath.Join(dir, stored)
	if err := c.SaveUploadedFile(upload, dest); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store file"))
		return
	}

	file := &models.ApplicationFile{
		Filename:     stored,
		OriginalName: filepath.Base(upload.Filename),
		Description:  c.PostForm("description"),
	}
	if err := h.apps.AddFile(c.Request.Context(), id, claims, file); err != nil {
		os.Remove(dest) //nolint:errcheck
		response.Error(c, err)
		return
	}
	response.Created(c, file)
}

// UpdateFiles godoc
// @Summary Update file metadata
// @Description Reorder and retag the request's attachments
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path int true "Request id"
// @Param payload body dto.UpdateFilesRequest true "File metadata"
// @Success 204 {object} response.Envelope
// @Router /requests/{id}/files [put]
func (h *RequestHandler) UpdateFiles(c *gin.Context) {
	claims := claimsFromContext(c)
	id, ok := pathID(c, "id")
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request id"))
		return
	}

	var req dto.UpdateFilesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid file payload"))
		return
	}

	if err := h.apps.UpdateFiles(c.Request.Context(), id, claims, req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// DownloadFile godoc
// @Summary Download attachment
// @Tags Requests
// @Produce octet-stream
// @Param id path int true "Request id"
// @Param fileId path int true "File id"
// @Success 200 {file} binary
// @Failure 404 {object} response.Envelope
// @Router /requests/{id}/files/{fileId} [get]
func (h *RequestHandler) DownloadFile(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request id"))
		return
	}
	fileID, ok := pathID(c, "fileId")
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid file id"))
		return
	}

	file, err := h.apps.GetFile(c.Request.Context(), id, fileID)
	if err != nil {
		response.Error(c, err)
		return
	}
	path := filepath.Join(h.uploadDir, fmt.Sprintf("app%d", id), file.Filename)
	c.FileAttachment(path, file.OriginalName)
}

// DeleteFile godoc
// @Summary Delete attachment
// @Tags Requests
// @Produce json
// @Param id path int true "Request id"
// @Param fileId path int true "File id"
// @Success 204 {object} response.Envelope
// @Router /requests/{id}/files/{fileId} [delete]
func (h *RequestHandler) DeleteFile(c *gin.Context) {
	claims := claimsFromContext(c)
	id, ok := pathID(c, "id")
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request id"))
		return
	}
	fileID, ok := pathID(c, "fileId")
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid file id"))
		return
	}

	file, err := h.apps.GetFile(c.Request.Context(), id, fileID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.apps.DeleteFile(c.Request.Context(), id, fileID, claims); err != nil {
		response.Error(c, err)
		return
	}
	os.Remove(filepath.Join(h.uploadDir, fmt.Sprintf("app%d", id), file.Filename)) //nolint:errcheck
	response.NoContent(c)
}

// ListModules godoc
// @Summary List ERP modules
// @Tags Requests
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /modules [get]
func (h *RequestHandler) ListModules(c *gin.Context) {
	modules, err := h.apps.ListModules(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, modules, nil)
}

func parseTimeQuery(c *gin.Context, name string) (*time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, true
		}
	}
	return nil, false
}
