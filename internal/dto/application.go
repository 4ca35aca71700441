package dto

import (
	"time"

	"github.com/itd-tools/erp-change-portal/internal/models"
)

// CreateApplicationRequest creates a new draft request.
type CreateApplicationRequest struct {
	ModuleID        *int64             `json:"module_id"`
	ProgramType     models.ProgramType `json:"program_type" binding:"required"`
	DBObjectType    *string            `json:"db_object_type"`
	Description     string             `json:"description"`
	HasTested       bool               `json:"has_tested"`
	AccessDBUser    *string            `json:"access_db_user"`
	AccessStartTime *time.Time         `json:"access_start_time"`
	AccessEndTime   *time.Time         `json:"access_end_time"`
}

// UpdateApplicationRequest edits a draft or rejected request.
type UpdateApplicationRequest struct {
	ModuleID        *int64             `json:"module_id"`
	ProgramType     models.ProgramType `json:"program_type" binding:"required"`
	DBObjectType    *string            `json:"db_object_type"`
	Description     string             `json:"description"`
	HasTested       bool               `json:"has_tested"`
	AccessDBUser    *string            `json:"access_db_user"`
	AccessStartTime *time.Time         `json:"access_start_time"`
	AccessEndTime   *time.Time         `json:"access_end_time"`
}

// StatusActionRequest drives the approval workflow.
type StatusActionRequest struct {
	Action  string `json:"action" binding:"required,oneof=submit approve reject void online"`
	Comment string `json:"comment"`
}

// UpdateFilesRequest reorders and retags the request's file list.
type UpdateFilesRequest struct {
	Files []models.FileMetaUpdate `json:"files" binding:"required"`
}

// CreatedApplicationResponse is returned after draft creation.
type CreatedApplicationResponse struct {
	ID     int64  `json:"id"`
	FormID string `json:"form_id"`
}

// ApplicationDetailResponse bundles the request with its children and the
// caller-specific can_approve flag.
type ApplicationDetailResponse struct {
	models.ApplicationDetail
	Files      []models.ApplicationFile   `json:"files"`
	Reviews    []models.ApplicationReview `json:"reviews"`
	CanApprove bool                       `json:"can_approve"`
}

// ActionResultResponse reports the status reached by a workflow action.
type ActionResultResponse struct {
	Status models.ApplicationStatus `json:"status"`
}
