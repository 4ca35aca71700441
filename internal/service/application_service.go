package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/itd-tools/erp-change-portal/internal/dto"
	"github.com/itd-tools/erp-change-portal/internal/models"
	appErrors "github.com/itd-tools/erp-change-portal/pkg/errors"
)

type applicationStore interface {
	CreateWithFormID(ctx context.Context, app *models.Application, moduleCode string) error
	GetDetail(ctx context.Context, id int64) (*models.ApplicationDetail, error)
	List(ctx context.Context, filter models.ApplicationFilter) ([]models.ApplicationDetail, error)
	UpdateDraft(ctx context.Context, app *models.Application) error
	Delete(ctx context.Context, id int64) error
}

type applicationFileStore interface {
	ListByApplication(ctx context.Context, applicationID int64) ([]models.ApplicationFile, error)
	GetByID(ctx context.Context, id int64) (*models.ApplicationFile, error)
	ExistsOriginalName(ctx context.Context, applicationID int64, originalName string) (bool, error)
	Create(ctx context.Context, file *models.ApplicationFile) error
	UpdateMeta(ctx context.Context, applicationID int64, meta models.FileMetaUpdate, backupAt *time.Time) error
	Delete(ctx context.Context, applicationID, fileID int64) error
}

type reviewStore interface {
	ListByApplication(ctx context.Context, applicationID int64) ([]models.ApplicationReview, error)
}

type moduleStore interface {
	GetByID(ctx context.Context, id int64) (*models.ERPModule, error)
	List(ctx context.Context) ([]models.ERPModule, error)
}

type approvalChecker interface {
	CanApprove(ctx context.Context, app *models.ApplicationDetail, actor *models.JWTClaims) bool
}

// ApplicationService owns the request lifecycle outside the state machine:
// draft creation with form-id assignment, edits within the edit window, file
// metadata, and read views.
type ApplicationService struct {
	apps     applicationStore
	files    applicationFileStore
	reviews  reviewStore
	modules  moduleStore
	approval approvalChecker
	logger   *zap.Logger
}

func NewApplicationService(apps applicationStore, files applicationFileStore, reviews reviewStore, modules moduleStore, approval approvalChecker, logger *zap.Logger) *ApplicationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApplicationService{
		apps:     apps,
		files:    files,
		reviews:  reviews,
		modules:  modules,
		approval: approval,
		logger:   logger,
	}
}

// Create inserts a new draft owned by the actor and assigns its form id.
func (s *ApplicationService) Create(ctx context.Context, actor *models.JWTClaims, req dto.CreateApplicationRequest) (*dto.CreatedApplicationResponse, error) {
	if !models.ValidProgramType(req.ProgramType) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown program type")
	}
	module, err := s.requireModule(ctx, req.ModuleID)
	if err != nil {
		return nil, err
	}

	app := &models.Application{
		ApplicantID:     actor.UserID,
		ModuleID:        req.ModuleID,
		ProgramType:     req.ProgramType,
		DBObjectType:    req.DBObjectType,
		Description:     req.Description,
		HasTested:       req.HasTested,
		AccessDBUser:    req.AccessDBUser,
		AccessStartTime: req.AccessStartTime,
		AccessEndTime:   req.AccessEndTime,
		Status:          models.StatusDraft,
		CurrentStep:     1,
	}
	if err := s.apps.CreateWithFormID(ctx, app, module.Code); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create request")
	}

	s.logger.Info("request created",
		zap.Int64("application_id", app.ID),
		zap.String("form_id", app.FormID),
		zap.Int64("applicant_id", actor.UserID))
	return &dto.CreatedApplicationResponse{ID: app.ID, FormID: app.FormID}, nil
}

// Update edits a request while it sits in the edit window (draft or rejected).
func (s *ApplicationService) Update(ctx context.Context, id int64, actor *models.JWTClaims, req dto.UpdateApplicationRequest) error {
	app, err := s.loadEditable(ctx, id, actor)
	if err != nil {
		return err
	}
	if !models.ValidProgramType(req.ProgramType) {
		return appErrors.Clone(appErrors.ErrValidation, "unknown program type")
	}
	if _, err := s.requireModule(ctx, req.ModuleID); err != nil {
		return err
	}

	updated := app.Application
	updated.ModuleID = req.ModuleID
	updated.ProgramType = req.ProgramType
	updated.DBObjectType = req.DBObjectType
	updated.Description = req.Description
	updated.HasTested = req.HasTested
	updated.AccessDBUser = req.AccessDBUser
	updated.AccessStartTime = req.AccessStartTime
	updated.AccessEndTime = req.AccessEndTime

	if err := s.apps.UpdateDraft(ctx, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update request")
	}
	return nil
}

// Get returns the full detail view with the caller-specific can_approve flag.
func (s *ApplicationService) Get(ctx context.Context, id int64, actor *models.JWTClaims) (*dto.ApplicationDetailResponse, error) {
	app, err := s.apps.GetDetail(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}

	files, err := s.files.ListByApplication(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load files")
	}
	reviews, err := s.reviews.ListByApplication(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reviews")
	}

	resp := &dto.ApplicationDetailResponse{
		ApplicationDetail: *app,
		Files:             files,
		Reviews:           reviews,
	}
	if s.approval != nil {
		resp.CanApprove = s.approval.CanApprove(ctx, app, actor)
	}
	return resp, nil
}

// List returns requests matching the filter, newest first.
func (s *ApplicationService) List(ctx context.Context, filter models.ApplicationFilter) ([]models.ApplicationDetail, error) {
	rows, err := s.apps.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list requests")
	}
	return rows, nil
}

// Delete removes a draft the actor owns. Unlike editing, deletion is not
// allowed from the rejected statuses: the review audit rows cascade away with
// the request, so anything that entered the workflow stays deletable only by
// an admin.
func (s *ApplicationService) Delete(ctx context.Context, id int64, actor *models.JWTClaims) error {
	app, err := s.apps.GetDetail(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if app.ApplicantID != actor.UserID && !actor.Role.IsAdmin() {
		return appErrors.Clone(appErrors.ErrForbidden, "request belongs to another user")
	}
	if app.Status != models.StatusDraft && !actor.Role.IsAdmin() {
		return appErrors.Clone(appErrors.ErrInvalidState, "only draft requests can be deleted")
	}
	if err := s.apps.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete request")
	}
	return nil
}

// AddFile records an uploaded artifact. Original names are unique per request.
func (s *ApplicationService) AddFile(ctx context.Context, id int64, actor *models.JWTClaims, file *models.ApplicationFile) error {
	if _, err := s.loadEditable(ctx, id, actor); err != nil {
		return err
	}
	exists, err := s.files.ExistsOriginalName(ctx, id, file.OriginalName)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check file name")
	}
	if exists {
		return appErrors.Clone(appErrors.ErrValidation, "a file with this name is already attached")
	}

	file.ApplicationID = id
	if file.FileVersion == "" {
		file.FileVersion = models.FileVersionNew
	}
	if err := s.files.Create(ctx, file); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record file")
	}
	return nil
}

// UpdateFiles applies metadata edits to the request's file list. A row whose
// backup flag flips on gets its backup timestamp stamped exactly once.
func (s *ApplicationService) UpdateFiles(ctx context.Context, id int64, actor *models.JWTClaims, req dto.UpdateFilesRequest) error {
	if _, err := s.loadEditable(ctx, id, actor); err != nil {
		return err
	}

	existing, err := s.files.ListByApplication(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load files")
	}
	byID := make(map[int64]models.ApplicationFile, len(existing))
	for _, f := range existing {
		byID[f.ID] = f
	}

	now := time.Now().UTC()
	for _, meta := range req.Files {
		current, ok := byID[meta.ID]
		if !ok {
			return appErrors.Clone(appErrors.ErrValidation, "file does not belong to this request")
		}
		var backupAt *time.Time
		if meta.IsBackup && !current.IsBackup {
			backupAt = &now
		}
		if err := s.files.UpdateMeta(ctx, id, meta, backupAt); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "file not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update file")
		}
	}
	return nil
}

// GetFile fetches one attachment the actor is allowed to see.
func (s *ApplicationService) GetFile(ctx context.Context, applicationID, fileID int64) (*models.ApplicationFile, error) {
	file, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "file not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load file")
	}
	if file.ApplicationID != applicationID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "file not found")
	}
	return file, nil
}

// DeleteFile detaches an artifact from an editable request.
func (s *ApplicationService) DeleteFile(ctx context.Context, applicationID, fileID int64, actor *models.JWTClaims) error {
	if _, err := s.loadEditable(ctx, applicationID, actor); err != nil {
		return err
	}
	if err := s.files.Delete(ctx, applicationID, fileID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "file not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete file")
	}
	return nil
}

// ListModules exposes the active ERP module catalogue.
func (s *ApplicationService) ListModules(ctx context.Context) ([]models.ERPModule, error) {
	modules, err := s.modules.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list modules")
	}
	return modules, nil
}

// loadEditable loads the request and enforces ownership plus the edit window.
func (s *ApplicationService) loadEditable(ctx context.Context, id int64, actor *models.JWTClaims) (*models.ApplicationDetail, error) {
	app, err := s.apps.GetDetail(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if app.ApplicantID != actor.UserID && !actor.Role.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "request belongs to another user")
	}
	if !app.Status.Editable() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "request is no longer editable")
	}
	return app, nil
}

func (s *ApplicationService) requireModule(ctx context.Context, moduleID *int64) (*models.ERPModule, error) {
	if moduleID == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "module is required")
	}
	module, err := s.modules.GetByID(ctx, *moduleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unknown module")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load module")
	}
	if !module.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "module is inactive")
	}
	return module, nil
}
