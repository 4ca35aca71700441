package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/itd-tools/erp-change-portal/internal/models"
	appErrors "github.com/itd-tools/erp-change-portal/pkg/errors"
)

type departmentStore interface {
	GetByID(ctx context.Context, id int64) (*models.Department, error)
	List(ctx context.Context) ([]models.Department, error)
	Approvers(ctx context.Context, departmentID int64) ([]models.DepartmentApprover, error)
	CreateApprover(ctx context.Context, approver *models.DepartmentApprover) error
	UpdateApprover(ctx context.Context, approver *models.DepartmentApprover) error
	DeleteApprover(ctx context.Context, departmentID, approverID int64) error
}

type departmentUserStore interface {
	FindByID(ctx context.Context, id int64) (*models.User, error)
}

// DepartmentService administers departments and their approval chains.
type DepartmentService struct {
	depts  departmentStore
	users  departmentUserStore
	logger *zap.Logger
}

func NewDepartmentService(depts departmentStore, users departmentUserStore, logger *zap.Logger) *DepartmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DepartmentService{depts: depts, users: users, logger: logger}
}

// List returns all departments.
func (s *DepartmentService) List(ctx context.Context) ([]models.Department, error) {
	depts, err := s.depts.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list departments")
	}
	return depts, nil
}

// Approvers returns the full chain of one department, inactive seats included.
func (s *DepartmentService) Approvers(ctx context.Context, departmentID int64) ([]models.DepartmentApprover, error) {
	if _, err := s.requireDepartment(ctx, departmentID); err != nil {
		return nil, err
	}
	approvers, err := s.depts.Approvers(ctx, departmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list approvers")
	}
	return approvers, nil
}

// CreateApprover adds a seat to a department's chain.
func (s *DepartmentService) CreateApprover(ctx context.Context, departmentID int64, approver *models.DepartmentApprover) error {
	if _, err := s.requireDepartment(ctx, departmentID); err != nil {
		return err
	}
	if err := s.validateSeat(ctx, approver); err != nil {
		return err
	}
	approver.DepartmentID = departmentID
	if err := s.depts.CreateApprover(ctx, approver); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create approver")
	}
	return nil
}

// UpdateApprover edits an existing seat, including its proxy window.
func (s *DepartmentService) UpdateApprover(ctx context.Context, departmentID, approverID int64, approver *models.DepartmentApprover) error {
	if _, err := s.requireDepartment(ctx, departmentID); err != nil {
		return err
	}
	if err := s.validateSeat(ctx, approver); err != nil {
		return err
	}
	approver.ID = approverID
	approver.DepartmentID = departmentID
	if err := s.depts.UpdateApprover(ctx, approver); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "approver not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update approver")
	}
	return nil
}

// DeleteApprover removes a seat from the chain.
func (s *DepartmentService) DeleteApprover(ctx context.Context, departmentID, approverID int64) error {
	if err := s.depts.DeleteApprover(ctx, departmentID, approverID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "approver not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete approver")
	}
	return nil
}

func (s *DepartmentService) requireDepartment(ctx context.Context, id int64) (*models.Department, error) {
	dept, err := s.depts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "department not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load department")
	}
	return dept, nil
}

func (s *DepartmentService) validateSeat(ctx context.Context, approver *models.DepartmentApprover) error {
	if approver.StepOrder < 1 {
		return appErrors.Clone(appErrors.ErrValidation, "step order must be at least 1")
	}
	user, err := s.users.FindByID(ctx, approver.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrValidation, "approver user does not exist")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approver user")
	}
	approver.Username = user.Username

	if approver.ProxyStartDate != nil && approver.ProxyEndDate != nil &&
		approver.ProxyEndDate.Before(*approver.ProxyStartDate) {
		return appErrors.Clone(appErrors.ErrValidation, "proxy window ends before it starts")
	}
	if approver.ProxyUserID != nil {
		if _, err := s.users.FindByID(ctx, *approver.ProxyUserID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrValidation, "proxy user does not exist")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load proxy user")
		}
	}
	return nil
}
