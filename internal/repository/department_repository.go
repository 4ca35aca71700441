package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/itd-tools/erp-change-portal/internal/models"
)

// DepartmentRepository persists departments and their approval chains.
type DepartmentRepository struct {
	db *sqlx.DB
}

// NewDepartmentRepository constructs the repository.
func NewDepartmentRepository(db *sqlx.DB) *DepartmentRepository {
	return &DepartmentRepository{db: db}
}

// GetByName resolves a department by its unique name.
func (r *DepartmentRepository) GetByName(ctx context.Context, name string) (*models.Department, error) {
	const query = `SELECT id, name, active, created_at FROM departments WHERE name = $1`
	var dept models.Department
	if err := r.db.GetContext(ctx, &dept, query, name); err != nil {
		return nil, err
	}
	return &dept, nil
}

// GetByID fetches a department by id.
func (r *DepartmentRepository) GetByID(ctx context.Context, id int64) (*models.Department, error) {
	const query = `SELECT id, name, active, created_at FROM departments WHERE id = $1`
	var dept models.Department
	if err := r.db.GetContext(ctx, &dept, query, id); err != nil {
		return nil, err
	}
	return &dept, nil
}

// List returns all departments ordered by name.
func (r *DepartmentRepository) List(ctx context.Context) ([]models.Department, error) {
	var depts []models.Department
	if err := r.db.SelectContext(ctx, &depts,
		`SELECT id, name, active, created_at FROM departments ORDER BY name`); err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	return depts, nil
}

// ActiveApprovers returns the active seats of a department's chain in step
// order. Every workflow action re-reads this; the chain is never cached.
func (r *DepartmentRepository) ActiveApprovers(ctx context.Context, departmentID int64) ([]models.DepartmentApprover, error) {
	const query = `SELECT id, department_id, step_order, user_id, username, notify, active,
	       proxy_user_id, proxy_start_date, proxy_end_date
	FROM department_approvers
	WHERE department_id = $1 AND active = TRUE
	ORDER BY step_order, id`
	var approvers []models.DepartmentApprover
	if err := r.db.SelectContext(ctx, &approvers, query, departmentID); err != nil {
		return nil, fmt.Errorf("list approvers: %w", err)
	}
	return approvers, nil
}

// Approvers returns every seat of a department's chain, active or not.
func (r *DepartmentRepository) Approvers(ctx context.Context, departmentID int64) ([]models.DepartmentApprover, error) {
	const query = `SELECT id, department_id, step_order, user_id, username, notify, active,
	       proxy_user_id, proxy_start_date, proxy_end_date
	FROM department_approvers
	WHERE department_id = $1
	ORDER BY step_order, id`
	var approvers []models.DepartmentApprover
	if err := r.db.SelectContext(ctx, &approvers, query, departmentID); err != nil {
		return nil, fmt.Errorf("list approvers: %w", err)
	}
	return approvers, nil
}

// CreateApprover inserts a seat into a department's chain.
func (r *DepartmentRepository) CreateApprover(ctx context.Context, approver *models.DepartmentApprover) error {
	const query = `INSERT INTO department_approvers
	(department_id, step_order, user_id, username, notify, active, proxy_user_id, proxy_start_date, proxy_end_date)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	RETURNING id`
	row := r.db.QueryRowxContext(ctx, query,
		approver.DepartmentID, approver.StepOrder, approver.UserID, approver.Username,
		approver.Notify, approver.Active, approver.ProxyUserID, approver.ProxyStartDate, approver.ProxyEndDate,
	)
	if err := row.Scan(&approver.ID); err != nil {
		return fmt.Errorf("create approver: %w", err)
	}
	return nil
}

// UpdateApprover rewrites a seat, including its proxy window.
func (r *DepartmentRepository) UpdateApprover(ctx context.Context, approver *models.DepartmentApprover) error {
	const query = `UPDATE department_approvers
	SET step_order = $1, user_id = $2, username = $3, notify = $4, active = $5,
	    proxy_user_id = $6, proxy_start_date = $7, proxy_end_date = $8
	WHERE id = $9 AND department_id = $10`
	result, err := r.db.ExecContext(ctx, query,
		approver.StepOrder, approver.UserID, approver.Username, approver.Notify, approver.Active,
		approver.ProxyUserID, approver.ProxyStartDate, approver.ProxyEndDate,
		approver.ID, approver.DepartmentID,
	)
	if err != nil {
		return fmt.Errorf("update approver: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check approver update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteApprover removes a seat from a chain.
func (r *DepartmentRepository) DeleteApprover(ctx context.Context, departmentID, approverID int64) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM department_approvers WHERE id = $1 AND department_id = $2`, approverID, departmentID)
	if err != nil {
		return fmt.Errorf("delete approver: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check approver delete rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
