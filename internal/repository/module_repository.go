package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/itd-tools/erp-change-portal/internal/models"
)

// ModuleRepository persists the ERP module registry.
type ModuleRepository struct {
	db *sqlx.DB
}

// NewModuleRepository constructs the repository.
func NewModuleRepository(db *sqlx.DB) *ModuleRepository {
	return &ModuleRepository{db: db}
}

// GetByID fetches a module by id.
func (r *ModuleRepository) GetByID(ctx context.Context, id int64) (*models.ERPModule, error) {
	var module models.ERPModule
	if err := r.db.GetContext(ctx, &module,
		`SELECT id, code, name, active, created_at FROM erp_modules WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &module, nil
}

// List returns all active modules ordered by code.
func (r *ModuleRepository) List(ctx context.Context) ([]models.ERPModule, error) {
	var modules []models.ERPModule
	if err := r.db.SelectContext(ctx, &modules,
		`SELECT id, code, name, active, created_at FROM erp_modules WHERE active = TRUE ORDER BY code`); err != nil {
		return nil, fmt.Errorf("list modules: %w", err)
	}
	return modules, nil
}
