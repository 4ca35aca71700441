package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/itd-tools/erp-change-portal/internal/models"
)

// ApplicationFileRepository persists uploaded artifacts.
type ApplicationFileRepository struct {
	db *sqlx.DB
}

// NewApplicationFileRepository constructs the repository.
func NewApplicationFileRepository(db *sqlx.DB) *ApplicationFileRepository {
	return &ApplicationFileRepository{db: db}
}

// ListByApplication returns a request's files in display order.
func (r *ApplicationFileRepository) ListByApplication(ctx context.Context, applicationID int64) ([]models.ApplicationFile, error) {
	const query = `SELECT id, application_id, filename, original_name, description, db_object_type,
	       db_object_name, db_schema_name, file_version, sequence, is_backup, backup_at,
	       deploy_status, deployed_at, compile_status, compiled_at, uploaded_at
	FROM application_files
	WHERE application_id = $1
	ORDER BY sequence ASC, uploaded_at ASC`
	var files []models.ApplicationFile
	if err := r.db.SelectContext(ctx, &files, query, applicationID); err != nil {
		return nil, fmt.Errorf("list application files: %w", err)
	}
	return files, nil
}

// GetByID fetches one file row.
func (r *ApplicationFileRepository) GetByID(ctx context.Context, id int64) (*models.ApplicationFile, error) {
	const query = `SELECT id, application_id, filename, original_name, description, db_object_type,
	       db_object_name, db_schema_name, file_version, sequence, is_backup, backup_at,
	       deploy_status, deployed_at, compile_status, compiled_at, uploaded_at
	FROM application_files WHERE id = $1`
	var file models.ApplicationFile
	if err := r.db.GetContext(ctx, &file, query, id); err != nil {
		return nil, err
	}
	return &file, nil
}

// ExistsOriginalName reports whether the request already carries a file with
// this original name. Uploads are rejected on duplicates.
func (r *ApplicationFileRepository) ExistsOriginalName(ctx context.Context, applicationID int64, originalName string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM application_files WHERE application_id = $1 AND original_name = $2)`,
		applicationID, originalName)
	if err != nil {
		return false, fmt.Errorf("check original name: %w", err)
	}
	return exists, nil
}

// Create inserts a file row.
func (r *ApplicationFileRepository) Create(ctx context.Context, file *models.ApplicationFile) error {
	const query = `INSERT INTO application_files
	(application_id, filename, original_name, description, db_object_type, db_object_name,
	 db_schema_name, file_version, sequence, is_backup)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	RETURNING id, uploaded_at`
	row := r.db.QueryRowxContext(ctx, query,
		file.ApplicationID, file.Filename, file.OriginalName, file.Description,
		file.DBObjectType, file.DBObjectName, file.DBSchemaName,
		file.FileVersion, file.Sequence, file.IsBackup,
	)
	if err := row.Scan(&file.ID, &file.UploadedAt); err != nil {
		return fmt.Errorf("insert application file: %w", err)
	}
	return nil
}

// UpdateMeta rewrites the mutable metadata of one file row. backupAt is the
// resolved backup timestamp (set on the false→true flip, cleared on untag).
func (r *ApplicationFileRepository) UpdateMeta(ctx context.Context, applicationID int64, meta models.FileMetaUpdate, backupAt *time.Time) error {
	const query = `UPDATE application_files
	SET sequence = $1, description = $2, file_version = $3, db_object_type = $4,
	    db_object_name = $5, db_schema_name = $6, is_backup = $7, backup_at = $8
	WHERE id = $9 AND application_id = $10`
	result, err := r.db.ExecContext(ctx, query,
		meta.Sequence, meta.Description, meta.FileVersion, meta.DBObjectType,
		meta.DBObjectName, meta.DBSchemaName, meta.IsBackup, backupAt,
		meta.ID, applicationID,
	)
	if err != nil {
		return fmt.Errorf("update file meta: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check file meta rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes one file row.
func (r *ApplicationFileRepository) Delete(ctx context.Context, applicationID, fileID int64) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM application_files WHERE id = $1 AND application_id = $2`, fileID, applicationID)
	if err != nil {
		return fmt.Errorf("delete application file: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check file delete rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
