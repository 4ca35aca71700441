package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/itd-tools/erp-change-portal/internal/models"
)

const applicationDetailColumns = `a.id, a.form_id, a.applicant_id, a.apply_date, a.module_id, a.program_type,
       a.db_object_type, a.description, a.status, a.current_step, a.dba_comment, a.has_tested,
       a.access_db_user, a.access_start_time, a.access_end_time, a.created_at, a.updated_at,
       COALESCE(u.name, '') AS applicant_name, COALESCE(u.department, '') AS applicant_department,
       m.code AS module_code, m.name AS module_name`

// ApplicationRepository persists change requests.
type ApplicationRepository struct {
	db *sqlx.DB
}

// NewApplicationRepository constructs the repository.
func NewApplicationRepository(db *sqlx.DB) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

// CreateWithFormID inserts a new draft and assigns its form id inside one
// transaction. Submissions for the same module are serialized through an
// advisory lock keyed by the module code, so concurrent creates can never
// read the same predecessor and mint duplicate ids.
func (r *ApplicationRepository) CreateWithFormID(ctx context.Context, app *models.Application, moduleCode string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create application: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "form_id:"+moduleCode); err != nil {
		return fmt.Errorf("acquire form id lock: %w", err)
	}

	now := time.Now()
	var last sql.NullString
	err = tx.GetContext(ctx, &last,
		`SELECT form_id FROM applications WHERE form_id LIKE $1 ORDER BY form_id DESC LIMIT 1`,
		fmt.Sprintf("%s%d%%", moduleCode, now.Year()),
	)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("read last form id: %w", err)
	}

	app.FormID = BuildFormID(moduleCode, now, NextSequence(last.String))
	if app.Status == "" {
		app.Status = models.StatusDraft
	}
	if app.CurrentStep == 0 {
		app.CurrentStep = 1
	}
	if app.ApplyDate.IsZero() {
		app.ApplyDate = now.UTC()
	}

	const query = `INSERT INTO applications
	(form_id, applicant_id, apply_date, module_id, program_type, db_object_type, description,
	 status, current_step, has_tested, access_db_user, access_start_time, access_end_time)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	RETURNING id, created_at, updated_at`
	row := tx.QueryRowxContext(ctx, query,
		app.FormID, app.ApplicantID, app.ApplyDate, app.ModuleID, app.ProgramType, app.DBObjectType,
		app.Description, app.Status, app.CurrentStep, app.HasTested,
		app.AccessDBUser, app.AccessStartTime, app.AccessEndTime,
	)
	if err := row.Scan(&app.ID, &app.CreatedAt, &app.UpdatedAt); err != nil {
		return fmt.Errorf("insert application: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create application: %w", err)
	}
	return nil
}

// GetDetail fetches a request joined with its applicant and module in one
// consistent read.
func (r *ApplicationRepository) GetDetail(ctx context.Context, id int64) (*models.ApplicationDetail, error) {
	query := `SELECT ` + applicationDetailColumns + `
	FROM applications a
	LEFT JOIN users u ON a.applicant_id = u.id
	LEFT JOIN erp_modules m ON a.module_id = m.id
	WHERE a.id = $1`
	var detail models.ApplicationDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// List returns requests matching the search filter, newest first.
func (r *ApplicationRepository) List(ctx context.Context, filter models.ApplicationFilter) ([]models.ApplicationDetail, error) {
	builder := strings.Builder{}
	builder.WriteString(`SELECT ` + applicationDetailColumns + `
	FROM applications a
	LEFT JOIN users u ON a.applicant_id = u.id
	LEFT JOIN erp_modules m ON a.module_id = m.id`)

	args := make([]interface{}, 0, 8)
	conditions := make([]string, 0, 8)
	if filter.FormID != "" {
		args = append(args, "%"+filter.FormID+"%")
		conditions = append(conditions, fmt.Sprintf("a.form_id LIKE $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("a.status = $%d", len(args)))
	}
	if filter.StartDate != nil {
		args = append(args, *filter.StartDate)
		conditions = append(conditions, fmt.Sprintf("a.apply_date >= $%d", len(args)))
	}
	if filter.EndDate != nil {
		args = append(args, *filter.EndDate)
		conditions = append(conditions, fmt.Sprintf("a.apply_date <= $%d", len(args)))
	}
	if filter.Applicant != "" {
		args = append(args, "%"+filter.Applicant+"%")
		conditions = append(conditions, fmt.Sprintf("u.name LIKE $%d", len(args)))
	}
	if filter.Department != "" {
		args = append(args, "%"+filter.Department+"%")
		conditions = append(conditions, fmt.Sprintf("u.department LIKE $%d", len(args)))
	}
	if filter.ProgramType != "" {
		args = append(args, filter.ProgramType)
		conditions = append(conditions, fmt.Sprintf("a.program_type = $%d", len(args)))
	}
	if filter.FileKeyword != "" {
		args = append(args, "%"+filter.FileKeyword+"%")
		n := len(args)
		conditions = append(conditions, fmt.Sprintf(`EXISTS (
			SELECT 1 FROM application_files f
			WHERE f.application_id = a.id
			AND (f.filename LIKE $%d OR f.original_name LIKE $%d OR f.description LIKE $%d))`, n, n, n))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY a.created_at DESC")

	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", pageSize, (page-1)*pageSize))

	var rows []models.ApplicationDetail
	if err := r.db.SelectContext(ctx, &rows, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	return rows, nil
}

// UpdateDraft edits the mutable columns of an editable request.
func (r *ApplicationRepository) UpdateDraft(ctx context.Context, app *models.Application) error {
	const query = `UPDATE applications
	SET module_id = $1, program_type = $2, db_object_type = $3, description = $4, has_tested = $5,
	    access_db_user = $6, access_start_time = $7, access_end_time = $8, updated_at = NOW()
	WHERE id = $9`
	result, err := r.db.ExecContext(ctx, query,
		app.ModuleID, app.ProgramType, app.DBObjectType, app.Description, app.HasTested,
		app.AccessDBUser, app.AccessStartTime, app.AccessEndTime, app.ID,
	)
	if err != nil {
		return fmt.Errorf("update application: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check application update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// TransitionParams groups one compare-and-swap state change with its audit
// row. FromStatus/FromStep are the values the caller read; if another writer
// got there first the update matches nothing and ErrNoRows is returned.
type TransitionParams struct {
	ID         int64
	FromStatus models.ApplicationStatus
	FromStep   int
	ToStatus   models.ApplicationStatus
	ToStep     int
	DBAComment *string
	Review     *models.ApplicationReview
}

// ApplyTransition writes the new state and the audit row atomically. The
// review insert shares the transaction so audit rows land in action order.
func (r *ApplicationRepository) ApplyTransition(ctx context.Context, params TransitionParams) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const update = `UPDATE applications
	SET status = $1, current_step = $2, dba_comment = COALESCE($3, dba_comment), updated_at = NOW()
	WHERE id = $4 AND status = $5 AND current_step = $6`
	result, err := tx.ExecContext(ctx, update,
		params.ToStatus, params.ToStep, params.DBAComment,
		params.ID, params.FromStatus, params.FromStep,
	)
	if err != nil {
		return fmt.Errorf("apply transition: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check transition rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	if params.Review != nil {
		const insert = `INSERT INTO application_reviews
		(application_id, reviewer_id, reviewer_name, action, comment, reviewed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
		reviewedAt := params.Review.ReviewedAt
		if reviewedAt.IsZero() {
			reviewedAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx, insert,
			params.ID, params.Review.ReviewerID, params.Review.ReviewerName,
			params.Review.Action, params.Review.Comment, reviewedAt,
		); err != nil {
			return fmt.Errorf("insert review: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}
	return nil
}

// Delete removes a request; file children cascade at the database level.
func (r *ApplicationRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM applications WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete application: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check delete rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// BuildFormID renders <ModuleCode><YYYYMMDD><4-digit-seq>.
func BuildFormID(moduleCode string, day time.Time, seq int) string {
	return fmt.Sprintf("%s%s%04d", moduleCode, day.Format("20060102"), seq)
}

// NextSequence derives the next sequence number from the most recent form id
// sharing the module/year prefix. An empty or malformed predecessor restarts
// the sequence at 1.
func NextSequence(lastFormID string) int {
	if len(lastFormID) < 4 {
		return 1
	}
	seq, err := strconv.Atoi(lastFormID[len(lastFormID)-4:])
	if err != nil || seq < 1 {
		return 1
	}
	return seq + 1
}
