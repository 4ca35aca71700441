package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/itd-tools/erp-change-portal/internal/models"
)

// ConnectionLogRepository persists terminal session audit rows.
type ConnectionLogRepository struct {
	db *sqlx.DB
}

// NewConnectionLogRepository constructs the repository.
func NewConnectionLogRepository(db *sqlx.DB) *ConnectionLogRepository {
	return &ConnectionLogRepository{db: db}
}

// Open records a session start and returns the row id.
func (r *ConnectionLogRepository) Open(ctx context.Context, log *models.ConnectionLog) (int64, error) {
	const query = `INSERT INTO connection_logs
	(application_id, user_id, username, log_filename, status)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING id, start_time`
	row := r.db.QueryRowxContext(ctx, query,
		log.ApplicationID, log.UserID, log.Username, log.LogFilename, models.ConnectionActive)
	if err := row.Scan(&log.ID, &log.StartTime); err != nil {
		return 0, fmt.Errorf("open connection log: %w", err)
	}
	log.Status = models.ConnectionActive
	return log.ID, nil
}

// Close stamps a session end. Closing an already-closed row is a no-op.
func (r *ConnectionLogRepository) Close(ctx context.Context, id int64, endTime time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE connection_logs SET end_time = $1, status = $2 WHERE id = $3 AND status = $4`,
		endTime, models.ConnectionClosed, id, models.ConnectionActive)
	if err != nil {
		return fmt.Errorf("close connection log: %w", err)
	}
	return nil
}

// CloseOrphans closes rows left active by an unclean shutdown and returns how
// many were swept.
func (r *ConnectionLogRepository) CloseOrphans(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE connection_logs SET end_time = NOW(), status = $1 WHERE status = $2`,
		models.ConnectionClosed, models.ConnectionActive)
	if err != nil {
		return 0, fmt.Errorf("close orphan connection logs: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check orphan rows: %w", err)
	}
	return rows, nil
}

// List returns session audit rows matching the filter, newest first.
func (r *ConnectionLogRepository) List(ctx context.Context, filter models.ConnectionLogFilter) ([]models.ConnectionLog, error) {
	builder := strings.Builder{}
	builder.WriteString(`SELECT id, application_id, user_id, username, start_time, end_time, log_filename, status
	FROM connection_logs`)

	args := make([]interface{}, 0, 3)
	conditions := make([]string, 0, 3)
	if filter.ApplicationID > 0 {
		args = append(args, filter.ApplicationID)
		conditions = append(conditions, fmt.Sprintf("application_id = $%d", len(args)))
	}
	if filter.UserID > 0 {
		args = append(args, filter.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY start_time DESC")

	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", pageSize, (page-1)*pageSize))

	var logs []models.ConnectionLog
	if err := r.db.SelectContext(ctx, &logs, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list connection logs: %w", err)
	}
	return logs, nil
}
