package service

import (
	"context"

	"github.com/itd-tools/erp-change-portal/internal/models"
	appErrors "github.com/itd-tools/erp-change-portal/pkg/errors"
)

type connectionLogStore interface {
	List(ctx context.Context, filter models.ConnectionLogFilter) ([]models.ConnectionLog, error)
}

// ConnectionLogService exposes the terminal audit trail to the API.
type ConnectionLogService struct {
	logs connectionLogStore
}

func NewConnectionLogService(logs connectionLogStore) *ConnectionLogService {
	return &ConnectionLogService{logs: logs}
}

// List returns connection-log rows matching the filter, newest first.
func (s *ConnectionLogService) List(ctx context.Context, filter models.ConnectionLogFilter) ([]models.ConnectionLog, error) {
	rows, err := s.logs.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list connection logs")
	}
	return rows, nil
}
