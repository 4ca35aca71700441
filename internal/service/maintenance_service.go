package service

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/itd-tools/erp-change-portal/pkg/config"
)

type orphanCloser interface {
	CloseOrphans(ctx context.Context) (int64, error)
}

// MaintenanceService runs periodic housekeeping: closing connection-log rows
// orphaned by an unclean shutdown and pruning transcripts past retention.
type MaintenanceService struct {
	cfg           config.MaintenanceConfig
	transcriptDir string
	logs          orphanCloser
	logger        *zap.Logger
}

func NewMaintenanceService(cfg config.MaintenanceConfig, transcriptDir string, logs orphanCloser, logger *zap.Logger) *MaintenanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MaintenanceService{cfg: cfg, transcriptDir: transcriptDir, logs: logs, logger: logger}
}

// Start reconciles orphaned logs once, then loops until ctx is cancelled.
func (s *MaintenanceService) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		return
	}

	if n, err := s.logs.CloseOrphans(ctx); err != nil {
		s.logger.Warn("failed to close orphaned connection logs", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("closed orphaned connection logs", zap.Int64("count", n))
	}

	go func() {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.pruneTranscripts()
			}
		}
	}()
}

// pruneTranscripts deletes transcript files older than the retention window.
func (s *MaintenanceService) pruneTranscripts() {
	if s.transcriptDir == "" || s.cfg.TranscriptRetention <= 0 {
		return
	}
	cutoff := time.Now().Add(-s.cfg.TranscriptRetention)

	entries, err := os.ReadDir(s.transcriptDir)
	if err != nil {
		s.logger.Warn("failed to read transcript directory", zap.Error(err))
		return
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.transcriptDir, entry.Name())
		if err := os.Remove(path); err != nil {
			s.logger.Warn("failed to remove transcript", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("pruned expired transcripts", zap.Int("count", removed))
	}
}
