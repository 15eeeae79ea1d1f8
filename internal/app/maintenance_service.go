package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tempod/internal/config"
	"github.com/dokzlo13/tempod/internal/ledger"
)

// MaintenanceService prunes the ledger on an interval.
type MaintenanceService struct {
	cfg    *config.Config
	ledger *ledger.Ledger
}

// NewMaintenanceService creates a new MaintenanceService.
func NewMaintenanceService(cfg *config.Config, l *ledger.Ledger) *MaintenanceService {
	return &MaintenanceService{cfg: cfg, ledger: l}
}

// Start begins the cleanup loop when the ledger is enabled.
func (s *MaintenanceService) Start(ctx context.Context) {
	if s.ledger == nil {
		return
	}
	go s.runLedgerCleanup(ctx)
}

// runLedgerCleanup periodically cleans up old ledger entries.
func (s *MaintenanceService) runLedgerCleanup(ctx context.Context) {
	interval := s.cfg.Ledger.CleanupInterval.Duration()

	s.cleanup()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *MaintenanceService) cleanup() {
	retention := s.cfg.Ledger.Retention.Duration()
	deleted, err := s.ledger.DeleteOlderThan(retention)
	if err != nil {
		log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
	} else if deleted > 0 {
		log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
	}
}
