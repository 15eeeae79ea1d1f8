package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tempod/internal/config"
	"github.com/dokzlo13/tempod/internal/db"
	"github.com/dokzlo13/tempod/internal/history"
	"github.com/dokzlo13/tempod/internal/ledger"
	"github.com/dokzlo13/tempod/internal/metrics"
	"github.com/dokzlo13/tempod/internal/mqtt"
	"github.com/dokzlo13/tempod/internal/ota"
	"github.com/dokzlo13/tempod/internal/panel"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg     *config.Config
	version string

	// Core infrastructure
	DB       *db.DB
	Ledger   *ledger.Ledger
	History  *history.Store
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	// Optional outputs
	Publisher *mqtt.Publisher
	Hooks     *HookService

	// High-level services
	Panel       *PanelService
	Update      *UpdateService
	Maintenance *MaintenanceService
	Status      *StatusService
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config, version, userAgent string) (*Services, error) {
	s := &Services{cfg: cfg, version: version}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database
	s.History = history.NewStore(database.DB)

	if cfg.Ledger.IsEnabled() {
		s.Ledger = ledger.New(database.DB)
	}

	// Metrics registry, served on /metrics
	s.Registry = prometheus.NewRegistry()
	s.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.Metrics = metrics.New(s.Registry)

	// Optional interfaces are only set when backed by a value
	extras := panel.Options{
		History: s.History,
		Metrics: s.Metrics,
	}
	if s.Ledger != nil {
		extras.Ledger = s.Ledger
	}

	if cfg.MQTT.Enabled {
		s.Publisher, err = mqtt.New(cfg.MQTT)
		if err != nil {
			s.Close()
			return nil, err
		}
		extras.Publisher = s.Publisher
		log.Info().Str("broker", cfg.MQTT.Broker).Str("topic", s.Publisher.StateTopic()).Msg("MQTT publishing enabled")
	}

	if s.Hooks = NewHookService(cfg); s.Hooks != nil {
		if err := s.Hooks.LoadScript(); err != nil {
			s.Close()
			return nil, err
		}
		extras.Hook = s.Hooks.Runtime
	}

	s.Panel, err = NewPanelService(cfg, userAgent, extras)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to set up panel: %w", err)
	}

	if cfg.Update.Enabled {
		s.Update = NewUpdateService(ota.New(cfg.Update, version, userAgent), s.Ledger, version)
	}

	s.Maintenance = NewMaintenanceService(cfg, s.Ledger)

	s.Status = NewStatusService(cfg, version, s.Panel.Panel, s.Panel.Frames, s.History, s.Registry, func() bool {
		return s.Panel.Panel.Snapshot().Refreshed
	})

	return s, nil
}

// Start starts all services in the correct order.
// onUpdated is called after a new binary was installed.
func (s *Services) Start(ctx context.Context, onUpdated func()) {
	s.Status.Start(ctx)
	s.Maintenance.Start(ctx)
	s.Panel.Start(ctx)

	if s.Update != nil {
		go func() {
			if s.Update.Run(ctx) && onUpdated != nil {
				onUpdated()
			}
		}()
	}
}

// Stop waits for the control loop and the status server, then releases
// all resources.
func (s *Services) Stop() error {
	if s.Panel != nil {
		s.Panel.Wait()
	}
	if s.Status != nil {
		s.Status.Wait()
	}
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Panel != nil {
		s.Panel.Close()
	}
	if s.Publisher != nil {
		s.Publisher.Close()
	}
	if s.Hooks != nil {
		s.Hooks.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
