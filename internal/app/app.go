package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tempod/internal/config"
	"github.com/dokzlo13/tempod/internal/tempo"
)

// App is the main application container that manages all services and their lifecycle.
type App struct {
	cfg      *config.Config
	services *Services
	ctx      context.Context
	cancel   context.CancelFunc
	updated  bool
}

// New creates a new App instance with all services initialized but not started.
func New(cfg *config.Config, version, userAgent string) (*App, error) {
	services, err := NewServices(cfg, version, userAgent)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:      cfg,
		services: services,
	}, nil
}

// Start initializes and starts all services.
// The provided context is used for cancellation.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	// A replaced binary only takes effect after a restart
	onUpdated := func() {
		log.Warn().Msg("Update installed, shutting down so the new version can start")
		a.updated = true
		a.cancel()
	}

	a.services.Start(a.ctx, onUpdated)

	log.Info().Msg("tempod started")
	return nil
}

// RefreshOnce draws a single frame and returns what was shown.
// It does not start the loop, the status server or the update check.
func (a *App) RefreshOnce(ctx context.Context) tempo.Reading {
	return a.services.Panel.RefreshOnce(ctx)
}

// Stop gracefully shuts down all services.
func (a *App) Stop() error {
	log.Info().Msg("Shutting down...")

	if a.cancel != nil {
		a.cancel()
	}

	if a.services != nil {
		return a.services.Stop()
	}

	return nil
}

// Wait blocks until the application context is cancelled.
func (a *App) Wait() {
	if a.ctx != nil {
		<-a.ctx.Done()
	}
}

// Updated reports whether a new binary was installed during this run
func (a *App) Updated() bool {
	return a.updated
}

// SignalContext creates a context that is cancelled when SIGINT or SIGTERM is received.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
