package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tempod/internal/backlight"
	"github.com/dokzlo13/tempod/internal/clock"
	"github.com/dokzlo13/tempod/internal/config"
	"github.com/dokzlo13/tempod/internal/dimmer"
	"github.com/dokzlo13/tempod/internal/display"
	"github.com/dokzlo13/tempod/internal/netinfo"
	"github.com/dokzlo13/tempod/internal/panel"
	"github.com/dokzlo13/tempod/internal/render"
	"github.com/dokzlo13/tempod/internal/tempo"
)

// PanelService owns the display hardware, the clock and the control loop.
type PanelService struct {
	cfg       *config.Config
	Clock     *clock.Clock
	Backlight *backlight.Backlight
	Dimmer    *dimmer.Controller
	Frames    *display.Latest
	Panel     *panel.Panel
	client    *tempo.Client
	wg        sync.WaitGroup
}

// NewPanelService creates the loop. extras carries the optional sinks
// (history, ledger, metrics, publisher, hook); everything else is built here.
func NewPanelService(cfg *config.Config, userAgent string, extras panel.Options) (*PanelService, error) {
	loc, err := time.LoadLocation(cfg.Clock.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone: %w", err)
	}

	bl, err := backlight.Open(cfg.Backlight.Pin, cfg.Backlight.PulseWidth.Duration(), cfg.Backlight.PulseGap.Duration())
	if err != nil {
		return nil, err
	}
	log.Info().Str("line", bl.Name()).Msg("Backlight ready")

	s := &PanelService{
		cfg:       cfg,
		Clock:     clock.New(cfg.Clock.NTPServer, loc, cfg.Clock.Timeout.Duration()),
		Backlight: bl,
		Dimmer:    dimmer.New(bl, cfg.Backlight.DimmingDelay.Duration(), cfg.Backlight.Steps(), time.Now()),
		Frames:    display.NewLatest(),
		client:    tempo.NewClient(cfg.Tempo.Timeout.Duration(), userAgent),
	}

	sink := display.Multi{s.Frames}
	if cfg.Display.OutputEnabled() {
		png := display.NewPNGFile(cfg.Display.Output)
		log.Info().Str("path", png.Path()).Msg("Frames will be written to file")
		sink = append(sink, png)
	}

	opts := extras
	opts.Fetcher = s.client
	opts.TodayURL = cfg.Tempo.TodayURL
	opts.TomorrowURL = cfg.Tempo.TomorrowURL
	opts.Clock = s.Clock
	opts.Dimmer = s.Dimmer
	opts.Renderer = render.New(render.Layout{
		Width:     cfg.Display.Width,
		Height:    cfg.Display.Height,
		Border:    cfg.Display.Border,
		Separator: cfg.Display.Separator,
	})
	opts.Sink = sink
	opts.Address = netinfo.LocalIP
	opts.Interval = cfg.Refresh.Interval.Duration()
	opts.Tick = cfg.Refresh.Tick.Duration()

	s.Panel = panel.New(opts)
	return s, nil
}

// SyncClock makes one blocking NTP attempt so the first frame can carry dates
func (s *PanelService) SyncClock(ctx context.Context) {
	if err := s.Clock.Sync(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to obtain time")
	}
}

// Start runs the clock and the control loop in the background.
func (s *PanelService) Start(ctx context.Context) {
	s.SyncClock(ctx)
	if !s.Clock.Synced() {
		// Redraw with dates as soon as the clock can be trusted
		s.Clock.OnFirstSync(func() {
			log.Info().Msg("Clock synchronized, redrawing with dates")
			s.Panel.RequestRefresh()
		})
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.Clock.Run(ctx, s.cfg.Clock.SyncInterval.Duration())
	}()
	go func() {
		defer s.wg.Done()
		s.Panel.Run(ctx)
	}()
}

// RefreshOnce syncs the clock and draws a single frame without starting the loop
func (s *PanelService) RefreshOnce(ctx context.Context) tempo.Reading {
	s.SyncClock(ctx)
	return s.Panel.Refresh(ctx, panel.SourceOnce)
}

// Wait blocks until the background goroutines have returned
func (s *PanelService) Wait() {
	s.wg.Wait()
}

// Close releases network resources
func (s *PanelService) Close() {
	s.client.Close()
}
