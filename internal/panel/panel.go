// Package panel runs the control loop: it refreshes the tariff view on an
// interval and dims the backlight while nobody is looking.
package panel

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tempod/internal/clock"
	"github.com/dokzlo13/tempod/internal/dimmer"
	"github.com/dokzlo13/tempod/internal/display"
	"github.com/dokzlo13/tempod/internal/ledger"
	"github.com/dokzlo13/tempod/internal/metrics"
	"github.com/dokzlo13/tempod/internal/render"
	"github.com/dokzlo13/tempod/internal/tempo"
)

// Refresh sources recorded in the ledger and exposed in the status
const (
	SourceStartup  = "startup"
	SourceInterval = "interval"
	SourceManual   = "http"
	SourceOnce     = "once"
)

// Fetcher returns the raw day code served at url
type Fetcher interface {
	FetchCode(ctx context.Context, url string) (string, error)
}

// Clock returns wall time and whether it can be trusted
type Clock interface {
	Now() (time.Time, bool)
}

// HistoryRecorder persists the color of a calendar day
type HistoryRecorder interface {
	Record(day, code string, fetchedAt time.Time) (bool, error)
}

// EventLog records refreshes
type EventLog interface {
	AppendWithSource(eventType ledger.EventType, refID, source string, payload map[string]any) error
}

// Publisher forwards a reading to an external system
type Publisher interface {
	Publish(ctx context.Context, r tempo.Reading) error
}

// Hook is called after every redraw
type Hook interface {
	OnRefresh(ctx context.Context, r tempo.Reading) error
}

// Options wires a Panel. Fields below Address are optional.
type Options struct {
	Fetcher     Fetcher
	TodayURL    string
	TomorrowURL string
	Clock       Clock
	Dimmer      *dimmer.Controller
	Renderer    *render.Renderer
	Sink        display.Sink
	Address     func() string
	Interval    time.Duration
	Tick        time.Duration

	History   HistoryRecorder
	Ledger    EventLog
	Metrics   *metrics.Metrics
	Publisher Publisher
	Hook      Hook
	Now       func() time.Time // monotonic source for idle and refresh timers
}

type request int

const (
	requestRefresh request = iota
	requestWake
)

// State is a point-in-time copy of what the panel shows
type State struct {
	Reading      tempo.Reading `json:"reading"`
	Refreshed    bool          `json:"refreshed"`
	Step         int           `json:"brightness_step"`
	MaxSteps     int           `json:"max_steps"`
	LastActivity time.Time     `json:"last_activity"`
	Refreshes    int           `json:"refreshes"`
}

// Panel owns the display state. Refresh and Tick must only be called from
// the goroutine running the loop; RequestRefresh, Wake and Snapshot are safe
// from any goroutine.
type Panel struct {
	opts     Options
	now      func() time.Time
	requests chan request

	lastRefresh time.Time
	refreshed   bool
	refreshes   int

	mu    sync.RWMutex
	state State
}

// New creates a panel
func New(opts Options) *Panel {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Address == nil {
		opts.Address = func() string { return "" }
	}
	if opts.Tick <= 0 {
		opts.Tick = 100 * time.Millisecond
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}

	p := &Panel{
		opts:     opts,
		now:      opts.Now,
		requests: make(chan request, 8),
	}
	p.state = State{MaxSteps: opts.Dimmer.MaxSteps(), LastActivity: opts.Dimmer.LastActivity()}
	return p
}

// Run refreshes once, then ticks until ctx is done
func (p *Panel) Run(ctx context.Context) {
	log.Info().
		Dur("interval", p.opts.Interval).
		Dur("tick", p.opts.Tick).
		Msg("Panel loop started")

	p.Refresh(ctx, SourceStartup)

	ticker := time.NewTicker(p.opts.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Panel loop stopped")
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick runs one loop iteration: pending requests, the brightness check,
// then a refresh if the interval elapsed
func (p *Panel) Tick(ctx context.Context) {
	if p.drainRequests(ctx) {
		return
	}

	now := p.now()
	p.opts.Dimmer.Check(now)

	if !p.refreshed || now.Sub(p.lastRefresh) >= p.opts.Interval {
		source := SourceInterval
		if !p.refreshed {
			source = SourceStartup
		}
		p.Refresh(ctx, source)
		return
	}

	p.publishBrightness()
}

// drainRequests handles queued requests and reports whether a refresh ran
func (p *Panel) drainRequests(ctx context.Context) bool {
	refresh, wake := false, false
	for pending := true; pending; {
		select {
		case req := <-p.requests:
			switch req {
			case requestRefresh:
				refresh = true
			case requestWake:
				wake = true
			}
		default:
			pending = false
		}
	}

	if refresh {
		p.Refresh(ctx, SourceManual)
		return true
	}
	if wake {
		p.opts.Dimmer.Reset(p.now())
		log.Debug().Msg("Wake requested")
		p.publishBrightness()
	}
	return false
}

// RequestRefresh asks the loop to refresh on its next tick. It returns
// false when too many requests are already pending.
func (p *Panel) RequestRefresh() bool {
	return p.enqueue(requestRefresh)
}

// Wake asks the loop to restore full brightness, as if someone interacted
func (p *Panel) Wake() bool {
	return p.enqueue(requestWake)
}

func (p *Panel) enqueue(r request) bool {
	select {
	case p.requests <- r:
		return true
	default:
		return false
	}
}

// Refresh fetches both codes, redraws and resets the activity timer.
// Fetch failures degrade to the unknown color; nothing here is fatal.
func (p *Panel) Refresh(ctx context.Context, source string) tempo.Reading {
	start := p.now()
	refreshID := uuid.NewString()

	todayCode := p.fetch(ctx, "today", p.opts.TodayURL)
	tomorrowCode := p.fetch(ctx, "tomorrow", p.opts.TomorrowURL)

	// A cancelled refresh keeps the last frame and state untouched
	if err := ctx.Err(); err != nil {
		log.Info().Err(err).Str("source", source).Msg("Refresh cancelled")
		return p.Snapshot().Reading
	}

	reading := tempo.Reading{
		RefreshID:    refreshID,
		Source:       source,
		Today:        tempo.ParseColor(todayCode),
		Tomorrow:     tempo.ParseColor(tomorrowCode),
		TodayCode:    todayCode,
		TomorrowCode: tomorrowCode,
		Address:      p.opts.Address(),
	}

	wall, synced := p.opts.Clock.Now()
	if synced {
		reading.TodayDate = clock.FormatDate(wall)
		reading.TomorrowDate = clock.FormatDate(clock.Tomorrow(wall))
		reading.RefreshedAt = wall
	} else {
		log.Warn().Msg("Failed to obtain time, dates not shown")
		reading.RefreshedAt = start
	}

	frame := p.opts.Renderer.Render(render.View{
		Today:    render.Panel{Color: reading.Today, Date: reading.TodayDate},
		Tomorrow: render.Panel{Color: reading.Tomorrow, Date: reading.TomorrowDate},
		Address:  reading.Address,
	})
	if err := p.opts.Sink.Show(ctx, frame); err != nil {
		log.Error().Err(err).Msg("Failed to show frame")
	}

	now := p.now()
	p.opts.Dimmer.Reset(now)
	p.lastRefresh = start
	p.refreshed = true
	p.refreshes++

	log.Info().
		Str("refresh_id", refreshID).
		Str("source", source).
		Str("today", reading.Today.String()).
		Str("tomorrow", reading.Tomorrow.String()).
		Str("today_date", reading.TodayDate).
		Str("ip", reading.Address).
		Dur("duration", now.Sub(start)).
		Msg("Display refreshed")

	p.mu.Lock()
	p.state.Reading = reading
	p.state.Refreshed = true
	p.state.Refreshes = p.refreshes
	p.state.Step = p.opts.Dimmer.Step()
	p.state.LastActivity = p.opts.Dimmer.LastActivity()
	p.mu.Unlock()

	p.record(wall, synced, reading)
	p.notify(ctx, reading)

	return reading
}

func (p *Panel) fetch(ctx context.Context, day, url string) string {
	code, err := p.opts.Fetcher.FetchCode(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return tempo.SentinelCode
		}
		log.Warn().Err(err).Str("day", day).Msg("Error on HTTP request, showing unknown color")
		if p.opts.Metrics != nil {
			p.opts.Metrics.FetchErrors.WithLabelValues(day).Inc()
		}
		return tempo.SentinelCode
	}
	log.Debug().Str("day", day).Str("code", code).Msg("Fetched day code")
	return code
}

// record persists the refresh; storage errors are logged only
func (p *Panel) record(wall time.Time, synced bool, r tempo.Reading) {
	if p.opts.History != nil && synced {
		days := []struct {
			key  string
			code string
		}{
			{clock.DayKey(wall), r.TodayCode},
			{clock.DayKey(clock.Tomorrow(wall)), r.TomorrowCode},
		}
		for _, d := range days {
			if _, err := p.opts.History.Record(d.key, d.code, wall); err != nil {
				log.Warn().Err(err).Str("day", d.key).Msg("Failed to record tariff day")
			}
		}
	}

	if p.opts.Ledger != nil {
		payload := map[string]any{
			"today":         r.Today.String(),
			"tomorrow":      r.Tomorrow.String(),
			"today_code":    r.TodayCode,
			"tomorrow_code": r.TomorrowCode,
		}
		if r.TodayDate != "" {
			payload["today_date"] = r.TodayDate
		}
		if err := p.opts.Ledger.AppendWithSource(ledger.EventRefreshCompleted, r.RefreshID, r.Source, payload); err != nil {
			log.Warn().Err(err).Msg("Failed to append refresh to ledger")
		}
	}

	if m := p.opts.Metrics; m != nil {
		m.Refreshes.WithLabelValues(r.Source).Inc()
		m.SetDayColor("today", r.Today)
		m.SetDayColor("tomorrow", r.Tomorrow)
		m.LastRefresh.Set(float64(r.RefreshedAt.Unix()))
		m.BrightnessStep.Set(float64(p.opts.Dimmer.Step()))
		if synced {
			m.ClockSynced.Set(1)
		} else {
			m.ClockSynced.Set(0)
		}
	}
}

// notify runs the publisher and the script hook; their errors are logged only
func (p *Panel) notify(ctx context.Context, r tempo.Reading) {
	if p.opts.Publisher != nil {
		pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := p.opts.Publisher.Publish(pubCtx, r); err != nil {
			log.Warn().Err(err).Msg("Failed to publish state")
		}
		cancel()
	}
	if p.opts.Hook != nil {
		if err := p.opts.Hook.OnRefresh(ctx, r); err != nil {
			log.Error().Err(err).Msg("Refresh hook failed")
		}
	}
}

func (p *Panel) publishBrightness() {
	step := p.opts.Dimmer.Step()

	p.mu.Lock()
	changed := p.state.Step != step
	p.state.Step = step
	p.state.LastActivity = p.opts.Dimmer.LastActivity()
	p.mu.Unlock()

	if changed && p.opts.Metrics != nil {
		p.opts.Metrics.BrightnessStep.Set(float64(step))
	}
}

// Snapshot returns the current state
func (p *Panel) Snapshot() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}
