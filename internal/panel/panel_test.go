package panel

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dokzlo13/tempod/internal/dimmer"
	"github.com/dokzlo13/tempod/internal/ledger"
	"github.com/dokzlo13/tempod/internal/metrics"
	"github.com/dokzlo13/tempod/internal/render"
	"github.com/dokzlo13/tempod/internal/tempo"
)

var layout = render.Layout{Width: 320, Height: 170, Border: 4, Separator: 4}

type fakeClock struct {
	t      time.Time
	synced bool
}

func (c *fakeClock) Now() (time.Time, bool) { return c.t, c.synced }

type fakeOutput struct {
	pulses, fulls int
}

func (o *fakeOutput) Pulse() error { o.pulses++; return nil }
func (o *fakeOutput) Full() error  { o.fulls++; return nil }

type captureSink struct {
	frames []image.Image
}

func (s *captureSink) Show(_ context.Context, frame image.Image) error {
	s.frames = append(s.frames, frame)
	return nil
}

func (s *captureSink) last() image.Image {
	return s.frames[len(s.frames)-1]
}

type staticFetcher map[string]string

func (f staticFetcher) FetchCode(_ context.Context, url string) (string, error) {
	code, ok := f[url]
	if !ok {
		return "", errors.New("connection refused")
	}
	return code, nil
}

// ctxFetcher fails like an HTTP client once its context is done
type ctxFetcher struct {
	staticFetcher
}

func (f ctxFetcher) FetchCode(ctx context.Context, url string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return f.staticFetcher.FetchCode(ctx, url)
}

// slowFetcher advances the harness clock on every request
type slowFetcher struct {
	staticFetcher
	h     *harness
	delay time.Duration
}

func (f *slowFetcher) FetchCode(ctx context.Context, url string) (string, error) {
	f.h.advance(f.delay)
	return f.staticFetcher.FetchCode(ctx, url)
}

type fakeHistory struct {
	days map[string]string
}

func (h *fakeHistory) Record(day, code string, _ time.Time) (bool, error) {
	if tempo.ParseColor(code) == tempo.Unknown {
		return false, nil
	}
	h.days[day] = code
	return true, nil
}

type fakeLedger struct {
	events []string
}

func (l *fakeLedger) AppendWithSource(t ledger.EventType, refID, source string, payload map[string]any) error {
	l.events = append(l.events, fmt.Sprintf("%s/%s/%s", t, source, payload["today"]))
	return nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	readings []tempo.Reading
}

func (p *recordingPublisher) Publish(_ context.Context, r tempo.Reading) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readings = append(p.readings, r)
	return nil
}

type harness struct {
	panel  *Panel
	now    time.Time
	out    *fakeOutput
	sink   *captureSink
	clock  *fakeClock
	dimmer *dimmer.Controller
}

func newHarness(t *testing.T, fetcher Fetcher, mutate func(*Options)) *harness {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{
		now:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		out:   &fakeOutput{},
		sink:  &captureSink{},
		clock: &fakeClock{t: time.Date(2025, 1, 31, 10, 0, 0, 0, loc), synced: true},
	}
	h.dimmer = dimmer.New(h.out, 5*time.Minute, 10, h.now)

	opts := Options{
		Fetcher:     fetcher,
		TodayURL:    "today",
		TomorrowURL: "tomorrow",
		Clock:       h.clock,
		Dimmer:      h.dimmer,
		Renderer:    render.New(layout),
		Sink:        h.sink,
		Address:     func() string { return "192.168.1.20" },
		Interval:    time.Hour,
		Tick:        100 * time.Millisecond,
		Now:         func() time.Time { return h.now },
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.panel = New(opts)
	return h
}

func (h *harness) advance(d time.Duration) {
	h.now = h.now.Add(d)
}

func panelColorAt(img image.Image, rect image.Rectangle) (r, g, b uint32) {
	// A corner pixel is never covered by the date text
	r, g, b, _ = img.At(rect.Min.X+1, rect.Min.Y+1).RGBA()
	return r >> 8, g >> 8, b >> 8
}

func TestRefresh_EndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/today":
			fmt.Fprint(w, `{"codeJour":"3"}`)
		case "/tomorrow":
			fmt.Fprint(w, `{"codeJour":"1"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	h := newHarness(t, tempo.NewClient(time.Second, "tempod-test"), func(o *Options) {
		o.TodayURL = srv.URL + "/today"
		o.TomorrowURL = srv.URL + "/tomorrow"
	})

	reading := h.panel.Refresh(context.Background(), SourceStartup)

	if reading.Today != tempo.Red || reading.Tomorrow != tempo.Blue {
		t.Fatalf("colors = %v/%v, want red/blue", reading.Today, reading.Tomorrow)
	}
	if reading.TodayDate != "31/01/2025" || reading.TomorrowDate != "01/02/2025" {
		t.Errorf("dates = %q/%q, want 31/01/2025 and 01/02/2025", reading.TodayDate, reading.TomorrowDate)
	}

	if len(h.sink.frames) != 1 {
		t.Fatalf("frames shown = %d, want 1", len(h.sink.frames))
	}
	todayRect, tomorrowRect := layout.Panels()
	if r, g, b := panelColorAt(h.sink.last(), todayRect); r != 0xFF || g != 0 || b != 0 {
		t.Errorf("left panel = (%d,%d,%d), want red", r, g, b)
	}
	if r, g, b := panelColorAt(h.sink.last(), tomorrowRect); r != 0 || g != 0 || b != 0xFF {
		t.Errorf("right panel = (%d,%d,%d), want blue", r, g, b)
	}
}

func TestRefresh_FetchFailureShowsUnknown(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	h := newHarness(t, staticFetcher{"today": "2"}, func(o *Options) {
		o.Metrics = m
	})

	reading := h.panel.Refresh(context.Background(), SourceStartup)

	if reading.Today != tempo.White {
		t.Errorf("Today = %v, want white", reading.Today)
	}
	if reading.Tomorrow != tempo.Unknown || reading.TomorrowCode != tempo.SentinelCode {
		t.Errorf("Tomorrow = %v (%q), want unknown with sentinel code", reading.Tomorrow, reading.TomorrowCode)
	}
	_, tomorrowRect := layout.Panels()
	if r, g, b := panelColorAt(h.sink.last(), tomorrowRect); r != 0x80 || g != 0x80 || b != 0x80 {
		t.Errorf("unknown panel = (%d,%d,%d), want dark grey", r, g, b)
	}
	if v := testutil.ToFloat64(m.FetchErrors.WithLabelValues("tomorrow")); v != 1 {
		t.Errorf("fetch errors for tomorrow = %v, want 1", v)
	}
}

func TestRefresh_UnsyncedClockSkipsDates(t *testing.T) {
	hist := &fakeHistory{days: map[string]string{}}
	h := newHarness(t, staticFetcher{"today": "1", "tomorrow": "1"}, func(o *Options) {
		o.History = hist
	})
	h.clock.synced = false

	reading := h.panel.Refresh(context.Background(), SourceStartup)

	if reading.TodayDate != "" || reading.TomorrowDate != "" {
		t.Errorf("dates = %q/%q, want none while unsynchronized", reading.TodayDate, reading.TomorrowDate)
	}
	if len(hist.days) != 0 {
		t.Errorf("history recorded %v without a trusted date", hist.days)
	}
	if len(h.sink.frames) != 1 {
		t.Error("the frame must still be drawn without dates")
	}
}

func TestRefresh_ResetsBrightness(t *testing.T) {
	h := newHarness(t, staticFetcher{"today": "1", "tomorrow": "2"}, nil)

	h.advance(6 * time.Minute)
	for i := 0; i < 3; i++ {
		h.dimmer.Check(h.now)
	}
	if h.dimmer.Step() != 3 {
		t.Fatalf("step before refresh = %d, want 3", h.dimmer.Step())
	}

	h.panel.Refresh(context.Background(), SourceManual)

	if h.dimmer.Step() != 0 {
		t.Errorf("step after refresh = %d, want 0", h.dimmer.Step())
	}
	if !h.dimmer.LastActivity().Equal(h.now) {
		t.Errorf("last activity = %v, want %v", h.dimmer.LastActivity(), h.now)
	}
	if h.out.fulls == 0 {
		t.Error("refresh must drive the backlight to full brightness")
	}
	if s := h.panel.Snapshot(); s.Step != 0 || !s.Refreshed {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestRefresh_RecordsAndNotifies(t *testing.T) {
	hist := &fakeHistory{days: map[string]string{}}
	led := &fakeLedger{}
	pub := &recordingPublisher{}
	m := metrics.New(prometheus.NewRegistry())
	h := newHarness(t, staticFetcher{"today": "3", "tomorrow": "0"}, func(o *Options) {
		o.History = hist
		o.Ledger = led
		o.Publisher = pub
		o.Metrics = m
	})

	reading := h.panel.Refresh(context.Background(), SourceManual)

	if hist.days["2025-01-31"] != "3" {
		t.Errorf("history = %v, want 2025-01-31 -> 3", hist.days)
	}
	if _, ok := hist.days["2025-02-01"]; ok {
		t.Error("unknown tomorrow must not be recorded")
	}
	if len(led.events) != 1 || led.events[0] != "refresh_completed/http/red" {
		t.Errorf("ledger = %v", led.events)
	}
	if len(pub.readings) != 1 || pub.readings[0].RefreshID != reading.RefreshID {
		t.Errorf("published = %+v", pub.readings)
	}
	if reading.RefreshID == "" {
		t.Error("refresh id must be set")
	}
	if v := testutil.ToFloat64(m.ClockSynced); v != 1 {
		t.Errorf("clock synced gauge = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.Refreshes.WithLabelValues(SourceManual)); v != 1 {
		t.Errorf("manual refreshes = %v, want 1", v)
	}

	h.clock.synced = false
	h.panel.Refresh(context.Background(), SourceInterval)
	if v := testutil.ToFloat64(m.ClockSynced); v != 0 {
		t.Errorf("clock synced gauge = %v after losing sync, want 0", v)
	}
}

func TestRefresh_CancelledKeepsLastState(t *testing.T) {
	led := &fakeLedger{}
	pub := &recordingPublisher{}
	m := metrics.New(prometheus.NewRegistry())
	h := newHarness(t, ctxFetcher{staticFetcher{"today": "3", "tomorrow": "1"}}, func(o *Options) {
		o.Ledger = led
		o.Publisher = pub
		o.Metrics = m
	})

	first := h.panel.Refresh(context.Background(), SourceStartup)
	if first.Today != tempo.Red || first.Tomorrow != tempo.Blue {
		t.Fatalf("colors = %v/%v, want red/blue", first.Today, first.Tomorrow)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.advance(time.Hour)
	got := h.panel.Refresh(ctx, SourceInterval)

	if got.RefreshID != first.RefreshID || got.Today != tempo.Red {
		t.Errorf("cancelled refresh returned %+v, want the previous reading", got)
	}
	if len(h.sink.frames) != 1 {
		t.Errorf("frames = %d, want 1", len(h.sink.frames))
	}
	if len(led.events) != 1 {
		t.Errorf("ledger = %v, want only the first refresh", led.events)
	}
	if len(pub.readings) != 1 {
		t.Errorf("published %d readings, want 1", len(pub.readings))
	}
	if s := h.panel.Snapshot(); s.Reading.Today != tempo.Red || s.Refreshes != 1 {
		t.Errorf("snapshot = %+v, want the first refresh kept", s)
	}
	if v := testutil.ToFloat64(m.FetchErrors.WithLabelValues("today")); v != 0 {
		t.Errorf("fetch errors for today = %v, want 0 on shutdown", v)
	}

	// The interval is still due, so the next tick redraws
	h.panel.Tick(context.Background())
	if len(h.sink.frames) != 2 {
		t.Errorf("frames after next tick = %d, want 2", len(h.sink.frames))
	}
}

func TestTick_IntervalCountsFromRefreshStart(t *testing.T) {
	f := &slowFetcher{staticFetcher: staticFetcher{"today": "1", "tomorrow": "1"}, delay: 10 * time.Second}
	h := newHarness(t, f, nil)
	f.h = h

	start := h.now
	h.panel.Tick(context.Background())
	if len(h.sink.frames) != 1 {
		t.Fatalf("frames after first tick = %d, want 1", len(h.sink.frames))
	}

	// Fetching took 20s; the next refresh is still due an hour after start
	h.now = start.Add(time.Hour)
	h.panel.Tick(context.Background())
	if len(h.sink.frames) != 2 {
		t.Errorf("frames one interval after start = %d, want 2", len(h.sink.frames))
	}
}

func TestTick_DimsThenRefreshesOnInterval(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, staticFetcher{"today": "1", "tomorrow": "1"}, nil)

	// First tick refreshes because nothing was shown yet
	h.panel.Tick(ctx)
	if len(h.sink.frames) != 1 {
		t.Fatalf("frames after first tick = %d, want 1", len(h.sink.frames))
	}

	// Below the delay nothing dims
	h.advance(4 * time.Minute)
	h.panel.Tick(ctx)
	if h.dimmer.Step() != 0 {
		t.Fatalf("step below delay = %d, want 0", h.dimmer.Step())
	}

	// At the delay each tick dims by one
	h.advance(time.Minute)
	for want := 1; want <= 3; want++ {
		h.panel.Tick(ctx)
		if h.dimmer.Step() != want {
			t.Fatalf("step = %d, want %d", h.dimmer.Step(), want)
		}
	}
	if s := h.panel.Snapshot(); s.Step != 3 {
		t.Errorf("snapshot step = %d, want 3", s.Step)
	}

	// Interval elapsed: refresh and back to full brightness
	h.advance(55 * time.Minute)
	h.panel.Tick(ctx)
	if len(h.sink.frames) != 2 {
		t.Errorf("frames after interval = %d, want 2", len(h.sink.frames))
	}
	if h.dimmer.Step() != 0 {
		t.Errorf("step after interval refresh = %d, want 0", h.dimmer.Step())
	}
	if got := h.panel.Snapshot().Reading.Source; got != SourceInterval {
		t.Errorf("source = %q, want %q", got, SourceInterval)
	}
}

func TestTick_DimmingCapsAtMaxSteps(t *testing.T) {
	h := newHarness(t, staticFetcher{}, nil)
	h.panel.Tick(context.Background())

	h.advance(10 * time.Minute)
	for i := 0; i < 25; i++ {
		h.panel.Tick(context.Background())
	}
	if h.dimmer.Step() != 10 {
		t.Errorf("step = %d, want capped at 10", h.dimmer.Step())
	}
	if h.out.pulses != 10 {
		t.Errorf("pulses = %d, want 10", h.out.pulses)
	}
}

func TestRequests(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, staticFetcher{"today": "1", "tomorrow": "1"}, nil)
	h.panel.Tick(ctx)

	h.advance(10 * time.Minute)
	h.panel.Tick(ctx)
	if h.dimmer.Step() != 1 {
		t.Fatalf("step = %d, want 1", h.dimmer.Step())
	}

	if !h.panel.Wake() {
		t.Fatal("Wake() rejected")
	}
	h.panel.Tick(ctx)
	if h.dimmer.Step() != 0 {
		t.Errorf("step after wake = %d, want 0", h.dimmer.Step())
	}
	if len(h.sink.frames) != 1 {
		t.Errorf("wake must not redraw, frames = %d", len(h.sink.frames))
	}

	// Several refresh requests collapse into one redraw
	h.panel.RequestRefresh()
	h.panel.RequestRefresh()
	h.panel.Tick(ctx)
	if len(h.sink.frames) != 2 {
		t.Errorf("frames after manual refresh = %d, want 2", len(h.sink.frames))
	}
	if got := h.panel.Snapshot().Reading.Source; got != SourceManual {
		t.Errorf("source = %q, want %q", got, SourceManual)
	}
}

func TestRequestRefresh_QueueFull(t *testing.T) {
	h := newHarness(t, staticFetcher{}, nil)
	accepted := 0
	for i := 0; i < 20; i++ {
		if h.panel.RequestRefresh() {
			accepted++
		}
	}
	if accepted != cap(h.panel.requests) {
		t.Errorf("accepted %d requests, want %d", accepted, cap(h.panel.requests))
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t, staticFetcher{"today": "2", "tomorrow": "3"}, func(o *Options) {
		o.Tick = time.Millisecond
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.panel.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for !h.panel.Snapshot().Refreshed {
		select {
		case <-deadline:
			t.Fatal("startup refresh did not happen")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if s := h.panel.Snapshot(); s.Reading.Today != tempo.White || s.Reading.Source != SourceStartup {
		t.Errorf("snapshot = %+v", s.Reading)
	}
}
