// Package metrics exposes Prometheus collectors for the panel.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dokzlo13/tempod/internal/tempo"
)

// Metrics groups all collectors registered by tempod
type Metrics struct {
	Refreshes      *prometheus.CounterVec
	FetchErrors    *prometheus.CounterVec
	DayColor       *prometheus.GaugeVec
	BrightnessStep prometheus.Gauge
	LastRefresh    prometheus.Gauge
	ClockSynced    prometheus.Gauge
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tempod",
			Name:      "refreshes_total",
			Help:      "Display refreshes, by trigger",
		}, []string{"source"}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tempod",
			Name:      "fetch_errors_total",
			Help:      "Failed color fetches that fell back to the unknown color",
		}, []string{"day"}),
		DayColor: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tempod",
			Name:      "day_color",
			Help:      "1 for the color currently shown for the day, 0 otherwise",
		}, []string{"day", "color"}),
		BrightnessStep: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tempod",
			Name:      "brightness_step",
			Help:      "Current backlight dimming step (0 = full brightness)",
		}),
		LastRefresh: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tempod",
			Name:      "last_refresh_timestamp_seconds",
			Help:      "Unix time of the last display refresh",
		}),
		ClockSynced: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tempod",
			Name:      "clock_synced",
			Help:      "Whether the NTP clock has been synchronized",
		}),
	}

	reg.MustRegister(
		m.Refreshes,
		m.FetchErrors,
		m.DayColor,
		m.BrightnessStep,
		m.LastRefresh,
		m.ClockSynced,
	)

	return m
}

var allColors = []tempo.Color{tempo.Blue, tempo.White, tempo.Red, tempo.Unknown}

// SetDayColor flags c as the color shown for day ("today" or "tomorrow")
func (m *Metrics) SetDayColor(day string, c tempo.Color) {
	for _, candidate := range allColors {
		v := 0.0
		if candidate == c {
			v = 1
		}
		m.DayColor.WithLabelValues(day, candidate.String()).Set(v)
	}
}
