package app

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/tempod/internal/config"
	"github.com/dokzlo13/tempod/internal/display"
	"github.com/dokzlo13/tempod/internal/history"
	"github.com/dokzlo13/tempod/internal/panel"
)

// Controller is the part of the panel the status server drives
type Controller interface {
	Snapshot() panel.State
	RequestRefresh() bool
	Wake() bool
}

// HistoryReader lists recorded days
type HistoryReader interface {
	Recent(limit int) ([]history.Day, error)
	CountByColor(since string) (map[string]int, error)
}

// StatusService serves health, status, the latest frame and metrics over HTTP.
type StatusService struct {
	cfg      *config.Config
	version  string
	panel    Controller
	frames   *display.Latest
	history  HistoryReader
	gatherer prometheus.Gatherer
	limiter  *rate.Limiter
	ready    func() bool
	now      func() time.Time
	server   *http.Server
	done     chan struct{}
}

// NewStatusService creates a new StatusService. history may be nil.
func NewStatusService(
	cfg *config.Config,
	version string,
	p Controller,
	frames *display.Latest,
	hist HistoryReader,
	gatherer prometheus.Gatherer,
	ready func() bool,
) *StatusService {
	burst := int(cfg.HTTP.RefreshRPS)
	if burst < 1 {
		burst = 1
	}
	return &StatusService{
		cfg:      cfg,
		version:  version,
		panel:    p,
		frames:   frames,
		history:  hist,
		gatherer: gatherer,
		limiter:  rate.NewLimiter(rate.Limit(cfg.HTTP.RefreshRPS), burst),
		ready:    ready,
		now:      time.Now,
	}
}

// Start begins the status server if enabled.
func (s *StatusService) Start(ctx context.Context) {
	if !s.cfg.HTTP.IsEnabled() {
		log.Info().Msg("Status server is disabled")
		return
	}

	s.done = make(chan struct{})
	go s.run(ctx)
}

// Wait blocks until the server has stopped and in-flight requests are done.
// It returns immediately when the server was never started.
func (s *StatusService) Wait() {
	if s.done != nil {
		<-s.done
	}
}

func (s *StatusService) run(ctx context.Context) {
	defer close(s.done)
	addr := s.cfg.HTTP.Addr()

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("Starting status server")

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Status server shutdown error")
		}
	}()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Status server error")
	}
	<-stopped
}

// Handler returns the routes of the status server
func (s *StatusService) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		if s.ready != nil && !s.ready() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /display.png", s.handleFrame)
	mux.HandleFunc("GET /history", s.handleHistory)
	mux.HandleFunc("POST /refresh", s.handleRefresh)
	mux.HandleFunc("POST /wake", s.handleWake)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return mux
}

type statusResponse struct {
	Version string `json:"version"`
	panel.State
}

func (s *StatusService) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Version: s.version, State: s.panel.Snapshot()})
}

func (s *StatusService) handleFrame(w http.ResponseWriter, r *http.Request) {
	data, updatedAt := s.frames.PNG()
	if data == nil {
		http.Error(w, "no frame rendered yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Last-Modified", updatedAt.UTC().Format(http.TimeFormat))
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(data)
}

type historyResponse struct {
	Days         []history.Day  `json:"days"`
	SeasonStart  string         `json:"season_start"`
	SeasonCounts map[string]int `json:"season_counts"`
}

func (s *StatusService) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "history is not available", http.StatusNotFound)
		return
	}

	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 366 {
			http.Error(w, "days must be between 1 and 366", http.StatusBadRequest)
			return
		}
		days = n
	}

	recent, err := s.history.Recent(days)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read history")
		http.Error(w, "failed to read history", http.StatusInternalServerError)
		return
	}
	if recent == nil {
		recent = []history.Day{}
	}

	seasonStart := history.SeasonStart(s.now()).Format(time.DateOnly)
	counts, err := s.history.CountByColor(seasonStart)
	if err != nil {
		log.Error().Err(err).Msg("Failed to count season days")
		http.Error(w, "failed to read history", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, historyResponse{
		Days:         recent,
		SeasonStart:  seasonStart,
		SeasonCounts: counts,
	})
}

func (s *StatusService) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"status": "rate limited"})
		return
	}
	if !s.panel.RequestRefresh() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "busy"})
		return
	}
	log.Info().Str("remote", r.RemoteAddr).Msg("Manual refresh requested")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *StatusService) handleWake(w http.ResponseWriter, r *http.Request) {
	if !s.panel.Wake() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "busy"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}
