package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"nowplaying/internal/core"
)

type Server struct {
	config  *core.ServerConfig
	logger  *zap.Logger
	server  *http.Server
	metrics *Metrics
}

// Metrics implements core.MetricsSink over Prometheus collectors.
type Metrics struct {
	CandidatesTotal     *prometheus.CounterVec
	PollsTotal          *prometheus.CounterVec
	OrchestrationsTotal *prometheus.CounterVec
	AutoAdvancesTotal   prometheus.Counter
	PlayingGauge        prometheus.Gauge
}

func NewServer(config *core.ServerConfig, logger *zap.Logger) *Server {
	metrics := &Metrics{
		CandidatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nowplaying_candidates_total",
				Help: "State update candidates evaluated by the reconciler",
			},
			[]string{"origin", "result", "reason"},
		),
		PollsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nowplaying_polls_total",
				Help: "Remote poll ticks by outcome",
			},
			[]string{"outcome"},
		),
		OrchestrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nowplaying_orchestration_steps_total",
				Help: "Playback start fallback steps attempted",
			},
			[]string{"step", "outcome"},
		),
		AutoAdvancesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "nowplaying_auto_advances_total",
				Help: "Skips scheduled after natural track completion",
			},
		),
		PlayingGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "nowplaying_playing",
				Help: "Whether the canonical state reports active playback",
			},
		),
	}

	prometheus.MustRegister(
		metrics.CandidatesTotal,
		metrics.PollsTotal,
		metrics.OrchestrationsTotal,
		metrics.AutoAdvancesTotal,
		metrics.PlayingGauge,
	)

	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"nowplaying"}`))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready","service":"nowplaying"}`))
	})

	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      mux,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return &Server{
		config:  config,
		logger:  logger,
		server:  server,
		metrics: metrics,
	}
}

func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server",
		zap.String("addr", s.server.Addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
		}
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

// Sink returns the metrics recorder the engine components report into.
func (s *Server) Sink() *Metrics {
	return s.metrics
}

func (m *Metrics) CandidateApplied(origin, reason string) {
	m.CandidatesTotal.WithLabelValues(origin, "applied", reason).Inc()
}

func (m *Metrics) CandidateDiscarded(origin, reason string) {
	m.CandidatesTotal.WithLabelValues(origin, "discarded", reason).Inc()
}

func (m *Metrics) PollPerformed() {
	m.PollsTotal.WithLabelValues("performed").Inc()
}

func (m *Metrics) PollSkipped(reason string) {
	m.PollsTotal.WithLabelValues("skipped-" + reason).Inc()
}

func (m *Metrics) OrchestrationStep(step string, ok bool) {
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	m.OrchestrationsTotal.WithLabelValues(step, outcome).Inc()
}

func (m *Metrics) AutoAdvanceScheduled() {
	m.AutoAdvancesTotal.Inc()
}

func (m *Metrics) SetPlaying(playing bool) {
	if playing {
		m.PlayingGauge.Set(1)
	} else {
		m.PlayingGauge.Set(0)
	}
}
