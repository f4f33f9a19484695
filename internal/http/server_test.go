package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"nowplaying/internal/core"
)

// Collectors register against the default registry, so a single server
// instance backs all subtests.
func TestServer(t *testing.T) {
	server := NewServer(&core.ServerConfig{
		Host:         "127.0.0.1",
		Port:         0,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}, zap.NewNop())

	var sink core.MetricsSink = server.Sink()

	t.Run("health endpoints", func(t *testing.T) {
		for _, path := range []string{"/healthz", "/readyz"} {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			rec := httptest.NewRecorder()
			server.server.Handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Errorf("%s status = %d", path, rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("%s content type = %q", path, ct)
			}
		}
	})

	t.Run("candidate counters", func(t *testing.T) {
		sink.CandidateApplied("local", "applied")
		sink.CandidateApplied("local", "applied")
		sink.CandidateDiscarded("remote", "duplicate")

		m := server.Sink()
		if got := testutil.ToFloat64(m.CandidatesTotal.WithLabelValues("local", "applied", "applied")); got != 2 {
			t.Errorf("applied count = %v", got)
		}
		if got := testutil.ToFloat64(m.CandidatesTotal.WithLabelValues("remote", "discarded", "duplicate")); got != 1 {
			t.Errorf("discarded count = %v", got)
		}
	})

	t.Run("poll and orchestration counters", func(t *testing.T) {
		sink.PollPerformed()
		sink.PollSkipped("paused")
		sink.OrchestrationStep("active-device", true)
		sink.OrchestrationStep("active-device", false)
		sink.AutoAdvanceScheduled()

		m := server.Sink()
		if got := testutil.ToFloat64(m.PollsTotal.WithLabelValues("skipped-paused")); got != 1 {
			t.Errorf("skipped poll count = %v", got)
		}
		if got := testutil.ToFloat64(m.OrchestrationsTotal.WithLabelValues("active-device", "failure")); got != 1 {
			t.Errorf("failed step count = %v", got)
		}
	})

	t.Run("playing gauge", func(t *testing.T) {
		sink.SetPlaying(true)
		if got := testutil.ToFloat64(server.Sink().PlayingGauge); got != 1 {
			t.Errorf("gauge = %v after playing", got)
		}
		sink.SetPlaying(false)
		if got := testutil.ToFloat64(server.Sink().PlayingGauge); got != 0 {
			t.Errorf("gauge = %v after pausing", got)
		}
	})

	t.Run("metrics endpoint", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		rec := httptest.NewRecorder()
		server.server.Handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("metrics status = %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "nowplaying_candidates_total") {
			t.Errorf("exposition missing engine counters")
		}
	})
}
