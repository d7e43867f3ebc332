package metrics

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"yt-transcripts/internal/model"
)

func scrape(t *testing.T, srv *Server) string {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status %d", rec.Code)
	}
	return rec.Body.String()
}

func newTestServer() *Server {
	return NewServer("127.0.0.1:0", func() model.Counters {
		return model.Counters{Total: 3, Succeeded: 2, Pending: 1}
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRecorder_ExposesTierMetrics(t *testing.T) {
	srv := newTestServer()
	rec := Recorder{}
	rec.AttemptFinished("captions", model.Succeeded("x", model.Metadata{}), 150*time.Millisecond)
	rec.AttemptFinished("proxied", model.Failed(model.KindNetwork, "x", 0), time.Second)
	rec.TierDisabled("managed", model.KindQuotaExhausted)
	rec.ItemStarted()
	rec.ItemFinished(model.StatusSucceeded, "captions")

	body := scrape(t, srv)
	for _, want := range []string{
		`ytt_tier_attempts_total{outcome="success",tier="captions"}`,
		`ytt_tier_attempts_total{outcome="retryable_network",tier="proxied"}`,
		`ytt_tiers_disabled_total{kind="quota_exhausted",tier="managed"}`,
		`ytt_items_finished_total{method="captions",status="succeeded"}`,
		`ytt_tier_attempt_seconds_bucket`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %s in metrics output", want)
		}
	}
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var payload struct {
		Status   string         `json:"status"`
		Counters model.Counters `json:"counters"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if payload.Status != "ok" || payload.Counters.Succeeded != 2 || payload.Counters.Total != 3 {
		t.Fatalf("unexpected health payload: %+v", payload)
	}
}
