package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"yt-transcripts/internal/model"
)

var (
	// TierAttempts counts tier invocations by outcome ("success" or an error kind).
	TierAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ytt_tier_attempts_total",
			Help: "Total number of extraction tier attempts",
		},
		[]string{"tier", "outcome"},
	)

	// TierLatency tracks how long a single tier attempt takes.
	TierLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ytt_tier_attempt_seconds",
			Help:    "Extraction tier attempt latency in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"tier"},
	)

	// TiersDisabled counts tiers switched off for a session.
	TiersDisabled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ytt_tiers_disabled_total",
			Help: "Total number of tiers disabled for the remainder of a session",
		},
		[]string{"tier", "kind"},
	)

	// ItemsFinished counts items reaching a final status in a run.
	ItemsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ytt_items_finished_total",
			Help: "Total number of items that finished processing",
		},
		[]string{"status", "method"},
	)

	// ItemsInFlight tracks items currently held by a worker.
	ItemsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ytt_items_in_flight",
			Help: "Number of items currently being processed",
		},
	)
)

// Recorder feeds chain attempt events into the package collectors.
type Recorder struct{}

func (Recorder) AttemptFinished(tierName string, outcome model.Outcome, elapsed time.Duration) {
	TierAttempts.WithLabelValues(tierName, outcome.Label()).Inc()
	TierLatency.WithLabelValues(tierName).Observe(elapsed.Seconds())
}

func (Recorder) TierDisabled(tierName string, kind model.ErrorKind) {
	TiersDisabled.WithLabelValues(tierName, string(kind)).Inc()
}

func (Recorder) ItemStarted() {
	ItemsInFlight.Inc()
}

func (Recorder) ItemFinished(status model.Status, method string) {
	ItemsInFlight.Dec()
	ItemsFinished.WithLabelValues(string(status), method).Inc()
}
