package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Provider metrics
var (
	// ProviderFetchesTotal counts fetches by provider and outcome kind
	// ("ok" or an error kind).
	ProviderFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solar_provider_fetches_total",
			Help: "Total number of provider fetches by outcome",
		},
		[]string{"provider", "outcome"},
	)

	// ProviderFetchDuration tracks end-to-end fetch latency including normalization.
	ProviderFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "solar_provider_fetch_duration_seconds",
			Help:    "Duration of provider fetches in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider"},
	)

	// ProviderHTTPResponses counts raw upstream HTTP status codes.
	ProviderHTTPResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solar_provider_http_responses_total",
			Help: "Upstream HTTP responses by provider and status code",
		},
		[]string{"provider", "code"},
	)

	// KeyValidationsTotal counts key probes by provider and result.
	KeyValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solar_key_validations_total",
			Help: "API key validation probes by provider and result",
		},
		[]string{"provider", "valid"},
	)
)

// Session metrics
var (
	// SessionsActive is the number of sessions currently held in memory.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "solar_sessions_active",
			Help: "Number of sessions currently held in the store",
		},
	)

	// SessionsExpiredTotal counts sessions removed by the sweeper.
	SessionsExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "solar_sessions_expired_total",
			Help: "Total number of sessions removed for exceeding their max age",
		},
	)
)

// RecordFetch records one provider fetch. outcome is "ok" or an error kind.
func RecordFetch(provider, outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = "ok"
	}
	ProviderFetchesTotal.WithLabelValues(provider, outcome).Inc()
	ProviderFetchDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordKeyValidation records the result of a key probe.
func RecordKeyValidation(provider string, valid bool) {
	v := "false"
	if valid {
		v = "true"
	}
	KeyValidationsTotal.WithLabelValues(provider, v).Inc()
}
