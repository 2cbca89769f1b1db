package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cinemaos_gateway_generations_total",
			Help: "Total number of generation dispatches",
		},
		[]string{"provider", "model", "status"},
	)

	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cinemaos_gateway_generation_duration_seconds",
			Help:    "Generation call duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 240},
		},
		[]string{"provider", "model"},
	)

	CreditReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cinemaos_gateway_credit_reports_total",
			Help: "Credit report attempts by resulting status",
		},
		[]string{"status"},
	)

	SessionCredits = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cinemaos_gateway_session_credits",
			Help: "Credits accumulated in the current session",
		},
	)

	VaultFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cinemaos_gateway_vault_fetches_total",
			Help: "Vault token fetches by outcome (hit, miss, offline, cached)",
		},
		[]string{"outcome"},
	)

	VaultUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cinemaos_gateway_vault_uploads_total",
			Help: "Vault asset uploads by destination (remote, local_fallback, failed)",
		},
		[]string{"destination"},
	)

	TokenCacheHits = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cinemaos_gateway_token_cache_hits",
			Help: "Cumulative token cache hits",
		},
	)

	TokenCacheMisses = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cinemaos_gateway_token_cache_misses",
			Help: "Cumulative token cache misses",
		},
	)
)

type Metrics struct {
	enabled bool
}

func New(enabled bool) *Metrics {
	return &Metrics{
		enabled: enabled,
	}
}

func (m *Metrics) isEnabled() bool {
	return m != nil && m.enabled
}

// RecordGeneration records one dispatch outcome.
func (m *Metrics) RecordGeneration(provider, model, status string, duration time.Duration) {
	if !m.isEnabled() {
		return
	}
	GenerationsTotal.WithLabelValues(provider, model, status).Inc()
	GenerationDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
}

// RecordCreditReport records the outcome status of one charge report.
func (m *Metrics) RecordCreditReport(status string) {
	if !m.isEnabled() {
		return
	}
	CreditReportsTotal.WithLabelValues(status).Inc()
}

// UpdateSessionCredits sets the session credit gauge.
func (m *Metrics) UpdateSessionCredits(total float64) {
	if !m.isEnabled() {
		return
	}
	SessionCredits.Set(total)
}

// RecordVaultFetch records a token fetch outcome.
func (m *Metrics) RecordVaultFetch(outcome string) {
	if !m.isEnabled() {
		return
	}
	VaultFetchesTotal.WithLabelValues(outcome).Inc()
}

// UpdateTokenCacheStats publishes token cache hit/miss counters. Called
// periodically by the background metrics updater.
func (m *Metrics) UpdateTokenCacheStats(hits, misses uint64) {
	if !m.isEnabled() {
		return
	}
	TokenCacheHits.Set(float64(hits))
	TokenCacheMisses.Set(float64(misses))
}

// RecordVaultUpload records where an asset ended up.
func (m *Metrics) RecordVaultUpload(destination string) {
	if !m.isEnabled() {
		return
	}
	VaultUploadsTotal.WithLabelValues(destination).Inc()
}
