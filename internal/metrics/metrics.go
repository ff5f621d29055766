// Package metrics holds the Prometheus collectors of the confirmation engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups all collectors.
type Metrics struct {
	Confirmations    *prometheus.CounterVec
	LockContention   prometheus.Counter
	LedgerPostings   *prometheus.CounterVec
	LedgerImbalances prometheus.Counter
	SyncOutcomes     *prometheus.CounterVec
	SyncDuration     prometheus.Histogram
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paylink",
			Name:      "confirmations_total",
			Help:      "Payment confirmation attempts by provider and outcome.",
		}, []string{"provider", "outcome"}),
		LockContention: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paylink",
			Name:      "lock_contention_total",
			Help:      "Confirmations rejected because the payment link lock was held.",
		}),
		LedgerPostings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paylink",
			Name:      "ledger_postings_total",
			Help:      "Ledger postings by outcome.",
		}, []string{"outcome"}),
		LedgerImbalances: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paylink",
			Name:      "ledger_imbalances_total",
			Help:      "Balance invariant violations detected after posting.",
		}),
		SyncOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paylink",
			Name:      "sync_jobs_processed_total",
			Help:      "Downstream sync job attempts by resulting status.",
		}, []string{"status"}),
		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "paylink",
			Name:      "sync_call_duration_seconds",
			Help:      "Duration of outbound accounting sync calls.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Confirmations,
			m.LockContention,
			m.LedgerPostings,
			m.LedgerImbalances,
			m.SyncOutcomes,
			m.SyncDuration,
		)
	}

	return m
}

// Confirmation records one confirmation outcome.
func (m *Metrics) Confirmation(provider, outcome string) {
	if m == nil {
		return
	}
	m.Confirmations.WithLabelValues(provider, outcome).Inc()
}

// Contention records a lock acquisition failure.
func (m *Metrics) Contention() {
	if m == nil {
		return
	}
	m.LockContention.Inc()
}

// Posting records one ledger posting outcome.
func (m *Metrics) Posting(outcome string) {
	if m == nil {
		return
	}
	m.LedgerPostings.WithLabelValues(outcome).Inc()
}

// Imbalance records a balance invariant violation.
func (m *Metrics) Imbalance() {
	if m == nil {
		return
	}
	m.LedgerImbalances.Inc()
}

// Sync records one sync attempt and its duration in seconds.
func (m *Metrics) Sync(status string, seconds float64) {
	if m == nil {
		return
	}
	m.SyncOutcomes.WithLabelValues(status).Inc()
	m.SyncDuration.Observe(seconds)
}
