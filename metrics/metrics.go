// Package metrics exposes Prometheus collectors for registry activity.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks claim operations, rejected transactions and block
// processing.
type Metrics struct {
	ClaimsCreated     prometheus.Counter
	ClaimsRevoked     prometheus.Counter
	ClaimsTransferred prometheus.Counter
	TxRejected        *prometheus.CounterVec
	CommittedHeight   prometheus.Gauge
	ExecuteDuration   prometheus.Histogram
}

// New creates a Metrics instance with every collector registered on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ClaimsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "poe_claims_created_total",
			Help: "Total number of claims created",
		}),
		ClaimsRevoked: f.NewCounter(prometheus.CounterOpts{
			Name: "poe_claims_revoked_total",
			Help: "Total number of claims revoked",
		}),
		ClaimsTransferred: f.NewCounter(prometheus.CounterOpts{
			Name: "poe_claims_transferred_total",
			Help: "Total number of claims transferred",
		}),
		TxRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "poe_tx_rejected_total",
			Help: "Total number of transactions rejected during block execution, by result code",
		}, []string{"code"}),
		CommittedHeight: f.NewGauge(prometheus.GaugeOpts{
			Name: "poe_committed_height",
			Help: "Height of the last committed block",
		}),
		ExecuteDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "poe_execute_block_duration_seconds",
			Help:    "Duration of ExecuteBlock calls",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncrementRejected records a transaction rejected with code.
func (m *Metrics) IncrementRejected(code uint32) {
	m.TxRejected.WithLabelValues(strconv.FormatUint(uint64(code), 10)).Inc()
}

// SetCommittedHeight records the height of the last commit.
func (m *Metrics) SetCommittedHeight(height uint64) {
	m.CommittedHeight.Set(float64(height))
}

// ObserveExecute records the duration of an ExecuteBlock call.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveExecute(start time.Time) {
	m.ExecuteDuration.Observe(time.Since(start).Seconds())
}
