package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ClaimsCreated.Inc()
	m.ClaimsCreated.Inc()
	m.ClaimsRevoked.Inc()
	m.IncrementRejected(1)
	m.IncrementRejected(1)
	m.IncrementRejected(11)
	m.SetCommittedHeight(42)
	m.ObserveExecute(time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ClaimsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClaimsRevoked))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ClaimsTransferred))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TxRejected.WithLabelValues("1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TxRejected.WithLabelValues("11")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.CommittedHeight))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"poe_claims_created_total",
		"poe_claims_revoked_total",
		"poe_claims_transferred_total",
		"poe_tx_rejected_total",
		"poe_committed_height",
		"poe_execute_block_duration_seconds",
	} {
		assert.True(t, names[want], "missing %s", want)
	}
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	// Two instances on separate registries must not collide.
	a := New(prometheus.NewRegistry())
	b := New(prometheus.NewRegistry())
	a.ClaimsCreated.Inc()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.ClaimsCreated))
}
