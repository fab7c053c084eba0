package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveBroadcast("self", OutcomeOK)
	m.ObserveBroadcast("self", OutcomeOK)
	m.ObserveBroadcast("battery", OutcomeError)
	m.ObserveReconnect()
	m.ObserveRPC("disconnect", OutcomeOK)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Broadcasts.WithLabelValues("self", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Broadcasts.WithLabelValues("battery", OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BridgeReconnects))

	n, err := testutil.GatherAndCount(reg, "tonwallet_rpc_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// registering twice in one registry is a programming error
	assert.Panics(t, func() { New(reg) })
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveBroadcast("self", OutcomeOK)
		m.ObserveSign("software", 0.1)
		m.ObserveRPC("signData", OutcomeRejected)
		m.ObserveBridgeEvent(OutcomeOK)
		m.ObserveReconnect()
		m.ObservePoll("confirmed")
	})
}
