package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tonwallet"

// Outcome labels
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeCanceled = "canceled"
	OutcomeRejected = "rejected"
)

// Metrics groups the collectors of the wallet core. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Broadcasts       *prometheus.CounterVec
	SignDuration     *prometheus.HistogramVec
	RPCRequests      *prometheus.CounterVec
	BridgeEvents     *prometheus.CounterVec
	BridgeReconnects prometheus.Counter
	RelayPolls       *prometheus.CounterVec
}

// New creates the collectors and registers them in reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Broadcasts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "broadcasts_total",
				Help:      "Sends by fee payment strategy and outcome.",
			},
			[]string{"strategy", "outcome"},
		),
		SignDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sign_duration_seconds",
				Help:      "Time spent waiting for a signer.",
				Buckets:   []float64{0.01, 0.1, 1, 5, 15, 60, 180},
			},
			[]string{"kind"},
		),
		RPCRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rpc_requests_total",
				Help:      "dApp requests by method and outcome.",
			},
			[]string{"method", "outcome"},
		),
		BridgeEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bridge_events_total",
				Help:      "Bridge events received by outcome.",
			},
			[]string{"outcome"},
		),
		BridgeReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bridge_reconnects_total",
				Help:      "Bridge event stream reconnects.",
			},
		),
		RelayPolls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "twofa_polls_total",
				Help:      "2FA confirmation polls by final status.",
			},
			[]string{"status"},
		),
	}

	reg.MustRegister(m.Broadcasts, m.SignDuration, m.RPCRequests, m.BridgeEvents, m.BridgeReconnects, m.RelayPolls)
	return m
}

func (m *Metrics) ObserveBroadcast(strategy, outcome string) {
	if m == nil {
		return
	}
	m.Broadcasts.WithLabelValues(strategy, outcome).Inc()
}

func (m *Metrics) ObserveSign(kind string, seconds float64) {
	if m == nil {
		return
	}
	m.SignDuration.WithLabelValues(kind).Observe(seconds)
}

func (m *Metrics) ObserveRPC(method, outcome string) {
	if m == nil {
		return
	}
	m.RPCRequests.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) ObserveBridgeEvent(outcome string) {
	if m == nil {
		return
	}
	m.BridgeEvents.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveReconnect() {
	if m == nil {
		return
	}
	m.BridgeReconnects.Inc()
}

func (m *Metrics) ObservePoll(status string) {
	if m == nil {
		return
	}
	m.RelayPolls.WithLabelValues(status).Inc()
}
