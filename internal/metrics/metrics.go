package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SessionMetrics instruments the wallet session. A nil *SessionMetrics is
// valid and records nothing.
type SessionMetrics struct {
	sends          *prometheus.CounterVec
	receives       *prometheus.CounterVec
	replacements   *prometheus.CounterVec
	riskScans      *prometheus.CounterVec
	gateDecisions  *prometheus.CounterVec
	commitLatency  *prometheus.HistogramVec
	pendingRisk    prometheus.Gauge
	idempotentHits prometheus.Counter
}

// New creates the session collectors and registers them with reg. A nil reg
// uses a private registry.
func New(reg prometheus.Registerer) *SessionMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &SessionMetrics{
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_sends_total",
			Help: "Outgoing transfers submitted by chain and kind.",
		}, []string{"chain", "kind"}),
		receives: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_receives_total",
			Help: "Incoming transfers ingested by chain and risk score.",
		}, []string{"chain", "risk"}),
		replacements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_replacements_total",
			Help: "Replace-by-fee transactions by reason.",
		}, []string{"reason"}),
		riskScans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_risk_scans_total",
			Help: "Address risk scans by outcome.",
		}, []string{"outcome"}),
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_gate_decisions_total",
			Help: "Outbound gate verdicts by action.",
		}, []string{"action"}),
		commitLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wallet_commit_seconds",
			Help:    "Time spent persisting a state change, by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		pendingRisk: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wallet_pending_risk_deposits",
			Help: "Flagged deposits awaiting a disposal decision across every wallet of the account.",
		}),
		idempotentHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wallet_idempotent_replays_total",
			Help: "Requests answered from the idempotency cache.",
		}),
	}
	reg.MustRegister(
		m.sends,
		m.receives,
		m.replacements,
		m.riskScans,
		m.gateDecisions,
		m.commitLatency,
		m.pendingRisk,
		m.idempotentHits,
	)
	return m
}

func (m *SessionMetrics) ObserveSend(chain, kind string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(orUnknown(chain), orUnknown(kind)).Inc()
}

func (m *SessionMetrics) ObserveReceive(chain, risk string) {
	if m == nil {
		return
	}
	m.receives.WithLabelValues(orUnknown(chain), orUnknown(risk)).Inc()
}

func (m *SessionMetrics) ObserveReplacement(reason string) {
	if m == nil {
		return
	}
	m.replacements.WithLabelValues(orUnknown(reason)).Inc()
}

// ObserveRiskScan counts a scan; outcome is the score, or "error"
func (m *SessionMetrics) ObserveRiskScan(outcome string) {
	if m == nil {
		return
	}
	m.riskScans.WithLabelValues(orUnknown(outcome)).Inc()
}

func (m *SessionMetrics) ObserveGate(action string) {
	if m == nil {
		return
	}
	m.gateDecisions.WithLabelValues(orUnknown(action)).Inc()
}

func (m *SessionMetrics) ObserveCommit(operation string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.commitLatency.WithLabelValues(orUnknown(operation)).Observe(elapsed.Seconds())
}

func (m *SessionMetrics) SetPendingRisk(count int) {
	if m == nil {
		return
	}
	m.pendingRisk.Set(float64(count))
}

func (m *SessionMetrics) ObserveIdempotentReplay() {
	if m == nil {
		return
	}
	m.idempotentHits.Inc()
}

func orUnknown(label string) string {
	if label == "" {
		return "unknown"
	}
	return label
}
