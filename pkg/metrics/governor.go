package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GovernorMetrics mirrors the rate governor state per downstream service.
type GovernorMetrics struct {
	delay   *prometheus.GaugeVec
	circuit *prometheus.GaugeVec
	tokens  *prometheus.GaugeVec
}

func NewGovernorMetrics(reg prometheus.Registerer) *GovernorMetrics {
	if reg == nil {
		return &GovernorMetrics{}
	}
	delay := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "governor_delay_seconds",
		Help:      "Current inter-call delay per downstream service.",
	}, []string{"service"})
	circuit := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "governor_circuit_state",
		Help:      "Circuit state per downstream service (0 closed, 1 half-open, 2 open).",
	}, []string{"service"})
	tokens := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "governor_tokens",
		Help:      "Tokens left in the bucket per downstream service.",
	}, []string{"service"})
	reg.MustRegister(delay, circuit, tokens)
	return &GovernorMetrics{delay: delay, circuit: circuit, tokens: tokens}
}

func (m *GovernorMetrics) SetDelay(service string, delay time.Duration) {
	if m == nil || m.delay == nil {
		return
	}
	m.delay.WithLabelValues(normalizeLabel(service)).Set(delay.Seconds())
}

func (m *GovernorMetrics) SetCircuit(service string, state float64) {
	if m == nil || m.circuit == nil {
		return
	}
	m.circuit.WithLabelValues(normalizeLabel(service)).Set(state)
}

func (m *GovernorMetrics) SetTokens(service string, tokens float64) {
	if m == nil || m.tokens == nil {
		return
	}
	m.tokens.WithLabelValues(normalizeLabel(service)).Set(tokens)
}
