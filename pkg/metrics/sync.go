package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics counts inbound webhook deliveries by topic and outcome.
type WebhookMetrics struct {
	outcomes *prometheus.CounterVec
}

func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_events_total",
		Help:      "Inbound webhook deliveries by topic and outcome.",
	}, []string{"topic", "outcome"})
	reg.MustRegister(outcomes)
	return &WebhookMetrics{outcomes: outcomes}
}

func (m *WebhookMetrics) Observe(topic, outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(topic), normalizeLabel(outcome)).Inc()
}

// SyncMetrics counts outbound sync queue results by action.
type SyncMetrics struct {
	results *prometheus.CounterVec
}

func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	if reg == nil {
		return &SyncMetrics{}
	}
	results := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_queue_results_total",
		Help:      "Outbound sync attempts by action and result.",
	}, []string{"action", "result"})
	reg.MustRegister(results)
	return &SyncMetrics{results: results}
}

func (m *SyncMetrics) Observe(action, result string) {
	if m == nil || m.results == nil {
		return
	}
	m.results.WithLabelValues(normalizeLabel(action), normalizeLabel(result)).Inc()
}

// RetryJobMetrics counts retry job executions by type and result.
type RetryJobMetrics struct {
	results *prometheus.CounterVec
}

func NewRetryJobMetrics(reg prometheus.Registerer) *RetryJobMetrics {
	if reg == nil {
		return &RetryJobMetrics{}
	}
	results := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retry_job_results_total",
		Help:      "Retry job executions by job type and result.",
	}, []string{"job_type", "result"})
	reg.MustRegister(results)
	return &RetryJobMetrics{results: results}
}

func (m *RetryJobMetrics) Observe(jobType, result string) {
	if m == nil || m.results == nil {
		return
	}
	m.results.WithLabelValues(normalizeLabel(jobType), normalizeLabel(result)).Inc()
}
