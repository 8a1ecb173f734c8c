package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Decision metrics
	AccessDecisions  *prometheus.CounterVec
	DecisionLatency  prometheus.Histogram
	EmergencyAccess  prometheus.Counter
	KillSwitchFlips  prometheus.Counter
	ConsentArtifacts *prometheus.CounterVec

	// Audit metrics
	AuditAppends      prometheus.Counter
	AuditAppendErrors prometheus.Counter

	// Outbox metrics
	OutboxEventsProcessed   prometheus.Counter
	OutboxEventsFailed      prometheus.Counter
	OutboxProcessingLatency prometheus.Histogram
	OutboxRetries           *prometheus.CounterVec
}

// NewMetrics creates and registers all application metrics
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		AccessDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_decisions_total",
			Help:      "Access decisions by outcome and reason",
		}, []string{"outcome", "reason"}),
		DecisionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "access_decision_duration_seconds",
			Help:      "Time spent evaluating access decisions",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		EmergencyAccess: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emergency_disclosures_total",
			Help:      "Total break-glass disclosures",
		}),
		KillSwitchFlips: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emergency_kill_switch_flips_total",
			Help:      "Total kill-switch state changes",
		}),
		ConsentArtifacts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consent_transitions_total",
			Help:      "Consent artifact transitions by target status",
		}, []string{"status"}),

		AuditAppends: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_appends_total",
			Help:      "Total audit records appended",
		}),
		AuditAppendErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_append_errors_total",
			Help:      "Total failed audit appends",
		}),

		OutboxEventsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_processed_total",
			Help:      "Total number of successfully processed outbox events",
		}),
		OutboxEventsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_failed_total",
			Help:      "Total number of failed outbox events",
		}),
		OutboxProcessingLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbox_processing_duration_seconds",
			Help:      "Time spent processing outbox events",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		OutboxRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_retry_attempts_total",
			Help:      "Total number of retry attempts for outbox events",
		}, []string{"event_type"}),
	}
}
