package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RecordsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routing_records_processed_total",
			Help: "Total number of records processed by the dispatcher (count)",
		},
		[]string{"status", "dry_run"},
	)

	ProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "routing_processing_duration_ms",
			Help:    "Per-record processing duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"status"},
	)

	RuleEvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routing_rule_evaluations_total",
			Help: "Total number of rule condition evaluations (count)",
		},
		[]string{"rule_name", "result"},
	)

	ActiveRules = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "routing_active_rules",
			Help: "Number of enabled routing rules (count)",
		},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routing_deliveries_total",
			Help: "Total number of delivery attempts per queue (count)",
		},
		[]string{"queue", "backend", "status"},
	)

	DeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "routing_delivery_duration_ms",
			Help:    "Duration of queue sends in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
		[]string{"queue", "backend"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "target"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of inbound messages sent to DLQ (count)",
		},
		[]string{"service", "topic", "reason"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaReadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_read_duration_ms",
			Help:    "Duration of reading messages from Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
	)

	IntakeRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_records_total",
			Help: "Total number of records read from intake sources (count)",
		},
		[]string{"source", "status"},
	)

	DedupChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_checks_total",
			Help: "Total number of duplicate checks by outcome (count)",
		},
		[]string{"status"},
	)

	DedupCheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dedup_check_duration_ms",
			Help:    "Duration of duplicate checks in milliseconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250},
		},
		[]string{"status"},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_usage_total",
			Help: "Total number of times a component fell back after a dependency error (count)",
		},
		[]string{"component", "policy"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"operation"},
	)
)

var registerOnce sync.Once

// Register adds every collector to the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RecordsProcessedTotal,
			ProcessingDuration,
			RuleEvaluationsTotal,
			ActiveRules,
			DeliveriesTotal,
			DeliveryDuration,
			RetryAttemptsTotal,
			DLQMessagesTotal,
			CircuitBreakerState,
			CircuitBreakerRequests,
			CircuitBreakerFailures,
			RateLimitRequestsTotal,
			KafkaMessagesReadTotal,
			KafkaReadDuration,
			IntakeRecordsTotal,
			DedupChecksTotal,
			DedupCheckDuration,
			FallbackUsageTotal,
			DatabaseQueryDuration,
		)
	})
}

func statusLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func ObserveRecordProcessed(duration time.Duration, success, dryRun bool) {
	status := statusLabel(success)
	dry := "false"
	if dryRun {
		dry = "true"
	}
	RecordsProcessedTotal.WithLabelValues(status, dry).Inc()
	ProcessingDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

// IncRuleEvaluation records one evaluation; result is "match", "no_match" or "error".
func IncRuleEvaluation(ruleName, result string) {
	RuleEvaluationsTotal.WithLabelValues(ruleName, result).Inc()
}

func SetActiveRules(count int) {
	ActiveRules.Set(float64(count))
}

func ObserveDelivery(queue, backend string, duration time.Duration, err error) {
	DeliveriesTotal.WithLabelValues(queue, backend, statusLabel(err == nil)).Inc()
	DeliveryDuration.WithLabelValues(queue, backend).Observe(float64(duration.Milliseconds()))
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func ObserveKafkaReadDuration(service, topic string, duration time.Duration) {
	KafkaReadDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}

func IncIntakeRecords(source string, ok bool) {
	IntakeRecordsTotal.WithLabelValues(source, statusLabel(ok)).Inc()
}

func ObserveDatabaseQuery(operation string, duration time.Duration) {
	DatabaseQueryDuration.WithLabelValues(operation).Observe(float64(duration.Milliseconds()))
}

func ObserveDedupCheck(status string, duration time.Duration) {
	DedupChecksTotal.WithLabelValues(status).Inc()
	DedupCheckDuration.WithLabelValues(status).Observe(float64(duration.Microseconds()) / 1000)
}
