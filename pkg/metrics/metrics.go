package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	FilteringMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filtering_messages_total",
			Help: "Total number of messages processed by the filter pipeline (count)",
		},
		[]string{"subscription", "outcome"},
	)

	FilteringProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filtering_processing_duration_ms",
			Help:    "Filter pipeline decision duration in milliseconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50},
		},
		[]string{"outcome"},
	)

	FilteringActiveSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "filtering_active_subscriptions",
			Help: "Number of registered filtered subscriptions (count)",
		},
	)

	FilteringCompileErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filtering_compile_errors_total",
			Help: "Total number of filter specifications rejected at compile time (count)",
		},
		[]string{"engine"},
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
			Help: "Total number of messages sent to DLQ (count)",
		},
		[]string{"service", "topic", "reason"},
	)

	BrokerMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_messages_read_total",
			Help: "Total number of messages read from a source (count)",
		},
		[]string{"source", "target"},
	)

	BrokerMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_messages_written_total",
			Help: "Total number of messages written to a sink (count)",
		},
		[]string{"sink", "target"},
	)

	BrokerMessageSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broker_message_size_bytes",
			Help:    "Size of broker messages in bytes",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000},
		},
		[]string{"kind", "target", "direction"},
	)

	BrokerWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broker_write_duration_ms",
			Help:    "Duration of writing messages to a sink in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"sink", "target"},
	)

	KafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag (difference between latest offset and committed offset) (count)",
		},
		[]string{"topic", "partition"},
	)

	WebSocketReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_reconnects_total",
			Help: "Total number of websocket reconnect attempts (count)",
		},
		[]string{"path"},
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
)

var registerOnce sync.Once

// RegisterAll registers every collector with the default registry. Safe to
// call more than once.
func RegisterAll() {
	registerOnce.Do(func() {
		RegisterFilteringMetrics()
		RegisterBrokerMetrics()
		RegisterCircuitBreakerMetrics()
		RegisterAPIMetrics()
	})
}

func RegisterFilteringMetrics() {
	prometheus.MustRegister(FilteringMessagesTotal)
	prometheus.MustRegister(FilteringProcessingDuration)
	prometheus.MustRegister(FilteringActiveSubscriptions)
	prometheus.MustRegister(FilteringCompileErrorsTotal)
}

func RegisterBrokerMetrics() {
	prometheus.MustRegister(RetryAttemptsTotal)
	prometheus.MustRegister(DLQMessagesTotal)
	prometheus.MustRegister(BrokerMessagesReadTotal)
	prometheus.MustRegister(BrokerMessagesWrittenTotal)
	prometheus.MustRegister(BrokerMessageSizeBytes)
	prometheus.MustRegister(BrokerWriteDuration)
	prometheus.MustRegister(KafkaConsumerLag)
	prometheus.MustRegister(WebSocketReconnectsTotal)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func RegisterAPIMetrics() {
	prometheus.MustRegister(RateLimitRequestsTotal)
}

func IncFilteringOutcome(subscription, outcome string) {
	FilteringMessagesTotal.WithLabelValues(subscription, outcome).Inc()
}

// ObserveFilteringDuration records sub-millisecond precision; pipeline
// decisions are usually far below one millisecond.
func ObserveFilteringDuration(duration time.Duration, outcome string) {
	FilteringProcessingDuration.WithLabelValues(outcome).Observe(float64(duration.Microseconds()) / 1000)
}

func SetFilteringActiveSubscriptions(count int) {
	FilteringActiveSubscriptions.Set(float64(count))
}

func IncFilteringCompileError(engine string) {
	FilteringCompileErrorsTotal.WithLabelValues(engine).Inc()
}

func IncBrokerMessagesRead(source, target string) {
	BrokerMessagesReadTotal.WithLabelValues(source, target).Inc()
}

func IncBrokerMessagesWritten(sink, target string) {
	BrokerMessagesWrittenTotal.WithLabelValues(sink, target).Inc()
}

func ObserveBrokerMessageSize(kind, target, direction string, sizeBytes int) {
	BrokerMessageSizeBytes.WithLabelValues(kind, target, direction).Observe(float64(sizeBytes))
}

func ObserveBrokerWriteDuration(sink, target string, duration time.Duration) {
	BrokerWriteDuration.WithLabelValues(sink, target).Observe(float64(duration.Milliseconds()))
}

func SetKafkaConsumerLag(topic string, partition int, lag int64) {
	KafkaConsumerLag.WithLabelValues(topic, fmt.Sprintf("%d", partition)).Set(float64(lag))
}

func IncWebSocketReconnect(path string) {
	WebSocketReconnectsTotal.WithLabelValues(path).Inc()
}
