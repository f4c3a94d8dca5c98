package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "a2a"

var (
	registry = prometheus.NewRegistry()

	rpcRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "Total number of JSON-RPC requests by method",
		},
		[]string{"method", "status"}, // status: success, error
	)

	rpcRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_request_duration_seconds",
			Help:      "Histogram of JSON-RPC request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	taskTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_transitions_total",
			Help:      "Total number of task status transitions by resulting state",
		},
		[]string{"state"},
	)

	streamSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_subscribers",
			Help:      "Number of currently connected SSE subscribers",
		},
	)

	streamConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_connections_total",
			Help:      "Total number of SSE connection attempts",
		},
		[]string{"status"}, // status: success, failed
	)

	streamReconnectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_reconnections_total",
			Help:      "Total number of SSE reconnection attempts",
		},
	)

	streamEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_events_total",
			Help:      "Total number of SSE events by delivery outcome",
		},
		[]string{"status"}, // status: delivered, dropped
	)

	streamEventLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_event_latency_seconds",
			Help:      "Latency between event production and delivery in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	pushDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_deliveries_total",
			Help:      "Total number of push notification deliveries",
		},
		[]string{"status"}, // status: success, failed
	)

	pushRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_retries_total",
			Help:      "Total number of push notification retry attempts",
		},
	)

	knowledgeOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "knowledge_operations_total",
			Help:      "Total number of knowledge graph operations",
		},
		[]string{"operation", "status"}, // operation: query, update, subscribe
	)

	knowledgeStatements = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "knowledge_statements",
			Help:      "Number of statements currently held in the knowledge graph",
		},
	)

	allMetrics = []prometheus.Collector{
		rpcRequestsTotal,
		rpcRequestDuration,
		taskTransitionsTotal,
		streamSubscribers,
		streamConnectionsTotal,
		streamReconnectionsTotal,
		streamEventsTotal,
		streamEventLatency,
		pushDeliveriesTotal,
		pushRetriesTotal,
		knowledgeOpsTotal,
		knowledgeStatements,
	}
)

func init() {
	registry.MustRegister(allMetrics...)
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Registry returns the registry all collectors are registered on.
func Registry() *prometheus.Registry {
	return registry
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// RecordRequest records a completed JSON-RPC request.
func RecordRequest(method, status string, durationSeconds float64) {
	rpcRequestsTotal.WithLabelValues(method, status).Inc()
	rpcRequestDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordTaskTransition records a task entering the given state.
func RecordTaskTransition(state string) {
	taskTransitionsTotal.WithLabelValues(state).Inc()
}

// RecordSubscriberAdded records a new SSE subscriber attaching.
func RecordSubscriberAdded() {
	streamSubscribers.Inc()
}

// RecordSubscriberRemoved records an SSE subscriber detaching.
func RecordSubscriberRemoved() {
	streamSubscribers.Dec()
}

// RecordPushDelivery records the final outcome of a push delivery,
// counting every attempt beyond the first as a retry.
func RecordPushDelivery(success bool, attempts int) {
	status := "success"
	if !success {
		status = "failed"
	}

	pushDeliveriesTotal.WithLabelValues(status).Inc()

	if attempts > 1 {
		pushRetriesTotal.Add(float64(attempts - 1))
	}
}

// RecordKnowledgeOp records a knowledge graph operation.
func RecordKnowledgeOp(operation string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}

	knowledgeOpsTotal.WithLabelValues(operation, status).Inc()
}

// SetKnowledgeStatements updates the statement count gauge.
func SetKnowledgeStatements(count int) {
	knowledgeStatements.Set(float64(count))
}
