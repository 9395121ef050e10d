package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce        sync.Once
	httpRequestsTotal   *prometheus.CounterVec
	httpLatencySeconds  *prometheus.HistogramVec
	chatConnections     prometheus.Gauge
	chatMessagesSent    *prometheus.CounterVec
	chatMessagesDeleted *prometheus.CounterVec
	typingWrites        *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the gateway.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total number of HTTP requests served by the chat gateway.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chat_http_latency_seconds",
			Help:    "Latency distribution for chat gateway HTTP requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		chatConnections = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_ws_connections",
			Help: "Number of open chat websocket connections.",
		})

		chatMessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Messages written to the store, by result.",
		}, []string{"result"})

		chatMessagesDeleted = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_messages_deleted_total",
			Help: "Message delete attempts, by result.",
		}, []string{"result"})

		typingWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_typing_writes_total",
			Help: "Typing signal upserts, by reason and result.",
		}, []string{"reason", "result"})

		prometheus.MustRegister(httpRequestsTotal, httpLatencySeconds, chatConnections, chatMessagesSent, chatMessagesDeleted, typingWrites)
	})
}

// HTTPRequests exposes the request counter.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the request latency histogram.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// ChatConnections exposes the open websocket gauge.
func ChatConnections() prometheus.Gauge {
	RegisterMetrics()
	return chatConnections
}

// ChatMessagesSent exposes the message send counter.
func ChatMessagesSent() *prometheus.CounterVec {
	RegisterMetrics()
	return chatMessagesSent
}

// ChatMessagesDeleted exposes the message delete counter.
func ChatMessagesDeleted() *prometheus.CounterVec {
	RegisterMetrics()
	return chatMessagesDeleted
}

// TypingWrites exposes the typing signal write counter.
func TypingWrites() *prometheus.CounterVec {
	RegisterMetrics()
	return typingWrites
}
