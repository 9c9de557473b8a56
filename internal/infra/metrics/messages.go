package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		messagesTotal,
		messageReplaysTotal,
		messageLatencyMs,
	)
}

var (
	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ostrid_messages_total",
			Help: "Protocol messages routed, by action and result (accepted/rejected/deferred).",
		},
		[]string{"action", "result"},
	)

	messageReplaysTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ostrid_message_replays_total",
			Help: "Messages answered from the replay store without re-execution.",
		},
	)

	messageLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ostrid_message_latency_ms",
			Help:    "Message handling latency distribution in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 200, 400, 800, 1600},
		},
		[]string{"action"},
	)
)

func IncMessage(action, result string) {
	messagesTotal.WithLabelValues(norm(action), norm(result)).Inc()
}

func IncMessageReplay() { messageReplaysTotal.Inc() }

func ObserveMessageLatency(action string, ms float64) {
	messageLatencyMs.WithLabelValues(norm(action)).Observe(ms)
}
