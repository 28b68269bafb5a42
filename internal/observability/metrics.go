package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nametransfer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nametransfer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	channelHandshakes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nametransfer",
			Subsystem: "channel",
			Name:      "handshakes_total",
			Help:      "Channel handshake steps by result.",
		},
		[]string{"step", "result"},
	)
	packetReceives = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nametransfer",
			Subsystem: "packet",
			Name:      "receives_total",
			Help:      "Received packets by message variant and acknowledgement kind.",
		},
		[]string{"variant", "ack"},
	)
	packetOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nametransfer",
			Subsystem: "packet",
			Name:      "outcomes_total",
			Help:      "Sender-side packet outcomes by variant, outcome and compensating action.",
		},
		[]string{"variant", "outcome", "action"},
	)
	instructions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nametransfer",
			Subsystem: "registry",
			Name:      "instructions_total",
			Help:      "Token registry instructions executed by the host.",
		},
		[]string{"chain", "op", "success"},
	)
	relayPending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "nametransfer",
			Subsystem: "relay",
			Name:      "pending_packets",
			Help:      "Packets sent and not yet acknowledged or timed out.",
		},
		[]string{"chain"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			channelHandshakes,
			packetReceives,
			packetOutcomes,
			instructions,
			relayPending,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordHandshake(step, result string) {
	RegisterMetrics()
	channelHandshakes.WithLabelValues(step, result).Inc()
}

func RecordReceive(variant, ack string) {
	RegisterMetrics()
	packetReceives.WithLabelValues(variant, ack).Inc()
}

func RecordOutcome(variant, outcome, action string) {
	RegisterMetrics()
	packetOutcomes.WithLabelValues(variant, outcome, action).Inc()
}

func RecordInstruction(chain, op string, success bool) {
	RegisterMetrics()
	instructions.WithLabelValues(chain, op, strconv.FormatBool(success)).Inc()
}

func SetRelayPending(chain string, n int) {
	RegisterMetrics()
	relayPending.WithLabelValues(chain).Set(float64(n))
}
