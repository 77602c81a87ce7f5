package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/relaychat/internal/protocol"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relaychat",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "relaychat",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	linkPackets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relaychat",
			Subsystem: "link",
			Name:      "packets_total",
			Help:      "Packets sent and received over links, by outcome.",
		},
		[]string{"node", "direction", "result"},
	)
	linkHandshakes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relaychat",
			Subsystem: "link",
			Name:      "handshakes_total",
			Help:      "Channel handshakes by outcome.",
		},
		[]string{"node", "result"},
	)
	linkChannels = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "relaychat",
			Subsystem: "link",
			Name:      "channels_open",
			Help:      "Channels currently open on this node.",
		},
		[]string{"node"},
	)
	contractCallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relaychat",
			Subsystem: "contract",
			Name:      "callbacks_total",
			Help:      "Contract callbacks by name and error class.",
		},
		[]string{"node", "callback", "class"},
	)
	messagesLogged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relaychat",
			Subsystem: "chat",
			Name:      "messages_logged_total",
			Help:      "Messages appended to the local log, by origin network.",
		},
		[]string{"node", "origin"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			linkPackets,
			linkHandshakes,
			linkChannels,
			contractCallbacks,
			messagesLogged,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordPacket counts one packet. direction is "sent" or "received";
// result is "ok", "error" or "timeout".
func RecordPacket(node, direction, result string) {
	RegisterMetrics()
	linkPackets.WithLabelValues(node, direction, result).Inc()
}

func RecordHandshake(node string, err error) {
	RegisterMetrics()
	result := "ok"
	if err != nil {
		result = string(protocol.Classify(err))
	}
	linkHandshakes.WithLabelValues(node, result).Inc()
}

func SetOpenChannels(node string, n int) {
	RegisterMetrics()
	linkChannels.WithLabelValues(node).Set(float64(n))
}

// RecordCallback counts one contract callback; a nil err is class "ok".
func RecordCallback(node, callback string, err error) {
	RegisterMetrics()
	class := "ok"
	if err != nil {
		class = string(protocol.Classify(err))
	}
	contractCallbacks.WithLabelValues(node, callback, class).Inc()
}

func RecordMessageLogged(node, origin string) {
	RegisterMetrics()
	messagesLogged.WithLabelValues(node, origin).Inc()
}
