package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ntclient",
			Subsystem: "session",
			Name:      "frames_received_total",
			Help:      "Inbound frames by channel.",
		},
		[]string{"client", "channel"},
	)
	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ntclient",
			Subsystem: "session",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames or batch elements discarded, by reason.",
		},
		[]string{"client", "reason"},
	)
	controlMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ntclient",
			Subsystem: "control",
			Name:      "messages_total",
			Help:      "Control messages by direction and method.",
		},
		[]string{"client", "direction", "method"},
	)
	diagnostics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ntclient",
			Subsystem: "session",
			Name:      "diagnostics_total",
			Help:      "Reported non-fatal conditions by kind.",
		},
		[]string{"client", "kind"},
	)
	connectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ntclient",
			Subsystem: "session",
			Name:      "connect_attempts_total",
			Help:      "Connect attempts by outcome.",
		},
		[]string{"client", "success"},
	)
	connected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ntclient",
			Subsystem: "session",
			Name:      "connected",
			Help:      "1 while the session is connected.",
		},
		[]string{"client"},
	)
	clockRTT = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ntclient",
			Subsystem: "clock",
			Name:      "probe_rtt_seconds",
			Help:      "Time probe round trip in seconds.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"client"},
	)
	clockServerOffset = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ntclient",
			Subsystem: "clock",
			Name:      "server_offset_microseconds",
			Help:      "Estimated server clock minus local clock.",
		},
		[]string{"client"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesReceived, framesDropped, controlMessages, diagnostics,
			connectAttempts, connected, clockRTT, clockServerOffset,
		)
	})
}

func RecordFrameReceived(client, channel string) {
	RegisterMetrics()
	framesReceived.WithLabelValues(client, channel).Inc()
}

func RecordFrameDropped(client, reason string) {
	RegisterMetrics()
	framesDropped.WithLabelValues(client, reason).Inc()
}

func RecordControlMessage(client, direction, method string) {
	RegisterMetrics()
	controlMessages.WithLabelValues(client, direction, method).Inc()
}

func RecordDiagnostic(client, kind string) {
	RegisterMetrics()
	diagnostics.WithLabelValues(client, kind).Inc()
}

func RecordConnectAttempt(client string, success bool) {
	RegisterMetrics()
	connectAttempts.WithLabelValues(client, strconv.FormatBool(success)).Inc()
}

func SetConnected(client string, up bool) {
	RegisterMetrics()
	v := 0.0
	if up {
		v = 1
	}
	connected.WithLabelValues(client).Set(v)
}

func RecordClockSample(client string, rtt time.Duration, serverOffsetMicros int64) {
	RegisterMetrics()
	clockRTT.WithLabelValues(client).Observe(rtt.Seconds())
	clockServerOffset.WithLabelValues(client).Set(float64(serverOffsetMicros))
}
