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
			Namespace: "armctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "armctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	armCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "armctl",
			Subsystem: "arm",
			Name:      "commands_total",
			Help:      "Servo commands processed, by outcome.",
		},
		[]string{"channel", "op", "result"},
	)
	armTimeoutStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "armctl",
			Subsystem: "arm",
			Name:      "timeout_stops_total",
			Help:      "Watchdog-forced channel stops.",
		},
		[]string{"channel"},
	)
	armEmergencyStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "armctl",
			Subsystem: "arm",
			Name:      "emergency_stops_total",
			Help:      "Emergency stop activations, by trigger source.",
		},
		[]string{"source"},
	)
	armHardwareFaults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "armctl",
			Subsystem: "arm",
			Name:      "hardware_faults_total",
			Help:      "Actuation failures that latched a channel fault.",
		},
		[]string{"channel"},
	)
	armChannelsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "armctl",
			Subsystem: "arm",
			Name:      "channels_running",
			Help:      "Channels currently in the running state.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			armCommands,
			armTimeoutStops,
			armEmergencyStops,
			armHardwareFaults,
			armChannelsRunning,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordCommand(channel, op, result string) {
	RegisterMetrics()
	armCommands.WithLabelValues(channel, op, result).Inc()
}

func RecordTimeoutStop(channel string) {
	RegisterMetrics()
	armTimeoutStops.WithLabelValues(channel).Inc()
}

func RecordEmergencyStop(source string) {
	RegisterMetrics()
	armEmergencyStops.WithLabelValues(source).Inc()
}

func RecordHardwareFault(channel string) {
	RegisterMetrics()
	armHardwareFaults.WithLabelValues(channel).Inc()
}

func SetChannelsRunning(n int) {
	RegisterMetrics()
	armChannelsRunning.Set(float64(n))
}
