package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Session event labels
const (
	EventConnected     = "connected"
	EventConnectFailed = "connect_failed"
	EventError         = "error"
	EventClose         = "close"
)

// Metrics groups all Prometheus instruments used by the relay.
type Metrics struct {
	registry *prometheus.Registry

	ActiveSessions prometheus.Gauge
	SessionEvents  *prometheus.CounterVec
	MediaFrames    *prometheus.CounterVec
	ConnectLatency prometheus.Histogram
}

// NewMetrics registers the relay instruments plus Go runtime and process collectors
// on a fresh registry.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of calls currently bridged to the realtime service.",
		}),
		SessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Realtime session lifecycle events by type.",
		}, []string{"event"}),
		MediaFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_frames_total",
			Help:      "Twilio Media Streams frames by direction and event.",
		}, []string{"direction", "event"}),
		ConnectLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connect_latency_ms",
			Help:      "Time to complete the realtime handshake in milliseconds.",
			Buckets:   []float64{50, 100, 200, 300, 500, 750, 1000, 2000, 5000},
		}),
	}
}

func (m *Metrics) ObserveConnectLatency(d time.Duration) {
	m.ConnectLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
