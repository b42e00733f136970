package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the dialog runner.
type Metrics struct {
	ActiveDialogs     prometheus.Gauge
	Events            *prometheus.CounterVec
	SentActions       *prometheus.CounterVec
	AudioBytes        *prometheus.CounterVec
	Errors            *prometheus.CounterVec
	Closes            *prometheus.CounterVec
	FirstAudioLatency prometheus.Histogram

	registry *prometheus.Registry
}

// NewMetrics registers the instruments on a private registry.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	return &Metrics{
		ActiveDialogs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_dialogs",
			Help:      "Number of open dialog connections.",
		}),
		Events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound dialog events by type.",
		}, []string{"event"}),
		SentActions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sent_actions_total",
			Help:      "Outbound actions by name.",
		}, []string{"action"}),
		AudioBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Audio payload bytes by direction.",
		}, []string{"direction"}),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Dialog errors by kind.",
		}, []string{"kind"}),
		Closes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "closes_total",
			Help:      "Connection closes by close code.",
		}, []string{"code"}),
		FirstAudioLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_audio_latency_ms",
			Help:      "Latency from dialog start to first downstream audio chunk in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000, 5000},
		}),
		registry: reg,
	}
}

func (m *Metrics) ObserveFirstAudioLatency(d time.Duration) {
	m.FirstAudioLatency.Observe(float64(d.Milliseconds()))
}

// CountSent records an outbound action.
func (m *Metrics) CountSent(action string) {
	m.SentActions.WithLabelValues(action).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
