package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the client. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Requests        *prometheus.CounterVec
	Attempts        *prometheus.CounterVec
	Retries         prometheus.Counter
	Envelopes       *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Reconnects      *prometheus.CounterVec

	SpeechItems    *prometheus.CounterVec
	SpeechRestarts prometheus.Counter
	SpeechPending  prometheus.Gauge

	BotMessages *prometheus.CounterVec
}

// NewMetrics builds the instruments on a private registry so that several
// instances can coexist in one process (tests, multiple servers).
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_requests_total",
			Help:      "Inference requests submitted by kind.",
		}, []string{"kind"}),
		Attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_attempts_total",
			Help:      "Backend attempts by request kind.",
		}, []string{"kind"}),
		Retries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_retries_total",
			Help:      "Retries triggered by transient backend errors.",
		}),
		Envelopes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_envelopes_total",
			Help:      "Result envelopes delivered by kind.",
		}, []string{"kind"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_request_seconds",
			Help:      "Wall time from submission to envelope.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"kind"}),
		Reconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_reconnects_total",
			Help:      "Backend handle rebuilds by outcome.",
		}, []string{"outcome"}),
		SpeechItems: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_items_total",
			Help:      "Speech items by event.",
		}, []string{"event"}),
		SpeechRestarts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_engine_restarts_total",
			Help:      "Speech engine rebuilds after a failure.",
		}),
		SpeechPending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "speech_pending",
			Help:      "Items waiting in the speech backlog.",
		}),
		BotMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bot_messages_total",
			Help:      "Bot bridge messages by outcome.",
		}, []string{"outcome"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RequestSubmitted(kind string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(kind).Inc()
}

func (m *Metrics) AttemptMade(kind string) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(kind).Inc()
}

func (m *Metrics) RetryScheduled() {
	if m == nil {
		return
	}
	m.Retries.Inc()
}

func (m *Metrics) EnvelopeDelivered(kind string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Envelopes.WithLabelValues(kind).Inc()
	m.RequestDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (m *Metrics) Reconnected(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.Reconnects.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SpeechEvent(event string) {
	if m == nil {
		return
	}
	m.SpeechItems.WithLabelValues(event).Inc()
}

func (m *Metrics) SpeechRestarted() {
	if m == nil {
		return
	}
	m.SpeechRestarts.Inc()
}

func (m *Metrics) SetSpeechPending(n int) {
	if m == nil {
		return
	}
	m.SpeechPending.Set(float64(n))
}

func (m *Metrics) BotMessage(outcome string) {
	if m == nil {
		return
	}
	m.BotMessages.WithLabelValues(outcome).Inc()
}
