package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "speechway"

// ResultSuccess labels calls that returned audio. Failed calls are labelled
// with their error kind.
const ResultSuccess = "success"

// Metrics holds the collectors for upstream speech calls. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inputCharacters *prometheus.CounterVec
	audioBytes      *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "speech_requests_total",
				Help:      "Number of upstream speech requests by provider and result",
			},
			[]string{"provider", "result"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "speech_request_duration_seconds",
				Help:      "Duration of upstream speech requests",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider"},
		),
		inputCharacters: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "speech_input_characters_total",
				Help:      "Number of input characters sent for synthesis",
			},
			[]string{"provider"},
		),
		audioBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "speech_audio_bytes_total",
				Help:      "Number of audio bytes returned by providers",
			},
			[]string{"provider"},
		),
		rateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_requests_total",
				Help:      "Number of gateway requests rejected by the rate limiter",
			},
			[]string{"policy"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestsTotal,
		m.requestDuration,
		m.inputCharacters,
		m.audioBytes,
		m.rateLimited,
	)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}

	return m.registry
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveSpeech(provider string, result string, duration time.Duration) {
	if m == nil {
		return
	}

	m.requestsTotal.WithLabelValues(provider, result).Inc()
	m.requestDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func (m *Metrics) AddUsage(provider string, inputCharacters uint64, audioBytes int) {
	if m == nil {
		return
	}

	m.inputCharacters.WithLabelValues(provider).Add(float64(inputCharacters))
	m.audioBytes.WithLabelValues(provider).Add(float64(audioBytes))
}

func (m *Metrics) IncRateLimited(policy string) {
	if m == nil {
		return
	}

	m.rateLimited.WithLabelValues(policy).Inc()
}
