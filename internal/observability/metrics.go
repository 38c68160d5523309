package observability

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "daemon_console"

// Metrics exports tick, token and request counters to Prometheus.
type Metrics struct {
	registry *prometheus.Registry

	ticksTotal      *prometheus.CounterVec
	tickDuration    prometheus.Histogram
	tokensTotal     *prometheus.CounterVec
	requestsTotal   *prometheus.CounterVec
	requestDuration prometheus.Histogram
	lastSuccess     prometheus.Gauge
}

// NewMetrics creates the collectors on a private registry, alongside the
// Go runtime and process collectors.
func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ticksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Poll ticks by result",
		}, []string{"result"}), // result: ok|failed|skipped
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of a poll tick, token included",
			Buckets:   prometheus.DefBuckets,
		}),
		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_acquisitions_total",
			Help:      "Token acquisitions by source",
		}, []string{"source"}), // source: cache|provider|error
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Protected API requests by status code",
		}, []string{"status"}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "Latency of protected API requests",
			Buckets:   prometheus.DefBuckets,
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful tick",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.ticksTotal, m.tickDuration, m.tokensTotal, m.requestsTotal, m.requestDuration, m.lastSuccess,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := register(m.registry, c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func register(reg prometheus.Registerer, c prometheus.Collector) error {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return err
		}
	}
	return nil
}

// Gatherer exposes the registry, mostly for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTick records a finished tick.
func (m *Metrics) ObserveTick(t TickMetrics) {
	result := "ok"
	switch {
	case t.Skipped:
		result = "skipped"
	case t.Error != nil:
		result = "failed"
	default:
		m.lastSuccess.Set(float64(time.Now().Unix()))
	}
	m.ticksTotal.WithLabelValues(result).Inc()
	if !t.Skipped {
		m.tickDuration.Observe(t.Duration.Seconds())
	}
}

// ObserveToken records a token acquisition.
func (m *Metrics) ObserveToken(t TokenMetrics) {
	source := "provider"
	switch {
	case t.Error != nil:
		source = "error"
	case t.FromCache:
		source = "cache"
	}
	m.tokensTotal.WithLabelValues(source).Inc()
}

// ObserveRequest records a protected API request.
func (m *Metrics) ObserveRequest(r RequestMetrics) {
	status := strconv.Itoa(r.StatusCode)
	if r.Error != nil && r.StatusCode == 0 {
		status = "error"
	}
	m.requestsTotal.WithLabelValues(status).Inc()
	m.requestDuration.Observe(r.Duration.Seconds())
}
