// Package metrics holds the Prometheus collectors for upstream requests,
// parsed rows, fetch outcomes and harvest runs. A nil *Metrics records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "netztransparenz"

type Metrics struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	retries         prometheus.Counter
	rows            *prometheus.CounterVec
	fetches         *prometheus.CounterVec
	subRanges       *prometheus.HistogramVec
	harvests        *prometheus.CounterVec
	lastHarvest     *prometheus.GaugeVec
}

// New registers all collectors, including the Go and process collectors, on a
// fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Upstream HTTP requests by status code, 0 for transport failures.",
		}, []string{"code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Latency of upstream HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"code"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_retries_total",
			Help:      "Upstream HTTP requests that were retried.",
		}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parsed_rows_total",
			Help:      "Rows parsed from upstream payloads.",
		}, []string{"endpoint"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Completed fetches by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		subRanges: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_sub_ranges",
			Help:      "Number of sub-ranges a fetch was split into.",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
		}, []string{"endpoint"}),
		harvests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "harvest_runs_total",
			Help:      "Scheduled harvest runs by job and outcome.",
		}, []string{"job", "outcome"}),
		lastHarvest: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "harvest_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful harvest per job.",
		}, []string{"job"}),
	}
	m.registry.MustRegister(
		m.requests, m.requestDuration, m.retries, m.rows, m.fetches, m.subRanges,
		m.harvests, m.lastHarvest,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveRequest(status int, d time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.requests.WithLabelValues(code).Inc()
	m.requestDuration.WithLabelValues(code).Observe(d.Seconds())
}

func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) AddRows(endpoint string, n int) {
	if m == nil {
		return
	}
	m.rows.WithLabelValues(endpoint).Add(float64(n))
}

func (m *Metrics) ObserveFetch(endpoint, outcome string, subRanges int) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(endpoint, outcome).Inc()
	if subRanges > 0 {
		m.subRanges.WithLabelValues(endpoint).Observe(float64(subRanges))
	}
}

func (m *Metrics) ObserveHarvest(job string, err error, at time.Time) {
	if m == nil {
		return
	}
	if err != nil {
		m.harvests.WithLabelValues(job, "error").Inc()
		return
	}
	m.harvests.WithLabelValues(job, "ok").Inc()
	m.lastHarvest.WithLabelValues(job).Set(float64(at.Unix()))
}
