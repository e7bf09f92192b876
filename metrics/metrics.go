// Package metrics provides Prometheus metrics for the league service.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. All methods are safe on a nil receiver.
type Metrics struct {
	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	requestsInFlight   prometheus.Gauge
	configCacheHits    prometheus.Counter
	configCacheReloads *prometheus.CounterVec
	configReloadTime   prometheus.Histogram
	recomputeDuration  *prometheus.HistogramVec
	rankingGeneration  prometheus.Gauge
	boardErrors        *prometheus.CounterVec
	jobRuns            *prometheus.CounterVec
}

var globalMetrics *Metrics

// NewMetrics creates and registers the metrics once per process.
func NewMetrics() *Metrics {
	if globalMetrics != nil {
		return globalMetrics
	}

	globalMetrics = &Metrics{
		requestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "league_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "league_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),
		requestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "league_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),
		configCacheHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "league_config_cache_hits_total",
				Help: "Point table reads served from memory",
			},
		),
		configCacheReloads: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "league_config_cache_reloads_total",
				Help: "Point table loads from the database",
			},
			[]string{"result"},
		),
		configReloadTime: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "league_config_cache_reload_seconds",
				Help:    "Time spent loading point tables",
				Buckets: prometheus.DefBuckets,
			},
		),
		recomputeDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "league_ranking_recompute_seconds",
				Help:    "Time spent rebuilding rankings",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"mode"},
		),
		rankingGeneration: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "league_ranking_generation",
				Help: "Current ranking generation",
			},
		),
		boardErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "league_ranking_board_errors_total",
				Help: "Redis ranking board failures",
			},
			[]string{"op"},
		),
		jobRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "league_job_runs_total",
				Help: "Background job executions",
			},
			[]string{"job", "result"},
		),
	}

	return globalMetrics
}

func (m *Metrics) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) IncRequestsInFlight() {
	if m == nil {
		return
	}
	m.requestsInFlight.Inc()
}

func (m *Metrics) DecRequestsInFlight() {
	if m == nil {
		return
	}
	m.requestsInFlight.Dec()
}

func (m *Metrics) RecordConfigCacheHit() {
	if m == nil {
		return
	}
	m.configCacheHits.Inc()
}

func (m *Metrics) RecordConfigCacheReload(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.configCacheReloads.WithLabelValues(result(err)).Inc()
	m.configReloadTime.Observe(d.Seconds())
}

// RecordRecompute records a ranking rebuild; mode is "full" or "incremental".
func (m *Metrics) RecordRecompute(mode string, d time.Duration, generation int64) {
	if m == nil {
		return
	}
	m.recomputeDuration.WithLabelValues(mode).Observe(d.Seconds())
	m.rankingGeneration.Set(float64(generation))
}

func (m *Metrics) RecordBoardError(op string) {
	if m == nil {
		return
	}
	m.boardErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) RecordJob(job string, err error) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
