// Package metrics exposes Prometheus collectors for the lead pipeline.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Unit outcomes recorded by ObserveUnit.
const (
	UnitCompleted = "completed"
	UnitExhausted = "exhausted"
	UnitAborted   = "aborted"
)

var (
	unitsTotal              *prometheus.CounterVec
	unitAttemptsTotal       *prometheus.CounterVec
	leadsTotal              *prometheus.CounterVec
	checkpointFailuresTotal *prometheus.CounterVec
	dispatchTotal           *prometheus.CounterVec
	dispatchSentToday       prometheus.Gauge
	rateLimitDelaySeconds   *prometheus.HistogramVec
	httpRequestsTotal       *prometheus.CounterVec
	httpRequestDuration     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times. Observe helpers are
// no-ops until Init has run.
func Init() {
	once.Do(func() {
		unitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadcrawler_units_total",
				Help: "Work units finished, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		unitAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadcrawler_unit_attempts_total",
				Help: "Unit attempts, labeled by source and result.",
			},
			[]string{"source", "result"},
		)

		leadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadcrawler_leads_total",
				Help: "Leads extracted, labeled by source.",
			},
			[]string{"source"},
		)

		checkpointFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadcrawler_checkpoint_failures_total",
				Help: "Checkpoint and artifact write failures, labeled by operation.",
			},
			[]string{"op"},
		)

		dispatchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadcrawler_dispatch_total",
				Help: "Dispatch classifications, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		dispatchSentToday = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "leadcrawler_dispatch_sent_today",
				Help: "Messages sent against the current daily quota.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leadcrawler_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadcrawler_http_requests_total",
				Help: "Status server requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leadcrawler_http_request_duration_seconds",
				Help:    "Histogram of status server latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname for use as a label.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveUnit records a finished unit and the leads it produced.
func ObserveUnit(source, outcome string, leads int) {
	if unitsTotal == nil {
		return
	}
	unitsTotal.WithLabelValues(source, outcome).Inc()
	if leads > 0 {
		leadsTotal.WithLabelValues(source).Add(float64(leads))
	}
}

// ObserveAttempt records one unit attempt.
func ObserveAttempt(source string, err error) {
	if unitAttemptsTotal == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	unitAttemptsTotal.WithLabelValues(source, result).Inc()
}

// ObserveCheckpointFailure records a failed save, backup or snapshot write.
func ObserveCheckpointFailure(op string) {
	if checkpointFailuresTotal == nil {
		return
	}
	checkpointFailuresTotal.WithLabelValues(op).Inc()
}

// ObserveDispatch records one lead classification and the quota usage.
func ObserveDispatch(outcome string, sentToday int) {
	if dispatchTotal == nil {
		return
	}
	dispatchTotal.WithLabelValues(outcome).Inc()
	dispatchSentToday.Set(float64(sentToday))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	if rateLimitDelaySeconds == nil {
		return
	}
	rateLimitDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest records one status server request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
