package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uirunner",
		Name:      "runs_total",
		Help:      "Scenario runs by final status.",
	}, []string{"status"})
	metricRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "uirunner",
		Name:      "run_duration_seconds",
		Help:      "Wall time of scenario runs, including session start and teardown.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"status"})
	metricSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uirunner",
		Name:      "steps_total",
		Help:      "Executed scenario steps by action and outcome.",
	}, []string{"action", "outcome"})
	metricReadyDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "uirunner",
		Name:      "ready_degraded_total",
		Help:      "Best-effort load waits that timed out and were tolerated.",
	})
	metricHTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uirunner",
		Name:      "http_requests_total",
		Help:      "Requests served in serve mode and by the fixture app, by handler and status class.",
	}, []string{"pkg", "class"})
	metricActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "uirunner",
		Name:      "sessions_active",
		Help:      "Browser sessions currently open.",
	})
)

// RecordRun counts a finished scenario run.
func RecordRun(status string, elapsed time.Duration) {
	metricRuns.WithLabelValues(status).Inc()
	metricRunDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

// RecordStep counts one executed step.
func RecordStep(action string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	metricSteps.WithLabelValues(action, outcome).Inc()
}

// RecordReadyDegraded counts a tolerated load-state timeout.
func RecordReadyDegraded() {
	metricReadyDegraded.Inc()
}

func recordHTTP(pkg string, status int) {
	metricHTTPRequests.WithLabelValues(pkg, strconv.Itoa(status/100)+"xx").Inc()
}

// SessionOpened and SessionClosed track the active session gauge.
func SessionOpened() { metricActiveSessions.Inc() }

func SessionClosed() { metricActiveSessions.Dec() }

// MetricsHandler serves the Prometheus exposition format.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
