// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	backendRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "questboard",
		Subsystem: "backend",
		Name:      "requests_total",
		Help:      "Requests issued to the REST backend by endpoint and status code.",
	}, []string{"endpoint", "code"})

	backendLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "questboard",
		Subsystem: "backend",
		Name:      "request_duration_seconds",
		Help:      "Latency of REST backend requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint"})

	backendUnauthorized = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "questboard",
		Subsystem: "backend",
		Name:      "unauthorized_total",
		Help:      "Backend responses with status 401.",
	})

	guardDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "questboard",
		Subsystem: "guard",
		Name:      "decisions_total",
		Help:      "Route guard outcomes by kind.",
	}, []string{"kind"})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "questboard",
		Subsystem: "portal",
		Name:      "sessions_active",
		Help:      "Browser sessions currently held in memory.",
	})

	logPolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "questboard",
		Subsystem: "admin",
		Name:      "log_polls_total",
		Help:      "Admin log feed polls by result.",
	}, []string{"result"})
)

// ObserveBackend records one backend round trip. code is 0 for transport failures.
func ObserveBackend(endpoint string, code int, elapsed time.Duration) {
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	backendRequests.WithLabelValues(endpoint, label).Inc()
	backendLatency.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

func ObserveUnauthorized() { backendUnauthorized.Inc() }

func ObserveGuard(kind string) { guardDecisions.WithLabelValues(kind).Inc() }

func SetActiveSessions(n int) { activeSessions.Set(float64(n)) }

func ObserveLogPoll(ok bool) {
	if ok {
		logPolls.WithLabelValues("ok").Inc()
		return
	}
	logPolls.WithLabelValues("error").Inc()
}
