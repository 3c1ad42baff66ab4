// Package metrics provides Prometheus instrumentation for the adaptive-auth service.
package metrics

import (
	"context"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "adaptiveauth"

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// --- Risk engine ---

	// RiskEvaluationsTotal counts risk evaluations by result (level name, timeout, error).
	RiskEvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_evaluations_total",
			Help:      "Total risk evaluations by resulting level or failure.",
		},
		[]string{"result"},
	)

	// RiskScore observes aggregated risk scores.
	RiskScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "risk_score",
		Help:      "Aggregated risk score per evaluated attempt.",
		Buckets:   []float64{0, 0.3, 0.5, 0.8, 1, 1.5, 2, 3, 5},
	})

	// RiskEvaluationDuration observes end-to-end evaluation latency.
	RiskEvaluationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "risk_evaluation_duration_seconds",
		Help:      "Risk evaluation latency including context collection.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	// EvaluatorOutcomesTotal counts evaluator invocations by tag and status.
	EvaluatorOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_evaluator_outcomes_total",
			Help:      "Risk evaluator invocations by evaluator tag and outcome status.",
		},
		[]string{"evaluator", "status"},
	)

	// ProviderOutcomesTotal counts context collections by provider and status.
	ProviderOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_provider_outcomes_total",
			Help:      "Context provider collections by provider and status.",
		},
		[]string{"provider", "status"},
	)

	// LoginDecisionsTotal counts login decisions by action and level.
	LoginDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_decisions_total",
			Help:      "Login decisions by action and risk level.",
		},
		[]string{"action", "level"},
	)

	// OutboxPublishedTotal counts outbox events relayed to Kafka.
	OutboxPublishedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_published_total",
		Help:      "Outbox events published to Kafka.",
	})

	// OutboxPending tracks events waiting for the relay after each poll.
	OutboxPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "outbox_pending",
		Help: "Outbox events not yet published.",
	})

	// DBTotalConns tracks pool connections.
	DBTotalConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_total_connections",
		Help: "Number of connections in the pool.",
	})
	// DBIdleConns tracks idle pool connections.
	DBIdleConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_idle_connections",
		Help: "Number of idle pool connections.",
	})
	// DBAcquiredConns tracks in-use pool connections.
	DBAcquiredConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_acquired_connections",
		Help: "Number of acquired pool connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		RiskEvaluationsTotal,
		RiskScore,
		RiskEvaluationDuration,
		EvaluatorOutcomesTotal,
		ProviderOutcomesTotal,
		LoginDecisionsTotal,
		OutboxPublishedTotal,
		OutboxPending,
		DBTotalConns,
		DBIdleConns,
		DBAcquiredConns,
		GoroutineCount,
	)
}

// StartPoolStatsCollector periodically samples pgxpool stats and the goroutine
// count into gauges. Call in a goroutine; exits when ctx is done.
func StartPoolStatsCollector(ctx context.Context, pool *pgxpool.Pool, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stat := pool.Stat()
			DBTotalConns.Set(float64(stat.TotalConns()))
			DBIdleConns.Set(float64(stat.IdleConns()))
			DBAcquiredConns.Set(float64(stat.AcquiredConns()))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware records request count and latency per chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		// Route pattern, not the raw path, to keep cardinality bounded.
		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(r.Method, path, statusBucket(status)).Inc()
	})
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	if code < 100 || code > 599 {
		return strconv.Itoa(code)
	}
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
