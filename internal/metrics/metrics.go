// Package metrics provides Prometheus instrumentation for the Examwatch service.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "examwatch",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "examwatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// AccessValidationsTotal counts access checks by outcome
	// (granted, not_found, code_mismatch, inactive, out_of_window, invalid_token).
	AccessValidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "examwatch",
			Name:      "access_validations_total",
			Help:      "Total access validations by outcome.",
		},
		[]string{"outcome"},
	)

	// TokenDecodeFailuresTotal counts rejected (tampered or malformed) tokens.
	TokenDecodeFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "examwatch",
		Name:      "token_decode_failures_total",
		Help:      "Total access tokens rejected as tampered or malformed.",
	})

	// SessionsStartedTotal counts proctoring sessions started.
	SessionsStartedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "examwatch",
		Name:      "sessions_started_total",
		Help:      "Total proctoring sessions started.",
	})

	// SessionsFlaggedTotal counts sessions that crossed the flag threshold.
	SessionsFlaggedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "examwatch",
		Name:      "sessions_flagged_total",
		Help:      "Total sessions escalated to flagged status.",
	})

	// SessionsEndedTotal counts ended sessions by terminal status.
	SessionsEndedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "examwatch",
			Name:      "sessions_ended_total",
			Help:      "Total sessions ended by terminal status.",
		},
		[]string{"status"},
	)

	// RiskEventsTotal counts ingested risk events by kind
	// (screenshot, flag, unauthorized_process).
	RiskEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "examwatch",
			Name:      "risk_events_total",
			Help:      "Total risk events applied to session aggregates by kind.",
		},
		[]string{"kind"},
	)

	// ProcessReportsTotal counts process reports by verdict.
	ProcessReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "examwatch",
			Name:      "process_reports_total",
			Help:      "Total process reports by verdict (authorized, unauthorized).",
		},
		[]string{"verdict"},
	)

	// SessionRiskScore observes the aggregate risk score after each applied event.
	SessionRiskScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "examwatch",
		Name:      "session_risk_score",
		Help:      "Aggregate session risk score observed after each applied event.",
		Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
	})

	// ActiveWebSocketClients tracks connected monitor-feed clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "examwatch",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket monitor clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "examwatch", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "examwatch", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "examwatch", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "examwatch", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		AccessValidationsTotal,
		TokenDecodeFailuresTotal,
		SessionsStartedTotal,
		SessionsFlaggedTotal,
		SessionsEndedTotal,
		RiskEventsTotal,
		ProcessReportsTotal,
		SessionRiskScore,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
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
