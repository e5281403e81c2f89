package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/pixmind/pkg/credits"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	namespace       = "pixmind"
	unmatchedRoute  = "unmatched"
	metricsEndpoint = "/metrics"
)

// Metrics owns a private registry and the collectors the server reports.
type Metrics struct {
	registry       *prometheus.Registry
	httpInFlight   prometheus.Gauge
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	creditOps      *prometheus.CounterVec
	creditPoints   *prometheus.CounterVec
	vendorCalls    *prometheus.CounterVec
	uploadAttempts *prometheus.CounterVec
	scheduledRuns  *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	metrics := &Metrics{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"method", "route"}),
		creditOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "credits",
			Name:      "operations_total",
			Help:      "Credit ledger operations by outcome.",
		}, []string{"operation", "business_type", "status"}),
		creditPoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "credits",
			Name:      "points_total",
			Help:      "Absolute points moved by successful operations.",
		}, []string{"operation", "business_type"}),
		vendorCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vendor",
			Name:      "calls_total",
			Help:      "Calls to external AI vendors.",
		}, []string{"vendor", "operation", "status"}),
		uploadAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "results_total",
			Help:      "Object storage uploads by type and outcome.",
		}, []string{"upload_type", "status"}),
		scheduledRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "runs_total",
			Help:      "Scheduled job runs by outcome.",
		}, []string{"job", "status"}),
	}
	metrics.registry.MustRegister(
		metrics.httpInFlight,
		metrics.httpRequests,
		metrics.httpDuration,
		metrics.creditOps,
		metrics.creditPoints,
		metrics.vendorCalls,
		metrics.uploadAttempts,
		metrics.scheduledRuns,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return metrics
}

// Registry exposes the underlying registry.
func (metrics *Metrics) Registry() *prometheus.Registry {
	return metrics.registry
}

// Handler serves the registry in the Prometheus text format.
func (metrics *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency by route template.
func (metrics *Metrics) Middleware() gin.HandlerFunc {
	return func(context *gin.Context) {
		if context.Request.URL.Path == metricsEndpoint {
			context.Next()
			return
		}
		start := time.Now()
		metrics.httpInFlight.Inc()
		defer metrics.httpInFlight.Dec()

		context.Next()

		route := context.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		method := strings.ToUpper(context.Request.Method)
		metrics.httpRequests.WithLabelValues(method, route, strconv.Itoa(context.Writer.Status())).Inc()
		metrics.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

// RecordVendorCall counts one vendor call.
func (metrics *Metrics) RecordVendorCall(vendor string, operation string, err error) {
	metrics.vendorCalls.WithLabelValues(vendor, operation, outcome(err)).Inc()
}

// RecordUpload counts one finished upload.
func (metrics *Metrics) RecordUpload(uploadType string, err error) {
	metrics.uploadAttempts.WithLabelValues(uploadType, outcome(err)).Inc()
}

// RecordScheduledRun counts one scheduler run.
func (metrics *Metrics) RecordScheduledRun(job string, err error) {
	metrics.scheduledRuns.WithLabelValues(job, outcome(err)).Inc()
}

// CreditLogger satisfies credits.OperationLogger with structured logs and counters.
type CreditLogger struct {
	logger  *zap.Logger
	metrics *Metrics
}

// NewCreditLogger builds a CreditLogger. Either argument may be nil.
func NewCreditLogger(logger *zap.Logger, metrics *Metrics) *CreditLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CreditLogger{logger: logger, metrics: metrics}
}

func (creditLogger *CreditLogger) LogOperation(ctx context.Context, entry credits.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("user_uuid", entry.UserUUID.String()),
		zap.Int64("delta", entry.Delta.Int64()),
		zap.String("business_type", entry.BusinessType.String()),
		zap.String("business_no", entry.BusinessNo.String()),
		zap.String("status", entry.Status),
	}
	if entry.Error != nil {
		creditLogger.logger.Warn("credit operation failed", append(fields, zap.Error(entry.Error))...)
	} else {
		creditLogger.logger.Info("credit operation", fields...)
	}
	if creditLogger.metrics == nil {
		return
	}
	creditLogger.metrics.creditOps.WithLabelValues(entry.Operation, entry.BusinessType.String(), entry.Status).Inc()
	if entry.Error == nil {
		points := entry.Delta.Int64()
		if points < 0 {
			points = -points
		}
		creditLogger.metrics.creditPoints.WithLabelValues(entry.Operation, entry.BusinessType.String()).Add(float64(points))
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
