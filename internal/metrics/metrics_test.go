package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MarkoPoloResearchLab/pixmind/pkg/credits"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMiddlewareRecordsRouteTemplate(test *testing.T) {
	test.Parallel()
	gin.SetMode(gin.TestMode)
	metrics := New()
	router := gin.New()
	router.Use(metrics.Middleware())
	router.GET("/api/ai/evolink/task/:taskId", func(context *gin.Context) { context.Status(http.StatusAccepted) })
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	for _, path := range []string{"/api/ai/evolink/task/a", "/api/ai/evolink/task/b", "/missing"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	if got := testutil.ToFloat64(metrics.httpRequests.WithLabelValues("GET", "/api/ai/evolink/task/:taskId", "202")); got != 2 {
		test.Fatalf("expected 2 templated requests, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.httpRequests.WithLabelValues("GET", unmatchedRoute, "404")); got != 1 {
		test.Fatalf("expected 1 unmatched request, got %v", got)
	}

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(recorder.Body.String(), "pixmind_http_requests_total") {
		test.Fatalf("expected exposition to include request counter")
	}
}

func TestCreditLoggerLogsAndCounts(test *testing.T) {
	test.Parallel()
	core, logs := observer.New(zapcore.InfoLevel)
	metrics := New()
	creditLogger := NewCreditLogger(zap.New(core), metrics)

	userUUID, _ := credits.NewUserUUID("user-1")
	delta, _ := credits.NewPointsDelta(-5)
	creditLogger.LogOperation(context.Background(), credits.OperationLog{
		Operation:    "spend",
		UserUUID:     userUUID,
		Delta:        delta,
		BusinessType: credits.BusinessConsume,
		Status:       "ok",
	})
	creditLogger.LogOperation(context.Background(), credits.OperationLog{
		Operation:    "spend",
		UserUUID:     userUUID,
		Delta:        delta,
		BusinessType: credits.BusinessConsume,
		Status:       "error",
		Error:        errors.New("insufficient"),
	})

	if logs.FilterMessage("credit operation").Len() != 1 || logs.FilterMessage("credit operation failed").Len() != 1 {
		test.Fatalf("unexpected log entries %v", logs.All())
	}
	if got := testutil.ToFloat64(metrics.creditPoints.WithLabelValues("spend", "consume")); got != 5 {
		test.Fatalf("expected 5 points, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.creditOps.WithLabelValues("spend", "consume", "error")); got != 1 {
		test.Fatalf("expected 1 failed op, got %v", got)
	}
}

func TestRecorders(test *testing.T) {
	test.Parallel()
	metrics := New()
	metrics.RecordVendorCall("evolink", "generate", nil)
	metrics.RecordUpload("voice-clone", errors.New("denied"))
	metrics.RecordScheduledRun("expire-orders", nil)
	if testutil.ToFloat64(metrics.vendorCalls.WithLabelValues("evolink", "generate", "ok")) != 1 ||
		testutil.ToFloat64(metrics.uploadAttempts.WithLabelValues("voice-clone", "error")) != 1 ||
		testutil.ToFloat64(metrics.scheduledRuns.WithLabelValues("expire-orders", "ok")) != 1 {
		test.Fatalf("expected every recorder to count once")
	}
}
