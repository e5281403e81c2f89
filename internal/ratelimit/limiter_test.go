package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type manualClock struct {
	now time.Time
}

func (clock *manualClock) Now() time.Time {
	return clock.now
}

func TestAllowRefillsPerKey(test *testing.T) {
	test.Parallel()
	clock := &manualClock{now: time.Unix(1700000000, 0)}
	limiter := New(1, 2, clock.Now, nil)

	if !limiter.Allow("a") || !limiter.Allow("a") {
		test.Fatalf("expected burst of 2")
	}
	if limiter.Allow("a") {
		test.Fatalf("expected third request to be limited")
	}
	if !limiter.Allow("b") {
		test.Fatalf("keys must not share buckets")
	}
	clock.now = clock.now.Add(time.Second)
	if !limiter.Allow("a") {
		test.Fatalf("expected refill after one second")
	}
}

func TestCleanupDropsIdleKeys(test *testing.T) {
	test.Parallel()
	clock := &manualClock{now: time.Unix(1700000000, 0)}
	limiter := New(1, 1, clock.Now, nil)
	limiter.Allow("old")
	clock.now = clock.now.Add(50 * time.Minute)
	limiter.Allow("recent")
	clock.now = clock.now.Add(20 * time.Minute)

	if removed := limiter.Cleanup(); removed != 1 || limiter.Len() != 1 {
		test.Fatalf("expected one idle key removed, got %d (len %d)", removed, limiter.Len())
	}
}

func TestMiddlewareReturns429(test *testing.T) {
	test.Parallel()
	gin.SetMode(gin.TestMode)
	clock := &manualClock{now: time.Unix(1700000000, 0)}
	limiter := New(1, 1, clock.Now, nil)
	router := gin.New()
	router.GET("/generate", limiter.Middleware(func(context *gin.Context) string {
		return context.GetHeader("X-User")
	}), func(context *gin.Context) { context.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for _, user := range []string{"u1", "u1", "u2"} {
		recorder := httptest.NewRecorder()
		request := httptest.NewRequest(http.MethodGet, "/generate", nil)
		request.Header.Set("X-User", user)
		router.ServeHTTP(recorder, request)
		codes = append(codes, recorder.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests || codes[2] != http.StatusOK {
		test.Fatalf("unexpected status sequence %v", codes)
	}
}
