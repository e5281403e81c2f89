package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultIdleTTL = time.Hour

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per key.
type Limiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     rate.Limit
	burst    int
	idleTTL  time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// New builds a Limiter allowing perSecond requests with the given burst per key.
func New(perSecond float64, burst int, now func() time.Time, logger *zap.Logger) *Limiter {
	if burst < 1 {
		burst = 1
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		visitors: make(map[string]*visitor),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		idleTTL:  defaultIdleTTL,
		now:      now,
		logger:   logger,
	}
}

// Allow consumes one token for key.
func (limiter *Limiter) Allow(key string) bool {
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	now := limiter.now()
	entry, ok := limiter.visitors[key]
	if !ok {
		entry = &visitor{limiter: rate.NewLimiter(limiter.rate, limiter.burst)}
		limiter.visitors[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// Cleanup drops keys idle for longer than the TTL and returns how many were removed.
func (limiter *Limiter) Cleanup() int {
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	cutoff := limiter.now().Add(-limiter.idleTTL)
	removed := 0
	for key, entry := range limiter.visitors {
		if entry.lastSeen.Before(cutoff) {
			delete(limiter.visitors, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (limiter *Limiter) Len() int {
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	return len(limiter.visitors)
}

// Middleware rejects requests over the limit with 429. keyFunc picks the bucket.
func (limiter *Limiter) Middleware(keyFunc func(*gin.Context) string) gin.HandlerFunc {
	return func(context *gin.Context) {
		key := ""
		if keyFunc != nil {
			key = keyFunc(context)
		}
		if key == "" {
			key = context.ClientIP()
		}
		if !limiter.Allow(key) {
			limiter.logger.Info("rate limit exceeded",
				zap.String("key", key),
				zap.String("path", context.Request.URL.Path),
				zap.String("method", context.Request.Method))
			context.Header("Retry-After", "1")
			context.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    http.StatusTooManyRequests,
				"message": "too many requests",
			})
			return
		}
		context.Next()
	}
}
