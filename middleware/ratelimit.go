package middleware

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterSweepEvery = 5 * time.Minute
	limiterIdleAfter  = 10 * time.Minute
)

// KeyFunc picks the bucket a request is counted against.
type KeyFunc func(c *gin.Context) string

// ByClientIP buckets requests by client address.
func ByClientIP(c *gin.Context) string { return c.ClientIP() }

// ByUser buckets requests by the authenticated member and falls back to the
// client address. Use it after Auth.
func ByUser(c *gin.Context) string {
	if uid := GetUserID(c); uid != "" {
		return "user:" + uid
	}
	return c.ClientIP()
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// RateLimit applies per-IP token buckets, so one noisy integration cannot
// starve activity ingestion for other communities.
// r = requests per second, b = burst size.
func RateLimit(r rate.Limit, b int) gin.HandlerFunc {
	return RateLimitBy(r, b, ByClientIP)
}

// RateLimitBy applies token buckets keyed by key. Idle buckets are dropped
// after ten minutes.
func RateLimitBy(r rate.Limit, b int, key KeyFunc) gin.HandlerFunc {
	buckets := &sync.Map{}

	go func() {
		ticker := time.NewTicker(limiterSweepEvery)
		defer ticker.Stop()
		for range ticker.C {
			cutoff := time.Now().Add(-limiterIdleAfter).UnixNano()
			buckets.Range(func(k, v interface{}) bool {
				if v.(*bucket).lastSeen.Load() < cutoff {
					buckets.Delete(k)
				}
				return true
			})
		}
	}()

	return func(c *gin.Context) {
		v, _ := buckets.LoadOrStore(key(c), &bucket{limiter: rate.NewLimiter(r, b)})
		bk := v.(*bucket)
		bk.lastSeen.Store(time.Now().UnixNano())
		if !bk.limiter.Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
