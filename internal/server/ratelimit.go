package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimiter is a single shared token bucket guarding the dashboard's
// HTTP API — the TCP worker protocol is unaffected, this only protects
// /status, /stats and /collisions from being hammered. A dashboard with
// one legitimate caller (the operator) has no fleet of distinct IPs
// whose fairness a per-IP bucket map would need to track, so one bucket
// shared across every request is enough.
type RateLimiter struct {
	mu       sync.Mutex
	tokens   float64
	rate     float64
	burst    float64
	lastSeen time.Time
}

// NewRateLimiter allows ratePerMin requests per minute, with a burst
// capacity of burst requests.
func NewRateLimiter(ratePerMin, burst int) *RateLimiter {
	return &RateLimiter{
		tokens:   float64(burst),
		rate:     float64(ratePerMin) / 60.0,
		burst:    float64(burst),
		lastSeen: time.Now(),
	}
}

func (rl *RateLimiter) allow() (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rl.lastSeen).Seconds()
	rl.tokens += elapsed * rl.rate
	if rl.tokens > rl.burst {
		rl.tokens = rl.burst
	}
	rl.lastSeen = now

	if rl.tokens >= 1.0 {
		rl.tokens--
		return true, 0
	}
	retryAfter := time.Duration((1.0-rl.tokens)/rl.rate*1000) * time.Millisecond
	return false, retryAfter
}

// Middleware enforces the rate limit on the dashboard's HTTP routes.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, retryAfter := rl.allow()
		if !allowed {
			c.Header("Retry-After", retryAfter.String())
			c.AbortWithStatus(http.StatusTooManyRequests)
			return
		}
		c.Next()
	}
}
