package handlers

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/example/kyc-worker/internal/auth"
)

// OperatorLimiter keeps one token bucket per authenticated operator, falling
// back to the client IP for anonymous requests.
type OperatorLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	rate    rate.Limit
	burst   int
}

// NewOperatorLimiter allows perSecond requests with the given burst per key.
func NewOperatorLimiter(perSecond float64, burst int) *OperatorLimiter {
	return &OperatorLimiter{
		buckets: make(map[string]*rate.Limiter),
		rate:    rate.Limit(perSecond),
		burst:   burst,
	}
}

func (l *OperatorLimiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.buckets[key]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.buckets[key] = limiter
	}
	return limiter
}

// Middleware rejects requests over the limit with 429. It must run after the
// auth middleware to key on the operator.
func (l *OperatorLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := auth.Operator(c.Request.Context())
		if !ok {
			key = c.ClientIP()
		}
		if !l.limiterFor(key).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
