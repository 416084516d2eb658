package httpapi

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// rateLimiter hands out one golang.org/x/time/rate.Limiter per client IP,
// the per-IP shape gnp-x-stegodon/web/router.go's NewRateLimiter/
// RateLimitMiddleware calls imply (the bodies of those two functions were
// not present in the retrieved copy of the teacher repo; this reconstructs
// the standard gin+x/time/rate per-IP idiom against the same dependency and
// the same two call sites: a global limiter and a stricter one scoped to
// the federation endpoints).
type rateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

// newRateLimiter builds a limiter allowing r requests/sec with the given
// burst, per client IP.
func newRateLimiter(r rate.Limit, burst int) *rateLimiter {
	return &rateLimiter{limiters: make(map[string]*rate.Limiter), r: r, burst: burst}
}

func (l *rateLimiter) forIP(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(l.r, l.burst)
		l.limiters[ip] = lim
	}
	return lim
}

// rateLimitMiddleware rejects a request with 429 once its client IP has
// exhausted its token bucket.
func rateLimitMiddleware(l *rateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.forIP(c.ClientIP()).Allow() {
			c.AbortWithStatus(http.StatusTooManyRequests)
			return
		}
		c.Next()
	}
}

// maxBytesMiddleware caps the request body gin will read, matching the
// teacher's 1MB inbox guard (spec.md §4.4's anti-DoS requirement).
func maxBytesMiddleware(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		c.Next()
	}
}
