package ingestion

import (
	"context"
	"crypto/subtle"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/denkuservices/denku-mvp-sub000/pkg/logger"
)

// HeaderWebhookSecret carries the shared secret configured with the provider.
const HeaderWebhookSecret = "X-Webhook-Secret"

// SecretAuth rejects requests whose secret header does not match. An empty
// secret disables the check.
func SecretAuth(secret string) gin.HandlerFunc {
	want := []byte(secret)
	return func(c *gin.Context) {
		if len(want) == 0 {
			c.Next()
			return
		}
		got := []byte(c.GetHeader(HeaderWebhookSecret))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			logger.FromGin(c).Warn("Webhook secret mismatch", zap.String("client_ip", c.ClientIP()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// IPRateLimiter manages per-IP rate limiters.
type IPRateLimiter struct {
	limiters sync.Map
	rate     rate.Limit
	burst    int
}

// NewIPRateLimiter creates a new IP-based rate limiter. A zero rate
// disables limiting.
func NewIPRateLimiter(rps float64, burst int) *IPRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &IPRateLimiter{rate: rate.Limit(rps), burst: burst}
}

func (i *IPRateLimiter) getLimiter(ip string) *rate.Limiter {
	limiter, exists := i.limiters.Load(ip)
	if !exists {
		limiter, _ = i.limiters.LoadOrStore(ip, rate.NewLimiter(i.rate, i.burst))
	}
	return limiter.(*rate.Limiter)
}

// RateLimit returns a middleware that rate limits by IP.
func (i *IPRateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if i.rate <= 0 {
			c.Next()
			return
		}
		ip := c.ClientIP()
		if !i.getLimiter(ip).Allow() {
			logger.FromGin(c).Warn("Rate limit exceeded", zap.String("client_ip", ip))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"ok": false, "error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// RequestTimeout bounds the processing of one request.
func RequestTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
