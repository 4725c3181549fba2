package http

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/studyforge/notebook-api/internal/domain/rag"
	"github.com/studyforge/notebook-api/internal/infra/config"
)

func errorHandlingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		httpErr := asHTTPError(c.Errors.Last().Err)
		message := httpErr.Message
		if message == "" {
			message = httpErr.Error()
		}

		if httpErr.Status >= http.StatusInternalServerError {
			logger.Error("request failed", "code", httpErr.Code, "status", httpErr.Status, "path", c.Request.URL.Path, "error", httpErr.Err)
		} else {
			logger.Warn("request failed", "code", httpErr.Code, "status", httpErr.Status, "path", c.Request.URL.Path, "error", httpErr.Err)
		}

		c.JSON(httpErr.Status, gin.H{
			"error": gin.H{
				"code":    httpErr.Code,
				"message": message,
			},
		})
	}
}

func rateLimitMiddleware(cfg config.RateLimitConfig, logger *slog.Logger) gin.HandlerFunc {
	if !cfg.Enabled || cfg.RequestsPerMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	limiter := newIPRateLimiter(cfg)
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if limiter.allow(ip) {
			c.Next()
			return
		}
		logger.Warn("rate limit exceeded", "ip", ip, "path", c.Request.URL.Path)
		abortWithError(c, NewHTTPError(http.StatusTooManyRequests, "rate_limit_exceeded", "too many requests", nil))
	}
}

type ipRateLimiter struct {
	visitors      map[string]*visitor
	mu            sync.Mutex
	ratePerMinute float64
	burst         float64
	ttl           time.Duration
}

type visitor struct {
	tokens   float64
	lastSeen time.Time
}

func newIPRateLimiter(cfg config.RateLimitConfig) *ipRateLimiter {
	return &ipRateLimiter{
		visitors:      make(map[string]*visitor),
		ratePerMinute: float64(cfg.RequestsPerMinute),
		burst:         float64(cfg.Burst),
		ttl:           5 * time.Minute,
	}
}

func (l *ipRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{tokens: l.burst, lastSeen: now}
		l.visitors[ip] = v
	} else {
		elapsed := now.Sub(v.lastSeen).Minutes()
		if elapsed > 0 {
			refill := elapsed * l.ratePerMinute
			v.tokens = math.Min(l.burst, v.tokens+refill)
		}
		v.lastSeen = now
	}
	l.cleanupLocked(now)
	if v.tokens < 1 {
		return false
	}
	v.tokens -= 1
	return true
}

func (l *ipRateLimiter) cleanupLocked(now time.Time) {
	for ip, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.ttl {
			delete(l.visitors, ip)
		}
	}
}

// parseRateSpec parses a "N/unit" rate limit spec ("100/hour", "10/day")
// into a request count and its fixed window.
func parseRateSpec(spec string) (int, time.Duration, error) {
	parts := strings.SplitN(spec, "/", 2)
	if len(parts) != 2 {
		return 0, 0, apperrorsInvalidRateSpec(spec)
	}
	n, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || n <= 0 {
		return 0, 0, apperrorsInvalidRateSpec(spec)
	}
	var window time.Duration
	switch strings.ToLower(strings.TrimSpace(parts[1])) {
	case "second", "sec", "s":
		window = time.Second
	case "minute", "min", "m":
		window = time.Minute
	case "hour", "h":
		window = time.Hour
	case "day", "d":
		window = 24 * time.Hour
	default:
		return 0, 0, apperrorsInvalidRateSpec(spec)
	}
	return n, window, nil
}

func apperrorsInvalidRateSpec(spec string) error {
	return &rateSpecError{spec: spec}
}

type rateSpecError struct{ spec string }

func (e *rateSpecError) Error() string { return "invalid rate limit spec: " + e.spec }

// ragRateLimitMiddleware enforces a fixed-window limit per (identity,
// path) using the notebook domain's rate limiter, failing open if the
// backing cache is unreachable.
func ragRateLimitMiddleware(limiter rag.RateLimiter, defaultSpec, uploadSpec string, logger *slog.Logger) gin.HandlerFunc {
	defaultLimit, defaultWindow, err := parseRateSpec(defaultSpec)
	if err != nil {
		defaultLimit, defaultWindow = 100, time.Hour
	}
	uploadLimit, uploadWindow, err := parseRateSpec(uploadSpec)
	if err != nil {
		uploadLimit, uploadWindow = 10, 24*time.Hour
	}

	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		limit, window := defaultLimit, defaultWindow
		if c.Request.Method == http.MethodPost && strings.HasSuffix(c.FullPath(), "/sources") {
			limit, window = uploadLimit, uploadWindow
		}

		identity := c.ClientIP()
		if claims, ok := getClaims(c); ok {
			identity = strconv.FormatInt(claims.UserID, 10)
		}

		result, err := limiter.Allow(c.Request.Context(), identity, c.FullPath(), limit, window)
		if err != nil {
			logger.Warn("rate limiter unavailable, failing open", "error", err)
			c.Next()
			return
		}
		if !result.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
			abortWithError(c, NewHTTPError(http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "too many requests", nil))
			return
		}
		c.Next()
	}
}

// timeoutMiddleware bounds every request to a fixed deadline, cancelling
// in-flight work cooperatively and returning 504 if it is not done in time.
func timeoutMiddleware(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		done := make(chan struct{})
		go func() {
			c.Next()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			if !c.Writer.Written() {
				abortWithError(c, NewHTTPError(http.StatusGatewayTimeout, "REQUEST_TIMEOUT", "request deadline exceeded", ctx.Err()))
			}
			<-done
		}
	}
}
