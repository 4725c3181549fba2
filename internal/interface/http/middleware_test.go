package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/studyforge/notebook-api/internal/domain/rag"
)

func TestParseRateSpec(t *testing.T) {
	n, window, err := parseRateSpec("100/hour")
	require.NoError(t, err)
	require.Equal(t, 100, n)
	require.Equal(t, time.Hour, window)

	n, window, err = parseRateSpec("10/day")
	require.NoError(t, err)
	require.Equal(t, 10, n)
	require.Equal(t, 24*time.Hour, window)

	_, _, err = parseRateSpec("garbage")
	require.Error(t, err)

	_, _, err = parseRateSpec("abc/hour")
	require.Error(t, err)
}

type stubRateLimiter struct {
	result rag.RateLimitResult
	err    error
}

func (s stubRateLimiter) Allow(context.Context, string, string, int, time.Duration) (rag.RateLimitResult, error) {
	return s.result, s.err
}

func newMiddlewareTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRagRateLimitMiddleware_BlocksOverLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(errorHandlingMiddleware(newMiddlewareTestLogger()))
	router.Use(ragRateLimitMiddleware(stubRateLimiter{result: rag.RateLimitResult{Allowed: false, RetryAfter: time.Second}}, "100/hour", "10/day", newMiddlewareTestLogger()))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRagRateLimitMiddleware_FailsOpenOnLimiterError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ragRateLimitMiddleware(stubRateLimiter{err: context.DeadlineExceeded}, "100/hour", "10/day", newMiddlewareTestLogger()))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, "a rate limiter outage must never block requests")
}

func TestRagRateLimitMiddleware_NilLimiterPassesThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ragRateLimitMiddleware(nil, "100/hour", "10/day", newMiddlewareTestLogger()))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestTimeoutMiddleware_ReturnsGatewayTimeoutOnSlowHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(errorHandlingMiddleware(newMiddlewareTestLogger()))
	router.Use(timeoutMiddleware(10 * time.Millisecond))
	router.GET("/slow", func(c *gin.Context) {
		select {
		case <-c.Request.Context().Done():
		case <-time.After(time.Second):
		}
	})

	req := httptest.NewRequest(http.MethodGet, "/slow", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestTimeoutMiddleware_FastHandlerUnaffected(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(timeoutMiddleware(time.Second))
	router.GET("/fast", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/fast", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}
