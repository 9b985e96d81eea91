package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/t402-io/t402/services/facilitator/internal/ratelimit"
)

const requestIDKey = "request_id"

// RequestIDMiddleware attaches a request ID to each request, honoring an
// incoming X-Request-ID header so IDs propagate across services.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// LoggingMiddleware logs each request with its ID, status, and latency.
func LoggingMiddleware(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info().
			Str("request_id", c.GetString(requestIDKey)).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}

// RateLimitMiddleware applies per-client-IP rate limiting. Health and
// metrics endpoints are exempt, and limiter errors fail open.
func RateLimitMiddleware(limiter ratelimit.Limiter, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if path == "/health" || path == "/ready" || path == "/metrics" {
			c.Next()
			return
		}

		clientIP := c.ClientIP()

		allowed, info, err := limiter.Allow(c.Request.Context(), clientIP)
		if err != nil {
			logger.Warn().Err(err).Str("client_ip", clientIP).Msg("rate limiter unavailable, failing open")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(info.Reset.Unix(), 10))

		if !allowed {
			retryAfter := time.Until(info.Reset).Seconds()
			c.Header("Retry-After", strconv.FormatInt(int64(retryAfter), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate limit exceeded",
				"retryAfter": retryAfter,
			})
			return
		}

		c.Next()
	}
}
