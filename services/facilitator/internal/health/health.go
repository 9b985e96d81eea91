// Package health implements liveness and readiness endpoints.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/t402-io/t402/services/facilitator/internal/cache"
)

// Status represents a health status.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// Check is the result of a single dependency check.
type Check struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the health check response body.
type Response struct {
	Status  Status  `json:"status"`
	Checks  []Check `json:"checks,omitempty"`
	Version string  `json:"version,omitempty"`
}

// Checker performs health checks against the service's dependencies.
type Checker struct {
	redis   *cache.Client
	version string
}

// NewChecker creates a health checker. redis may be nil when the service
// runs without Redis; readiness then reports degraded rather than failing.
func NewChecker(redis *cache.Client, version string) *Checker {
	return &Checker{
		redis:   redis,
		version: version,
	}
}

// HealthHandler serves the liveness endpoint. It reports healthy as long
// as the process is responsive.
func (h *Checker) HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, Response{
			Status:  StatusHealthy,
			Version: h.version,
		})
	}
}

// ReadyHandler serves the readiness endpoint, running dependency checks.
func (h *Checker) ReadyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		checks := h.runChecks(ctx)
		overall := overallStatus(checks)

		status := http.StatusOK
		if overall == StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}

		c.JSON(status, Response{
			Status:  overall,
			Checks:  checks,
			Version: h.version,
		})
	}
}

func (h *Checker) runChecks(ctx context.Context) []Check {
	var wg sync.WaitGroup
	checksChan := make(chan Check, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		checksChan <- h.checkRedis(ctx)
	}()

	go func() {
		wg.Wait()
		close(checksChan)
	}()

	var checks []Check
	for check := range checksChan {
		checks = append(checks, check)
	}
	return checks
}

func (h *Checker) checkRedis(ctx context.Context) Check {
	check := Check{Name: "redis"}

	if h.redis == nil {
		check.Status = StatusDegraded
		check.Message = "redis not configured, running with in-memory fallbacks"
		return check
	}

	if err := h.redis.Ping(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
		return check
	}

	check.Status = StatusHealthy
	return check
}

func overallStatus(checks []Check) Status {
	overall := StatusHealthy
	for _, check := range checks {
		switch check.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}
