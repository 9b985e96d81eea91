// Package server implements the facilitator HTTP API: /verify, /settle,
// and /supported, plus health and metrics endpoints.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	t402 "github.com/t402-io/t402"
	"github.com/t402-io/t402/services/facilitator/internal/cache"
	"github.com/t402-io/t402/services/facilitator/internal/config"
	"github.com/t402-io/t402/services/facilitator/internal/health"
	"github.com/t402-io/t402/services/facilitator/internal/metrics"
	"github.com/t402-io/t402/services/facilitator/internal/ratelimit"
)

// Version is the service version (set at build time).
var Version = "dev"

// Facilitator is the engine surface the server needs. Both the core
// facilitator and the idempotency wrapper satisfy it.
type Facilitator interface {
	Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*t402.VerifyResponse, error)
	Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*t402.SettleResponse, error)
	GetSupported() t402.SupportedResponse
}

// Server is the facilitator HTTP server.
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	facilitator Facilitator
	config      *config.Config
	logger      zerolog.Logger
	metrics     *metrics.Metrics
	limiter     ratelimit.Limiter
	health      *health.Checker
}

// New creates a facilitator server. redisClient may be nil, in which case
// rate limiting falls back to per-instance in-memory windows.
func New(
	facilitator Facilitator,
	redisClient *cache.Client,
	cfg *config.Config,
	logger zerolog.Logger,
) *Server {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	var limiter ratelimit.Limiter
	if redisClient != nil {
		limiter = ratelimit.NewRedisLimiter(redisClient, cfg.RateLimitRequests, cfg.RateLimitWindow)
	} else {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
	}

	s := &Server{
		router:      gin.New(),
		facilitator: facilitator,
		config:      cfg,
		logger:      logger,
		metrics:     metrics.New(),
		limiter:     limiter,
		health:      health.NewChecker(redisClient, Version),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(RequestIDMiddleware())
	s.router.Use(LoggingMiddleware(s.logger))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID", "X-API-Key"}
	corsConfig.MaxAge = 24 * time.Hour
	s.router.Use(cors.New(corsConfig))

	s.router.Use(s.metrics.Middleware())
	s.router.Use(RateLimitMiddleware(s.limiter, s.logger))
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.health.HealthHandler())
	s.router.GET("/ready", s.health.ReadyHandler())
	s.router.GET("/metrics", s.metrics.Handler())

	s.router.POST("/verify", s.handleVerify)
	s.router.POST("/settle", s.handleSettle)
	s.router.GET("/supported", s.handleSupported)
}

// Handler returns the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server and blocks until an interrupt signal triggers
// graceful shutdown.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Int("port", s.config.Port).Msg("starting facilitator server")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		s.logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	s.logger.Info().Msg("server stopped")
	return nil
}
