// Package http serves the fuzagent webhook receiver with health and
// Prometheus endpoints.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/logging"
)

// Config holds HTTP server configuration.
type Config struct {
	Addr string
	// RateLimit is requests per second per client IP on /webhook; 0
	// disables limiting.
	RateLimit float64
	Burst     int
	// Meter records request metrics; nil uses the global provider.
	Meter metric.Meter
}

// Server hosts /health, /metrics and, once registered, /webhook.
type Server struct {
	echo    *echo.Echo
	logger  *logging.Logger
	config  Config
	limiter echo.MiddlewareFunc

	ready chan struct{}
	addr  net.Addr
}

// NewServer creates a server exposing reg on /metrics.
func NewServer(cfg Config, logger *logging.Logger, reg *prometheus.Registry) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking")
	}
	if reg == nil {
		return nil, fmt.Errorf("metrics registry is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":3000"
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 10 * time.Second
	e.Server.IdleTimeout = 120 * time.Second

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(newRequestMetrics(cfg.Meter, logger).middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return nil
		}
	})

	s := &Server{echo: e, logger: logger, config: cfg, ready: make(chan struct{})}
	if cfg.RateLimit > 0 {
		s.limiter = middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(cfg.RateLimit),
				Burst:     cfg.Burst,
				ExpiresIn: time.Hour,
			}),
			IdentifierExtractor: func(c echo.Context) (string, error) {
				return c.RealIP(), nil
			},
		})
	}

	e.GET("/health", handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	return s, nil
}

// HandleWebhook registers h on POST /webhook behind the per-IP limiter.
func (s *Server) HandleWebhook(h echo.HandlerFunc) {
	var mw []echo.MiddlewareFunc
	if s.limiter != nil {
		mw = append(mw, s.limiter)
	}
	s.echo.POST("/webhook", h, mw...)
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler { return s.echo }

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Addr blocks until Run is listening and returns the bound address.
func (s *Server) Addr() net.Addr {
	<-s.ready
	return s.addr
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Addr, err)
	}
	s.addr = ln.Addr()
	close(s.ready)
	s.echo.Listener = ln

	errs := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "http server listening", zap.String("addr", ln.Addr().String()))
		errs <- s.echo.Start("")
	}()

	select {
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		s.logger.Error(ctx, "server shutdown error", zap.Error(err))
		return err
	}
	s.logger.Info(ctx, "http server stopped")
	return nil
}
