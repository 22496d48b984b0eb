package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/logging"
)

const instrumentationName = "github.com/Fuzyal234/Fuz-AgenticAI/internal/http"

// unmatchedRoute labels requests that hit no registered route, so scanners
// probing random paths cannot grow label cardinality.
const unmatchedRoute = "unmatched"

// requestMetrics records per-route request counts and latency.
type requestMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
}

// newRequestMetrics creates the instruments on meter. Instruments that fail
// to register are left nil and skipped.
func newRequestMetrics(meter metric.Meter, logger *logging.Logger) *requestMetrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	m := &requestMetrics{}
	var err error
	if m.requests, err = meter.Int64Counter("fuzagent.http.requests_total",
		metric.WithDescription("HTTP requests by method, route and status."),
		metric.WithUnit("{request}")); err != nil {
		logger.Warn(context.Background(), "creating requests counter", zap.Error(err))
	}
	if m.duration, err = meter.Float64Histogram("fuzagent.http.request_duration_seconds",
		metric.WithDescription("HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.05, 0.1, 0.5, 1, 5)); err != nil {
		logger.Warn(context.Background(), "creating duration histogram", zap.Error(err))
	}
	if m.inFlight, err = meter.Int64UpDownCounter("fuzagent.http.in_flight_requests",
		metric.WithDescription("Requests currently being served."),
		metric.WithUnit("{request}")); err != nil {
		logger.Warn(context.Background(), "creating in-flight counter", zap.Error(err))
	}
	return m
}

// middleware records every request. The status of a handler error is taken
// from the echo.HTTPError it carries.
func (m *requestMetrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1)
				defer m.inFlight.Add(ctx, -1)
			}

			start := time.Now()
			err := next(c)

			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("route", routeLabel(c.Path())),
				attribute.Int("status", responseStatus(c, err)),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			return err
		}
	}
}

func routeLabel(path string) string {
	if path == "" {
		return unmatchedRoute
	}
	return path
}

func responseStatus(c echo.Context, err error) int {
	var he *echo.HTTPError
	switch {
	case err == nil:
		return c.Response().Status
	case errors.As(err, &he):
		return he.Code
	default:
		return http.StatusInternalServerError
	}
}
