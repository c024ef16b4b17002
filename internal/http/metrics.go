package http

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/launchpad/internal/http"

// Route surfaces used as the "surface" metric label.
const (
	surfaceSession      = "session"
	surfaceApprovalLink = "approval_link"
	surfaceOps          = "ops"
	surfaceUnmatched    = "unmatched"
)

// routeMetrics records request counts, latency and response sizes for the
// launchpad API. Series are keyed by route template, so a pipeline id or an
// approval token never becomes a label value.
type routeMetrics struct {
	meter    metric.Meter
	logger   *zap.Logger
	requests metric.Int64Counter
	latency  metric.Float64Histogram
	size     metric.Int64Histogram
	inFlight metric.Int64UpDownCounter
}

func newRouteMetrics(logger *zap.Logger) *routeMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &routeMetrics{
		meter:  otel.Meter(httpInstrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

// init creates the instruments. A failed instrument is logged and skipped.
func (m *routeMetrics) init() {
	var err error

	m.requests, err = m.meter.Int64Counter(
		"launchpad.http.requests_total",
		metric.WithDescription("Requests to the pipeline, workflow and approval-link routes by method, route template, surface and status."),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn("failed to create requests counter", zap.Error(err))
	}

	m.latency, err = m.meter.Float64Histogram(
		"launchpad.http.request_duration_seconds",
		metric.WithDescription("Handler latency in seconds. Pipeline starts return before generation, so this excludes background work."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.size, err = m.meter.Int64Histogram(
		"launchpad.http.response_size_bytes",
		metric.WithDescription("Response body size in bytes. Progress and blueprint views dominate the upper buckets."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(100, 500, 1000, 5000, 10000, 50000, 100000),
	)
	if err != nil {
		m.logger.Warn("failed to create response size histogram", zap.Error(err))
	}

	m.inFlight, err = m.meter.Int64UpDownCounter(
		"launchpad.http.active_requests",
		metric.WithDescription("Requests currently being served."),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn("failed to create active requests gauge", zap.Error(err))
	}
}

// middleware records one data point per request after the handler returns.
func (m *routeMetrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := c.Request().Context()
			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1)
				defer m.inFlight.Add(ctx, -1)
			}

			err := next(c)

			res := c.Response()
			route := routeLabel(c.Path())
			opt := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("endpoint", route),
				attribute.String("surface", surfaceOf(route)),
				attribute.Int("status", res.Status),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, opt)
			}
			if m.latency != nil {
				m.latency.Record(ctx, time.Since(start).Seconds(), opt)
			}
			if m.size != nil {
				m.size.Record(ctx, res.Size, opt)
			}
			return err
		}
	}
}

// routeLabel returns the route template, or "unmatched" for requests that
// hit no route.
func routeLabel(path string) string {
	if path == "" {
		return surfaceUnmatched
	}
	return path
}

// surfaceOf groups a route template by the kind of caller it serves.
func surfaceOf(route string) string {
	switch {
	case strings.HasPrefix(route, "/api/v1/approve/"):
		return surfaceApprovalLink
	case strings.HasPrefix(route, "/api/v1/pipelines"), strings.HasPrefix(route, "/api/v1/workflows"):
		return surfaceSession
	case route == "/health", route == "/metrics":
		return surfaceOps
	}
	return surfaceUnmatched
}
