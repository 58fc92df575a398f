package telemetry

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "file-storage/http"

// FiberMiddleware traces each request and records its duration.
// Requests to skipPaths (health checks) pass through untraced.
func FiberMiddleware(skipPaths ...string) fiber.Handler {
	tracer := otel.Tracer(instrumentationName)
	propagator := otel.GetTextMapPropagator()

	duration, err := otel.Meter(instrumentationName).Float64Histogram(
		"http.server.request.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Duration of inbound HTTP requests"),
	)
	if err != nil {
		otel.Handle(err)
	}

	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		if _, ok := skip[c.Path()]; ok {
			return c.Next()
		}

		start := time.Now()
		method := c.Method()

		ctx := propagator.Extract(c.UserContext(), propagation.HeaderCarrier(c.GetReqHeaders()))
		ctx, span := tracer.Start(ctx, method+" "+c.Path(),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(method),
				semconv.URLPath(c.Path()),
				semconv.ServerAddress(c.Hostname()),
				semconv.ClientAddress(c.IP()),
				semconv.UserAgentOriginal(c.Get(fiber.HeaderUserAgent)),
			),
		)
		defer span.End()

		c.SetUserContext(ctx)
		if span.SpanContext().HasTraceID() {
			c.Set("X-Trace-ID", span.SpanContext().TraceID().String())
		}

		err := c.Next()

		status := c.Response().StatusCode()
		// unmatched requests report the middleware's own route
		route := c.Path()
		if status != fiber.StatusNotFound {
			route = c.Route().Path
			span.SetName(method + " " + route)
		}

		span.SetAttributes(
			semconv.HTTPRoute(route),
			semconv.HTTPResponseStatusCode(status),
			attribute.Int("http.response.body.size", len(c.Response().Body())),
		)
		switch {
		case err != nil:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case status >= fiber.StatusInternalServerError:
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
		}

		if duration != nil {
			duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
				semconv.HTTPRequestMethodKey.String(method),
				semconv.HTTPResponseStatusCode(status),
			))
		}
		return err
	}
}
