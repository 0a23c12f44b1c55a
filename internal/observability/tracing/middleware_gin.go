package tracing

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mogcia-app/signal/internal/observability/obscontext"
	"github.com/mogcia-app/signal/internal/ownercontext"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const unknownRoute = "unknown"

// GinMiddleware opens one server span per request. Owner and period are
// attached so a slow summary read can be traced back to its month.
func GinMiddleware(tracerName string) gin.HandlerFunc {
	tracer := otel.Tracer(tracerName)
	return func(c *gin.Context) {
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, spanName(c.Request.Method, ""), trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
			ctx = withRequestIDBaggage(ctx, requestID)
			span.SetAttributes(attribute.String("request_id", requestID))
		}

		c.Request = c.Request.WithContext(ctx)
		start := time.Now()
		c.Next()

		route := c.FullPath()
		span.SetName(spanName(c.Request.Method, route))
		span.SetAttributes(requestAttributes(c, route, time.Since(start))...)

		if c.Writer.Status() >= http.StatusInternalServerError {
			if lastErr := c.Errors.Last(); lastErr != nil {
				if safeErr := SafeError(lastErr.Err); safeErr != nil {
					span.RecordError(safeErr)
				}
			}
			span.SetStatus(codes.Error, "request error")
		}
	}
}

func spanName(method, route string) string {
	name := "HTTP " + strings.ToUpper(method)
	if route == "" {
		return name
	}
	return name + " " + route
}

// requestAttributes is the allowlisted view of a finished request.
func requestAttributes(c *gin.Context, route string, elapsed time.Duration) []attribute.KeyValue {
	if route == "" {
		route = unknownRoute
	}
	attrs := []attribute.KeyValue{
		attribute.String("http.method", c.Request.Method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", c.Writer.Status()),
		attribute.Int64("http.server_duration_ms", elapsed.Milliseconds()),
	}
	if owner := strings.TrimSpace(c.GetHeader(ownercontext.HeaderOwnerID)); owner != "" {
		attrs = append(attrs, attribute.String("owner_id", owner))
	}
	if period := strings.TrimSpace(c.Param("period")); period != "" {
		attrs = append(attrs, attribute.String("period_key", period))
	}
	if op := kpiOp(route); op != "" {
		attrs = append(attrs, attribute.String("kpi.op", op))
	}
	return SafeAttributes(attrs...)
}

// kpiOp names the engine surface a route belongs to.
func kpiOp(route string) string {
	switch {
	case strings.HasPrefix(route, "/api/analytics"):
		return "ingest"
	case strings.HasPrefix(route, "/api/kpi/rebuilds"):
		return "rebuild"
	case strings.HasPrefix(route, "/api/kpi"):
		return "read"
	case strings.HasPrefix(route, "/api/owners"):
		return "profile"
	default:
		return ""
	}
}

func withRequestIDBaggage(ctx context.Context, requestID string) context.Context {
	member, err := baggage.NewMember("request_id", requestID)
	if err != nil {
		return ctx
	}
	bag, err := baggage.New(member)
	if err != nil {
		return ctx
	}
	return baggage.ContextWithBaggage(ctx, bag)
}
