package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName         = "prism-kanban/api"
	requestSpanName    = "kanban.http.request"
	requestEventName   = "kanban.request"
	requestEventDomain = "kanban"
	observabilityEvent = "observability.event"
)

// RequestMetrics wraps every request in a span and logs one
// observability.event entry per request.
func RequestMetrics(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx, span := otel.Tracer(tracerName).Start(req.Context(), requestSpanName, trace.WithSpanKind(trace.SpanKindServer))
			c.SetRequest(req.WithContext(ctx))
			start := time.Now()

			err := next(c)

			status := c.Response().Status
			var he *echo.HTTPError
			if errors.As(err, &he) {
				status = he.Code
			}
			attrs := []attribute.KeyValue{
				attribute.String("http.route", c.Path()),
				attribute.String("http.method", req.Method),
				attribute.Int("http.status_code", status),
				attribute.Float64("kanban.total_ms", durationToMillis(time.Since(start))),
			}
			if id := c.Param("boardId"); id != "" {
				attrs = append(attrs, attribute.String("kanban.board_id", id))
			}
			severityText, severityNumber := severityForStatus(status, err)

			span.SetAttributes(attrs...)
			span.AddEvent(observabilityEvent, trace.WithAttributes(append(attrs,
				attribute.String("event.name", requestEventName),
				attribute.String("event.domain", requestEventDomain),
				attribute.String("severity_text", severityText),
			)...))
			switch {
			case err != nil:
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			case status >= http.StatusInternalServerError:
				span.SetStatus(codes.Error, http.StatusText(status))
			default:
				span.SetStatus(codes.Ok, "")
			}
			traceID := span.SpanContext().TraceID().String()
			span.End()

			attrMap := make(map[string]any, len(attrs))
			for _, kv := range attrs {
				attrMap[string(kv.Key)] = kv.Value.AsInterface()
			}
			fields := log.Fields{
				"event.name":      requestEventName,
				"event.domain":    requestEventDomain,
				"attributes":      attrMap,
				"severity_text":   severityText,
				"severity_number": severityNumber,
				"trace_id":        traceID,
			}
			if u := userID(c); u != "" {
				fields["user"] = u
			}
			entry := logger.WithFields(fields)
			if err != nil {
				entry = entry.WithError(err)
			}
			entry.Log(levelForSeverity(severityNumber), observabilityEvent)
			return err
		}
	}
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil && status < http.StatusBadRequest, status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func levelForSeverity(n int) log.Level {
	switch {
	case n >= 17:
		return log.ErrorLevel
	case n >= 13:
		return log.WarnLevel
	default:
		return log.InfoLevel
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
