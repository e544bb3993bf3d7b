package observability

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	dbTracerName     = "docmirror/db"
	workerTracerName = "docmirror/worker"
)

type contextKey string

const (
	messageIDKey contextKey = "observability.message_id"
	itemIDKey    contextKey = "observability.item_id"
	requestIDKey contextKey = "observability.request_id"
	routeKey     contextKey = "observability.route"
)

// Span is the application-level tracing span contract.
type Span interface {
	End()
	RecordError(error)
}

type otelSpan struct {
	inner trace.Span
}

// StartDBSpan starts a database tracing span for one query operation.
func StartDBSpan(ctx context.Context, dbSystem, queryName, operation string) (context.Context, Span) {
	queryName = strings.TrimSpace(queryName)
	if queryName == "" {
		queryName = "unknown"
	}
	attrs := []attribute.KeyValue{
		attribute.String("db.system.name", dbSystem),
		attribute.String("db.query_name", queryName),
		attribute.String("db.operation", strings.TrimSpace(operation)),
	}
	if messageID, ok := MessageIDFromContext(ctx); ok {
		attrs = append(attrs, attribute.Int64("docmirror.message_id", messageID))
	}

	ctx, span := otel.Tracer(dbTracerName).Start(ctx, "db."+queryName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)

	return ctx, otelSpan{inner: span}
}

// StartStageSpan starts an internal span for one sync worker stage.
func StartStageSpan(ctx context.Context, stage string) (context.Context, Span) {
	attrs := []attribute.KeyValue{attribute.String("docmirror.stage", stage)}
	if itemID, ok := ItemIDFromContext(ctx); ok {
		attrs = append(attrs, attribute.String("docmirror.item_id", itemID))
	}
	ctx, span := otel.Tracer(workerTracerName).Start(ctx, "worker."+stage,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	return ctx, otelSpan{inner: span}
}

// WithMessageIdentity enriches context and current span with the queue message id.
func WithMessageIdentity(ctx context.Context, messageID int64) context.Context {
	if messageID <= 0 {
		return ctx
	}
	ctx = context.WithValue(ctx, messageIDKey, messageID)
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int64("docmirror.message_id", messageID))
	return ctx
}

// WithItemIdentity enriches context and current span with the source item id.
func WithItemIdentity(ctx context.Context, itemID string) context.Context {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return ctx
	}
	ctx = context.WithValue(ctx, itemIDKey, itemID)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("docmirror.item_id", itemID))
	return ctx
}

// WithRequestMetadata enriches context and current span with request metadata.
func WithRequestMetadata(ctx context.Context, requestID, route string) context.Context {
	requestID = strings.TrimSpace(requestID)
	route = strings.TrimSpace(route)
	if requestID != "" {
		ctx = context.WithValue(ctx, requestIDKey, requestID)
	}
	if route != "" {
		ctx = context.WithValue(ctx, routeKey, route)
	}
	setSpanRequestAttributes(ctx, requestID, route)
	return ctx
}

// MessageIDFromContext extracts the queue message id.
func MessageIDFromContext(ctx context.Context) (int64, bool) {
	value, ok := ctx.Value(messageIDKey).(int64)
	return value, ok && value > 0
}

// ItemIDFromContext extracts the source item id.
func ItemIDFromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(itemIDKey).(string)
	return value, ok && value != ""
}

// RequestIDFromContext extracts request id.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(requestIDKey).(string)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

// RouteFromContext extracts normalized route path.
func RouteFromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(routeKey).(string)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func setSpanRequestAttributes(ctx context.Context, requestID, route string) {
	span := trace.SpanFromContext(ctx)
	attrs := make([]attribute.KeyValue, 0, 2)
	if requestID != "" {
		attrs = append(attrs, attribute.String("request.id", requestID))
	}
	if route != "" {
		attrs = append(attrs, attribute.String("http.route", route))
	}
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
}

func (s otelSpan) End() {
	if s.inner == nil {
		return
	}
	s.inner.End()
}

func (s otelSpan) RecordError(err error) {
	if s.inner == nil || err == nil {
		return
	}
	s.inner.RecordError(err)
	s.inner.SetStatus(codes.Error, err.Error())
}
