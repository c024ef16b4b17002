package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	tenantIDKey
	executionIDKey
	workflowIDKey
	loggerKey
)

// maxIDLen caps correlation values copied from untrusted input.
const maxIDLen = 128

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 6)

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if v := stringValue(ctx, requestIDKey); v != "" {
		fields = append(fields, zap.String("request.id", v))
	}
	if v := stringValue(ctx, tenantIDKey); v != "" {
		fields = append(fields, zap.String("tenant.id", v))
	}
	if v := stringValue(ctx, executionIDKey); v != "" {
		fields = append(fields, zap.String("execution.id", v))
	}
	if v := stringValue(ctx, workflowIDKey); v != "" {
		fields = append(fields, zap.String("workflow.id", v))
	}
	return fields
}

func stringValue(ctx context.Context, key ctxKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}

func withID(ctx context.Context, key ctxKey, id string) context.Context {
	if id == "" {
		return ctx
	}
	if len(id) > maxIDLen {
		id = id[:maxIDLen]
	}
	return context.WithValue(ctx, key, id)
}

// WithRequestID attaches a request id. Empty ids are ignored.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withID(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request id, or "".
func RequestIDFromContext(ctx context.Context) string { return stringValue(ctx, requestIDKey) }

// WithTenantID attaches the tenant id.
func WithTenantID(ctx context.Context, id string) context.Context {
	return withID(ctx, tenantIDKey, id)
}

// TenantIDFromContext returns the tenant id, or "".
func TenantIDFromContext(ctx context.Context) string { return stringValue(ctx, tenantIDKey) }

// WithExecutionID attaches a pipeline execution id.
func WithExecutionID(ctx context.Context, id string) context.Context {
	return withID(ctx, executionIDKey, id)
}

// WithWorkflowID attaches an approval workflow id.
func WithWorkflowID(ctx context.Context, id string) context.Context {
	return withID(ctx, workflowIDKey, id)
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger stored by WithLogger, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Nop()
}
