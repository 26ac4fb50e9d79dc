package middleware

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"github.com/shrek82/dbutil/core"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	userIPKey    contextKey = "user_ip"
)

// WithRequestID attaches a request id that Tracing adds to statement logs.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// WithUserIP attaches a client address that Tracing adds to statement logs.
func WithUserIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, userIPKey, ip)
}

// TracingMiddleware copies request information from the context into the
// statement's log fields: the request id and user IP set with WithRequestID
// and WithUserIP, and the trace and span ids of an OpenTelemetry span.
type TracingMiddleware struct{}

func NewTracing() *TracingMiddleware {
	return &TracingMiddleware{}
}

func (m *TracingMiddleware) Name() string {
	return "Tracing"
}

func (m *TracingMiddleware) Init(*core.Registry) error {
	return nil
}

func (m *TracingMiddleware) Shutdown() error {
	return nil
}

func (m *TracingMiddleware) Process(ctx context.Context, stmt *core.Statement, next core.Handler) (*core.Outcome, error) {
	if reqID, ok := ctx.Value(requestIDKey).(string); ok && reqID != "" {
		stmt.WithField("request_id", reqID)
	}
	if userIP, ok := ctx.Value(userIPKey).(string); ok && userIP != "" {
		stmt.WithField("user_ip", userIP)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		stmt.WithField("trace_id", sc.TraceID().String())
		stmt.WithField("span_id", sc.SpanID().String())
	}
	return next(ctx, stmt)
}
