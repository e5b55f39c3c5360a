// Package requestctx carries per-request values (logger, trace metadata)
// through context without forcing handlers to depend on the observability
// wiring.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type loggerKey struct{}
type traceKey struct{}

var noop = zap.NewNop()

// TraceInfo is the trace metadata attached to a request.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// WithLogger attaches a logger to the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noop
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Logger returns the request logger, or a no-op logger when none is attached.
func Logger(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && logger != nil {
			return logger
		}
	}
	return noop
}

// NoopLogger returns the shared no-op logger.
func NoopLogger() *zap.Logger { return noop }

// WithTrace attaches trace metadata to the context.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceKey{}, info)
}

// Trace returns the trace metadata, if any.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceKey{}).(TraceInfo)
	return info, ok
}

// TraceID returns the trace identifier, or "" when no trace is attached.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}
