package observability

import (
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/seoulthread/api/internal/platform/auth"
	"github.com/seoulthread/api/internal/platform/httpx"
	"github.com/seoulthread/api/internal/platform/requestctx"
)

// InjectLoggerMiddleware seeds every request context with the base logger.
func InjectLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestctx.WithLogger(r.Context(), logger)))
		})
	}
}

// RequestLoggerMiddleware logs request start and completion, enriches the
// context logger with request identity and trace fields, and records the
// response status on the active span. The projectID parameter feeds the
// logging.googleapis.com/trace resource used by Cloud Logging correlation.
func RequestLoggerMiddleware(projectID string) func(http.Handler) http.Handler {
	_ = projectID // trace resource comes via requestctx.TraceInfo, set by TraceMiddleware
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			traceInfo, _ := requestctx.Trace(ctx)
			route := routePattern(r)

			logger := requestctx.Logger(ctx).With(
				zap.String("request_id", middleware.GetReqID(ctx)),
				zap.String("method", clean(r.Method, 10)),
				zap.String("route", cleanRoute(route)),
				zap.String("trace_id", traceInfo.TraceID),
				zap.String("user_id", requestUserID(r)),
			)
			if traceInfo.ProjectID != "" && traceInfo.TraceID != "" {
				logger = logger.With(zap.String("logging.googleapis.com/trace",
					fmt.Sprintf("projects/%s/traces/%s", traceInfo.ProjectID, traceInfo.TraceID)))
			}
			if ip := clientIP(r); ip != "" {
				logger = logger.With(zap.String("remote_ip", ip))
			}

			ctx = requestctx.WithLogger(ctx, logger)
			r = r.WithContext(ctx)

			counted := &countingWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			logger.Info("request started")

			var panicked bool
			defer func() {
				status := counted.status
				if panicked && status < http.StatusInternalServerError {
					status = http.StatusInternalServerError
				}

				if span := trace.SpanFromContext(ctx); span != nil {
					span.SetAttributes(
						semconv.HTTPResponseStatusCode(status),
						semconv.HTTPRoute(cleanRoute(route)),
					)
					if status >= http.StatusInternalServerError {
						span.SetStatus(codes.Error, http.StatusText(status))
					} else {
						span.SetStatus(codes.Ok, http.StatusText(status))
					}
				}

				fields := []zap.Field{
					zap.Int("status", status),
					zap.Duration("latency", time.Since(start)),
					zap.Int64("bytes", counted.bytes),
				}
				switch {
				case panicked || status >= http.StatusInternalServerError:
					logger.Error("request completed", fields...)
				case status >= http.StatusBadRequest:
					logger.Warn("request completed", fields...)
				default:
					logger.Info("request completed", fields...)
				}
			}()
			defer func() {
				if rec := recover(); rec != nil {
					panicked = true
					panic(rec)
				}
			}()

			next.ServeHTTP(counted, r)
		})
	}
}

// RecoveryMiddleware turns panics into logged 500 responses.
func RecoveryMiddleware(fallback *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					ctx := r.Context()
					logger := requestctx.Logger(ctx)
					if logger == requestctx.NoopLogger() && fallback != nil {
						logger = fallback
					}
					logger.Error("panic recovered",
						zap.Any("panic", rec),
						zap.ByteString("stack", debug.Stack()),
					)
					httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func requestUserID(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity != nil {
		return clean(identity.UID, 64)
	}
	return ""
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	if r.URL != nil && r.URL.Path != "" {
		return r.URL.Path
	}
	return "/"
}

func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return clean(addr, 64)
}

// countingWriter records the status code and byte count of the response.
type countingWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (c *countingWriter) WriteHeader(status int) {
	if status >= 100 {
		c.status = status
	}
	c.ResponseWriter.WriteHeader(status)
}

func (c *countingWriter) Write(b []byte) (int, error) {
	n, err := c.ResponseWriter.Write(b)
	c.bytes += int64(n)
	return n, err
}
