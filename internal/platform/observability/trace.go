package observability

import (
	"encoding/binary"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/seoulthread/api/internal/platform/requestctx"
)

const cloudTraceHeader = "X-Cloud-Trace-Context"

var tracer = otel.Tracer("github.com/seoulthread/api/internal/platform/observability")

// TraceMiddleware starts a server span for each request, honouring an
// incoming X-Cloud-Trace-Context header, and publishes the trace metadata on
// the request context and the response header.
func TraceMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if remote, ok := incomingSpanContext(r.Header.Get(cloudTraceHeader)); ok {
				ctx = trace.ContextWithRemoteSpanContext(ctx, remote)
			}

			ctx, span := tracer.Start(ctx, spanName(r), trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
			span.SetAttributes(requestAttributes(r)...)

			spanCtx := span.SpanContext()
			info := requestctx.TraceInfo{
				TraceID:   spanCtx.TraceID().String(),
				SpanID:    spanCtx.SpanID().String(),
				Sampled:   spanCtx.IsSampled(),
				ProjectID: projectID,
			}
			ctx = requestctx.WithTrace(ctx, info)

			sampledFlag := "0"
			if info.Sampled {
				sampledFlag = "1"
			}
			w.Header().Set(cloudTraceHeader, fmt.Sprintf("%s/%s;o=%s", info.TraceID, info.SpanID, sampledFlag))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// incomingSpanContext parses "TRACE_ID/SPAN_ID;o=1". The span ID may be hex
// or, from older Cloud load balancers, decimal.
func incomingSpanContext(header string) (trace.SpanContext, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return trace.SpanContext{}, false
	}

	traceField, rest, found := strings.Cut(header, "/")
	if !found || len(strings.TrimSpace(traceField)) != 32 {
		return trace.SpanContext{}, false
	}
	traceID, err := trace.TraceIDFromHex(strings.TrimSpace(traceField))
	if err != nil {
		return trace.SpanContext{}, false
	}

	spanField, options, _ := strings.Cut(rest, ";")
	spanID, ok := parseSpanID(strings.TrimSpace(spanField))
	if !ok {
		return trace.SpanContext{}, false
	}

	var flags trace.TraceFlags
	if sampledOption(options) {
		flags = trace.FlagsSampled
	}

	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	}), true
}

func parseSpanID(value string) (trace.SpanID, bool) {
	if value == "" {
		return trace.SpanID{}, false
	}
	if len(value) <= 16 {
		padded := strings.Repeat("0", 16-len(value)) + value
		if spanID, err := trace.SpanIDFromHex(padded); err == nil {
			return spanID, true
		}
	}
	if num, err := strconv.ParseUint(value, 10, 64); err == nil {
		var spanID trace.SpanID
		binary.BigEndian.PutUint64(spanID[:], num)
		return spanID, spanID.IsValid()
	}
	return trace.SpanID{}, false
}

func sampledOption(options string) bool {
	for _, segment := range strings.Split(options, ";") {
		if strings.TrimSpace(segment) == "o=1" {
			return true
		}
	}
	return false
}

func spanName(r *http.Request) string {
	path := "/"
	if r.URL != nil && r.URL.Path != "" {
		path = r.URL.Path
	}
	return r.Method + " " + path
}

func requestAttributes(r *http.Request) []attribute.KeyValue {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	attrs := []attribute.KeyValue{
		attribute.String("http.request.method", r.Method),
		attribute.String("url.scheme", scheme),
	}
	if r.URL != nil {
		if r.URL.Path != "" {
			attrs = append(attrs, attribute.String("url.path", r.URL.Path))
		}
		if target := r.URL.RequestURI(); target != "" {
			attrs = append(attrs, attribute.String("url.full", target))
		}
	}
	if r.Host != "" {
		attrs = append(attrs, attribute.String("server.address", r.Host))
	}
	if ua := r.UserAgent(); ua != "" {
		attrs = append(attrs, attribute.String("user_agent.original", ua))
	}
	return attrs
}
