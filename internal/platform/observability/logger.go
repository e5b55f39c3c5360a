package observability

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/seoulthread/api/internal/platform/requestctx"
)

// NewLogger builds the process logger: JSON on stdout with field names Cloud
// Logging understands (severity, timestamp, message). LOG_LEVEL selects the
// minimum level, defaulting to info.
func NewLogger() (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if raw := strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))); raw != "" {
		if parsed, err := zapcore.ParseLevel(raw); err == nil {
			level.SetLevel(parsed)
		}
	}

	cfg := zap.Config{
		Level:    level,
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey: "message",
			TimeKey:    "timestamp",
			LevelKey:   "severity",
			EncodeTime: zapcore.RFC3339NanoTimeEncoder,
			EncodeLevel: func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
				enc.AppendString(strings.ToUpper(l.String()))
			},
			CallerKey:     "caller",
			StacktraceKey: "stacktrace",
		},
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}
	return cfg.Build()
}

// WithLogger stores the logger on the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return requestctx.WithLogger(ctx, logger)
}

// PrintfAdapter lets zap satisfy printf-style logger interfaces.
type PrintfAdapter struct {
	sugar *zap.SugaredLogger
}

// NewPrintfAdapter wraps the logger; a nil logger becomes a no-op.
func NewPrintfAdapter(logger *zap.Logger) PrintfAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return PrintfAdapter{sugar: logger.Sugar()}
}

// Printf logs at info level.
func (a PrintfAdapter) Printf(format string, args ...any) {
	a.sugar.Infof(format, args...)
}
