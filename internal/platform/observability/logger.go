package observability

import (
	"context"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hanko-field/clinic-commerce/internal/platform/requestctx"
)

type loggerSettings struct {
	level   zapcore.Level
	service string
	version string
	out     io.Writer
}

// LoggerOption customises NewLogger.
type LoggerOption func(*loggerSettings)

// WithLevel sets the minimum level by name ("debug", "info", "warn", "error"). Unknown names
// leave the default of info.
func WithLevel(name string) LoggerOption {
	return func(s *loggerSettings) {
		var level zapcore.Level
		if err := level.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(name)))); err == nil {
			s.level = level
		}
	}
}

// WithService labels every entry with the Cloud Logging service context.
func WithService(name, version string) LoggerOption {
	return func(s *loggerSettings) {
		s.service = strings.TrimSpace(name)
		s.version = strings.TrimSpace(version)
	}
}

// WithOutput redirects entries away from stdout.
func WithOutput(w io.Writer) LoggerOption {
	return func(s *loggerSettings) {
		if w != nil {
			s.out = w
		}
	}
}

// NewLogger builds the JSON logger Cloud Logging ingests: "severity" and "message" keys,
// upper-case levels and RFC 3339 timestamps.
func NewLogger(opts ...LoggerOption) *zap.Logger {
	settings := loggerSettings{level: zapcore.InfoLevel, out: os.Stdout}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}

	encoder := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		MessageKey:     "message",
		TimeKey:        "timestamp",
		LevelKey:       "severity",
		NameKey:        "logger",
		CallerKey:      "caller",
		StacktraceKey:  "stacktrace",
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	})
	core := zapcore.NewCore(encoder, zapcore.AddSync(settings.out), settings.level)

	logger := zap.New(core, zap.AddCaller(), zap.ErrorOutput(zapcore.Lock(os.Stderr)))
	if settings.service != "" {
		logger = logger.With(zap.Dict("serviceContext",
			zap.String("service", settings.service),
			zap.String("version", settings.version),
		))
	}
	return logger
}

// WithLogger injects the logger into ctx.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return requestctx.WithLogger(ctx, logger)
}

// FromContext retrieves the logger from ctx, defaulting to a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	return requestctx.Logger(ctx)
}
