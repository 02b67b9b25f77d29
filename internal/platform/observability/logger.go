package observability

import (
	"context"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/KyawIT/what-to-wear-sub000/internal/platform/requestctx"
)

// LoggerOptions configures NewLogger.
type LoggerOptions struct {
	// Service is attached to every entry as the "service" field when set.
	Service string
	// Level is a zap level name. Empty or invalid values fall back to LOG_LEVEL, then info.
	Level string
	// Console switches to the human readable encoder for local development.
	Console bool
	// Output defaults to stdout.
	Output io.Writer
}

// cloudSeverity maps zap levels onto Cloud Logging severities.
var cloudSeverity = map[zapcore.Level]string{
	zapcore.DebugLevel:  "DEBUG",
	zapcore.InfoLevel:   "INFO",
	zapcore.WarnLevel:   "WARNING",
	zapcore.ErrorLevel:  "ERROR",
	zapcore.DPanicLevel: "CRITICAL",
	zapcore.PanicLevel:  "ALERT",
	zapcore.FatalLevel:  "EMERGENCY",
}

func encodeSeverity(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if severity, ok := cloudSeverity[level]; ok {
		enc.AppendString(severity)
		return
	}
	enc.AppendString("DEFAULT")
}

// NewLogger builds the process logger. JSON entries use the field names
// Cloud Logging promotes: severity, message and timestamp.
func NewLogger(opts LoggerOptions) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	for _, candidate := range []string{opts.Level, os.Getenv("LOG_LEVEL")} {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if parsed, err := zapcore.ParseLevel(candidate); err == nil {
			level = parsed
			break
		}
	}

	encoderCfg := zapcore.EncoderConfig{
		MessageKey:     "message",
		TimeKey:        "timestamp",
		LevelKey:       "severity",
		NameKey:        "logger",
		CallerKey:      "caller",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeLevel:    encodeSeverity,
	}
	var encoder zapcore.Encoder
	if opts.Console {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	var sink zapcore.WriteSyncer = zapcore.Lock(os.Stdout)
	if opts.Output != nil {
		sink = zapcore.AddSync(opts.Output)
	}

	logger := zap.New(zapcore.NewCore(encoder, sink, level),
		zap.AddCaller(),
		zap.ErrorOutput(zapcore.Lock(os.Stderr)),
	)
	if service := strings.TrimSpace(opts.Service); service != "" {
		logger = logger.With(zap.String("service", service))
	}
	return logger, nil
}

// WithLogger stores logger as the fallback for code running outside a request.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return requestctx.WithLogger(ctx, logger)
}

// Printf is a printf style sink for packages that take a Logger interface
// instead of zap, such as the JWKS cache.
type Printf func(format string, args ...any)

// Printf logs the formatted message.
func (p Printf) Printf(format string, args ...any) { p(format, args...) }

// NewPrintf routes printf style messages to logger at warn level. Those
// callers only report trouble.
func NewPrintf(logger *zap.Logger) Printf {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger.WithOptions(zap.AddCallerSkip(1)).Sugar().Warnf
}
