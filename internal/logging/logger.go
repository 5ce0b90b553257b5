package logging

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const otelScope = "github.com/fyrsmithlabs/learnd"

// Option customizes New.
type Option func(*options)

type options struct {
	writer zapcore.WriteSyncer
}

// WithWriter sends stdout output to w instead.
func WithWriter(w zapcore.WriteSyncer) Option {
	return func(o *options) { o.writer = w }
}

// New builds a zap logger from cfg. otelProvider may be nil, in which case
// OTEL output is skipped even when enabled.
func New(cfg *Config, otelProvider log.LoggerProvider, opts ...Option) (*zap.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	o := options{writer: zapcore.AddSync(os.Stdout)}
	for _, opt := range opts {
		opt(&o)
	}

	cores := make([]zapcore.Core, 0, 2)
	if cfg.Output.Stdout {
		encoder, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
		if err != nil {
			return nil, fmt.Errorf("failed to create redacting encoder: %w", err)
		}
		cores = append(cores, zapcore.NewCore(encoder, o.writer, cfg.Level))
	}
	if cfg.Output.OTEL && otelProvider != nil {
		cores = append(cores, otelzap.NewCore(otelScope, otelzap.WithLoggerProvider(otelProvider)))
	}
	if len(cores) == 0 {
		return nil, errors.New("no log output available")
	}
	core := newSampledCore(zapcore.NewTee(cores...), cfg.Sampling)

	zopts := []zap.Option{}
	if cfg.Caller {
		zopts = append(zopts, zap.AddCaller())
	}
	if cfg.Stacktrace != 0 {
		zopts = append(zopts, zap.AddStacktrace(cfg.Stacktrace))
	}
	logger := zap.New(core, zopts...)

	if len(cfg.Fields) > 0 {
		fields := make([]zap.Field, 0, len(cfg.Fields))
		for k, v := range cfg.Fields {
			fields = append(fields, zap.String(k, v))
		}
		logger = logger.With(fields...)
	}
	return logger, nil
}

func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = encodeLevel

	if format == "console" {
		return zapcore.NewConsoleEncoder(encoderCfg)
	}
	return zapcore.NewJSONEncoder(encoderCfg)
}

func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l == TraceLevel {
		enc.AppendString("trace")
		return
	}
	zapcore.LowercaseLevelEncoder(l, enc)
}

// Sync flushes logger, ignoring the EINVAL/ENOTTY errors returned when
// stdout is a terminal or pipe.
func Sync(logger *zap.Logger) error {
	err := logger.Sync()
	var errno syscall.Errno
	if errors.As(err, &errno) && (errno == syscall.EINVAL || errno == syscall.ENOTTY) {
		return nil
	}
	return err
}
