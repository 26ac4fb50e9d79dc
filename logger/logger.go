package logger

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogFormat defines the output format of the log
type LogFormat string

const (
	LogFormatConsole LogFormat = "console"
	LogFormatJSON    LogFormat = "json"
)

// MaxSQLLogLength is the length a statement is truncated to before logging.
const MaxSQLLogLength = 500

// Config is the logger configuration, loadable with envconfig.
type Config struct {
	Level       string    `envconfig:"LOG_LEVEL" default:"info"`
	Format      LogFormat `envconfig:"LOG_FORMAT" default:"json"`
	Development bool      `envconfig:"LOG_DEVELOPMENT" default:"false"`
	OutputPaths []string  `envconfig:"LOG_OUTPUT" default:"stderr"`
}

// New builds a zap logger named "dbutil".
func New(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	format := cfg.Format
	if format == "" {
		format = LogFormatJSON
	}
	if format != LogFormatJSON && format != LogFormatConsole {
		return nil, fmt.Errorf("invalid log format %q", format)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if cfg.Development && format == LogFormatConsole {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Development,
		Encoding:         string(format),
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	l, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return l.Named("dbutil"), nil
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// SQL logs one executed statement: debug on success, error on failure.
func SQL(l *zap.Logger, query string, duration time.Duration, args []any, err error, fields ...zap.Field) {
	fs := append([]zap.Field{
		zap.String("sql", TruncateSQL(query)),
		zap.Duration("duration", duration),
		zap.Int("args", len(args)),
	}, fields...)
	if err != nil {
		l.Error("statement failed", append(fs, zap.String("error", RedactError(err)))...)
		return
	}
	if ce := l.Check(zapcore.DebugLevel, "statement executed"); ce != nil {
		ce.Write(fs...)
	}
}

// TruncateSQL shortens a statement for logging.
func TruncateSQL(query string) string {
	if len(query) > MaxSQLLogLength {
		return query[:MaxSQLLogLength] + "..."
	}
	return query
}
