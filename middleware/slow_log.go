package middleware

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shrek82/dbutil/core"
	"github.com/shrek82/dbutil/logger"
)

// SlowLogMiddleware logs statements that take longer than Threshold.
type SlowLogMiddleware struct {
	Threshold time.Duration
	// LogPath, if set, sends slow statements to a JSON log file instead of
	// the registry logger.
	LogPath string

	log   *zap.Logger
	owned bool
}

// NewSlowLog creates a slow statement logger. logPath may be empty.
func NewSlowLog(threshold time.Duration, logPath string) *SlowLogMiddleware {
	return &SlowLogMiddleware{
		Threshold: threshold,
		LogPath:   logPath,
	}
}

// SetLogger sets the destination logger, e.g. for testing.
func (m *SlowLogMiddleware) SetLogger(l *zap.Logger) {
	m.log = l
}

func (m *SlowLogMiddleware) Name() string {
	return "SlowLog"
}

func (m *SlowLogMiddleware) Init(r *core.Registry) error {
	// keep a logger set by SetLogger
	if m.log != nil {
		return nil
	}

	if m.LogPath != "" {
		l, err := logger.New(logger.Config{
			Level:       "warn",
			Format:      logger.LogFormatJSON,
			OutputPaths: []string{m.LogPath},
		})
		if err != nil {
			return fmt.Errorf("failed to open slow log file: %w", err)
		}
		m.log = l.Named("slow")
		m.owned = true
	} else {
		m.log = r.Logger().Named("slow")
	}
	return nil
}

func (m *SlowLogMiddleware) Shutdown() error {
	if m.owned {
		return m.log.Sync()
	}
	return nil
}

func (m *SlowLogMiddleware) Process(ctx context.Context, stmt *core.Statement, next core.Handler) (*core.Outcome, error) {
	start := time.Now()
	out, err := next(ctx, stmt)
	duration := time.Since(start)

	if duration > m.Threshold {
		fields := []zap.Field{
			zap.String("datasource", stmt.Datasource),
			zap.String("kind", string(stmt.Kind)),
			zap.String("sql", logger.TruncateSQL(stmt.SQL)),
			zap.Int("args", len(stmt.Args)),
			zap.Duration("duration", duration),
			zap.Duration("threshold", m.Threshold),
		}
		for k, v := range stmt.Fields {
			fields = append(fields, zap.Any(k, v))
		}
		if out != nil {
			fields = append(fields, zap.Int("rows", len(out.Rows)), zap.Int64("rows_affected", out.Update.RowsAffected))
		}
		if err != nil {
			fields = append(fields, zap.String("error", logger.RedactError(err)))
		}
		logger.OrNop(m.log).Warn("slow statement", fields...)
	}

	return out, err
}
