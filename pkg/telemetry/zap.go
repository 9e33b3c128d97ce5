package telemetry

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ravi-parthasarathy/nodeflow/pkg/engine"
)

// ZapRecorder logs process summaries to a zap logger.
type ZapRecorder struct {
	logger *zap.Logger
}

var _ engine.Recorder = (*ZapRecorder)(nil)

// NewZapRecorder returns a recorder writing to logger. A nil logger drops
// everything.
func NewZapRecorder(logger *zap.Logger) *ZapRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapRecorder{logger: logger}
}

// Record implements engine.Recorder.
func (r *ZapRecorder) Record(_ context.Context, s engine.Summary) {
	fields := []zap.Field{
		zap.String("run_id", s.RunID.String()),
		zap.String("endpoint", s.Endpoint),
		zap.String("start", string(s.Start)),
		zap.Duration("duration", s.Duration),
		zap.Strings("trace", s.Trace.Names()),
	}
	var unitErr *engine.UnitError
	if errors.As(s.Err, &unitErr) {
		fields = append(fields,
			zap.String("unit", string(unitErr.Ref)),
			zap.Stringer("unit_kind", unitErr.Kind))
	}

	switch {
	case s.Success:
		r.logger.Info("process complete", fields...)
	case s.Cancelled:
		r.logger.Warn("process cancelled", append(fields, zap.Error(s.Err))...)
	default:
		r.logger.Error("process failed", append(fields, zap.Error(s.Err))...)
	}
}

// NewLogger builds a zap logger for the given level ("debug", "info",
// "warn", "error") and format ("json" or "console").
func NewLogger(level, format string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, err
		}
	}

	var cfg zap.Config
	switch format {
	case "", "json":
		cfg = zap.NewProductionConfig()
	case "console":
		cfg = zap.NewDevelopmentConfig()
	default:
		return nil, errors.New("log format must be json or console")
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}
