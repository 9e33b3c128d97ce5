package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Summary describes one finished process.
type Summary struct {
	RunID     uuid.UUID
	Endpoint  string
	Start     Ref
	StartedAt time.Time
	Duration  time.Duration
	Success   bool
	Cancelled bool
	Trace     Chain
	Err       error
}

// Recorder receives a Summary after every process. Implementations must be
// safe for concurrent use and must not block for long.
type Recorder interface {
	Record(ctx context.Context, s Summary)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, s Summary)

// Record calls f.
func (f RecorderFunc) Record(ctx context.Context, s Summary) { f(ctx, s) }

// NopRecorder drops every summary.
var NopRecorder Recorder = RecorderFunc(func(context.Context, Summary) {})

type multiRecorder []Recorder

func (m multiRecorder) Record(ctx context.Context, s Summary) {
	for _, r := range m {
		r.Record(ctx, s)
	}
}

// Recorders fans a summary out to every non-nil recorder in rs.
func Recorders(rs ...Recorder) Recorder {
	out := make(multiRecorder, 0, len(rs))
	for _, r := range rs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// SlogRecorder logs summaries: successes at info, cancellations at warn and
// failures at error.
type SlogRecorder struct {
	logger *slog.Logger
}

// NewSlogRecorder returns a recorder writing to logger, or slog.Default()
// when logger is nil.
func NewSlogRecorder(logger *slog.Logger) *SlogRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogRecorder{logger: logger}
}

// Record implements Recorder.
func (r *SlogRecorder) Record(ctx context.Context, s Summary) {
	attrs := []slog.Attr{
		slog.String("run_id", s.RunID.String()),
		slog.String("endpoint", s.Endpoint),
		slog.String("start", string(s.Start)),
		slog.Duration("duration", s.Duration),
		slog.Any("trace", s.Trace.Names()),
	}
	switch {
	case s.Success:
		r.logger.LogAttrs(ctx, slog.LevelInfo, "process complete", attrs...)
	case s.Cancelled:
		r.logger.LogAttrs(ctx, slog.LevelWarn, "process cancelled", append(attrs, slog.Any("error", s.Err))...)
	default:
		r.logger.LogAttrs(ctx, slog.LevelError, "process failed", append(attrs, slog.Any("error", s.Err))...)
	}
}
