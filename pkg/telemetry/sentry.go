package telemetry

import (
	"context"
	"errors"

	"github.com/getsentry/sentry-go"

	"github.com/ravi-parthasarathy/nodeflow/pkg/engine"
)

// SentryRecorder reports failed processes to Sentry. Successes and
// cancellations are ignored.
type SentryRecorder struct {
	hub *sentry.Hub
}

var _ engine.Recorder = (*SentryRecorder)(nil)

// NewSentryRecorder returns a recorder capturing into hub, or into the
// current hub when hub is nil.
func NewSentryRecorder(hub *sentry.Hub) *SentryRecorder {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &SentryRecorder{hub: hub}
}

// Record implements engine.Recorder.
func (r *SentryRecorder) Record(_ context.Context, s engine.Summary) {
	if s.Success || s.Cancelled || s.Err == nil {
		return
	}

	hub := r.hub.Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("run_id", s.RunID.String())
		scope.SetTag("endpoint", s.Endpoint)
		var unitErr *engine.UnitError
		if errors.As(s.Err, &unitErr) {
			scope.SetTag("unit", string(unitErr.Ref))
			scope.SetTag("unit_kind", unitErr.Kind.String())
		}
		var panicErr *engine.RecoveryError
		if errors.As(s.Err, &panicErr) {
			scope.SetLevel(sentry.LevelFatal)
		}
		scope.SetContext("process", sentry.Context{
			"start":       string(s.Start),
			"started_at":  s.StartedAt,
			"duration_ms": s.Duration.Milliseconds(),
			"trace":       s.Trace.Names(),
		})
		hub.CaptureException(s.Err)
	})
}
