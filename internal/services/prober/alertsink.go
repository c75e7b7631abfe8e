package prober

import (
	"context"

	"go.uber.org/zap"

	"github.com/softmech/journeyprobe/internal/domain/probe"
)

// LogSink writes alert events to the service log. It is the sink of last
// resort when no broker is configured; delivery stops at the log line.
type LogSink struct {
	Log *zap.Logger
}

var _ probe.AlertSink = (*LogSink)(nil)

func (s *LogSink) Publish(_ context.Context, ev probe.AlertEvent) error {
	s.Log.Warn("alert",
		zap.String("threshold", ev.Threshold),
		zap.String("observed", ev.Observed),
		zap.String("run_id", ev.RunID),
		zap.String("step_id", ev.StepID),
		zap.String("reason", ev.Reason),
		zap.Time("at", ev.At),
	)
	return nil
}
