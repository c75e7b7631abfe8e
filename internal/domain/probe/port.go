package probe

import (
	"context"
	"time"
)

// ArchiveRepo persists terminal runs together with their latency records.
type ArchiveRepo interface {
	ArchiveRun(ctx context.Context, r *Run, recs []LatencyRecord) error
	ListRuns(ctx context.Context, scenarioID string, limit int) ([]*Run, error)
}

// AlertSink receives well-formed alert events; delivery is the sink's concern.
type AlertSink interface {
	Publish(ctx context.Context, ev AlertEvent) error
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
