package kafka

import (
	"context"

	"go.uber.org/zap"

	"github.com/softmech/journeyprobe/internal/domain/probe"
	"github.com/softmech/journeyprobe/internal/obs/retry"
)

// AlertEventsKafka delivers alert events to the alert topic, keyed by
// threshold name so one threshold's alerts stay in order.
type AlertEventsKafka struct {
	p   *Producer
	log *zap.Logger
}

func NewAlertEventsKafka(p *Producer, log *zap.Logger) *AlertEventsKafka {
	return &AlertEventsKafka{p: p, log: log}
}

var _ probe.AlertSink = (*AlertEventsKafka)(nil)

func (s *AlertEventsKafka) Publish(ctx context.Context, ev probe.AlertEvent) error {
	return retry.Do(ctx, func() error {
		return s.p.PublishJSON(ctx, []byte(ev.Threshold), ev)
	}, retry.AlertPublishPolicy(s.log))
}
