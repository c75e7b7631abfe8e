package dispatch

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/softmech/journeyprobe/internal/domain/probe"
	"github.com/softmech/journeyprobe/internal/obs/retry"
)

// Sender performs one delivery attempt against the platform.
type Sender interface {
	SendMessage(ctx context.Context, recipient string, st Stimulus) (string, error)
}

// Result reports a dispatch including every attempt it took. SentAt is the
// timestamp of the final successful attempt; it anchors the step's
// correlation deadline.
type Result struct {
	MessageID string
	SentAt    time.Time
	Attempts  []time.Time
}

type Dispatcher struct {
	log    *zap.Logger
	client Sender
	clock  probe.Clock
}

func NewDispatcher(log *zap.Logger, client Sender, clock probe.Clock) *Dispatcher {
	if clock == nil {
		clock = probe.SystemClock{}
	}
	return &Dispatcher{log: log, client: client, clock: clock}
}

// Send delivers a stimulus with exponential backoff on transient failures.
// maxRetries is the retry budget on top of the first attempt. Transient
// failures that outlive the budget surface as FailureExhausted; rejections
// surface immediately.
func (d *Dispatcher) Send(ctx context.Context, recipient string, st Stimulus, maxRetries int) (*Result, error) {
	tr := otel.Tracer("dispatch")
	ctx, span := tr.Start(ctx, "dispatch.send")
	span.SetAttributes(
		attribute.String("stimulus.kind", string(st.Kind)),
		attribute.Int("retry.budget", maxRetries),
	)
	defer span.End()

	res := &Result{}
	err := retry.Do(ctx, func() error {
		at := d.clock.Now()
		res.Attempts = append(res.Attempts, at)
		id, err := d.client.SendMessage(ctx, recipient, st)
		if err != nil {
			return err
		}
		res.MessageID = id
		res.SentAt = at
		return nil
	}, retry.DispatchPolicy(d.log, maxRetries+1, IsTransient))

	if err != nil {
		span.RecordError(err)
		if IsTransient(err) {
			err = &Error{Kind: FailureExhausted, Err: err}
		}
		return res, err
	}
	span.SetAttributes(attribute.Int("attempts", len(res.Attempts)))
	return res, nil
}
