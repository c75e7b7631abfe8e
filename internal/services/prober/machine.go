package prober

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/softmech/journeyprobe/internal/correlation"
	"github.com/softmech/journeyprobe/internal/dispatch"
	"github.com/softmech/journeyprobe/internal/domain/probe"
	"github.com/softmech/journeyprobe/internal/domain/scenario"
	"github.com/softmech/journeyprobe/internal/obs"
	"github.com/softmech/journeyprobe/internal/report"
	"github.com/softmech/journeyprobe/internal/verify"
)

// Fail reasons carried on terminal runs and their alerts.
const (
	ReasonTimeoutExpired       = "timeout_expired"
	ReasonExhaustedRetries     = "exhausted_retries"
	ReasonRemoteRejection      = "remote_rejection"
	ReasonDuplicateCorrelation = "duplicate_correlation"
	ReasonMissingButtonRef     = "missing_button_ref"
)

// Dispatcher sends one stimulus, retrying transient failures internally.
type Dispatcher interface {
	Send(ctx context.Context, recipient string, st dispatch.Stimulus, maxRetries int) (*dispatch.Result, error)
}

// Machine drives a single probe run through its scenario: dispatch, wait for
// the correlated callback, verify, advance. Steps execute strictly in order;
// the wait on the expectation outcome is the only suspension point.
type Machine struct {
	log     *zap.Logger
	disp    Dispatcher
	store   *correlation.Store
	rep     *report.Reporter
	alerts  probe.AlertSink
	archive probe.ArchiveRepo
	clock   probe.Clock
}

func NewMachine(
	log *zap.Logger,
	disp Dispatcher,
	store *correlation.Store,
	rep *report.Reporter,
	alerts probe.AlertSink,
	archive probe.ArchiveRepo,
	clock probe.Clock,
) *Machine {
	if clock == nil {
		clock = probe.SystemClock{}
	}
	return &Machine{
		log:     log,
		disp:    disp,
		store:   store,
		rep:     rep,
		alerts:  alerts,
		archive: archive,
		clock:   clock,
	}
}

// Execute runs one scenario to a terminal state. Cancelling ctx aborts the
// run: pending expectations are released and no alert is emitted.
func (m *Machine) Execute(ctx context.Context, scn *scenario.Scenario, runID uuid.UUID) *probe.Run {
	tr := otel.Tracer("prober.machine")
	ctx, span := tr.Start(ctx, "prober.run")
	span.SetAttributes(
		attribute.String("run.id", runID.String()),
		attribute.String("scenario.id", scn.ID),
	)
	defer span.End()

	run := &probe.Run{
		ID:         runID,
		ScenarioID: scn.ID,
		Recipient:  correlation.RecipientFor(runID),
		Status:     probe.StatusDispatching,
		StartedAt:  m.clock.Now(),
	}
	key := correlation.KeyFor(run.Recipient)
	log := obs.WithTrace(ctx, m.log).With(
		zap.String("run_id", runID.String()),
		zap.String("scenario", scn.ID),
	)

	extracted := map[string]string{}
	var records []probe.LatencyRecord
	var firstDispatch time.Time

steps:
	for i := range scn.Steps {
		step := &scn.Steps[i]
		run.StepIndex = i
		stat := probe.StepStat{StepID: step.ID}
		budget := step.MaxRetries + 1

		for attempt := 1; attempt <= budget; attempt++ {
			stat.Attempts = attempt
			run.Status = probe.StatusDispatching

			stim, err := buildStimulus(step.Stimulus, extracted)
			if err != nil {
				log.Error("stimulus construction failed", zap.String("step", step.ID), zap.Error(err))
				m.fail(ctx, run, step.ID, ReasonMissingButtonRef)
				break steps
			}

			res, err := m.disp.Send(ctx, run.Recipient, stim, step.MaxRetries)
			if err != nil {
				if ctx.Err() != nil {
					m.abort(run, log)
					return run
				}
				reason := ReasonExhaustedRetries
				if dispatch.KindOf(err) == dispatch.FailureRejected {
					reason = ReasonRemoteRejection
				}
				log.Warn("dispatch failed", zap.String("step", step.ID), zap.Error(err))
				m.fail(ctx, run, step.ID, reason)
				break steps
			}
			if firstDispatch.IsZero() {
				firstDispatch = res.SentAt
			}

			exp, err := m.store.Register(key, run.ID, step.ID, res.SentAt.Add(step.Timeout))
			if err != nil {
				if errors.Is(err, correlation.ErrKeyExists) {
					// two live expectations for one recipient means the
					// scenario set or concurrency wiring is broken
					log.Error("correlation key collision", zap.String("key", key), zap.String("step", step.ID))
					m.fail(ctx, run, step.ID, ReasonDuplicateCorrelation)
					break steps
				}
				log.Error("register expectation", zap.String("step", step.ID), zap.Error(err))
				m.fail(ctx, run, step.ID, ReasonDuplicateCorrelation)
				break steps
			}

			run.Status = probe.StatusAwaiting
			var out correlation.Outcome
			select {
			case out = <-exp.Outcome():
			case <-ctx.Done():
				m.store.Release(run.ID)
				m.abort(run, log)
				return run
			}

			if out.TimedOut {
				if step.Redispatch && attempt < budget {
					log.Debug("step timed out; redispatching",
						zap.String("step", step.ID), zap.Int("attempt", attempt))
					run.Status = probe.StatusRetrying
					continue
				}
				log.Warn("step timed out", zap.String("step", step.ID), zap.Int("attempts", attempt))
				m.fail(ctx, run, step.ID, ReasonTimeoutExpired)
				break steps
			}

			run.Status = probe.StatusVerifying
			v := verify.Verify(step.Expect, out.Event)
			if !v.Pass {
				log.Warn("expectation mismatch",
					zap.String("step", step.ID),
					zap.String("reason", string(v.Reason)),
					zap.String("detail", v.Detail),
				)
				if attempt < budget {
					run.Status = probe.StatusRetrying
					continue
				}
				m.fail(ctx, run, step.ID, string(v.Reason))
				break steps
			}

			rec := probe.LatencyRecord{
				RunID:        run.ID,
				StepID:       step.ID,
				DispatchedAt: res.SentAt,
				ReceivedAt:   out.Event.ReceivedAt,
				Duration:     out.Event.ReceivedAt.Sub(res.SentAt),
			}
			records = append(records, rec)
			m.rep.Observe(rec)
			for k, val := range v.Fields {
				extracted[k] = val
			}

			run.Status = probe.StatusAdvancing
			run.StepStats = append(run.StepStats, stat)
			log.Debug("step passed",
				zap.String("step", step.ID),
				zap.Int("attempts", attempt),
				zap.Duration("latency", rec.Duration),
			)
			break
		}

		if run.Status != probe.StatusAdvancing {
			break steps
		}
	}

	if !run.Status.Terminal() {
		run.Status = probe.StatusCompleted
		run.FinishedAt = m.clock.Now()
		runRec := probe.LatencyRecord{
			RunID:        run.ID,
			DispatchedAt: firstDispatch,
			ReceivedAt:   run.FinishedAt,
			Duration:     run.FinishedAt.Sub(firstDispatch),
		}
		records = append(records, runRec)
		m.rep.Observe(runRec)
		m.rep.ObserveRunOutcome(true)
		log.Info("run completed",
			zap.Int("steps", len(scn.Steps)),
			zap.Duration("duration", runRec.Duration),
		)
	}

	span.SetAttributes(attribute.String("run.status", string(run.Status)))
	m.archiveRun(run, records, log)
	return run
}

// fail moves the run to Failed and emits exactly one alert for it.
func (m *Machine) fail(ctx context.Context, run *probe.Run, stepID, reason string) {
	run.Status = probe.StatusFailed
	run.FailStep = stepID
	run.FailReason = reason
	run.FinishedAt = m.clock.Now()
	m.rep.ObserveRunOutcome(false)

	ev := probe.AlertEvent{
		Threshold: probe.ThresholdRunFailed,
		Observed:  fmt.Sprintf("step=%s reason=%s", stepID, reason),
		RunID:     run.ID.String(),
		StepID:    stepID,
		Reason:    reason,
		At:        run.FinishedAt,
	}
	if err := m.alerts.Publish(ctx, ev); err != nil {
		m.log.Error("publish run-failed alert", zap.String("run_id", run.ID.String()), zap.Error(err))
	}
}

// abort marks a cancelled run. Aborted runs emit no alerts and do not count
// as outcomes.
func (m *Machine) abort(run *probe.Run, log *zap.Logger) {
	run.Status = probe.StatusAborted
	run.FinishedAt = m.clock.Now()
	log.Info("run aborted", zap.Int("step_index", run.StepIndex))
	m.archiveRun(run, nil, log)
}

func (m *Machine) archiveRun(run *probe.Run, records []probe.LatencyRecord, log *zap.Logger) {
	if m.archive == nil {
		return
	}
	// runs are archived even when their own context is gone
	actx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.archive.ArchiveRun(actx, run, records); err != nil {
		log.Warn("archive run", zap.Error(err))
	}
}

func buildStimulus(spec scenario.StimulusSpec, fields map[string]string) (dispatch.Stimulus, error) {
	switch spec.Kind {
	case scenario.StimulusText:
		return dispatch.Stimulus{Kind: spec.Kind, Text: spec.Text}, nil
	case scenario.StimulusButton:
		id, ok := fields[spec.ButtonRef]
		if !ok || id == "" {
			return dispatch.Stimulus{}, fmt.Errorf("no extracted field %q for button stimulus", spec.ButtonRef)
		}
		return dispatch.Stimulus{Kind: spec.Kind, ButtonID: id}, nil
	default:
		return dispatch.Stimulus{}, fmt.Errorf("unknown stimulus kind %q", spec.Kind)
	}
}
