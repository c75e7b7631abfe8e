package prober

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/softmech/journeyprobe/internal/correlation"
	"github.com/softmech/journeyprobe/internal/dispatch"
	"github.com/softmech/journeyprobe/internal/domain/probe"
	"github.com/softmech/journeyprobe/internal/domain/scenario"
	"github.com/softmech/journeyprobe/internal/report"
	"github.com/softmech/journeyprobe/internal/verify"
)

const interactiveReply = `{"recipient":"%s","message":{"id":"m-in-%d","type":"interactive","text":{"body":"hello world!"},"buttons":[{"id":"dest_cupcake","title":"Cupcake"},{"id":"dest_pie","title":"Pie"}]}}`

type fakeDispatcher struct {
	mu         sync.Mutex
	sends      []dispatch.Stimulus
	recipients []string
	err        error
}

func (d *fakeDispatcher) Send(_ context.Context, recipient string, st dispatch.Stimulus, _ int) (*dispatch.Result, error) {
	d.mu.Lock()
	d.sends = append(d.sends, st)
	d.recipients = append(d.recipients, recipient)
	n := len(d.sends)
	d.mu.Unlock()
	if d.err != nil {
		return &dispatch.Result{}, d.err
	}
	now := time.Now()
	return &dispatch.Result{MessageID: fmt.Sprintf("m-out-%d", n), SentAt: now, Attempts: []time.Time{now}}, nil
}

func (d *fakeDispatcher) sent() []dispatch.Stimulus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]dispatch.Stimulus(nil), d.sends...)
}

func (d *fakeDispatcher) lastRecipient() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.recipients) == 0 {
		return ""
	}
	return d.recipients[len(d.recipients)-1]
}

type captureSink struct {
	mu     sync.Mutex
	events []probe.AlertEvent
}

func (s *captureSink) Publish(_ context.Context, ev probe.AlertEvent) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *captureSink) all() []probe.AlertEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]probe.AlertEvent(nil), s.events...)
}

type captureArchive struct {
	mu      sync.Mutex
	runs    []*probe.Run
	records [][]probe.LatencyRecord
}

func (a *captureArchive) ArchiveRun(_ context.Context, run *probe.Run, recs []probe.LatencyRecord) error {
	a.mu.Lock()
	a.runs = append(a.runs, run)
	a.records = append(a.records, recs)
	a.mu.Unlock()
	return nil
}

func (a *captureArchive) ListRuns(context.Context, string, int) ([]*probe.Run, error) {
	return nil, nil
}

type harness struct {
	machine *Machine
	disp    *fakeDispatcher
	store   *correlation.Store
	sink    *captureSink
	archive *captureArchive
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		disp:    &fakeDispatcher{},
		store:   correlation.NewStore(),
		sink:    &captureSink{},
		archive: &captureArchive{},
	}
	rep := report.NewReporter(report.Config{Window: 10}, nil)
	h.machine = NewMachine(zap.NewNop(), h.disp, h.store, rep, h.sink, h.archive, nil)
	return h
}

// respond resolves pending expectations in order, one scripted body each.
// It polls the store because registration happens inside Execute.
func (h *harness) respond(t *testing.T, recipient string, bodies ...string) {
	t.Helper()
	key := correlation.KeyFor(recipient)
	go func() {
		for i, body := range bodies {
			deadline := time.Now().Add(5 * time.Second)
			for h.store.Len() == 0 {
				if time.Now().After(deadline) {
					return
				}
				time.Sleep(2 * time.Millisecond)
			}
			h.store.Resolve(key, &probe.InboundEvent{
				ReceivedAt: time.Now(),
				Recipient:  recipient,
				MessageID:  fmt.Sprintf("m-in-%d", i),
				Body:       []byte(body),
			})
		}
	}()
}

// sweep runs the timeout sweeper until the test ends.
func (h *harness) sweep(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		tick := time.NewTicker(5 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-tick.C:
				h.store.Sweep(now)
			}
		}
	}()
}

func journeyScenario() *scenario.Scenario {
	return &scenario.Scenario{
		ID:   "order-journey",
		Name: "Order journey",
		Steps: []scenario.Step{
			{
				ID:       "trigger",
				Stimulus: scenario.StimulusSpec{Kind: scenario.StimulusText, Text: "hi"},
				Expect: scenario.ExpectationSpec{
					Kind:    scenario.ExpectInteractive,
					Text:    "hello world!",
					Extract: map[string]string{"button_id": "message.buttons.0.id"},
				},
				Timeout:    2 * time.Second,
				MaxRetries: 2,
				Redispatch: true,
			},
			{
				ID:       "pick-destination",
				Stimulus: scenario.StimulusSpec{Kind: scenario.StimulusButton, ButtonRef: "button_id"},
				Expect: scenario.ExpectationSpec{
					Kind: scenario.ExpectText,
					Text: "You chose destination using 🧁",
				},
				Timeout: 2 * time.Second,
			},
		},
	}
}

func TestMachine_TwoStepRunCompletes(t *testing.T) {
	h := newHarness(t)
	scn := journeyScenario()
	runID := uuid.New()
	recipient := correlation.RecipientFor(runID)

	h.respond(t, recipient,
		fmt.Sprintf(interactiveReply, recipient, 0),
		fmt.Sprintf(`{"recipient":"%s","message":{"id":"m-in-1","type":"text","text":{"body":"You chose destination using 🧁"}}}`, recipient),
	)

	run := h.machine.Execute(context.Background(), scn, runID)

	require.Equal(t, probe.StatusCompleted, run.Status)
	require.Len(t, run.StepStats, 2)
	assert.Equal(t, 1, run.StepStats[0].Attempts)
	assert.Equal(t, 1, run.StepStats[1].Attempts)
	assert.False(t, run.FinishedAt.IsZero())
	assert.Zero(t, h.store.Len())
	assert.Empty(t, h.sink.all())

	// The second stimulus carries the button id extracted from the first reply.
	sends := h.disp.sent()
	require.Len(t, sends, 2)
	assert.Equal(t, scenario.StimulusText, sends[0].Kind)
	assert.Equal(t, scenario.StimulusButton, sends[1].Kind)
	assert.Equal(t, "dest_cupcake", sends[1].ButtonID)

	// Two step records plus one run-level record reach the archive.
	require.Len(t, h.archive.records, 1)
	recs := h.archive.records[0]
	require.Len(t, recs, 3)
	assert.Equal(t, "trigger", recs[0].StepID)
	assert.Equal(t, "pick-destination", recs[1].StepID)
	assert.Empty(t, recs[2].StepID)
}

func TestMachine_SilenceFailsWithTimeout(t *testing.T) {
	h := newHarness(t)
	h.sweep(t)
	scn := journeyScenario()
	scn.Steps[1].Timeout = 30 * time.Millisecond
	runID := uuid.New()
	recipient := correlation.RecipientFor(runID)

	// Only the first step gets a reply; the second stays silent.
	h.respond(t, recipient, fmt.Sprintf(interactiveReply, recipient, 0))

	run := h.machine.Execute(context.Background(), scn, runID)

	require.Equal(t, probe.StatusFailed, run.Status)
	assert.Equal(t, "pick-destination", run.FailStep)
	assert.Equal(t, ReasonTimeoutExpired, run.FailReason)
	assert.Zero(t, h.store.Len())

	alerts := h.sink.all()
	require.Len(t, alerts, 1)
	assert.Equal(t, probe.ThresholdRunFailed, alerts[0].Threshold)
	assert.Equal(t, runID.String(), alerts[0].RunID)
	assert.Equal(t, "pick-destination", alerts[0].StepID)
	assert.Equal(t, ReasonTimeoutExpired, alerts[0].Reason)
}

func TestMachine_TimeoutRedispatches(t *testing.T) {
	h := newHarness(t)
	h.sweep(t)
	scn := journeyScenario()
	scn.Steps[0].Timeout = 30 * time.Millisecond
	scn.Steps = scn.Steps[:1]
	runID := uuid.New()
	recipient := correlation.RecipientFor(runID)

	// Skip the first expectation so its deadline elapses, then answer the
	// redispatched one.
	go func() {
		waitFor(func() bool { return len(h.disp.sent()) >= 2 && h.store.Len() > 0 })
		h.store.Resolve(correlation.KeyFor(recipient), &probe.InboundEvent{
			ReceivedAt: time.Now(),
			Recipient:  recipient,
			Body:       []byte(fmt.Sprintf(interactiveReply, recipient, 0)),
		})
	}()

	run := h.machine.Execute(context.Background(), scn, runID)

	require.Equal(t, probe.StatusCompleted, run.Status)
	require.Len(t, run.StepStats, 1)
	assert.Equal(t, 2, run.StepStats[0].Attempts)
	assert.Len(t, h.disp.sent(), 2)
	assert.Empty(t, h.sink.all())
}

func TestMachine_MismatchRetriesThenFails(t *testing.T) {
	h := newHarness(t)
	scn := journeyScenario()
	scn.Steps = scn.Steps[:1]
	scn.Steps[0].MaxRetries = 1
	runID := uuid.New()
	recipient := correlation.RecipientFor(runID)

	wrong := fmt.Sprintf(`{"recipient":"%s","message":{"id":"m-x","type":"text","text":{"body":"goodbye"}}}`, recipient)
	h.respond(t, recipient, wrong, wrong)

	run := h.machine.Execute(context.Background(), scn, runID)

	require.Equal(t, probe.StatusFailed, run.Status)
	assert.Equal(t, "trigger", run.FailStep)
	assert.Equal(t, string(verify.ReasonWrongKind), run.FailReason)
	assert.Len(t, h.disp.sent(), 2)
	require.Len(t, h.sink.all(), 1)
}

func TestMachine_RejectionFailsWithoutRegistering(t *testing.T) {
	h := newHarness(t)
	h.disp.err = &dispatch.Error{Kind: dispatch.FailureRejected, Status: 400}
	scn := journeyScenario()
	runID := uuid.New()

	run := h.machine.Execute(context.Background(), scn, runID)

	require.Equal(t, probe.StatusFailed, run.Status)
	assert.Equal(t, ReasonRemoteRejection, run.FailReason)
	assert.Equal(t, "trigger", run.FailStep)
	assert.Zero(t, h.store.Len())
	require.Len(t, h.sink.all(), 1)
}

func TestMachine_ExhaustedDispatchFails(t *testing.T) {
	h := newHarness(t)
	h.disp.err = &dispatch.Error{Kind: dispatch.FailureExhausted}
	scn := journeyScenario()

	run := h.machine.Execute(context.Background(), scn, uuid.New())

	require.Equal(t, probe.StatusFailed, run.Status)
	assert.Equal(t, ReasonExhaustedRetries, run.FailReason)
}

func TestMachine_DuplicateCorrelationKey(t *testing.T) {
	h := newHarness(t)
	scn := journeyScenario()
	runID := uuid.New()
	recipient := correlation.RecipientFor(runID)

	_, err := h.store.Register(correlation.KeyFor(recipient), uuid.New(), "other", time.Now().Add(time.Minute))
	require.NoError(t, err)

	run := h.machine.Execute(context.Background(), scn, runID)

	require.Equal(t, probe.StatusFailed, run.Status)
	assert.Equal(t, ReasonDuplicateCorrelation, run.FailReason)
}

func TestMachine_MissingButtonRefFails(t *testing.T) {
	h := newHarness(t)
	scn := journeyScenario()
	// First step no longer extracts anything, so the button step cannot
	// resolve its reference.
	scn.Steps[0].Expect.Extract = nil
	runID := uuid.New()
	recipient := correlation.RecipientFor(runID)

	h.respond(t, recipient, fmt.Sprintf(interactiveReply, recipient, 0))

	run := h.machine.Execute(context.Background(), scn, runID)

	require.Equal(t, probe.StatusFailed, run.Status)
	assert.Equal(t, "pick-destination", run.FailStep)
	assert.Equal(t, ReasonMissingButtonRef, run.FailReason)
	assert.Len(t, h.disp.sent(), 1)
}

func TestMachine_CancelAborts(t *testing.T) {
	h := newHarness(t)
	scn := journeyScenario()
	runID := uuid.New()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		waitFor(func() bool { return h.store.Len() > 0 })
		cancel()
	}()

	run := h.machine.Execute(ctx, scn, runID)

	require.Equal(t, probe.StatusAborted, run.Status)
	assert.Zero(t, h.store.Len())
	assert.Empty(t, h.sink.all())
	require.Len(t, h.archive.runs, 1)
	assert.Equal(t, probe.StatusAborted, h.archive.runs[0].Status)
}

func waitFor(cond func() bool) {
	deadline := time.Now().Add(5 * time.Second)
	for !cond() && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
}
