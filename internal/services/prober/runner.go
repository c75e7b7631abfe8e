package prober

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	config "github.com/softmech/journeyprobe/internal/config/probe"
	"github.com/softmech/journeyprobe/internal/correlation"
	"github.com/softmech/journeyprobe/internal/domain/probe"
	"github.com/softmech/journeyprobe/internal/domain/scenario"
	"github.com/softmech/journeyprobe/internal/report"
	"golang.org/x/sync/semaphore"
)

var (
	mRunsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prober_runs_started_total", Help: "Probe runs started",
	}, []string{"scenario"})
	mRunsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prober_runs_finished_total", Help: "Probe runs finished, by terminal status",
	}, []string{"scenario", "status"})
	mRunsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prober_runs_skipped_total", Help: "Scheduled runs skipped at the concurrency limit",
	}, []string{"scenario"})
	mSweepTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prober_sweep_timeouts_total", Help: "Expectations expired by the sweep tick",
	})
	mAlertsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prober_alerts_published_total", Help: "Threshold alerts published",
	})
	mActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "prober_active_runs", Help: "Runs currently in flight",
	})
)

// Runner schedules probe runs on a fixed interval, bounded by the
// concurrency limit, and owns the two service-wide polling loops: the
// timeout sweep and the threshold check.
type Runner struct {
	log       *zap.Logger
	cfg       *config.SchedCfg
	scenarios []*scenario.Scenario
	machine   *Machine
	store     *correlation.Store
	rep       *report.Reporter
	alerts    probe.AlertSink

	sem *semaphore.Weighted

	mu     sync.Mutex
	active map[uuid.UUID]context.CancelFunc
	wg     sync.WaitGroup
}

func NewRunner(
	log *zap.Logger,
	cfg *config.SchedCfg,
	scenarios []*scenario.Scenario,
	machine *Machine,
	store *correlation.Store,
	rep *report.Reporter,
	alerts probe.AlertSink,
) *Runner {
	limit := cfg.ConcurrencyLimit
	if limit <= 0 {
		limit = 1
	}
	return &Runner{
		log:       log,
		cfg:       cfg,
		scenarios: scenarios,
		machine:   machine,
		store:     store,
		rep:       rep,
		alerts:    alerts,
		sem:       semaphore.NewWeighted(limit),
		active:    make(map[uuid.UUID]context.CancelFunc),
	}
}

func (r *Runner) Run(ctx context.Context) error {
	schedule := time.NewTicker(r.cfg.ScheduleInterval)
	defer schedule.Stop()
	sweep := time.NewTicker(r.cfg.SweepInterval)
	defer sweep.Stop()
	thresholds := time.NewTicker(r.cfg.ThresholdInterval)
	defer thresholds.Stop()

	r.startRuns(ctx)

	for {
		select {
		case <-ctx.Done():
			r.wg.Wait()
			return ctx.Err()
		case <-schedule.C:
			r.startRuns(ctx)
		case <-sweep.C:
			if expired := r.store.Sweep(time.Now()); len(expired) > 0 {
				mSweepTimeouts.Add(float64(len(expired)))
			}
		case <-thresholds.C:
			r.checkThresholds(ctx)
		}
	}
}

func (r *Runner) startRuns(ctx context.Context) {
	for _, scn := range r.scenarios {
		if !r.sem.TryAcquire(1) {
			mRunsSkipped.WithLabelValues(scn.ID).Inc()
			r.log.Warn("run skipped: concurrency limit reached", zap.String("scenario", scn.ID))
			continue
		}
		runID := uuid.New()
		runCtx, cancel := context.WithCancel(ctx)

		r.mu.Lock()
		r.active[runID] = cancel
		r.mu.Unlock()

		mRunsStarted.WithLabelValues(scn.ID).Inc()
		mActiveRuns.Inc()
		r.wg.Add(1)
		go func(scn *scenario.Scenario) {
			defer r.wg.Done()
			defer r.sem.Release(1)
			defer mActiveRuns.Dec()
			defer func() {
				r.mu.Lock()
				delete(r.active, runID)
				r.mu.Unlock()
				cancel()
			}()

			run := r.machine.Execute(runCtx, scn, runID)
			mRunsFinished.WithLabelValues(scn.ID, string(run.Status)).Inc()
		}(scn)
	}
}

// Cancel aborts an in-flight run. Cancelling an unknown or already terminal
// run is a no-op.
func (r *Runner) Cancel(runID uuid.UUID) bool {
	r.mu.Lock()
	cancel, ok := r.active[runID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (r *Runner) checkThresholds(ctx context.Context) {
	for _, ev := range r.rep.CheckThresholds() {
		if err := r.alerts.Publish(ctx, ev); err != nil {
			r.log.Error("publish threshold alert", zap.String("threshold", ev.Threshold), zap.Error(err))
			continue
		}
		mAlertsPublished.Inc()
		r.log.Warn("threshold breached",
			zap.String("threshold", ev.Threshold),
			zap.String("observed", ev.Observed),
		)
	}
}
