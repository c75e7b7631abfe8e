package report

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/softmech/journeyprobe/internal/domain/probe"
)

type Config struct {
	Window              int           `mapstructure:"window"`
	LatencyCeiling      time.Duration `mapstructure:"latency_threshold"`
	MaxConsecutiveFails int           `mapstructure:"consecutive_failures"`
	MaxFailureRate      float64       `mapstructure:"failure_rate"`
}

var (
	mStepLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "probe_step_latency_seconds", Help: "Step latency, dispatch to receive",
		Buckets: prometheus.DefBuckets,
	})
	mRunLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "probe_run_latency_seconds", Help: "Run latency, first dispatch to final verify",
		Buckets: prometheus.DefBuckets,
	})
	mRunsOK = promauto.NewCounter(prometheus.CounterOpts{
		Name: "probe_runs_completed_total", Help: "Runs that reached Completed",
	})
	mRunsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "probe_runs_failed_total", Help: "Runs that reached Failed",
	})
	mParseFails = promauto.NewCounter(prometheus.CounterOpts{
		Name: "probe_parse_failures_total", Help: "Malformed inbound payloads",
	})
)

// Reporter aggregates latency records and run outcomes over a rolling window
// and evaluates alert thresholds. Threshold evaluation has no hidden inputs:
// given the same observed state it always returns the same alerts.
type Reporter struct {
	mu sync.Mutex

	cfg   Config
	clock probe.Clock

	stepLatencies []time.Duration
	outcomes      []bool
	consecFails   int
	parseFails    int64

	// breached tracks active threshold breaches so an alert fires once per
	// crossing, not once per check tick.
	breached map[string]bool
}

func NewReporter(cfg Config, clock probe.Clock) *Reporter {
	if cfg.Window <= 0 {
		cfg.Window = 100
	}
	if clock == nil {
		clock = probe.SystemClock{}
	}
	return &Reporter{
		cfg:      cfg,
		clock:    clock,
		breached: make(map[string]bool),
	}
}

// Observe records one latency measurement. Step-level records (StepID set)
// enter the rolling window; run-level records only feed the run histogram.
func (r *Reporter) Observe(rec probe.LatencyRecord) {
	if rec.StepID == "" {
		mRunLatency.Observe(rec.Duration.Seconds())
		return
	}
	mStepLatency.Observe(rec.Duration.Seconds())

	r.mu.Lock()
	defer r.mu.Unlock()
	r.stepLatencies = append(r.stepLatencies, rec.Duration)
	if len(r.stepLatencies) > r.cfg.Window {
		r.stepLatencies = r.stepLatencies[len(r.stepLatencies)-r.cfg.Window:]
	}
}

// ObserveRunOutcome records a terminal run verdict. Aborted runs are not
// outcomes and must not be reported here.
func (r *Reporter) ObserveRunOutcome(ok bool) {
	if ok {
		mRunsOK.Inc()
	} else {
		mRunsFailed.Inc()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, ok)
	if len(r.outcomes) > r.cfg.Window {
		r.outcomes = r.outcomes[len(r.outcomes)-r.cfg.Window:]
	}
	if ok {
		r.consecFails = 0
	} else {
		r.consecFails++
	}
}

// ParseFailure counts one malformed inbound payload.
func (r *Reporter) ParseFailure() {
	mParseFails.Inc()
	r.mu.Lock()
	r.parseFails++
	r.mu.Unlock()
}

// Percentile returns the p-th percentile (0 < p <= 1) of the step latency
// window, or zero when the window is empty.
func (r *Reporter) Percentile(p float64) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return percentileLocked(r.stepLatencies, p)
}

func percentileLocked(window []time.Duration, p float64) time.Duration {
	if len(window) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(window))
	copy(sorted, window)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(p*float64(len(sorted))+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// CheckThresholds compares current aggregates against configured thresholds
// and returns one alert per threshold newly crossed since the last check.
func (r *Reporter) CheckThresholds() []probe.AlertEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	var alerts []probe.AlertEvent

	evaluate := func(name string, active bool, observed string) {
		switch {
		case active && !r.breached[name]:
			r.breached[name] = true
			alerts = append(alerts, probe.AlertEvent{
				Threshold: name,
				Observed:  observed,
				At:        now,
			})
		case !active:
			delete(r.breached, name)
		}
	}

	if r.cfg.LatencyCeiling > 0 && len(r.stepLatencies) > 0 {
		p95 := percentileLocked(r.stepLatencies, 0.95)
		evaluate(probe.ThresholdLatencyCeiling,
			p95 > r.cfg.LatencyCeiling,
			fmt.Sprintf("p95=%s ceiling=%s", p95, r.cfg.LatencyCeiling),
		)
	}

	if r.cfg.MaxConsecutiveFails > 0 {
		evaluate(probe.ThresholdConsecutiveFailures,
			r.consecFails >= r.cfg.MaxConsecutiveFails,
			fmt.Sprintf("consecutive=%d max=%d", r.consecFails, r.cfg.MaxConsecutiveFails),
		)
	}

	if r.cfg.MaxFailureRate > 0 && len(r.outcomes) > 0 {
		fails := 0
		for _, ok := range r.outcomes {
			if !ok {
				fails++
			}
		}
		rate := float64(fails) / float64(len(r.outcomes))
		evaluate(probe.ThresholdFailureRate,
			rate > r.cfg.MaxFailureRate,
			fmt.Sprintf("rate=%.2f max=%.2f window=%d", rate, r.cfg.MaxFailureRate, len(r.outcomes)),
		)
	}

	return alerts
}

// ParseFailures reports the total count of malformed payloads observed.
func (r *Reporter) ParseFailures() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.parseFails
}
