package probe

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	StatusIdle        RunStatus = "idle"
	StatusDispatching RunStatus = "dispatching"
	StatusAwaiting    RunStatus = "awaiting"
	StatusVerifying   RunStatus = "verifying"
	StatusAdvancing   RunStatus = "advancing"
	StatusRetrying    RunStatus = "retrying"
	StatusCompleted   RunStatus = "completed"
	StatusFailed      RunStatus = "failed"
	StatusAborted     RunStatus = "aborted"
)

func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusAborted
}

// Run is one execution instance of a scenario. Owned by the state machine;
// archived once it reaches a terminal status.
type Run struct {
	ID         uuid.UUID  `json:"id"`
	ScenarioID string     `json:"scenario_id"`
	Recipient  string     `json:"recipient"`
	StepIndex  int        `json:"step_index"`
	Status     RunStatus  `json:"status"`
	FailStep   string     `json:"fail_step,omitempty"`
	FailReason string     `json:"fail_reason,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	StepStats  []StepStat `json:"step_stats,omitempty"`
}

// StepStat records the attempts one step consumed.
type StepStat struct {
	StepID   string `json:"step_id"`
	Attempts int    `json:"attempts"`
}

// InboundEvent is a normalized webhook callback payload.
type InboundEvent struct {
	ReceivedAt time.Time `json:"received_at"`
	Recipient  string    `json:"recipient"`
	MessageID  string    `json:"message_id"`
	Body       []byte    `json:"body"`
}

// LatencyRecord is append-only: one per completed step (dispatch to receive)
// plus one per completed run (first dispatch to final verify), with an empty
// StepID marking the run-level record.
type LatencyRecord struct {
	RunID        uuid.UUID     `json:"run_id"`
	StepID       string        `json:"step_id"`
	DispatchedAt time.Time     `json:"dispatched_at"`
	ReceivedAt   time.Time     `json:"received_at"`
	Duration     time.Duration `json:"duration"`
}

type AlertEvent struct {
	Threshold string    `json:"threshold"`
	Observed  string    `json:"observed"`
	RunID     string    `json:"run_id,omitempty"`
	StepID    string    `json:"step_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// Alert threshold names.
const (
	ThresholdRunFailed           = "run_failed"
	ThresholdLatencyCeiling      = "latency_ceiling"
	ThresholdConsecutiveFailures = "consecutive_failures"
	ThresholdFailureRate         = "failure_rate"
)
