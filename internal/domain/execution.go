package domain

import "time"

type Trigger string

const (
	TriggerPoll   Trigger = "poll"
	TriggerRetry  Trigger = "retry"
	TriggerManual Trigger = "manual"
)

type ExecutionMeta struct {
	// Queued means the executor was at capacity and parked the schedule.
	Queued bool `json:"queued,omitempty"`
	// Deferred means a batch call left the schedule for the caller to resubmit.
	Deferred bool `json:"deferred,omitempty"`
	// Skipped means the schedule was already queued or running, or its lease is held elsewhere.
	Skipped bool    `json:"skipped,omitempty"`
	Trigger Trigger `json:"trigger,omitempty"`
}

// ExecutionResult is the outcome of one execution attempt of one schedule.
type ExecutionResult struct {
	Success     bool          `json:"success"`
	ScheduleID  string        `json:"schedule_id"`
	JobID       string        `json:"job_id,omitempty"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
	CompletedAt time.Time     `json:"completed_at"`
	Metadata    ExecutionMeta `json:"metadata"`
}

// Ran reports whether the result reflects an actual attempt, as opposed to a
// queued, deferred or skipped submission.
func (r ExecutionResult) Ran() bool {
	return !r.Metadata.Queued && !r.Metadata.Deferred && !r.Metadata.Skipped
}

type ExecutionLog struct {
	ID          string
	ScheduleID  string
	UserID      string
	ProviderID  string
	JobID       string
	Trigger     Trigger
	Attempt     int
	Success     bool
	Error       *string
	Duration    time.Duration
	StartedAt   time.Time
	CompletedAt time.Time
}
