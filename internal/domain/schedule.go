package domain

import (
	"errors"
	"time"
)

var (
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrValidation       = errors.New("schedule is invalid")
	ErrScheduleConflict = errors.New("schedule conflicts with existing schedules")
	ErrScheduleExists   = errors.New("schedule already exists")
)

type Frequency string

const (
	FrequencyHourly  Frequency = "hourly"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Valid reports whether f is one of the four known cadences.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// TaskConfig describes the work handed to the sync operation. The scheduler
// never interprets it.
type TaskConfig struct {
	OperationType string         `json:"operation_type"`
	Priority      Priority       `json:"priority"`
	Parameters    map[string]any `json:"parameters,omitempty"`
}

type LastError struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Metadata is run bookkeeping written by the dispatcher and executor only.
type Metadata struct {
	LastDuration     time.Duration `json:"last_duration"`
	LastError        *LastError    `json:"last_error,omitempty"`
	RetryCount       int           `json:"retry_count"`
	LastRetryAt      *time.Time    `json:"last_retry_at,omitempty"`
	Progress         int           `json:"progress"`
	RetriesExhausted bool          `json:"retries_exhausted,omitempty"`
}

type Schedule struct {
	ID           string
	ConnectionID string
	UserID       string
	ProviderID   string
	Frequency    Frequency
	Enabled      bool
	NextRunAt    time.Time
	LastRunAt    *time.Time
	Config       TaskConfig
	Metadata     Metadata
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Clone returns a deep copy so callers can never mutate an indexed schedule.
func (s *Schedule) Clone() *Schedule {
	if s == nil {
		return nil
	}
	c := *s
	if s.LastRunAt != nil {
		t := *s.LastRunAt
		c.LastRunAt = &t
	}
	if s.Config.Parameters != nil {
		c.Config.Parameters = make(map[string]any, len(s.Config.Parameters))
		for k, v := range s.Config.Parameters {
			c.Config.Parameters[k] = v
		}
	}
	if s.Metadata.LastError != nil {
		e := *s.Metadata.LastError
		c.Metadata.LastError = &e
	}
	if s.Metadata.LastRetryAt != nil {
		t := *s.Metadata.LastRetryAt
		c.Metadata.LastRetryAt = &t
	}
	return &c
}

// IsDue reports whether the schedule is enabled and its next run is at or before now.
func (s *Schedule) IsDue(now time.Time) bool {
	return s.Enabled && !s.NextRunAt.After(now)
}

// SchedulePatch is a partial update. Nil fields are left untouched.
type SchedulePatch struct {
	Frequency *Frequency
	Enabled   *bool
	NextRunAt *time.Time
	LastRunAt *time.Time
	Config    *TaskConfig
	Metadata  *Metadata
}

// Apply merges the non-nil fields of p into s.
func (p SchedulePatch) Apply(s *Schedule) {
	if p.Frequency != nil {
		s.Frequency = *p.Frequency
	}
	if p.Enabled != nil {
		s.Enabled = *p.Enabled
	}
	if p.NextRunAt != nil {
		s.NextRunAt = *p.NextRunAt
	}
	if p.LastRunAt != nil {
		t := *p.LastRunAt
		s.LastRunAt = &t
	}
	if p.Config != nil {
		s.Config = *p.Config
	}
	if p.Metadata != nil {
		s.Metadata = *p.Metadata
	}
}
