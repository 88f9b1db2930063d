package domain

import (
	"errors"
	"time"
)

var ErrInvalidConfig = errors.New("invalid scheduler config")

// SchedulerConfig holds the options that can change while the scheduler runs.
type SchedulerConfig struct {
	Enabled                    bool               `yaml:"enabled"                      json:"enabled"`
	DefaultFrequency           Frequency          `yaml:"default_frequency"            json:"default_frequency"            validate:"required,oneof=hourly daily weekly monthly"`
	MaxConcurrentSchedules     int                `yaml:"max_concurrent_schedules"     json:"max_concurrent_schedules"     validate:"min=1,max=100"`
	ScheduleAheadTime          time.Duration      `yaml:"schedule_ahead_time"          json:"schedule_ahead_time"          validate:"gte=0,lte=24h"`
	CleanupInterval            time.Duration      `yaml:"cleanup_interval"             json:"cleanup_interval"             validate:"gte=1m"`
	RetryFailedSchedules       bool               `yaml:"retry_failed_schedules"       json:"retry_failed_schedules"`
	MaxScheduleRetries         int                `yaml:"max_schedule_retries"         json:"max_schedule_retries"         validate:"min=0,max=20"`
	ConflictResolutionStrategy ResolutionStrategy `yaml:"conflict_resolution_strategy" json:"conflict_resolution_strategy" validate:"required,oneof=prevent queue cancel"`
	PollInterval               time.Duration      `yaml:"poll_interval"                json:"poll_interval"                validate:"gte=1s"`
	RetryBaseDelay             time.Duration      `yaml:"retry_base_delay"             json:"retry_base_delay"             validate:"gte=0"`
	RetryMaxDelay              time.Duration      `yaml:"retry_max_delay"              json:"retry_max_delay"              validate:"gtefield=RetryBaseDelay"`
	RetryJitter                time.Duration      `yaml:"retry_jitter"                 json:"retry_jitter"                 validate:"gte=0"`
	ExecutionRetention         time.Duration      `yaml:"execution_retention"          json:"execution_retention"          validate:"gte=1h"`
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled:                    true,
		DefaultFrequency:           FrequencyDaily,
		MaxConcurrentSchedules:     5,
		CleanupInterval:            time.Hour,
		RetryFailedSchedules:       true,
		MaxScheduleRetries:         3,
		ConflictResolutionStrategy: ResolutionPrevent,
		PollInterval:               time.Minute,
		RetryBaseDelay:             30 * time.Second,
		RetryMaxDelay:              time.Hour,
		RetryJitter:                5 * time.Second,
		ExecutionRetention:         30 * 24 * time.Hour,
	}
}

// SchedulerConfigPatch is a partial config update. Nil fields are left untouched.
type SchedulerConfigPatch struct {
	Enabled                    *bool
	DefaultFrequency           *Frequency
	MaxConcurrentSchedules     *int
	ScheduleAheadTime          *time.Duration
	CleanupInterval            *time.Duration
	RetryFailedSchedules       *bool
	MaxScheduleRetries         *int
	ConflictResolutionStrategy *ResolutionStrategy
	PollInterval               *time.Duration
	RetryBaseDelay             *time.Duration
	RetryMaxDelay              *time.Duration
	RetryJitter                *time.Duration
	ExecutionRetention         *time.Duration
}

func (p SchedulerConfigPatch) Apply(c SchedulerConfig) SchedulerConfig {
	if p.Enabled != nil {
		c.Enabled = *p.Enabled
	}
	if p.DefaultFrequency != nil {
		c.DefaultFrequency = *p.DefaultFrequency
	}
	if p.MaxConcurrentSchedules != nil {
		c.MaxConcurrentSchedules = *p.MaxConcurrentSchedules
	}
	if p.ScheduleAheadTime != nil {
		c.ScheduleAheadTime = *p.ScheduleAheadTime
	}
	if p.CleanupInterval != nil {
		c.CleanupInterval = *p.CleanupInterval
	}
	if p.RetryFailedSchedules != nil {
		c.RetryFailedSchedules = *p.RetryFailedSchedules
	}
	if p.MaxScheduleRetries != nil {
		c.MaxScheduleRetries = *p.MaxScheduleRetries
	}
	if p.ConflictResolutionStrategy != nil {
		c.ConflictResolutionStrategy = *p.ConflictResolutionStrategy
	}
	if p.PollInterval != nil {
		c.PollInterval = *p.PollInterval
	}
	if p.RetryBaseDelay != nil {
		c.RetryBaseDelay = *p.RetryBaseDelay
	}
	if p.RetryMaxDelay != nil {
		c.RetryMaxDelay = *p.RetryMaxDelay
	}
	if p.RetryJitter != nil {
		c.RetryJitter = *p.RetryJitter
	}
	if p.ExecutionRetention != nil {
		c.ExecutionRetention = *p.ExecutionRetention
	}
	return c
}
