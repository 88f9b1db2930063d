package domain

import "time"

// ScheduleStats is a derived aggregate, always recomputable from schedules.
type ScheduleStats struct {
	Total       int               `json:"total"`
	Enabled     int               `json:"enabled"`
	Disabled    int               `json:"disabled"`
	Due         int               `json:"due"`
	Failing     int               `json:"failing"`
	Exhausted   int               `json:"exhausted"`
	Conflicts   int               `json:"conflicts"`
	ByFrequency map[Frequency]int `json:"by_frequency"`
	ByProvider  map[string]int    `json:"by_provider"`
	GeneratedAt time.Time         `json:"generated_at"`
}

type ExecutionSummary struct {
	Total       int           `json:"total"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	SuccessRate float64       `json:"success_rate"`
	AvgDuration time.Duration `json:"avg_duration"`
	MaxDuration time.Duration `json:"max_duration"`
}

type FailingSchedule struct {
	ScheduleID string `json:"schedule_id"`
	ProviderID string `json:"provider_id"`
	Failures   int    `json:"failures"`
	LastError  string `json:"last_error,omitempty"`
}

type UpcomingRun struct {
	ScheduleID string    `json:"schedule_id"`
	ProviderID string    `json:"provider_id"`
	Frequency  Frequency `json:"frequency"`
	NextRunAt  time.Time `json:"next_run_at"`
}

// ResourceMetrics is advisory host and executor load. Nothing may branch on it.
type ResourceMetrics struct {
	CPUUsage           float64 `json:"cpu_usage"`
	MemoryUsage        float64 `json:"memory_usage"`
	ActiveSchedules    int     `json:"active_schedules"`
	QueuedTasks        int     `json:"queued_tasks"`
	MaxConcurrentTasks int     `json:"max_concurrent_tasks"`
}

type ScheduleReport struct {
	GeneratedAt  time.Time                   `json:"generated_at"`
	From         time.Time                   `json:"from"`
	To           time.Time                   `json:"to"`
	Stats        ScheduleStats               `json:"stats"`
	Executions   ExecutionSummary            `json:"executions"`
	ByProvider   map[string]ExecutionSummary `json:"by_provider"`
	Failing      []FailingSchedule           `json:"failing"`
	Upcoming     []UpcomingRun               `json:"upcoming"`
	PersistedDue int                         `json:"persisted_due"`
	Resources    ResourceMetrics             `json:"resources"`
}
