package domain

import "time"

type EventType string

const (
	EventScheduleCreated   EventType = "schedule_created"
	EventScheduleUpdated   EventType = "schedule_updated"
	EventScheduleDeleted   EventType = "schedule_deleted"
	EventExecutionStart    EventType = "execution_start"
	EventExecutionProgress EventType = "execution_progress"
	EventExecutionComplete EventType = "execution_complete"
	EventStatsUpdate       EventType = "stats_update"
)

// Event is a best-effort lifecycle signal. ScheduleID is empty for global events.
type Event struct {
	Type       EventType      `json:"type"`
	ScheduleID string         `json:"schedule_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}
