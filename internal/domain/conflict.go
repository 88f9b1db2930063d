package domain

import (
	"errors"
	"time"
)

var ErrConflictNotFound = errors.New("conflict not found")

type ConflictType string

const (
	ConflictOverlap       ConflictType = "overlap"
	ConflictResourceLimit ConflictType = "resource_limit"
	ConflictProviderLimit ConflictType = "provider_limit"
)

type ResolutionStrategy string

const (
	ResolutionPrevent ResolutionStrategy = "prevent"
	ResolutionQueue   ResolutionStrategy = "queue"
	ResolutionCancel  ResolutionStrategy = "cancel"
)

func (r ResolutionStrategy) Valid() bool {
	switch r {
	case ResolutionPrevent, ResolutionQueue, ResolutionCancel:
		return true
	}
	return false
}

type ConflictDetails struct {
	ScheduleIDs []string   `json:"schedule_ids,omitempty"`
	WindowStart *time.Time `json:"window_start,omitempty"`
	WindowEnd   *time.Time `json:"window_end,omitempty"`
	Count       int        `json:"count,omitempty"`
	Limit       int        `json:"limit,omitempty"`
	Message     string     `json:"message"`
}

// ScheduleConflict is a recorded incompatibility between a candidate schedule
// and the rest of the schedule set.
type ScheduleConflict struct {
	ID           string
	ScheduleID   string
	UserID       string
	ConnectionID string
	ProviderID   string
	Type         ConflictType
	Details      ConflictDetails
	Resolved     bool
	ResolvedAt   *time.Time
	Resolution   ResolutionStrategy
	DetectedAt   time.Time
}

func (c *ScheduleConflict) Clone() *ScheduleConflict {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Details.ScheduleIDs != nil {
		cp.Details.ScheduleIDs = append([]string(nil), c.Details.ScheduleIDs...)
	}
	cp.Details.WindowStart = cloneTime(c.Details.WindowStart)
	cp.Details.WindowEnd = cloneTime(c.Details.WindowEnd)
	cp.ResolvedAt = cloneTime(c.ResolvedAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
