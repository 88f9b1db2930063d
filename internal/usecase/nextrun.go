package usecase

import (
	"time"

	"github.com/ErlanBelekov/sync-scheduler/internal/domain"
)

// ComputeNextRun returns the next run after now for s's frequency. Monthly
// lands on the day of month s was created on, clamped to the end of the next
// month, at now's clock time. Without a creation time it uses now's day.
// Unknown frequencies fall back to daily.
func ComputeNextRun(s *domain.Schedule, now time.Time) time.Time {
	switch s.Frequency {
	case domain.FrequencyHourly:
		return now.Add(time.Hour)
	case domain.FrequencyWeekly:
		return now.AddDate(0, 0, 7)
	case domain.FrequencyMonthly:
		day := now.Day()
		if !s.CreatedAt.IsZero() {
			day = s.CreatedAt.In(now.Location()).Day()
		}
		return addMonth(now, day)
	default:
		return now.Add(24 * time.Hour)
	}
}

func addMonth(t time.Time, d int) time.Time {
	y, m, _ := t.Date()
	firstOfNext := time.Date(y, m+1, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(firstOfNext.Year(), firstOfNext.Month(), t.Location()); d > last {
		d = last
	}
	return firstOfNext.AddDate(0, 0, d-1)
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
