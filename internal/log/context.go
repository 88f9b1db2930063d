package log

import (
	"context"

	"github.com/google/uuid"
)

type (
	requestIDKey  struct{}
	scheduleIDKey struct{}
)

// NewRequestID generates a random UUID v4 request ID.
func NewRequestID() string {
	return uuid.NewString()
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns "" if ctx carries no request ID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// WithScheduleID tags ctx so every record logged during an execution carries the schedule.
func WithScheduleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, scheduleIDKey{}, id)
}

func ScheduleIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(scheduleIDKey{}).(string)
	return id
}
