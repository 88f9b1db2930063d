package validation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/ErlanBelekov/sync-scheduler/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
)

// ConflictFinder is satisfied by *conflict.Detector.
type ConflictFinder interface {
	DetectAndRecord(ctx context.Context, candidate *domain.Schedule, existing []*domain.Schedule) ([]*domain.ScheduleConflict, error)
}

// Result is the outcome of validating one schedule. Errors block; warnings and
// suggestions are informational.
type Result struct {
	Valid       bool     `json:"is_valid"`
	Errors      []string `json:"errors"`
	Warnings    []string `json:"warnings"`
	Suggestions []string `json:"suggestions"`

	// FieldErrors is the structural subset of Errors.
	FieldErrors []string                   `json:"-"`
	Conflicts   []*domain.ScheduleConflict `json:"-"`
}

type BatchResult struct {
	Total       int      `json:"total"`
	Valid       int      `json:"valid"`
	Invalid     int      `json:"invalid"`
	Warnings    []string `json:"warnings"`
	Errors      []string `json:"errors"`
	Suggestions []string `json:"suggestions"`
}

// scheduleView is the shape structural rules are declared on.
type scheduleView struct {
	ConnectionID  string `json:"connectionId"            validate:"required"`
	UserID        string `json:"userId"                  validate:"required"`
	ProviderID    string `json:"providerId"              validate:"required"`
	Frequency     string `json:"frequency"               validate:"required,oneof=hourly daily weekly monthly"`
	OperationType string `json:"config.operationType"    validate:"required"`
	Priority      string `json:"config.priority"         validate:"required,oneof=low normal high"`
}

type Validator struct {
	conflicts ConflictFinder
	validate  *validator.Validate
	clock     clockwork.Clock
	logger    *slog.Logger
}

func NewValidator(conflicts ConflictFinder, clock clockwork.Clock, logger *slog.Logger) *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{
		conflicts: conflicts,
		validate:  v,
		clock:     clock,
		logger:    logger.With("component", "validator"),
	}
}

// pastGrace keeps a NextRunAt stamped "now" by the caller from counting as past.
const pastGrace = time.Minute

// Validate runs every check against s. Nothing short-circuits, so the
// caller sees all problems at once.
func (v *Validator) Validate(ctx context.Context, s *domain.Schedule, existing []*domain.Schedule) *Result {
	res := &Result{
		Errors:      []string{},
		Warnings:    []string{},
		Suggestions: []string{},
	}

	res.FieldErrors = v.structural(s)
	res.Errors = append(res.Errors, res.FieldErrors...)

	if !s.NextRunAt.IsZero() && s.NextRunAt.Before(v.clock.Now().Add(-pastGrace)) {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("nextRunAt %s is in the past; the schedule will run on the next due-check", s.NextRunAt.Format("2006-01-02T15:04:05Z07:00")))
	}

	found, err := v.conflicts.DetectAndRecord(ctx, s, existing)
	if err != nil {
		v.logger.WarnContext(ctx, "conflict recording failed", "schedule_id", s.ID, "error", err)
	}
	res.Conflicts = found
	for _, c := range found {
		res.Errors = append(res.Errors, conflictMessage(c))
	}

	if s.LastRunAt == nil {
		res.Suggestions = append(res.Suggestions, "set lastRunAt to record when this connection was last synced")
	}

	res.Valid = len(res.Errors) == 0
	return res
}

// ValidateBatch validates each schedule against all the others.
func (v *Validator) ValidateBatch(ctx context.Context, schedules []*domain.Schedule) *BatchResult {
	out := &BatchResult{
		Total:       len(schedules),
		Warnings:    []string{},
		Errors:      []string{},
		Suggestions: []string{},
	}

	for i, s := range schedules {
		others := make([]*domain.Schedule, 0, len(schedules)-1)
		others = append(others, schedules[:i]...)
		others = append(others, schedules[i+1:]...)

		res := v.Validate(ctx, s, others)
		if res.Valid {
			out.Valid++
		} else {
			out.Invalid++
		}
		label := s.ID
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		out.Errors = append(out.Errors, prefixed(label, res.Errors)...)
		out.Warnings = append(out.Warnings, prefixed(label, res.Warnings)...)
		out.Suggestions = append(out.Suggestions, prefixed(label, res.Suggestions)...)
	}
	return out
}

func (v *Validator) structural(s *domain.Schedule) []string {
	view := scheduleView{
		ConnectionID:  s.ConnectionID,
		UserID:        s.UserID,
		ProviderID:    s.ProviderID,
		Frequency:     string(s.Frequency),
		OperationType: s.Config.OperationType,
		Priority:      string(s.Config.Priority),
	}

	err := v.validate.Struct(view)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []string{err.Error()}
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return msgs
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", fe.Field(), fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}

func conflictMessage(c *domain.ScheduleConflict) string {
	switch {
	case c.Type == domain.ConflictResourceLimit:
		return "resource limit: " + c.Details.Message
	case c.Details.WindowStart != nil:
		return "time overlap: " + c.Details.Message
	default:
		return "duplicate conflict: " + c.Details.Message
	}
}

func prefixed(label string, msgs []string) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = label + ": " + m
	}
	return out
}
