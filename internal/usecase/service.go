package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ErlanBelekov/sync-scheduler/internal/conflict"
	"github.com/ErlanBelekov/sync-scheduler/internal/domain"
	"github.com/ErlanBelekov/sync-scheduler/internal/validation"
	"github.com/google/uuid"
)

// ConflictResolver is satisfied by *conflict.Detector.
type ConflictResolver interface {
	Resolve(ctx context.Context, c *domain.ScheduleConflict, strategy domain.ResolutionStrategy) error
}

// ScheduleService gates creation and updates behind the validator and
// enforces the configured conflict resolution strategy.
type ScheduleService struct {
	manager   *ScheduleManager
	validator *validation.Validator
	resolver  ConflictResolver
	strategy  func() domain.ResolutionStrategy
	logger    *slog.Logger
}

func NewScheduleService(
	manager *ScheduleManager,
	validator *validation.Validator,
	resolver ConflictResolver,
	strategy func() domain.ResolutionStrategy,
	logger *slog.Logger,
) *ScheduleService {
	return &ScheduleService{
		manager:   manager,
		validator: validator,
		resolver:  resolver,
		strategy:  strategy,
		logger:    logger.With("component", "schedule_service"),
	}
}

// Create validates in and applies the current strategy to any conflict.
// The validation result is returned whenever validation ran.
func (s *ScheduleService) Create(ctx context.Context, in CreateScheduleInput) (*domain.Schedule, *validation.Result, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	} else if _, err := s.manager.Get(in.ID); err == nil {
		return nil, nil, fmt.Errorf("create schedule %s: %w", in.ID, domain.ErrScheduleExists)
	}
	candidate := s.candidate(in)

	res := s.validator.Validate(ctx, candidate, s.manager.ListAll())
	if len(res.FieldErrors) > 0 {
		return nil, res, fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(res.FieldErrors, "; "))
	}
	if len(res.Conflicts) == 0 {
		created, err := s.manager.Create(ctx, in)
		return created, res, err
	}

	strategy := s.strategy()
	s.logger.InfoContext(ctx, "applying conflict strategy",
		"schedule_id", candidate.ID,
		"strategy", strategy,
		"conflicts", len(res.Conflicts),
	)

	switch strategy {
	case domain.ResolutionQueue:
		if hasType(res.Conflicts, domain.ConflictResourceLimit) {
			_ = s.resolveAll(ctx, res.Conflicts, domain.ResolutionPrevent)
			return nil, res, fmt.Errorf("%w: %s", domain.ErrScheduleConflict, strings.Join(res.Errors, "; "))
		}
		disabled := false
		next := latestConflictingRun(res.Conflicts, s.manager, candidate.NextRunAt).Add(conflict.OverlapWindow)
		in.Enabled = &disabled
		in.NextRunAt = &next
		if err := s.resolveAll(ctx, res.Conflicts, strategy); err != nil {
			return nil, res, err
		}
		created, err := s.manager.Create(ctx, in)
		return created, res, err

	case domain.ResolutionCancel:
		if hasType(res.Conflicts, domain.ConflictResourceLimit) {
			_ = s.resolveAll(ctx, res.Conflicts, domain.ResolutionPrevent)
			return nil, res, fmt.Errorf("%w: %s", domain.ErrScheduleConflict, strings.Join(res.Errors, "; "))
		}
		for _, id := range conflictingIDs(res.Conflicts) {
			if err := s.manager.Delete(ctx, id); err != nil && !errors.Is(err, domain.ErrScheduleNotFound) {
				return nil, res, fmt.Errorf("cancel conflicting schedule %s: %w", id, err)
			}
		}
		if err := s.resolveAll(ctx, res.Conflicts, strategy); err != nil {
			return nil, res, err
		}
		created, err := s.manager.Create(ctx, in)
		return created, res, err

	default:
		_ = s.resolveAll(ctx, res.Conflicts, domain.ResolutionPrevent)
		return nil, res, fmt.Errorf("%w: %s", domain.ErrScheduleConflict, strings.Join(res.Errors, "; "))
	}
}

// Update validates the patched schedule against the rest of the set. Any
// conflict rejects the update, except for a patch that only disables.
func (s *ScheduleService) Update(ctx context.Context, id string, patch domain.SchedulePatch) (*domain.Schedule, *validation.Result, error) {
	cur, err := s.manager.Get(id)
	if err != nil {
		return nil, nil, err
	}
	if disablesOnly(patch) {
		updated, err := s.manager.Update(ctx, id, patch)
		return updated, &validation.Result{Valid: true, Errors: []string{}, Warnings: []string{}, Suggestions: []string{}}, err
	}
	patch.Apply(cur)

	res := s.validator.Validate(ctx, cur, s.manager.ListAll())
	if len(res.FieldErrors) > 0 {
		return nil, res, fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(res.FieldErrors, "; "))
	}
	if len(res.Conflicts) > 0 {
		_ = s.resolveAll(ctx, res.Conflicts, domain.ResolutionPrevent)
		return nil, res, fmt.Errorf("%w: %s", domain.ErrScheduleConflict, strings.Join(res.Errors, "; "))
	}

	updated, err := s.manager.Update(ctx, id, patch)
	return updated, res, err
}

func disablesOnly(p domain.SchedulePatch) bool {
	return p.Enabled != nil && !*p.Enabled &&
		p.Frequency == nil && p.NextRunAt == nil && p.LastRunAt == nil &&
		p.Config == nil && p.Metadata == nil
}

func (s *ScheduleService) candidate(in CreateScheduleInput) *domain.Schedule {
	c := &domain.Schedule{
		ID:           in.ID,
		ConnectionID: in.ConnectionID,
		UserID:       in.UserID,
		ProviderID:   in.ProviderID,
		Frequency:    in.Frequency,
		Enabled:      true,
		NextRunAt:    s.manager.clock.Now(),
		Config:       in.Config,
	}
	if c.Frequency == "" {
		c.Frequency = s.manager.DefaultFrequency()
	}
	if c.Config.Priority == "" {
		c.Config.Priority = domain.PriorityNormal
	}
	if in.NextRunAt != nil {
		c.NextRunAt = *in.NextRunAt
	}
	if in.Enabled != nil {
		c.Enabled = *in.Enabled
	}
	return c
}

func (s *ScheduleService) resolveAll(ctx context.Context, found []*domain.ScheduleConflict, strategy domain.ResolutionStrategy) error {
	var errs []error
	for _, c := range found {
		if err := s.resolver.Resolve(ctx, c, strategy); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.WarnContext(ctx, "conflict resolution not recorded", "error", err)
		return err
	}
	return nil
}

func latestConflictingRun(found []*domain.ScheduleConflict, m *ScheduleManager, floor time.Time) time.Time {
	latest := floor
	for _, id := range conflictingIDs(found) {
		other, err := m.Get(id)
		if err != nil {
			continue
		}
		if other.NextRunAt.After(latest) {
			latest = other.NextRunAt
		}
	}
	return latest
}

func conflictingIDs(found []*domain.ScheduleConflict) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, c := range found {
		for _, id := range c.Details.ScheduleIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func hasType(found []*domain.ScheduleConflict, typ domain.ConflictType) bool {
	for _, c := range found {
		if c.Type == typ {
			return true
		}
	}
	return false
}
