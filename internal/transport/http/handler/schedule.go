package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ErlanBelekov/sync-scheduler/internal/domain"
	"github.com/ErlanBelekov/sync-scheduler/internal/usecase"
	"github.com/ErlanBelekov/sync-scheduler/internal/validation"
	"github.com/gin-gonic/gin"
)

type scheduleService interface {
	Create(ctx context.Context, in usecase.CreateScheduleInput) (*domain.Schedule, *validation.Result, error)
	Update(ctx context.Context, id string, patch domain.SchedulePatch) (*domain.Schedule, *validation.Result, error)
}

type scheduleManager interface {
	Get(id string) (*domain.Schedule, error)
	ListAll() []*domain.Schedule
	ListByUser(userID string) []*domain.Schedule
	ListByProvider(providerID string) []*domain.Schedule
	ListByConnection(connectionID string) []*domain.Schedule
	Delete(ctx context.Context, id string) error
	Enable(ctx context.Context, id string) (*domain.Schedule, error)
	Disable(ctx context.Context, id string) (*domain.Schedule, error)
}

type forceExecutor interface {
	ForceExecute(ctx context.Context, id string) (domain.ExecutionResult, error)
}

type batchValidator interface {
	ValidateBatch(ctx context.Context, schedules []*domain.Schedule) *validation.BatchResult
}

type ScheduleHandler struct {
	service   scheduleService
	manager   scheduleManager
	executor  forceExecutor
	validator batchValidator
	logger    *slog.Logger
}

func NewScheduleHandler(service scheduleService, manager scheduleManager, executor forceExecutor, validator batchValidator, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{
		service:   service,
		manager:   manager,
		executor:  executor,
		validator: validator,
		logger:    logger.With("component", "schedule_handler"),
	}
}

type taskConfigBody struct {
	OperationType string          `json:"operation_type"`
	Priority      domain.Priority `json:"priority"`
	Parameters    map[string]any  `json:"parameters"`
}

func (b taskConfigBody) toDomain() domain.TaskConfig {
	return domain.TaskConfig{OperationType: b.OperationType, Priority: b.Priority, Parameters: b.Parameters}
}

// createScheduleRequest carries no binding rules; the validator reports on
// every field at once.
type createScheduleRequest struct {
	ID           string           `json:"id"`
	ConnectionID string           `json:"connection_id"`
	UserID       string           `json:"user_id"`
	ProviderID   string           `json:"provider_id"`
	Frequency    domain.Frequency `json:"frequency"`
	Config       taskConfigBody   `json:"config"`
	NextRunAt    *time.Time       `json:"next_run_at"`
	Enabled      *bool            `json:"enabled"`
}

type updateScheduleRequest struct {
	Frequency *domain.Frequency `json:"frequency"`
	Enabled   *bool             `json:"enabled"`
	NextRunAt *time.Time        `json:"next_run_at"`
	Config    *taskConfigBody   `json:"config"`
}

type validateSchedulesRequest struct {
	Schedules []createScheduleRequest `json:"schedules" binding:"required,min=1,max=500"`
}

type scheduleResponse struct {
	ID           string            `json:"id"`
	ConnectionID string            `json:"connection_id"`
	UserID       string            `json:"user_id"`
	ProviderID   string            `json:"provider_id"`
	Frequency    domain.Frequency  `json:"frequency"`
	Enabled      bool              `json:"enabled"`
	NextRunAt    time.Time         `json:"next_run_at"`
	LastRunAt    *time.Time        `json:"last_run_at,omitempty"`
	Config       domain.TaskConfig `json:"config"`
	Metadata     domain.Metadata   `json:"metadata"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

func toScheduleResponse(s *domain.Schedule) scheduleResponse {
	return scheduleResponse{
		ID:           s.ID,
		ConnectionID: s.ConnectionID,
		UserID:       s.UserID,
		ProviderID:   s.ProviderID,
		Frequency:    s.Frequency,
		Enabled:      s.Enabled,
		NextRunAt:    s.NextRunAt,
		LastRunAt:    s.LastRunAt,
		Config:       s.Config,
		Metadata:     s.Metadata,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

func (h *ScheduleHandler) Create(ctx *gin.Context) {
	var req createScheduleRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s, res, err := h.service.Create(ctx.Request.Context(), usecase.CreateScheduleInput{
		ID:           req.ID,
		ConnectionID: req.ConnectionID,
		UserID:       req.UserID,
		ProviderID:   req.ProviderID,
		Frequency:    req.Frequency,
		Config:       req.Config.toDomain(),
		NextRunAt:    req.NextRunAt,
		Enabled:      req.Enabled,
	})
	if err != nil {
		h.writeMutationError(ctx, "create schedule", req.ID, res, err)
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"schedule":   toScheduleResponse(s),
		"validation": res,
	})
}

func (h *ScheduleHandler) List(ctx *gin.Context) {
	var list []*domain.Schedule
	switch {
	case ctx.Query("connection_id") != "":
		list = h.manager.ListByConnection(ctx.Query("connection_id"))
	case ctx.Query("user_id") != "":
		list = h.manager.ListByUser(ctx.Query("user_id"))
	case ctx.Query("provider_id") != "":
		list = h.manager.ListByProvider(ctx.Query("provider_id"))
	default:
		list = h.manager.ListAll()
	}

	// remaining filters narrow the first one
	userID, providerID := ctx.Query("user_id"), ctx.Query("provider_id")
	items := make([]scheduleResponse, 0, len(list))
	for _, s := range list {
		if userID != "" && s.UserID != userID {
			continue
		}
		if providerID != "" && s.ProviderID != providerID {
			continue
		}
		items = append(items, toScheduleResponse(s))
	}
	ctx.JSON(http.StatusOK, gin.H{"schedules": items})
}

func (h *ScheduleHandler) GetByID(ctx *gin.Context) {
	id := ctx.Param("id")

	s, err := h.manager.Get(id)
	if err != nil {
		h.writeLookupError(ctx, "get schedule", id, err)
		return
	}

	ctx.JSON(http.StatusOK, toScheduleResponse(s))
}

func (h *ScheduleHandler) Update(ctx *gin.Context) {
	id := ctx.Param("id")

	var req updateScheduleRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	patch := domain.SchedulePatch{
		Frequency: req.Frequency,
		Enabled:   req.Enabled,
		NextRunAt: req.NextRunAt,
	}
	if req.Config != nil {
		cfg := req.Config.toDomain()
		patch.Config = &cfg
	}

	s, res, err := h.service.Update(ctx.Request.Context(), id, patch)
	if err != nil {
		h.writeMutationError(ctx, "update schedule", id, res, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"schedule":   toScheduleResponse(s),
		"validation": res,
	})
}

func (h *ScheduleHandler) Delete(ctx *gin.Context) {
	id := ctx.Param("id")

	if err := h.manager.Delete(ctx.Request.Context(), id); err != nil {
		h.writeLookupError(ctx, "delete schedule", id, err)
		return
	}

	ctx.Status(http.StatusNoContent)
}

func (h *ScheduleHandler) Enable(ctx *gin.Context) {
	id := ctx.Param("id")

	s, err := h.manager.Enable(ctx.Request.Context(), id)
	if err != nil {
		h.writeLookupError(ctx, "enable schedule", id, err)
		return
	}

	ctx.JSON(http.StatusOK, toScheduleResponse(s))
}

func (h *ScheduleHandler) Disable(ctx *gin.Context) {
	id := ctx.Param("id")

	s, err := h.manager.Disable(ctx.Request.Context(), id)
	if err != nil {
		h.writeLookupError(ctx, "disable schedule", id, err)
		return
	}

	ctx.JSON(http.StatusOK, toScheduleResponse(s))
}

// Execute runs the schedule now and waits for the outcome. A failed sync is
// still a 200; the result says what happened.
func (h *ScheduleHandler) Execute(ctx *gin.Context) {
	id := ctx.Param("id")

	res, err := h.executor.ForceExecute(ctx.Request.Context(), id)
	if err != nil {
		h.writeLookupError(ctx, "execute schedule", id, err)
		return
	}

	ctx.JSON(http.StatusOK, res)
}

func (h *ScheduleHandler) Validate(ctx *gin.Context) {
	var req validateSchedulesRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	now := time.Now()
	schedules := make([]*domain.Schedule, len(req.Schedules))
	for i, r := range req.Schedules {
		s := &domain.Schedule{
			ID:           r.ID,
			ConnectionID: r.ConnectionID,
			UserID:       r.UserID,
			ProviderID:   r.ProviderID,
			Frequency:    r.Frequency,
			Enabled:      true,
			NextRunAt:    now,
			Config:       r.Config.toDomain(),
		}
		if r.NextRunAt != nil {
			s.NextRunAt = *r.NextRunAt
		}
		if r.Enabled != nil {
			s.Enabled = *r.Enabled
		}
		schedules[i] = s
	}

	ctx.JSON(http.StatusOK, h.validator.ValidateBatch(ctx.Request.Context(), schedules))
}

func (h *ScheduleHandler) writeLookupError(ctx *gin.Context, op, id string, err error) {
	if errors.Is(err, domain.ErrScheduleNotFound) {
		ctx.JSON(http.StatusNotFound, gin.H{"error": errScheduleNotFound})
		return
	}
	h.logger.ErrorContext(ctx.Request.Context(), op, "schedule_id", id, "error", err)
	ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
}

func (h *ScheduleHandler) writeMutationError(ctx *gin.Context, op, id string, res *validation.Result, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errValidationFailed, "validation": res})
	case errors.Is(err, domain.ErrScheduleConflict):
		ctx.JSON(http.StatusConflict, gin.H{"error": errScheduleConflict, "validation": res})
	case errors.Is(err, domain.ErrScheduleExists):
		ctx.JSON(http.StatusConflict, gin.H{"error": errScheduleExists})
	default:
		h.writeLookupError(ctx, op, id, err)
	}
}
