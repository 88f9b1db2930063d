package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ErlanBelekov/sync-scheduler/internal/domain"
	"github.com/gin-gonic/gin"
)

type configStore interface {
	Config() domain.SchedulerConfig
	UpdateConfig(patch domain.SchedulerConfigPatch) (domain.SchedulerConfig, error)
}

type ConfigHandler struct {
	store  configStore
	logger *slog.Logger
}

func NewConfigHandler(store configStore, logger *slog.Logger) *ConfigHandler {
	return &ConfigHandler{store: store, logger: logger.With("component", "config_handler")}
}

// Durations travel as Go duration strings ("30s", "1h").
type configResponse struct {
	Enabled                    bool                      `json:"enabled"`
	DefaultFrequency           domain.Frequency          `json:"default_frequency"`
	MaxConcurrentSchedules     int                       `json:"max_concurrent_schedules"`
	ScheduleAheadTime          string                    `json:"schedule_ahead_time"`
	CleanupInterval            string                    `json:"cleanup_interval"`
	RetryFailedSchedules       bool                      `json:"retry_failed_schedules"`
	MaxScheduleRetries         int                       `json:"max_schedule_retries"`
	ConflictResolutionStrategy domain.ResolutionStrategy `json:"conflict_resolution_strategy"`
	PollInterval               string                    `json:"poll_interval"`
	RetryBaseDelay             string                    `json:"retry_base_delay"`
	RetryMaxDelay              string                    `json:"retry_max_delay"`
	RetryJitter                string                    `json:"retry_jitter"`
	ExecutionRetention         string                    `json:"execution_retention"`
}

func toConfigResponse(c domain.SchedulerConfig) configResponse {
	return configResponse{
		Enabled:                    c.Enabled,
		DefaultFrequency:           c.DefaultFrequency,
		MaxConcurrentSchedules:     c.MaxConcurrentSchedules,
		ScheduleAheadTime:          c.ScheduleAheadTime.String(),
		CleanupInterval:            c.CleanupInterval.String(),
		RetryFailedSchedules:       c.RetryFailedSchedules,
		MaxScheduleRetries:         c.MaxScheduleRetries,
		ConflictResolutionStrategy: c.ConflictResolutionStrategy,
		PollInterval:               c.PollInterval.String(),
		RetryBaseDelay:             c.RetryBaseDelay.String(),
		RetryMaxDelay:              c.RetryMaxDelay.String(),
		RetryJitter:                c.RetryJitter.String(),
		ExecutionRetention:         c.ExecutionRetention.String(),
	}
}

type updateConfigRequest struct {
	Enabled                    *bool                      `json:"enabled"`
	DefaultFrequency           *domain.Frequency          `json:"default_frequency"`
	MaxConcurrentSchedules     *int                       `json:"max_concurrent_schedules"`
	ScheduleAheadTime          *string                    `json:"schedule_ahead_time"`
	CleanupInterval            *string                    `json:"cleanup_interval"`
	RetryFailedSchedules       *bool                      `json:"retry_failed_schedules"`
	MaxScheduleRetries         *int                       `json:"max_schedule_retries"`
	ConflictResolutionStrategy *domain.ResolutionStrategy `json:"conflict_resolution_strategy"`
	PollInterval               *string                    `json:"poll_interval"`
	RetryBaseDelay             *string                    `json:"retry_base_delay"`
	RetryMaxDelay              *string                    `json:"retry_max_delay"`
	RetryJitter                *string                    `json:"retry_jitter"`
	ExecutionRetention         *string                    `json:"execution_retention"`
}

func (r updateConfigRequest) toPatch() (domain.SchedulerConfigPatch, error) {
	p := domain.SchedulerConfigPatch{
		Enabled:                    r.Enabled,
		DefaultFrequency:           r.DefaultFrequency,
		MaxConcurrentSchedules:     r.MaxConcurrentSchedules,
		RetryFailedSchedules:       r.RetryFailedSchedules,
		MaxScheduleRetries:         r.MaxScheduleRetries,
		ConflictResolutionStrategy: r.ConflictResolutionStrategy,
	}
	durations := []struct {
		name string
		raw  *string
		dst  **time.Duration
	}{
		{"schedule_ahead_time", r.ScheduleAheadTime, &p.ScheduleAheadTime},
		{"cleanup_interval", r.CleanupInterval, &p.CleanupInterval},
		{"poll_interval", r.PollInterval, &p.PollInterval},
		{"retry_base_delay", r.RetryBaseDelay, &p.RetryBaseDelay},
		{"retry_max_delay", r.RetryMaxDelay, &p.RetryMaxDelay},
		{"retry_jitter", r.RetryJitter, &p.RetryJitter},
		{"execution_retention", r.ExecutionRetention, &p.ExecutionRetention},
	}
	for _, d := range durations {
		if d.raw == nil {
			continue
		}
		v, err := time.ParseDuration(*d.raw)
		if err != nil {
			return p, fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = &v
	}
	return p, nil
}

func (h *ConfigHandler) Get(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, toConfigResponse(h.store.Config()))
}

func (h *ConfigHandler) Update(ctx *gin.Context) {
	var req updateConfigRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	patch, err := req.toPatch()
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidConfig, "details": err.Error()})
		return
	}

	cfg, err := h.store.UpdateConfig(patch)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidConfig) {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidConfig, "details": err.Error()})
			return
		}
		h.logger.ErrorContext(ctx.Request.Context(), "update config", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	ctx.JSON(http.StatusOK, toConfigResponse(cfg))
}
