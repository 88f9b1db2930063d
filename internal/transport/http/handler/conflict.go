package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ErlanBelekov/sync-scheduler/internal/domain"
	"github.com/ErlanBelekov/sync-scheduler/internal/repository"
	"github.com/gin-gonic/gin"
)

type conflictStore interface {
	GetConflict(ctx context.Context, id string) (*domain.ScheduleConflict, error)
	ListConflicts(ctx context.Context, filter repository.ConflictFilter) ([]*domain.ScheduleConflict, error)
}

type conflictResolver interface {
	Resolve(ctx context.Context, c *domain.ScheduleConflict, strategy domain.ResolutionStrategy) error
}

type ConflictHandler struct {
	store    conflictStore
	resolver conflictResolver
	logger   *slog.Logger
}

func NewConflictHandler(store conflictStore, resolver conflictResolver, logger *slog.Logger) *ConflictHandler {
	return &ConflictHandler{store: store, resolver: resolver, logger: logger.With("component", "conflict_handler")}
}

type resolveConflictRequest struct {
	Strategy domain.ResolutionStrategy `json:"strategy" binding:"required,oneof=prevent queue cancel"`
}

type conflictResponse struct {
	ID           string                    `json:"id"`
	ScheduleID   string                    `json:"schedule_id"`
	UserID       string                    `json:"user_id"`
	ConnectionID string                    `json:"connection_id"`
	ProviderID   string                    `json:"provider_id"`
	Type         domain.ConflictType       `json:"type"`
	Details      domain.ConflictDetails    `json:"details"`
	Resolved     bool                      `json:"resolved"`
	ResolvedAt   *time.Time                `json:"resolved_at,omitempty"`
	Resolution   domain.ResolutionStrategy `json:"resolution,omitempty"`
	DetectedAt   time.Time                 `json:"detected_at"`
}

func toConflictResponse(c *domain.ScheduleConflict) conflictResponse {
	return conflictResponse{
		ID:           c.ID,
		ScheduleID:   c.ScheduleID,
		UserID:       c.UserID,
		ConnectionID: c.ConnectionID,
		ProviderID:   c.ProviderID,
		Type:         c.Type,
		Details:      c.Details,
		Resolved:     c.Resolved,
		ResolvedAt:   c.ResolvedAt,
		Resolution:   c.Resolution,
		DetectedAt:   c.DetectedAt,
	}
}

func (h *ConflictHandler) List(ctx *gin.Context) {
	conflicts, err := h.store.ListConflicts(ctx.Request.Context(), repository.ConflictFilter{
		UserID:         ctx.Query("user_id"),
		UnresolvedOnly: ctx.Query("unresolved") == "true",
	})
	if err != nil {
		h.logger.ErrorContext(ctx.Request.Context(), "list conflicts", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	items := make([]conflictResponse, len(conflicts))
	for i, c := range conflicts {
		items[i] = toConflictResponse(c)
	}
	ctx.JSON(http.StatusOK, gin.H{"conflicts": items})
}

// Resolve records a manual decision. It does not touch the schedules involved.
func (h *ConflictHandler) Resolve(ctx *gin.Context) {
	id := ctx.Param("id")

	var req resolveConflictRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c, err := h.store.GetConflict(ctx.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrConflictNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errConflictNotFound})
			return
		}
		h.logger.ErrorContext(ctx.Request.Context(), "get conflict", "conflict_id", id, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	if err := h.resolver.Resolve(ctx.Request.Context(), c, req.Strategy); err != nil {
		h.logger.ErrorContext(ctx.Request.Context(), "resolve conflict", "conflict_id", id, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	ctx.JSON(http.StatusOK, toConflictResponse(c))
}
