package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ErlanBelekov/sync-scheduler/internal/domain"
	"github.com/ErlanBelekov/sync-scheduler/internal/metrics"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type scheduleTrigger interface {
	ForceExecuteSchedule(ctx context.Context, id string) (bool, error)
}

type scheduleLookup interface {
	Get(id string) (*domain.Schedule, error)
}

// WebhookHandler lets providers request an immediate sync. Runs happen in the
// background; the caller only learns the request was accepted.
type WebhookHandler struct {
	trigger   scheduleTrigger
	schedules scheduleLookup
	limiter   *rate.Limiter
	logger    *slog.Logger
	inflight  sync.WaitGroup
}

func NewWebhookHandler(trigger scheduleTrigger, schedules scheduleLookup, perSecond float64, burst int, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		trigger:   trigger,
		schedules: schedules,
		limiter:   rate.NewLimiter(rate.Limit(perSecond), burst),
		logger:    logger.With("component", "webhook_handler"),
	}
}

func (h *WebhookHandler) TriggerSync(ctx *gin.Context) {
	id := ctx.Param("id")

	if !h.limiter.Allow() {
		metrics.WebhooksThrottledTotal.Inc()
		ctx.JSON(http.StatusTooManyRequests, gin.H{"error": errRateLimited})
		return
	}

	if _, err := h.schedules.Get(id); err != nil {
		if errors.Is(err, domain.ErrScheduleNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errScheduleNotFound})
			return
		}
		h.logger.ErrorContext(ctx.Request.Context(), "webhook lookup", "schedule_id", id, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	runCtx := context.WithoutCancel(ctx.Request.Context())
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		ok, err := h.trigger.ForceExecuteSchedule(runCtx, id)
		if err != nil {
			h.logger.ErrorContext(runCtx, "webhook sync", "schedule_id", id, "error", err)
			return
		}
		h.logger.InfoContext(runCtx, "webhook sync finished", "schedule_id", id, "success", ok)
	}()

	ctx.JSON(http.StatusAccepted, gin.H{"schedule_id": id, "accepted": true})
}

// Wait blocks until every background run started by a webhook has returned.
func (h *WebhookHandler) Wait() {
	h.inflight.Wait()
}
