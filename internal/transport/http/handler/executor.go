package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ErlanBelekov/sync-scheduler/internal/domain"
	"github.com/gin-gonic/gin"
)

type executorControl interface {
	ResourceMetrics(ctx context.Context) domain.ResourceMetrics
	CancelAllPendingTasks() int
}

type ExecutorHandler struct {
	executor executorControl
	logger   *slog.Logger
}

func NewExecutorHandler(e executorControl, logger *slog.Logger) *ExecutorHandler {
	return &ExecutorHandler{executor: e, logger: logger.With("component", "executor_handler")}
}

func (h *ExecutorHandler) Metrics(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, h.executor.ResourceMetrics(ctx.Request.Context()))
}

func (h *ExecutorHandler) CancelPending(ctx *gin.Context) {
	n := h.executor.CancelAllPendingTasks()
	h.logger.InfoContext(ctx.Request.Context(), "pending tasks cancelled via api", "count", n)
	ctx.JSON(http.StatusOK, gin.H{"cancelled": n})
}
