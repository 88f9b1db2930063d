package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ErlanBelekov/sync-scheduler/internal/domain"
	"github.com/gin-gonic/gin"
)

const (
	defaultReportWindow = 24 * time.Hour
	maxReportWindow     = 90 * 24 * time.Hour
)

type reporter interface {
	Stats(ctx context.Context, userID string) (domain.ScheduleStats, error)
	GenerateReport(ctx context.Context, userID string, window time.Duration) (*domain.ScheduleReport, error)
}

type ReportHandler struct {
	reporter reporter
	logger   *slog.Logger
}

func NewReportHandler(r reporter, logger *slog.Logger) *ReportHandler {
	return &ReportHandler{reporter: r, logger: logger.With("component", "report_handler")}
}

func (h *ReportHandler) Stats(ctx *gin.Context) {
	st, err := h.reporter.Stats(ctx.Request.Context(), ctx.Query("user_id"))
	if err != nil {
		h.logger.ErrorContext(ctx.Request.Context(), "compute stats", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}
	ctx.JSON(http.StatusOK, st)
}

// Report accepts ?window= as a Go duration, e.g. 24h or 168h.
func (h *ReportHandler) Report(ctx *gin.Context) {
	window := defaultReportWindow
	if raw := ctx.Query("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 || d > maxReportWindow {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidWindow})
			return
		}
		window = d
	}

	rep, err := h.reporter.GenerateReport(ctx.Request.Context(), ctx.Query("user_id"), window)
	if err != nil {
		h.logger.ErrorContext(ctx.Request.Context(), "generate report", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}
	ctx.JSON(http.StatusOK, rep)
}
