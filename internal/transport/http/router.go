package httptransport

import (
	"log/slog"

	"github.com/ErlanBelekov/sync-scheduler/internal/transport/http/handler"
	"github.com/ErlanBelekov/sync-scheduler/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"

	sloggin "github.com/samber/slog-gin"
)

type Handlers struct {
	Schedules *handler.ScheduleHandler
	Conflicts *handler.ConflictHandler
	Reports   *handler.ReportHandler
	Executor  *handler.ExecutorHandler
	Config    *handler.ConfigHandler
	Webhooks  *handler.WebhookHandler
	Events    *handler.EventsHandler
}

func NewRouter(logger *slog.Logger, h Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	schedules := r.Group("/schedules")
	schedules.POST("", h.Schedules.Create)
	schedules.GET("", h.Schedules.List)
	schedules.POST("/validate", h.Schedules.Validate)
	schedules.GET("/:id", h.Schedules.GetByID)
	schedules.PATCH("/:id", h.Schedules.Update)
	schedules.DELETE("/:id", h.Schedules.Delete)
	schedules.POST("/:id/enable", h.Schedules.Enable)
	schedules.POST("/:id/disable", h.Schedules.Disable)
	schedules.POST("/:id/execute", h.Schedules.Execute)

	r.GET("/conflicts", h.Conflicts.List)
	r.POST("/conflicts/:id/resolve", h.Conflicts.Resolve)

	r.GET("/stats", h.Reports.Stats)
	r.GET("/reports", h.Reports.Report)

	r.GET("/executor", h.Executor.Metrics)
	r.POST("/executor/cancel-pending", h.Executor.CancelPending)

	r.GET("/config", h.Config.Get)
	r.PATCH("/config", h.Config.Update)

	r.POST("/webhooks/sync/:id", h.Webhooks.TriggerSync)

	r.GET("/events", h.Events.Stream)

	return r
}
