package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/sync-scheduler/internal/domain"
	"github.com/gin-gonic/gin"
	"nhooyr.io/websocket"
)

const eventWriteTimeout = 5 * time.Second

type eventSource interface {
	Subscribe(ctx context.Context, scheduleID string) (<-chan domain.Event, func(), error)
}

// EventsHandler streams notifier events to UI clients over a websocket.
type EventsHandler struct {
	source         eventSource
	originPatterns []string
	logger         *slog.Logger
}

func NewEventsHandler(source eventSource, originPatterns []string, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{source: source, originPatterns: originPatterns, logger: logger.With("component", "events_handler")}
}

// Stream serves GET /events?schedule_id=. Clients only listen; anything they
// send is discarded.
func (h *EventsHandler) Stream(ctx *gin.Context) {
	conn, err := websocket.Accept(ctx.Writer, ctx.Request, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.WarnContext(ctx.Request.Context(), "websocket accept", "error", err)
		return
	}
	defer conn.CloseNow()

	streamCtx := conn.CloseRead(ctx.Request.Context())
	scheduleID := ctx.Query("schedule_id")

	events, unsubscribe, err := h.source.Subscribe(streamCtx, scheduleID)
	if err != nil {
		h.logger.ErrorContext(streamCtx, "subscribe to events", "error", err)
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer unsubscribe()

	h.logger.DebugContext(streamCtx, "event stream opened", "schedule_id", scheduleID)
	for {
		select {
		case <-streamCtx.Done():
			return
		case e, ok := <-events:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "stream closed")
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				h.logger.WarnContext(streamCtx, "encode event", "error", err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(streamCtx, eventWriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				h.logger.DebugContext(streamCtx, "event stream closed", "error", err)
				return
			}
		}
	}
}
