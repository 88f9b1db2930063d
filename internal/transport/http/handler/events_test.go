package handler_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ErlanBelekov/sync-scheduler/internal/domain"
	"github.com/ErlanBelekov/sync-scheduler/internal/transport/http/handler"
	"github.com/gin-gonic/gin"
	"nhooyr.io/websocket"
)

type fakeEventSource struct {
	events     chan domain.Event
	subscribed chan string
}

func (f *fakeEventSource) Subscribe(_ context.Context, scheduleID string) (<-chan domain.Event, func(), error) {
	f.subscribed <- scheduleID
	return f.events, func() {}, nil
}

func TestEventsStream_ForwardsEvents(t *testing.T) {
	src := &fakeEventSource{events: make(chan domain.Event, 1), subscribed: make(chan string, 1)}
	h := handler.NewEventsHandler(src, nil, discardLogger())
	r := gin.New()
	r.GET("/events", h.Stream)

	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events?schedule_id=s1"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	select {
	case id := <-src.subscribed:
		if id != "s1" {
			t.Errorf("subscribed to %q, want s1", id)
		}
	case <-ctx.Done():
		t.Fatal("handler never subscribed")
	}

	src.events <- domain.Event{Type: domain.EventExecutionComplete, ScheduleID: "s1"}

	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.MessageText {
		t.Errorf("message type = %v, want text", typ)
	}
	var got domain.Event
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ScheduleID != "s1" || got.Type != domain.EventExecutionComplete {
		t.Errorf("event = %+v", got)
	}

	close(src.events)
	if _, _, err := conn.Read(ctx); websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Errorf("close status = %v, want going away", websocket.CloseStatus(err))
	}
}
