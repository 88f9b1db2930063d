package notify_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ErlanBelekov/sync-scheduler/internal/domain"
	"github.com/ErlanBelekov/sync-scheduler/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNotifier(t *testing.T) *notify.Notifier {
	t.Helper()
	n := notify.NewNotifier(slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func receive(t *testing.T, ch <-chan domain.Event) domain.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return domain.Event{}
	}
}

func TestNotifier_FiltersBySchedule(t *testing.T) {
	n := newNotifier(t)
	ctx := context.Background()

	all, unsubAll, err := n.Subscribe(ctx, "")
	require.NoError(t, err)
	defer unsubAll()
	one, unsubOne, err := n.Subscribe(ctx, "s1")
	require.NoError(t, err)
	defer unsubOne()

	n.Publish(domain.Event{Type: domain.EventExecutionStart, ScheduleID: "s2"})
	n.Publish(domain.Event{Type: domain.EventExecutionComplete, ScheduleID: "s1", Payload: map[string]any{"success": true}})

	assert.Equal(t, "s2", receive(t, all).ScheduleID)
	assert.Equal(t, "s1", receive(t, all).ScheduleID)

	got := receive(t, one)
	assert.Equal(t, domain.EventExecutionComplete, got.Type)
	assert.Equal(t, true, got.Payload["success"])

	select {
	case e := <-one:
		t.Fatalf("unexpected event for filtered subscriber: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotifier_UnsubscribeClosesStream(t *testing.T) {
	n := newNotifier(t)

	ch, unsubscribe, err := n.Subscribe(context.Background(), "")
	require.NoError(t, err)
	unsubscribe()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	// publishing with no subscribers is fine
	n.Publish(domain.Event{Type: domain.EventStatsUpdate})
}
