// Package notify fans scheduler lifecycle events out to UI subscribers.
// Delivery is best effort: nothing is persisted and slow subscribers miss events.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/ErlanBelekov/sync-scheduler/internal/domain"
)

const (
	topic            = "scheduler.events"
	scheduleIDHeader = "schedule_id"
	subscriberBuffer = 64
)

type Notifier struct {
	pubSub *gochannel.GoChannel
	logger *slog.Logger
}

func NewNotifier(logger *slog.Logger) *Notifier {
	l := logger.With("component", "notifier")
	return &Notifier{
		pubSub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: subscriberBuffer,
			Persistent:          false,
			// forwarders ack on receipt, so this only keeps per-subscriber order
			BlockPublishUntilSubscriberAck: true,
		}, watermill.NewSlogLogger(l)),
		logger: l,
	}
}

// Publish never fails the caller. It waits only for each forwarder to take
// the message, never for the subscriber to read it.
func (n *Notifier) Publish(e domain.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		n.logger.Warn("encode event", "type", e.Type, "error", err)
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(scheduleIDHeader, e.ScheduleID)

	if err := n.pubSub.Publish(topic, msg); err != nil {
		n.logger.Warn("publish event", "type", e.Type, "error", err)
	}
}

// Subscribe streams events until ctx is done or unsubscribe is called. A
// non-empty scheduleID limits the stream to that schedule's events.
func (n *Notifier) Subscribe(ctx context.Context, scheduleID string) (<-chan domain.Event, func(), error) {
	subCtx, cancel := context.WithCancel(ctx)
	messages, err := n.pubSub.Subscribe(subCtx, topic)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan domain.Event, subscriberBuffer)
	go func() {
		defer close(out)
		for msg := range messages {
			msg.Ack()
			if scheduleID != "" && msg.Metadata.Get(scheduleIDHeader) != scheduleID {
				continue
			}
			var e domain.Event
			if err := json.Unmarshal(msg.Payload, &e); err != nil {
				n.logger.Warn("decode event", "error", err)
				continue
			}
			select {
			case out <- e:
			default:
				n.logger.Debug("subscriber lagging, event dropped", "type", e.Type, "schedule_id", e.ScheduleID)
			}
		}
	}()
	return out, cancel, nil
}

func (n *Notifier) Close() error {
	return n.pubSub.Close()
}
