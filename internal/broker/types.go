package broker

import (
	"context"
	"log/slog"

	"github.com/casualjim/chatwire/events"
	"github.com/casualjim/chatwire/pkg/slogx"
)

type Broker interface {
	Topic(context.Context, string) Topic
}

type Topic interface {
	Publish(context.Context, events.Event) error
	Subscribe(context.Context, events.Hook) (Subscription, error)
}

type Subscription interface {
	ID() string
	Unsubscribe()
}

// Recorder publishes every recorded event to topic. Publish failures are
// logged, recording never fails the producer.
func Recorder(topic Topic) events.Recorder {
	return events.RecorderFunc(func(ctx context.Context, e events.Event) {
		if err := topic.Publish(ctx, e); err != nil {
			slog.WarnContext(ctx, "failed to publish event", slogx.LoggerName("broker"), slogx.Conversation(e.Conversation()), slogx.Error(err))
		}
	})
}

// forwardToHook delivers events from ch to hook until ch is drained after
// done closes or ctx is canceled.
func forwardToHook(ctx context.Context, ch <-chan events.Event, done <-chan struct{}, hook events.Hook) {
	for {
		select {
		case event := <-ch:
			events.Dispatch(ctx, hook, event)
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}
