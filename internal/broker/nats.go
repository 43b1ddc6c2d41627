package broker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/alphadose/haxmap"
	"github.com/casualjim/chatwire/events"
	"github.com/casualjim/chatwire/pkg/slogx"
	"github.com/casualjim/chatwire/pkg/uuidx"
	"github.com/nats-io/nats.go"
)

type natsBroker struct {
	client *nats.Conn
	prefix string
	topics *haxmap.Map[string, *natsTopic]
}

// NATS creates a broker whose topics are NATS subjects. A non-empty prefix is
// prepended to every topic id with a dot.
func NATS(client *nats.Conn, prefix string) *natsBroker {
	return &natsBroker{
		client: client,
		prefix: prefix,
		topics: haxmap.New[string, *natsTopic](),
	}
}

func (b *natsBroker) Topic(_ context.Context, id string) Topic {
	top, _ := b.topics.GetOrCompute(id, func() *natsTopic {
		subject := id
		if b.prefix != "" {
			subject = b.prefix + "." + id
		}
		return &natsTopic{
			subject: subject,
			client:  b.client,
		}
	})
	return top
}

type natsTopic struct {
	client  *nats.Conn
	subject string
}

func (t *natsTopic) Publish(_ context.Context, event events.Event) error {
	eb, err := events.ToJSON(event)
	if err != nil {
		return err
	}
	return t.client.Publish(t.subject, eb)
}

func (t *natsTopic) Subscribe(ctx context.Context, hook events.Hook) (Subscription, error) {
	if hook == nil {
		return nil, errors.New("hook is required")
	}

	ch := make(chan events.Event, subscriberBuffer)
	done := make(chan struct{})
	nsub, err := t.client.Subscribe(t.subject, func(msg *nats.Msg) {
		event, err := events.FromJSON(msg.Data)
		if err != nil {
			slog.Error("failed to unmarshal event", slogx.LoggerName("broker"), slogx.Error(err))
			return
		}

		select {
		case ch <- event:
		case <-done:
			return
		case <-ctx.Done():
			return
		}

		if msg.Reply != "" {
			if nerr := msg.Ack(); nerr != nil {
				slog.Error("failed to ack message", slogx.LoggerName("broker"), slogx.Error(nerr))
			}
		}
	})
	if err != nil {
		return nil, err
	}

	go forwardToHook(ctx, ch, done, hook)
	return &natsSubscription{
		id:   uuidx.NewString(),
		sub:  nsub,
		done: done,
	}, nil
}

type natsSubscription struct {
	id        string
	sub       *nats.Subscription
	done      chan struct{}
	closeOnce sync.Once
}

func (n *natsSubscription) ID() string {
	return n.id
}

func (n *natsSubscription) Unsubscribe() {
	n.closeOnce.Do(func() {
		if err := n.sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe", slogx.Error(err), slog.String("subscription", n.id))
		}
		close(n.done)
	})
}
