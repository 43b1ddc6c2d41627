package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/casualjim/chatwire/events"
	"github.com/casualjim/chatwire/pkg/uuidx"
)

const (
	defaultSlowSubscriberTimeout = 100 * time.Millisecond
	subscriberBuffer             = 256
)

type localBroker struct {
	topics                *haxmap.Map[string, *topic]
	slowSubscriberTimeout time.Duration
}

func Local() *localBroker {
	return &localBroker{
		topics:                haxmap.New[string, *topic](),
		slowSubscriberTimeout: defaultSlowSubscriberTimeout,
	}
}

// WithSlowSubscriberTimeout configures the timeout for detecting slow subscribers
func (b *localBroker) WithSlowSubscriberTimeout(timeout time.Duration) *localBroker {
	b.slowSubscriberTimeout = timeout
	return b
}

func (b *localBroker) Topic(_ context.Context, id string) Topic {
	t, _ := b.topics.GetOrCompute(id, func() *topic {
		return &topic{
			ID:                    id,
			subscriptions:         haxmap.New[string, *subscription](),
			slowSubscriberTimeout: b.slowSubscriberTimeout,
		}
	})
	return t
}

type topic struct {
	ID                    string
	subscriptions         *haxmap.Map[string, *subscription]
	slowSubscriberTimeout time.Duration
}

func (t *topic) Publish(ctx context.Context, event events.Event) error {
	t.subscriptions.ForEach(func(_ string, sub *subscription) bool {
		if sub == nil {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-sub.ctx.Done():
			sub.Unsubscribe()
			return true
		case <-sub.done:
			return true
		default:
		}

		// Fast path, then give a full subscriber a grace period before evicting it.
		select {
		case sub.channel <- event:
			return true
		default:
		}

		timer := time.NewTimer(t.slowSubscriberTimeout)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-sub.ctx.Done():
			sub.Unsubscribe()
		case <-sub.done:
		case sub.channel <- event:
		case <-timer.C:
			sub.Unsubscribe()
		}
		return true
	})
	return ctx.Err()
}

func (t *topic) Subscribe(ctx context.Context, hook events.Hook) (Subscription, error) {
	if hook == nil {
		return nil, errors.New("hook is required")
	}
	return t.newSubscription(ctx, hook), nil
}

func (t *topic) newSubscription(ctx context.Context, hook events.Hook) *subscription {
	id := uuidx.NewString()
	sub := &subscription{
		id:      id,
		ctx:     ctx,
		channel: make(chan events.Event, subscriberBuffer),
		done:    make(chan struct{}),
		onClose: func() { t.subscriptions.Del(id) },
	}
	t.subscriptions.Set(id, sub)
	go forwardToHook(ctx, sub.channel, sub.done, hook)
	return sub
}

type subscription struct {
	id        string
	ctx       context.Context
	channel   chan events.Event
	done      chan struct{}
	closeOnce sync.Once
	onClose   func()
}

func (s *subscription) ID() string {
	return s.id
}

func (s *subscription) Unsubscribe() {
	s.closeOnce.Do(func() {
		if s.onClose != nil {
			s.onClose()
		}
		close(s.done)
	})
}
