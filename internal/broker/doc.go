// Package broker distributes pipeline events to subscribers through named
// topics, either in process or over NATS.
//
// Design decisions:
//   - Context-first: subscriptions end when their context is canceled
//   - Hook integration: subscribers are events.Hook values, events are dispatched
//     by kind on a goroutine per subscription
//   - Isolation: every subscription has its own buffer, a subscriber that stays
//     full past the slow subscriber timeout is evicted instead of stalling
//     publishers
//   - Same contract: the local and NATS brokers pass the same acceptance tests
//
// Example usage:
//
//	topic := broker.Local().Topic(ctx, "chatwire.events")
//	sub, err := topic.Subscribe(ctx, printer)
//	if err != nil {
//	    return err
//	}
//	defer sub.Unsubscribe()
//
//	controller := generation.NewController(ledger, builder, transport,
//	    generation.WithRecorder(broker.Recorder(topic)))
package broker
