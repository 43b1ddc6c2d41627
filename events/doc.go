// Package events describes everything observable about the chat pipeline: ledger
// mutations, the typing indicator and generation state transitions.
//
// Components never log activity through a global; they are handed a Recorder and
// record Events on it. Recorders compose (Multi), adapt Hooks (HookRecorder),
// write to slog (SlogRecorder), keep a bounded history (Log), or publish to a
// broker topic so other processes can follow along.
//
// Design decisions:
//   - Closed union: Event is implemented by LedgerChange, Typing and Generation only
//   - Injected, not global: every producer takes a Recorder, Discard is the default
//   - Wire friendly: each event marshals with a "type" discriminator so a stream of
//     mixed events can be decoded with FromJSON
//   - Synchronous recording: Record is called on the producer's goroutine, in the
//     order the mutations happened. Slow consumers belong behind a broker
//
// Event hierarchy:
//   - Event
//     ├── LedgerChange: a conversation or message was created, changed or removed
//     ├── Typing: the typing indicator was raised or cleared for a model
//     └── Generation: a generation session moved between states
//
// Example usage:
//
//	log := events.NewLog(100)
//	rec := events.Multi(events.SlogRecorder(slog.Default()), log)
//	l := ledger.New(ledger.WithRecorder(rec))
package events
