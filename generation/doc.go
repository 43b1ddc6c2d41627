// Package generation drives one reply at a time per conversation: it admits a
// send, appends the user message, dispatches the request and applies the
// streamed deltas to the ledger until the reply completes or fails.
//
// Design decisions:
//   - Single flight: a conversation has at most one session; a second send is
//     rejected with a busy error before anything is written
//   - Fail before writing: target, params and availability are checked before
//     the user message is appended
//   - Lazy reply: the assistant message is created by the first non-empty
//     delta, so a failed request never leaves an empty reply behind
//   - Inline errors: failures are written into the conversation, as a new
//     reply or as a note after the partial one, never over existing content
//   - Quiet aborts: a session whose reply or conversation was removed stops
//     without writing anything
//   - Cancel keeps content: a canceled session leaves what already arrived
//
// State machine:
//
//	Idle ──send──▶ Dispatching ──first text──▶ Streaming ──final──▶ Completing ──▶ Idle
//	                    │                           │
//	                    └──────── error ────────────┴──▶ Errored ──▶ Idle
//
// Example usage:
//
//	ctrl := generation.NewController(l, builder, transport.NewHTTP(),
//	    generation.WithAvailability(resolver),
//	    generation.WithRecorder(recorder),
//	)
//
//	session, err := ctrl.Send(ctx, conv.ID, generation.Prompt{Content: "Hello"})
//	if err != nil {
//	    return err // busy, configuration, validation or availability
//	}
//	err = session.Wait(ctx) // already surfaced in the conversation
package generation
