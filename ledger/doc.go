// Package ledger keeps the authoritative, ordered record of every conversation
// and its messages while replies stream into them.
//
// Design decisions:
//   - One lock per conversation: mutations of a conversation are serialized,
//     different conversations never contend
//   - Insertion order: messages are kept in an ordered index keyed by id, so
//     appends are O(1) amortized and lookups by id don't scan
//   - Stable identity: the ledger assigns message ids on append and never
//     changes them, only Content is mutated afterwards
//   - Snapshot reads: every read returns copies, callers can't reach into the
//     ledger's state
//   - Lenient accumulation: Accumulate on a message or conversation that was
//     removed reports false instead of failing, so a stream racing a deletion
//     stops quietly without resurrecting anything
//   - Recorded mutations: every mutation is recorded as an events.LedgerChange,
//     in mutation order per conversation, after the conversation lock is released
//
// Example usage:
//
//	l := ledger.New(ledger.WithRecorder(recorder))
//	conv := l.Create(ctx, "local", "llama3.2")
//
//	userID, err := l.Append(ctx, conv.ID, messages.User("What is a monad?"))
//	replyID, err := l.Append(ctx, conv.ID, messages.Assistant("A monad", "llama3.2"))
//	l.Accumulate(ctx, conv.ID, replyID, " is a monoid in the category of endofunctors.")
//
//	// Drop the reply and everything after the question to resend it
//	removed, err := l.DeleteFrom(ctx, conv.ID, userID)
package ledger
