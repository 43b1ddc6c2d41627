// Package messages defines the data model of the chat pipeline: conversations,
// the ordered messages they hold, and the image attachments a user message can
// carry.
//
// Design decisions:
//   - Stable identity: a message id is assigned once, at creation, and never changes
//   - Single mutable field: only Content changes after creation (streaming or edits)
//   - Insertion order: messages are ordered by when they were appended, never by
//     timestamp, because two messages may share a timestamp
//   - Plain values: every type is a value type so snapshots can be copied freely
//
// Example usage:
//
//	msg := messages.User("What is the capital of France?")
//	reply := messages.Assistant("Paris.", "llama3.2")
package messages
