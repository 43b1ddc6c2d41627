// Package store persists conversations so the ledger survives a restart.
//
// A Store saves whole conversation snapshots. The Syncer keeps a store in
// step with a ledger by listening to its events: structural changes save the
// conversation. Streamed chunks are saved by the touch that settles a reply,
// so every save follows the ledger's per-conversation event order.
package store

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/casualjim/chatwire/events"
	"github.com/casualjim/chatwire/messages"
	"github.com/casualjim/chatwire/pkg/slogx"
)

// ErrClosed is returned by a store used after Close.
var ErrClosed = errors.New("store is closed")

// Store persists conversations with their messages in order.
type Store interface {
	// Save replaces the stored copy of the conversation.
	Save(ctx context.Context, conv messages.Conversation) error
	// LoadAll returns every stored conversation, most recently updated first.
	LoadAll(ctx context.Context) ([]messages.Conversation, error)
	// Delete removes a conversation. Deleting a missing one is not an error.
	Delete(ctx context.Context, conversationID string) error
	Close() error
}

// Source provides the snapshots the Syncer saves. *ledger.Ledger implements it.
type Source interface {
	Conversation(id string) (messages.Conversation, bool)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(id string) (messages.Conversation, bool)

func (f SourceFunc) Conversation(id string) (messages.Conversation, bool) {
	return f(id)
}

// Syncer is an events.Hook that mirrors a ledger into a store.
type Syncer struct {
	events.NopHook

	store  Store
	source Source
}

// NewSyncer creates a syncer saving snapshots from source into store.
func NewSyncer(store Store, source Source) *Syncer {
	return &Syncer{store: store, source: source}
}

func (s *Syncer) OnLedgerChange(ctx context.Context, e events.LedgerChange) {
	switch {
	case e.Kind == events.ConversationDeleted:
		if err := s.store.Delete(ctx, e.ConversationID); err != nil {
			slog.ErrorContext(ctx, "failed to delete conversation", slogx.LoggerName("store"), slogx.Conversation(e.ConversationID), slogx.Error(err))
		}
	case e.Structural():
		s.save(ctx, e.ConversationID)
	}
}

func (s *Syncer) save(ctx context.Context, conversationID string) {
	conv, ok := s.source.Conversation(conversationID)
	if !ok {
		return
	}
	if err := s.store.Save(ctx, conv); err != nil {
		slog.ErrorContext(ctx, "failed to save conversation", slogx.LoggerName("store"), slogx.Conversation(conversationID), slogx.Error(err))
	}
}

// Memory is a Store that keeps snapshots in memory.
type Memory struct {
	conversations *haxmap.Map[string, messages.Conversation]
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{conversations: haxmap.New[string, messages.Conversation]()}
}

func (m *Memory) Save(_ context.Context, conv messages.Conversation) error {
	conv.Messages = cloneMessages(conv.Messages)
	m.conversations.Set(conv.ID, conv)
	return nil
}

func (m *Memory) LoadAll(context.Context) ([]messages.Conversation, error) {
	out := make([]messages.Conversation, 0, m.conversations.Len())
	m.conversations.ForEach(func(_ string, conv messages.Conversation) bool {
		conv.Messages = cloneMessages(conv.Messages)
		out = append(out, conv)
		return true
	})
	SortByRecent(out)
	return out, nil
}

func (m *Memory) Delete(_ context.Context, conversationID string) error {
	m.conversations.Del(conversationID)
	return nil
}

func (m *Memory) Close() error { return nil }

// SortByRecent orders conversations most recently updated first.
func SortByRecent(convs []messages.Conversation) {
	slices.SortFunc(convs, func(a, b messages.Conversation) int {
		if c := time.Time(b.UpdatedAt).Compare(time.Time(a.UpdatedAt)); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func cloneMessages(msgs []messages.Message) []messages.Message {
	out := make([]messages.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
