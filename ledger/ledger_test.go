package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/casualjim/chatwire/events"
	"github.com/casualjim/chatwire/messages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type changeLog struct {
	mu      sync.Mutex
	changes []events.LedgerChange
}

func (c *changeLog) Record(_ context.Context, e events.Event) {
	if change, ok := e.(events.LedgerChange); ok {
		c.mu.Lock()
		c.changes = append(c.changes, change)
		c.mu.Unlock()
	}
}

func (c *changeLog) kinds() []events.ChangeKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	kinds := make([]events.ChangeKind, len(c.changes))
	for i, change := range c.changes {
		kinds[i] = change.Kind
	}
	return kinds
}

func newLedger(t *testing.T) (*Ledger, *changeLog) {
	t.Helper()
	log := &changeLog{}
	return New(WithRecorder(log)), log
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	l, log := newLedger(t)

	conv := l.Create(ctx, "local", "llama3.2")
	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, messages.DefaultTitle, conv.Title)
	assert.Equal(t, "local", conv.ProviderID)
	assert.Equal(t, "llama3.2", conv.ModelID)
	assert.Empty(t, conv.Messages)
	assert.Equal(t, []events.ChangeKind{events.ConversationCreated}, log.kinds())

	got, ok := l.Conversation(conv.ID)
	require.True(t, ok)
	assert.Equal(t, conv.ID, got.ID)
}

func TestAppend(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns ids and keeps order", func(t *testing.T) {
		l, _ := newLedger(t)
		conv := l.Create(ctx, "local", "m")

		first, err := l.Append(ctx, conv.ID, messages.User("one"))
		require.NoError(t, err)
		second, err := l.Append(ctx, conv.ID, messages.Assistant("two", "m"))
		require.NoError(t, err)
		assert.NotEqual(t, first, second)

		msgs, err := l.Messages(conv.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, first, msgs[0].ID)
		assert.Equal(t, "one", msgs[0].Content)
		assert.Equal(t, conv.ID, msgs[0].ConversationID)
		assert.Equal(t, second, msgs[1].ID)
		assert.Equal(t, messages.RoleAssistant, msgs[1].Role)
	})

	t.Run("length grows by one per append", func(t *testing.T) {
		l, _ := newLedger(t)
		conv := l.Create(ctx, "local", "m")
		for i := range 10 {
			assert.Equal(t, i, l.Len(conv.ID))
			_, err := l.Append(ctx, conv.ID, messages.User(fmt.Sprint(i)))
			require.NoError(t, err)
		}
		assert.Equal(t, 10, l.Len(conv.ID))
	})

	t.Run("unknown conversation", func(t *testing.T) {
		l, _ := newLedger(t)
		_, err := l.Append(ctx, "missing", messages.User("hi"))
		require.ErrorIs(t, err, ErrConversationNotFound)
	})

	t.Run("invalid role", func(t *testing.T) {
		l, _ := newLedger(t)
		conv := l.Create(ctx, "local", "m")
		_, err := l.Append(ctx, conv.ID, messages.Message{Role: "system", Content: "x"})
		require.ErrorIs(t, err, ErrInvalidMessage)
		assert.Zero(t, l.Len(conv.ID))
	})

	t.Run("snapshots are copies", func(t *testing.T) {
		l, _ := newLedger(t)
		conv := l.Create(ctx, "local", "m")
		id, err := l.Append(ctx, conv.ID, messages.User("hi", messages.ImageRef{Data: "x"}))
		require.NoError(t, err)

		msg, ok := l.Message(conv.ID, id)
		require.True(t, ok)
		msg.Content = "changed"
		msg.ImageRefs[0].Data = "y"

		again, _ := l.Message(conv.ID, id)
		assert.Equal(t, "hi", again.Content)
		assert.Equal(t, "x", again.ImageRefs[0].Data)
	})
}

func TestTitleDerivation(t *testing.T) {
	ctx := context.Background()

	t.Run("first user message titles the conversation", func(t *testing.T) {
		l, log := newLedger(t)
		conv := l.Create(ctx, "local", "m")

		_, err := l.Append(ctx, conv.ID, messages.User("What is the capital of France and why is it Paris?"))
		require.NoError(t, err)
		_, err = l.Append(ctx, conv.ID, messages.User("Another question"))
		require.NoError(t, err)

		got, _ := l.Conversation(conv.ID)
		assert.Equal(t, "What is the capital of France...", got.Title)
		assert.Equal(t, []events.ChangeKind{
			events.ConversationCreated,
			events.MessageAppended,
			events.TitleChanged,
			events.MessageAppended,
		}, log.kinds())
	})

	t.Run("blank user message keeps the default", func(t *testing.T) {
		l, _ := newLedger(t)
		conv := l.Create(ctx, "local", "m")
		_, err := l.Append(ctx, conv.ID, messages.User("   ", messages.ImageRef{Data: "x"}))
		require.NoError(t, err)
		_, err = l.Append(ctx, conv.ID, messages.User("describe it"))
		require.NoError(t, err)

		got, _ := l.Conversation(conv.ID)
		assert.Equal(t, "describe it", got.Title)
	})

	t.Run("assistant messages never title", func(t *testing.T) {
		l, _ := newLedger(t)
		conv := l.Create(ctx, "local", "m")
		_, err := l.Append(ctx, conv.ID, messages.Assistant("Hello!", "m"))
		require.NoError(t, err)

		got, _ := l.Conversation(conv.ID)
		assert.Equal(t, messages.DefaultTitle, got.Title)
	})

	t.Run("operator title is kept", func(t *testing.T) {
		l, _ := newLedger(t)
		conv := l.Create(ctx, "local", "m")
		require.NoError(t, l.SetTitle(ctx, conv.ID, "  Trip planning "))
		_, err := l.Append(ctx, conv.ID, messages.User("hello"))
		require.NoError(t, err)

		got, _ := l.Conversation(conv.ID)
		assert.Equal(t, "Trip planning", got.Title)
		assert.True(t, got.TitleLocked)
	})

	t.Run("empty title is rejected", func(t *testing.T) {
		l, _ := newLedger(t)
		conv := l.Create(ctx, "local", "m")
		require.ErrorIs(t, l.SetTitle(ctx, conv.ID, " "), ErrInvalidMessage)
	})
}

func TestAccumulate(t *testing.T) {
	ctx := context.Background()

	t.Run("appends chunks", func(t *testing.T) {
		l, log := newLedger(t)
		conv := l.Create(ctx, "local", "m")
		id, err := l.Append(ctx, conv.ID, messages.Assistant("Hel", "m"))
		require.NoError(t, err)

		assert.True(t, l.Accumulate(ctx, conv.ID, id, "lo"))
		assert.True(t, l.Accumulate(ctx, conv.ID, id, ""))
		assert.True(t, l.Accumulate(ctx, conv.ID, id, "!"))

		msg, _ := l.Message(conv.ID, id)
		assert.Equal(t, "Hello!", msg.Content)
		assert.Equal(t, 1, l.Len(conv.ID))
		assert.Equal(t, []events.ChangeKind{
			events.ConversationCreated,
			events.MessageAppended,
			events.MessageAccumulated,
			events.MessageAccumulated,
		}, log.kinds())
	})

	t.Run("missing targets report false", func(t *testing.T) {
		l, _ := newLedger(t)
		conv := l.Create(ctx, "local", "m")
		assert.False(t, l.Accumulate(ctx, conv.ID, "missing", "x"))
		assert.False(t, l.Accumulate(ctx, "missing", "missing", "x"))
	})

	t.Run("deleted message is not resurrected", func(t *testing.T) {
		l, _ := newLedger(t)
		conv := l.Create(ctx, "local", "m")
		id, err := l.Append(ctx, conv.ID, messages.Assistant("x", "m"))
		require.NoError(t, err)
		require.NoError(t, l.Delete(ctx, conv.ID, id))

		assert.False(t, l.Accumulate(ctx, conv.ID, id, "y"))
		assert.Zero(t, l.Len(conv.ID))
	})

	t.Run("concurrent chunks to different conversations", func(t *testing.T) {
		l, _ := newLedger(t)
		const chunks = 200

		type target struct{ conv, msg string }
		targets := make([]target, 4)
		for i := range targets {
			conv := l.Create(ctx, "local", "m")
			id, err := l.Append(ctx, conv.ID, messages.Assistant("", "m"))
			require.NoError(t, err)
			targets[i] = target{conv.ID, id}
		}

		var wg sync.WaitGroup
		for _, tg := range targets {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range chunks {
					l.Accumulate(ctx, tg.conv, tg.msg, "x")
				}
			}()
		}
		wg.Wait()

		for _, tg := range targets {
			msg, ok := l.Message(tg.conv, tg.msg)
			require.True(t, ok)
			assert.Equal(t, strings.Repeat("x", chunks), msg.Content)
		}
	})
}

func TestEdit(t *testing.T) {
	ctx := context.Background()
	l, log := newLedger(t)
	conv := l.Create(ctx, "local", "m")
	id, err := l.Append(ctx, conv.ID, messages.User("typo"))
	require.NoError(t, err)

	require.NoError(t, l.Edit(ctx, conv.ID, id, "fixed"))
	msg, _ := l.Message(conv.ID, id)
	assert.Equal(t, "fixed", msg.Content)
	assert.Equal(t, id, msg.ID)
	assert.Contains(t, log.kinds(), events.MessageEdited)

	require.ErrorIs(t, l.Edit(ctx, conv.ID, "missing", "x"), ErrMessageNotFound)
	require.ErrorIs(t, l.Edit(ctx, "missing", id, "x"), ErrConversationNotFound)
}

func TestDeleteFrom(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*Ledger, *changeLog, string, []string) {
		l, log := newLedger(t)
		conv := l.Create(ctx, "local", "m")
		ids := make([]string, 5)
		for i := range ids {
			id, err := l.Append(ctx, conv.ID, messages.User(fmt.Sprint(i)))
			require.NoError(t, err)
			ids[i] = id
		}
		return l, log, conv.ID, ids
	}

	t.Run("removes the message and everything after it", func(t *testing.T) {
		l, log, convID, ids := setup(t)
		removed, err := l.DeleteFrom(ctx, convID, ids[2])
		require.NoError(t, err)
		assert.Equal(t, 3, removed)

		msgs, err := l.Messages(convID)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, ids[0], msgs[0].ID)
		assert.Equal(t, ids[1], msgs[1].ID)

		log.mu.Lock()
		last := log.changes[len(log.changes)-1]
		log.mu.Unlock()
		assert.Equal(t, events.MessagesTruncated, last.Kind)
		assert.Equal(t, 3, last.Removed)
	})

	t.Run("from the first message empties the conversation", func(t *testing.T) {
		l, _, convID, ids := setup(t)
		removed, err := l.DeleteFrom(ctx, convID, ids[0])
		require.NoError(t, err)
		assert.Equal(t, 5, removed)
		assert.Zero(t, l.Len(convID))
	})

	t.Run("unknown message changes nothing", func(t *testing.T) {
		l, _, convID, _ := setup(t)
		_, err := l.DeleteFrom(ctx, convID, "missing")
		require.ErrorIs(t, err, ErrMessageNotFound)
		assert.Equal(t, 5, l.Len(convID))
	})

	t.Run("appends continue after truncation", func(t *testing.T) {
		l, _, convID, ids := setup(t)
		_, err := l.DeleteFrom(ctx, convID, ids[3])
		require.NoError(t, err)
		id, err := l.Append(ctx, convID, messages.User("again"))
		require.NoError(t, err)

		msgs, _ := l.Messages(convID)
		require.Len(t, msgs, 4)
		assert.Equal(t, id, msgs[3].ID)
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)
	conv := l.Create(ctx, "local", "m")
	a, _ := l.Append(ctx, conv.ID, messages.User("a"))
	b, _ := l.Append(ctx, conv.ID, messages.User("b"))
	c, _ := l.Append(ctx, conv.ID, messages.User("c"))

	require.NoError(t, l.Delete(ctx, conv.ID, b))
	msgs, _ := l.Messages(conv.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, a, msgs[0].ID)
	assert.Equal(t, c, msgs[1].ID)

	require.ErrorIs(t, l.Delete(ctx, conv.ID, b), ErrMessageNotFound)
}

func TestDeleteConversation(t *testing.T) {
	ctx := context.Background()
	l, log := newLedger(t)
	conv := l.Create(ctx, "local", "m")
	id, _ := l.Append(ctx, conv.ID, messages.User("a"))

	require.NoError(t, l.DeleteConversation(ctx, conv.ID))
	_, ok := l.Conversation(conv.ID)
	assert.False(t, ok)
	assert.Zero(t, l.Len(conv.ID))
	assert.False(t, l.Accumulate(ctx, conv.ID, id, "x"))
	_, err := l.Messages(conv.ID)
	require.ErrorIs(t, err, ErrConversationNotFound)
	require.ErrorIs(t, l.DeleteConversation(ctx, conv.ID), ErrConversationNotFound)
	assert.Contains(t, log.kinds(), events.ConversationDeleted)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	var tick int
	clock := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	l := New(WithClock(clock))

	older := l.Create(ctx, "local", "m")
	newer := l.Create(ctx, "local", "m")
	assert.Equal(t, []string{newer.ID, older.ID}, ids(l.List()))

	require.NoError(t, l.Touch(ctx, older.ID))
	assert.Equal(t, []string{older.ID, newer.ID}, ids(l.List()))

	require.NoError(t, l.SetTarget(ctx, newer.ID, "openai", "gpt-4o"))
	list := l.List()
	assert.Equal(t, []string{newer.ID, older.ID}, ids(list))
	assert.Equal(t, "openai", list[0].ProviderID)
	assert.Equal(t, "gpt-4o", list[0].ModelID)
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	l, log := newLedger(t)
	l.Restore(messages.Conversation{
		ID:    "c1",
		Title: "Saved",
		Messages: []messages.Message{
			{ID: "m1", Role: messages.RoleUser, Content: "hi"},
			{ID: "m2", Role: messages.RoleAssistant, Content: "hello"},
		},
	})

	assert.Empty(t, log.kinds())
	msgs, err := l.Messages("c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "c1", msgs[1].ConversationID)

	assert.True(t, l.Accumulate(ctx, "c1", "m2", " there"))
	msg, _ := l.Message("c1", "m2")
	assert.Equal(t, "hello there", msg.Content)
}

func ids(list []messages.Conversation) []string {
	out := make([]string, len(list))
	for i, c := range list {
		out[i] = c.ID
	}
	return out
}
