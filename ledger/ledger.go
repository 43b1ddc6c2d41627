package ledger

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/casualjim/chatwire/events"
	"github.com/casualjim/chatwire/messages"
	"github.com/casualjim/chatwire/pkg/uuidx"
	"github.com/fogfish/opts"
	"github.com/go-openapi/strfmt"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrInvalidMessage       = errors.New("invalid message")
)

// Ledger holds all conversations. It is safe for concurrent use.
type Ledger struct {
	threads  *haxmap.Map[string, *thread]
	recorder events.Recorder
	clock    func() time.Time
}

var (
	// WithRecorder sets the recorder receiving every ledger change.
	WithRecorder = opts.ForName[Ledger, events.Recorder]("recorder")
	// WithClock replaces time.Now for timestamps.
	WithClock = opts.ForName[Ledger, func() time.Time]("clock")
)

// New creates an empty ledger.
func New(options ...opts.Option[Ledger]) *Ledger {
	l := &Ledger{
		threads:  haxmap.New[string, *thread](),
		recorder: events.Discard,
		clock:    time.Now,
	}
	if err := opts.Apply(l, options); err != nil {
		panic(err)
	}
	return l
}

// thread is one conversation. mu guards the state, recMu keeps the recorded
// events in mutation order once mu is released.
type thread struct {
	mu       sync.RWMutex
	recMu    sync.Mutex
	meta     messages.Conversation
	messages *orderedmap.OrderedMap[string, *messages.Message]
	deleted  bool
}

func newThread(meta messages.Conversation) *thread {
	meta.Messages = nil
	return &thread{
		meta:     meta,
		messages: orderedmap.New[string, *messages.Message](),
	}
}

func (t *thread) snapshot() messages.Conversation {
	c := t.meta
	c.Messages = make([]messages.Message, 0, t.messages.Len())
	for pair := t.messages.Oldest(); pair != nil; pair = pair.Next() {
		c.Messages = append(c.Messages, pair.Value.Clone())
	}
	return c
}

func (l *Ledger) now() strfmt.DateTime {
	return strfmt.DateTime(l.clock())
}

// update runs fn under the conversation's write lock and records the events it
// returns after the lock is released. fn is not called for a missing or
// deleted conversation.
func (l *Ledger) update(ctx context.Context, conversationID string, fn func(t *thread) ([]events.Event, error)) error {
	t, ok := l.threads.Get(conversationID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
	}

	t.mu.Lock()
	if t.deleted {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
	}
	recorded, err := fn(t)
	if err != nil || len(recorded) == 0 {
		t.mu.Unlock()
		return err
	}
	t.recMu.Lock()
	t.mu.Unlock()
	defer t.recMu.Unlock()

	for _, e := range recorded {
		l.recorder.Record(ctx, e)
	}
	return nil
}

func (l *Ledger) read(conversationID string) (*thread, bool) {
	t, ok := l.threads.Get(conversationID)
	if !ok {
		return nil, false
	}
	t.mu.RLock()
	if t.deleted {
		t.mu.RUnlock()
		return nil, false
	}
	return t, true
}

func (l *Ledger) change(kind events.ChangeKind, conversationID string, at strfmt.DateTime) events.LedgerChange {
	return events.LedgerChange{Kind: kind, ConversationID: conversationID, Timestamp: at}
}

// Create starts an empty conversation with the default title.
func (l *Ledger) Create(ctx context.Context, providerID, modelID string) messages.Conversation {
	now := l.now()
	t := newThread(messages.Conversation{
		ID:         uuidx.NewString(),
		Title:      messages.DefaultTitle,
		ProviderID: providerID,
		ModelID:    modelID,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	l.threads.Set(t.meta.ID, t)

	e := l.change(events.ConversationCreated, t.meta.ID, now)
	e.Title = t.meta.Title
	l.recorder.Record(ctx, e)
	return t.snapshot()
}

// Restore loads previously persisted conversations, replacing any with the
// same id. Message order is the slice order. Nothing is recorded.
func (l *Ledger) Restore(conversations ...messages.Conversation) {
	for _, c := range conversations {
		if c.ID == "" {
			continue
		}
		t := newThread(c)
		if t.meta.Title == "" {
			t.meta.Title = messages.DefaultTitle
		}
		for _, m := range c.Messages {
			m = m.Clone()
			if m.ID == "" {
				m.ID = uuidx.NewString()
			}
			m.ConversationID = c.ID
			t.messages.Set(m.ID, &m)
		}
		l.threads.Set(c.ID, t)
	}
}

// Conversation returns a snapshot of the conversation.
func (l *Ledger) Conversation(id string) (messages.Conversation, bool) {
	t, ok := l.read(id)
	if !ok {
		return messages.Conversation{}, false
	}
	defer t.mu.RUnlock()
	return t.snapshot(), true
}

// List returns snapshots of every conversation, most recently updated first.
func (l *Ledger) List() []messages.Conversation {
	out := make([]messages.Conversation, 0, l.threads.Len())
	l.threads.ForEach(func(id string, _ *thread) bool {
		if c, ok := l.Conversation(id); ok {
			out = append(out, c)
		}
		return true
	})
	slices.SortFunc(out, func(a, b messages.Conversation) int {
		if c := time.Time(b.UpdatedAt).Compare(time.Time(a.UpdatedAt)); c != 0 {
			return c
		}
		if c := time.Time(b.CreatedAt).Compare(time.Time(a.CreatedAt)); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// DeleteConversation removes a conversation and all of its messages.
func (l *Ledger) DeleteConversation(ctx context.Context, id string) error {
	err := l.update(ctx, id, func(t *thread) ([]events.Event, error) {
		t.deleted = true
		l.threads.Del(id)
		return []events.Event{l.change(events.ConversationDeleted, id, l.now())}, nil
	})
	return err
}

// SetTitle renames a conversation. An operator supplied title is never
// replaced by derivation.
func (l *Ledger) SetTitle(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("%w: title is empty", ErrInvalidMessage)
	}
	return l.update(ctx, id, func(t *thread) ([]events.Event, error) {
		now := l.now()
		t.meta.Title = title
		t.meta.TitleLocked = true
		t.meta.UpdatedAt = now

		e := l.change(events.TitleChanged, id, now)
		e.Title = title
		return []events.Event{e}, nil
	})
}

// SetTarget changes the provider and model future sends use.
func (l *Ledger) SetTarget(ctx context.Context, id, providerID, modelID string) error {
	return l.update(ctx, id, func(t *thread) ([]events.Event, error) {
		now := l.now()
		t.meta.ProviderID = providerID
		t.meta.ModelID = modelID
		t.meta.UpdatedAt = now

		e := l.change(events.TargetChanged, id, now)
		e.Content = providerID + "/" + modelID
		return []events.Event{e}, nil
	})
}

// Touch bumps the conversation's UpdatedAt.
func (l *Ledger) Touch(ctx context.Context, id string) error {
	return l.update(ctx, id, func(t *thread) ([]events.Event, error) {
		now := l.now()
		t.meta.UpdatedAt = now
		return []events.Event{l.change(events.ConversationTouched, id, now)}, nil
	})
}

// Append adds msg at the end of the conversation and returns its new id. The
// first user message with visible content also titles a conversation that
// still has the default title.
func (l *Ledger) Append(ctx context.Context, conversationID string, msg messages.Message) (string, error) {
	if !msg.Role.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidMessage, msg.Role)
	}

	var id string
	err := l.update(ctx, conversationID, func(t *thread) ([]events.Event, error) {
		now := l.now()
		m := msg.Clone()
		m.ID = uuidx.NewString()
		m.ConversationID = conversationID
		if time.Time(m.CreatedAt).IsZero() {
			m.CreatedAt = now
		}
		t.messages.Set(m.ID, &m)
		t.meta.UpdatedAt = now
		id = m.ID

		appended := l.change(events.MessageAppended, conversationID, now)
		appended.MessageID = m.ID
		appended.Role = m.Role
		appended.Content = m.Content
		recorded := []events.Event{appended}

		if m.Role == messages.RoleUser && !t.meta.TitleLocked && t.meta.Title == messages.DefaultTitle {
			if title := messages.DeriveTitle(m.Content); title != messages.DefaultTitle {
				t.meta.Title = title
				t.meta.TitleLocked = true

				titled := l.change(events.TitleChanged, conversationID, now)
				titled.Title = title
				recorded = append(recorded, titled)
			}
		}
		return recorded, nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Accumulate appends chunk to a message's content. It reports false, without
// error, when the conversation or message no longer exists.
func (l *Ledger) Accumulate(ctx context.Context, conversationID, messageID, chunk string) bool {
	found := false
	_ = l.update(ctx, conversationID, func(t *thread) ([]events.Event, error) {
		m, ok := t.messages.Get(messageID)
		if !ok {
			return nil, nil
		}
		found = true
		if chunk == "" {
			return nil, nil
		}

		now := l.now()
		m.Content += chunk
		t.meta.UpdatedAt = now

		e := l.change(events.MessageAccumulated, conversationID, now)
		e.MessageID = messageID
		e.Role = m.Role
		e.Content = chunk
		return []events.Event{e}, nil
	})
	return found
}

// Edit replaces a message's content.
func (l *Ledger) Edit(ctx context.Context, conversationID, messageID, content string) error {
	return l.update(ctx, conversationID, func(t *thread) ([]events.Event, error) {
		m, ok := t.messages.Get(messageID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
		}

		now := l.now()
		m.Content = content
		t.meta.UpdatedAt = now

		e := l.change(events.MessageEdited, conversationID, now)
		e.MessageID = messageID
		e.Role = m.Role
		e.Content = content
		return []events.Event{e}, nil
	})
}

// DeleteFrom removes the message and everything after it, atomically, and
// returns how many messages were removed.
func (l *Ledger) DeleteFrom(ctx context.Context, conversationID, messageID string) (int, error) {
	var removed int
	err := l.update(ctx, conversationID, func(t *thread) ([]events.Event, error) {
		pair := t.messages.GetPair(messageID)
		if pair == nil {
			return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
		}

		var doomed []string
		for p := pair; p != nil; p = p.Next() {
			doomed = append(doomed, p.Key)
		}
		for _, key := range doomed {
			t.messages.Delete(key)
		}
		removed = len(doomed)

		now := l.now()
		t.meta.UpdatedAt = now

		e := l.change(events.MessagesTruncated, conversationID, now)
		e.MessageID = messageID
		e.Removed = removed
		return []events.Event{e}, nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Delete removes exactly one message.
func (l *Ledger) Delete(ctx context.Context, conversationID, messageID string) error {
	return l.update(ctx, conversationID, func(t *thread) ([]events.Event, error) {
		if _, ok := t.messages.Delete(messageID); !ok {
			return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
		}

		now := l.now()
		t.meta.UpdatedAt = now

		e := l.change(events.MessageDeleted, conversationID, now)
		e.MessageID = messageID
		return []events.Event{e}, nil
	})
}

// Messages returns a copy of the conversation's messages in insertion order.
func (l *Ledger) Messages(conversationID string) ([]messages.Message, error) {
	c, ok := l.Conversation(conversationID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
	}
	return c.Messages, nil
}

// Message returns a copy of one message.
func (l *Ledger) Message(conversationID, messageID string) (messages.Message, bool) {
	t, ok := l.read(conversationID)
	if !ok {
		return messages.Message{}, false
	}
	defer t.mu.RUnlock()

	m, ok := t.messages.Get(messageID)
	if !ok {
		return messages.Message{}, false
	}
	return m.Clone(), true
}

// Len returns the number of messages in the conversation.
func (l *Ledger) Len(conversationID string) int {
	t, ok := l.read(conversationID)
	if !ok {
		return 0
	}
	defer t.mu.RUnlock()
	return t.messages.Len()
}
