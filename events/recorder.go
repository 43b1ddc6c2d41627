package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/casualjim/chatwire/pkg/slogx"
)

// Recorder receives every event a component produces. Record is called
// synchronously, in the order the events happened, and must not block for long.
type Recorder interface {
	Record(ctx context.Context, e Event)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, e Event)

func (f RecorderFunc) Record(ctx context.Context, e Event) {
	f(ctx, e)
}

// Discard drops every event.
var Discard Recorder = RecorderFunc(func(context.Context, Event) {})

// Multi fans an event out to every recorder in order.
func Multi(recorders ...Recorder) Recorder {
	flat := make([]Recorder, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			flat = append(flat, r)
		}
	}
	return RecorderFunc(func(ctx context.Context, e Event) {
		for _, r := range flat {
			r.Record(ctx, e)
		}
	})
}

// Hook handles events by kind.
type Hook interface {
	OnLedgerChange(ctx context.Context, e LedgerChange)
	OnTyping(ctx context.Context, e Typing)
	OnGeneration(ctx context.Context, e Generation)
}

// NopHook implements Hook with no-ops, embed it to handle a subset of events.
type NopHook struct{}

func (NopHook) OnLedgerChange(context.Context, LedgerChange) {}
func (NopHook) OnTyping(context.Context, Typing)             {}
func (NopHook) OnGeneration(context.Context, Generation)     {}

// Dispatch routes e to the matching method of hook.
func Dispatch(ctx context.Context, hook Hook, e Event) {
	switch e := e.(type) {
	case LedgerChange:
		hook.OnLedgerChange(ctx, e)
	case Typing:
		hook.OnTyping(ctx, e)
	case Generation:
		hook.OnGeneration(ctx, e)
	}
}

// HookRecorder records events by dispatching them to hook.
func HookRecorder(hook Hook) Recorder {
	return RecorderFunc(func(ctx context.Context, e Event) {
		Dispatch(ctx, hook, e)
	})
}

// SlogRecorder logs every event at debug level.
func SlogRecorder(logger *slog.Logger) Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slogx.LoggerName("activity"))
	return RecorderFunc(func(ctx context.Context, e Event) {
		switch e := e.(type) {
		case LedgerChange:
			logger.DebugContext(ctx, "ledger change",
				slog.String("kind", string(e.Kind)),
				slogx.Conversation(e.ConversationID),
				slogx.Message(e.MessageID),
				slog.Int("content_length", len(e.Content)),
			)
		case Typing:
			logger.DebugContext(ctx, "typing",
				slogx.Conversation(e.ConversationID),
				slog.String("model", e.ModelID),
				slog.Bool("active", e.Active),
			)
		case Generation:
			attrs := []any{
				slogx.Conversation(e.ConversationID),
				slogx.Session(e.SessionID),
				slog.String("from", e.From),
				slog.String("to", e.To),
			}
			if e.Error != "" {
				attrs = append(attrs, slog.String("error", e.Error))
			}
			logger.DebugContext(ctx, "generation", attrs...)
		}
	})
}

// Log keeps the most recent events in memory.
type Log struct {
	mu    sync.Mutex
	ring  []Event
	next  int
	full  bool
	total int
}

// NewLog creates a log holding at most capacity events.
func NewLog(capacity int) *Log {
	if capacity < 1 {
		capacity = 1
	}
	return &Log{ring: make([]Event, capacity)}
}

func (l *Log) Record(_ context.Context, e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ring[l.next] = e
	l.next = (l.next + 1) % len(l.ring)
	if l.next == 0 {
		l.full = true
	}
	l.total++
}

// Events returns the retained events, oldest first.
func (l *Log) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.full {
		out := make([]Event, l.next)
		copy(out, l.ring[:l.next])
		return out
	}
	out := make([]Event, 0, len(l.ring))
	out = append(out, l.ring[l.next:]...)
	return append(out, l.ring[:l.next]...)
}

// Conversation returns the retained events of one conversation, oldest first.
func (l *Log) Conversation(id string) []Event {
	var out []Event
	for _, e := range l.Events() {
		if e.Conversation() == id {
			out = append(out, e)
		}
	}
	return out
}

// Total counts every event ever recorded, including evicted ones.
func (l *Log) Total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}
