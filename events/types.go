package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/casualjim/chatwire/messages"
	"github.com/go-openapi/strfmt"
	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Event is anything recorded by the pipeline.
type Event interface {
	// Conversation returns the id of the conversation the event belongs to.
	Conversation() string
	// At returns when the event happened.
	At() strfmt.DateTime

	event()
}

// ChangeKind names a ledger mutation.
type ChangeKind string

const (
	ConversationCreated ChangeKind = "conversation_created"
	ConversationDeleted ChangeKind = "conversation_deleted"
	MessageAppended     ChangeKind = "appended"
	MessageAccumulated  ChangeKind = "accumulated"
	MessageEdited       ChangeKind = "edited"
	MessagesTruncated   ChangeKind = "truncated"
	MessageDeleted      ChangeKind = "deleted"
	TitleChanged        ChangeKind = "title_changed"
	TargetChanged       ChangeKind = "target_changed"
	ConversationTouched ChangeKind = "touched"
)

// LedgerChange records a mutation of the conversation ledger.
type LedgerChange struct {
	Kind           ChangeKind    `json:"kind"`
	ConversationID string        `json:"conversation_id"`
	MessageID      string        `json:"message_id,omitempty"`
	Role           messages.Role `json:"role,omitempty"`
	// Content is the full content for appends and edits, the appended chunk
	// for accumulations.
	Content string `json:"content,omitempty"`
	Title   string `json:"title,omitempty"`
	// Removed counts the messages dropped by a truncation.
	Removed   int             `json:"removed,omitempty"`
	Timestamp strfmt.DateTime `json:"timestamp"`
}

func (LedgerChange) event()                 {}
func (e LedgerChange) Conversation() string { return e.ConversationID }
func (e LedgerChange) At() strfmt.DateTime  { return e.Timestamp }
func (e LedgerChange) String() string       { return string(e.Kind) + " " + e.ConversationID }

// Structural reports whether the change alters the shape of the ledger, which
// is every change except streaming accumulation.
func (e LedgerChange) Structural() bool {
	return e.Kind != MessageAccumulated
}

// Typing records the typing indicator being raised or cleared.
type Typing struct {
	ConversationID string          `json:"conversation_id"`
	ModelID        string          `json:"model_id,omitempty"`
	Active         bool            `json:"active"`
	Timestamp      strfmt.DateTime `json:"timestamp"`
}

func (Typing) event()                 {}
func (e Typing) Conversation() string { return e.ConversationID }
func (e Typing) At() strfmt.DateTime  { return e.Timestamp }

// Generation records a generation session changing state.
type Generation struct {
	ConversationID string          `json:"conversation_id"`
	SessionID      string          `json:"session_id"`
	From           string          `json:"from"`
	To             string          `json:"to"`
	Error          string          `json:"error,omitempty"`
	Timestamp      strfmt.DateTime `json:"timestamp"`
}

func (Generation) event()                 {}
func (e Generation) Conversation() string { return e.ConversationID }
func (e Generation) At() strfmt.DateTime  { return e.Timestamp }

// Now is the timestamp used for new events.
func Now() strfmt.DateTime {
	return strfmt.DateTime(time.Now().UTC())
}

const (
	typeLedgerChange = "ledger_change"
	typeTyping       = "typing"
	typeGeneration   = "generation"
)

func marshalTyped(typ string, v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(b, "type", typ)
}

func unmarshalTyped(typ string, input []byte, v any) error {
	if !gjson.ValidBytes(input) {
		return errors.New("invalid JSON")
	}
	if got := gjson.GetBytes(input, "type").String(); got != typ {
		return fmt.Errorf("expected event type %q, got %q", typ, got)
	}
	return json.Unmarshal(input, v)
}

func (e LedgerChange) MarshalJSON() ([]byte, error) {
	type plain LedgerChange
	return marshalTyped(typeLedgerChange, plain(e))
}

func (e *LedgerChange) UnmarshalJSON(input []byte) error {
	type plain LedgerChange
	return unmarshalTyped(typeLedgerChange, input, (*plain)(e))
}

func (e Typing) MarshalJSON() ([]byte, error) {
	type plain Typing
	return marshalTyped(typeTyping, plain(e))
}

func (e *Typing) UnmarshalJSON(input []byte) error {
	type plain Typing
	return unmarshalTyped(typeTyping, input, (*plain)(e))
}

func (e Generation) MarshalJSON() ([]byte, error) {
	type plain Generation
	return marshalTyped(typeGeneration, plain(e))
}

func (e *Generation) UnmarshalJSON(input []byte) error {
	type plain Generation
	return unmarshalTyped(typeGeneration, input, (*plain)(e))
}

// ToJSON encodes an event with its type discriminator.
func ToJSON(e Event) ([]byte, error) {
	if e == nil {
		return nil, errors.New("event is nil")
	}
	return json.Marshal(e)
}

// FromJSON decodes an event encoded by ToJSON.
func FromJSON(data []byte) (Event, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid JSON")
	}
	typ := gjson.GetBytes(data, "type")
	if !typ.Exists() {
		return nil, errors.New("missing event type")
	}

	switch typ.String() {
	case typeLedgerChange:
		var e LedgerChange
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case typeTyping:
		var e Typing
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case typeGeneration:
		var e Generation
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", typ.String())
	}
}
