package messages

import (
	"strings"
	"unicode/utf8"

	"github.com/go-openapi/strfmt"
)

// DefaultTitle is the title of a conversation until it is derived from the
// first user message or set by the operator.
const DefaultTitle = "New Chat"

// MaxTitleLength bounds a derived title, in runes, before the ellipsis.
const MaxTitleLength = 30

// Conversation is an ordered log of messages exchanged with one target model.
type Conversation struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	TitleLocked bool            `json:"title_locked"`
	ProviderID  string          `json:"provider_id"`
	ModelID     string          `json:"model_id"`
	Messages    []Message       `json:"messages"`
	CreatedAt   strfmt.DateTime `json:"created_at"`
	UpdatedAt   strfmt.DateTime `json:"updated_at"`
}

// Last returns the most recent message, if any.
func (c Conversation) Last() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// Index returns the position of the message with the given id, or -1.
func (c Conversation) Index(messageID string) int {
	for i, m := range c.Messages {
		if m.ID == messageID {
			return i
		}
	}
	return -1
}

// Preview returns the first user message, shortened like a derived title.
func (c Conversation) Preview() string {
	for _, m := range c.Messages {
		if m.Role == RoleUser {
			return DeriveTitle(m.Content)
		}
	}
	return ""
}

// DeriveTitle turns message content into a conversation title: whitespace is
// collapsed and anything past MaxTitleLength runes is replaced by "...".
// Content without any visible characters yields DefaultTitle.
func DeriveTitle(content string) string {
	title := strings.Join(strings.Fields(content), " ")
	if title == "" {
		return DefaultTitle
	}
	if utf8.RuneCountInString(title) <= MaxTitleLength {
		return title
	}
	runes := []rune(title)
	return strings.TrimRight(string(runes[:MaxTitleLength]), " ") + "..."
}
