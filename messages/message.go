package messages

import (
	"encoding/base64"
	"slices"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a role the pipeline understands.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

func (r Role) String() string {
	return string(r)
}

// DefaultImageMIMEType is used for attachments that don't declare one.
const DefaultImageMIMEType = "image/jpeg"

// ImageRef is an image attached to a user message. Data holds the base64
// payload without any data URL prefix.
type ImageRef struct {
	MIMEType string `json:"mime_type,omitempty"`
	Data     string `json:"data"`
}

// Image creates an ImageRef from raw bytes.
func Image(mimeType string, raw []byte) ImageRef {
	return ImageRef{MIMEType: mimeType, Data: base64.StdEncoding.EncodeToString(raw)}
}

// DataURL renders the image as a data URL, e.g. "data:image/jpeg;base64,...".
func (i ImageRef) DataURL() string {
	mime := i.MIMEType
	if mime == "" {
		mime = DefaultImageMIMEType
	}
	return "data:" + mime + ";base64," + i.Data
}

// ParseDataURL accepts either a data URL or a bare base64 payload.
func ParseDataURL(s string) ImageRef {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return ImageRef{Data: s}
	}
	meta, data, found := strings.Cut(rest, ",")
	if !found {
		return ImageRef{Data: rest}
	}
	mime, _, _ := strings.Cut(meta, ";")
	return ImageRef{MIMEType: mime, Data: data}
}

// Message is a single entry of a conversation.
type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Role           Role            `json:"role"`
	Content        string          `json:"content"`
	CreatedAt      strfmt.DateTime `json:"created_at"`
	ModelID        string          `json:"model_id,omitempty"`
	ImageRefs      []ImageRef      `json:"image_refs,omitempty"`
}

// User creates an unsaved user message. The ledger assigns its identity.
func User(content string, images ...ImageRef) Message {
	return Message{
		Role:      RoleUser,
		Content:   content,
		CreatedAt: strfmt.DateTime(time.Now()),
		ImageRefs: images,
	}
}

// Assistant creates an unsaved assistant message produced by modelID.
func Assistant(content, modelID string) Message {
	return Message{
		Role:      RoleAssistant,
		Content:   content,
		CreatedAt: strfmt.DateTime(time.Now()),
		ModelID:   modelID,
	}
}

// HasImages reports whether the message carries attachments.
func (m Message) HasImages() bool {
	return len(m.ImageRefs) > 0
}

// Clone returns a copy that shares no slices with m.
func (m Message) Clone() Message {
	m.ImageRefs = slices.Clone(m.ImageRefs)
	return m
}
