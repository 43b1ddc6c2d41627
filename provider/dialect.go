package provider

import (
	"github.com/casualjim/chatwire/messages"
	"github.com/casualjim/chatwire/pkg/chaterr"
	"github.com/casualjim/chatwire/stream"
	json "github.com/goccy/go-json"
	"github.com/tidwall/sjson"
)

// Dialect names as used in ProviderConfig.Dialect.
const (
	DialectLocal      = "local"
	DialectCompatible = "compatible"
)

// Dialect describes how to talk to one family of model servers. The set of
// dialects is closed: Local and Compatible are the only implementations.
type Dialect interface {
	Name() string
	// ChatPath is appended to the provider base URL.
	ChatPath() string
	// StreamFormat is the framing of streamed responses.
	StreamFormat() stream.Format
	// Encode renders the request body.
	Encode(modelID string, history []messages.Message, params Params, streaming bool) ([]byte, error)

	dialect()
}

// DialectFor returns the dialect registered under name.
func DialectFor(name string) (Dialect, error) {
	switch name {
	case DialectLocal:
		return Local{}, nil
	case DialectCompatible:
		return Compatible{}, nil
	default:
		return nil, chaterr.Configuration("dialect", "unknown dialect %q", name)
	}
}

// Local is the native protocol of local runtimes: POST /api/chat with
// newline delimited JSON responses.
type Local struct{}

func (Local) Name() string                { return DialectLocal }
func (Local) ChatPath() string            { return "/api/chat" }
func (Local) StreamFormat() stream.Format { return stream.NDJSON }
func (Local) dialect()                    {}

type localMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type localOptions struct {
	Temperature float64 `json:"temperature"`
}

type localRequest struct {
	Model    string         `json:"model"`
	Messages []localMessage `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  localOptions   `json:"options"`
}

func (Local) Encode(modelID string, history []messages.Message, params Params, streaming bool) ([]byte, error) {
	msgs := make([]localMessage, 0, len(history))
	for _, m := range history {
		lm := localMessage{Role: m.Role.String(), Content: m.Content}
		for _, img := range m.ImageRefs {
			lm.Images = append(lm.Images, img.Data)
		}
		msgs = append(msgs, lm)
	}

	body, err := json.Marshal(localRequest{
		Model:    modelID,
		Messages: msgs,
		Stream:   streaming,
		Options:  localOptions{Temperature: params.Temperature},
	})
	if err != nil {
		return nil, chaterr.Configuration("encode request", "%w", err)
	}
	if params.MaxTokens > 0 {
		body, err = sjson.SetBytes(body, "options.num_predict", params.MaxTokens)
		if err != nil {
			return nil, chaterr.Configuration("encode request", "%w", err)
		}
	}
	return body, nil
}

// Compatible is the OpenAI style protocol: POST /chat/completions with SSE
// framed responses.
type Compatible struct{}

func (Compatible) Name() string                { return DialectCompatible }
func (Compatible) ChatPath() string            { return "/chat/completions" }
func (Compatible) StreamFormat() stream.Format { return stream.SSE }
func (Compatible) dialect()                    {}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type compatibleMessage struct {
	Role string `json:"role"`
	// Content is a plain string for text-only messages and a list of parts
	// for messages with images.
	Content any `json:"content"`
}

type compatibleRequest struct {
	Model       string              `json:"model"`
	Messages    []compatibleMessage `json:"messages"`
	Stream      bool                `json:"stream"`
	Temperature float64             `json:"temperature"`
}

func (Compatible) Encode(modelID string, history []messages.Message, params Params, streaming bool) ([]byte, error) {
	msgs := make([]compatibleMessage, 0, len(history))
	for _, m := range history {
		cm := compatibleMessage{Role: m.Role.String(), Content: m.Content}
		if m.HasImages() {
			parts := make([]contentPart, 0, len(m.ImageRefs)+1)
			parts = append(parts, contentPart{Type: "text", Text: m.Content})
			for _, img := range m.ImageRefs {
				parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: img.DataURL()}})
			}
			cm.Content = parts
		}
		msgs = append(msgs, cm)
	}

	body, err := json.Marshal(compatibleRequest{
		Model:       modelID,
		Messages:    msgs,
		Stream:      streaming,
		Temperature: params.Temperature,
	})
	if err != nil {
		return nil, chaterr.Configuration("encode request", "%w", err)
	}
	if params.MaxTokens > 0 {
		body, err = sjson.SetBytes(body, "max_tokens", params.MaxTokens)
		if err != nil {
			return nil, chaterr.Configuration("encode request", "%w", err)
		}
	}
	return body, nil
}
