package stream

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/casualjim/chatwire/pkg/chaterr"
)

// Format identifies the framing of a streamed response.
type Format int

const (
	// NDJSON is newline delimited JSON, one object per line.
	NDJSON Format = iota
	// SSE is Server-Sent Events framing with "data: " lines.
	SSE
)

func (f Format) String() string {
	switch f {
	case NDJSON:
		return "ndjson"
	case SSE:
		return "sse"
	default:
		return "unknown"
	}
}

// Delta is one normalized unit of streamed content. Text may be empty, in
// particular on the final Delta.
type Delta struct {
	Text         string `json:"text"`
	Final        bool   `json:"final"`
	ErrorMessage string `json:"error_message,omitempty"`
	Err          error  `json:"-"`
}

// Failed reports whether the delta carries an error.
func (d Delta) Failed() bool {
	return d.ErrorMessage != "" || d.Err != nil
}

// ErrorDelta wraps err as a final Delta.
func ErrorDelta(err error) Delta {
	msg := chaterr.Message(err)
	if msg == "" {
		msg = "unknown error"
	}
	return Delta{Final: true, ErrorMessage: msg, Err: err}
}

// Source yields deltas until it returns io.EOF after the final one.
type Source interface {
	Next() (Delta, error)
}

// Pipe pumps src into a channel. The channel receives exactly one final Delta
// (errors are delivered as a final Delta, see ErrorDelta) and is closed after
// it, or as soon as ctx is done.
func Pipe(ctx context.Context, src Source) <-chan Delta {
	ch := make(chan Delta, 8)
	go func() {
		defer close(ch)
		for ctx.Err() == nil {
			delta, err := src.Next()
			if errors.Is(err, io.EOF) {
				delta = Delta{Final: true}
			} else if err != nil {
				delta = ErrorDelta(err)
			}

			select {
			case ch <- delta:
			case <-ctx.Done():
				return
			}
			if delta.Final {
				return
			}
		}
	}()
	return ch
}

// Collect drains src and returns the concatenated text. On error the text
// received so far is returned along with the error.
func Collect(src Source) (string, error) {
	var sb strings.Builder
	for {
		delta, err := src.Next()
		if errors.Is(err, io.EOF) {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(delta.Text)
		if delta.Final {
			return sb.String(), nil
		}
	}
}
