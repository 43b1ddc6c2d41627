package stream

import (
	"errors"
	"io"

	"github.com/casualjim/chatwire/pkg/chaterr"
	"github.com/tidwall/gjson"
)

// whole yields the complete text of a non-streamed response as one final delta.
type whole struct {
	r      io.Reader
	format Format
	done   bool
}

// Whole returns a Source for a response that was requested without streaming.
// The body is read completely on the first call to Next.
func Whole(r io.Reader, format Format) Source {
	return &whole{r: r, format: format}
}

func (w *whole) Next() (Delta, error) {
	if w.done {
		return Delta{}, io.EOF
	}
	w.done = true

	body, err := io.ReadAll(w.r)
	if err != nil {
		return Delta{}, chaterr.Transport("read response", err)
	}
	if !gjson.ValidBytes(body) {
		return Delta{}, chaterr.Decode("decode response", errors.New("response is not valid JSON"))
	}

	obj := gjson.ParseBytes(body)
	if e := obj.Get("error"); e.Exists() && e.Type != gjson.Null {
		return Delta{}, chaterr.Decode("provider error", errors.New(errorText(e)))
	}
	if w.format == SSE {
		return Delta{Text: obj.Get("choices.0.message.content").String(), Final: true}, nil
	}
	return Delta{Text: localContent(obj), Final: true}, nil
}
