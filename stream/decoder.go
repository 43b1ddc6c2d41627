package stream

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/casualjim/chatwire/pkg/chaterr"
	"github.com/tidwall/gjson"
)

const readSize = 4096

var (
	sseDataPrefix = []byte("data: ")
	sseDone       = []byte("[DONE]")
)

type frameKind int

const (
	// frameIgnored lines carry nothing, e.g. blank lines or SSE comments.
	frameIgnored frameKind = iota
	// frameMalformed lines looked like payload but failed to parse.
	frameMalformed
	// frameDelta lines produced a delta.
	frameDelta
	// frameError lines carried an error reported by the provider.
	frameError
)

// Decoder reads a streamed response and yields deltas in byte order.
// It is not safe for concurrent use and cannot be restarted.
type Decoder struct {
	r      io.Reader
	format Format
	buf    bytes.Buffer
	chunk  []byte
	eof    bool
	done   bool
}

// NewDecoder creates a decoder for r using the given framing.
func NewDecoder(r io.Reader, format Format) *Decoder {
	return &Decoder{
		r:      r,
		format: format,
		chunk:  make([]byte, readSize),
	}
}

// Format returns the framing the decoder was created with.
func (d *Decoder) Format() Format {
	return d.format
}

// Next returns the next delta. After the final delta, or after an error, it
// returns io.EOF. Read failures are transport errors. Errors reported in-band
// by the provider and a stream that closes in the middle of a frame are decode
// errors.
func (d *Decoder) Next() (Delta, error) {
	for {
		if d.done {
			return Delta{}, io.EOF
		}

		if i := bytes.IndexByte(d.buf.Bytes(), '\n'); i >= 0 {
			line := d.buf.Next(i + 1)
			delta, kind, msg := d.parse(line[:i])
			switch kind {
			case frameIgnored, frameMalformed:
				continue
			case frameError:
				d.finish()
				return Delta{}, chaterr.Decode("provider error", errors.New(msg))
			}
			if delta.Final {
				d.finish()
			}
			return delta, nil
		}

		if d.eof {
			return d.drain()
		}

		if err := d.fill(); err != nil {
			d.finish()
			return Delta{}, chaterr.Transport("read stream", err)
		}
	}
}

// drain handles the unterminated remainder once the reader is exhausted and
// always ends the stream with a final delta.
func (d *Decoder) drain() (Delta, error) {
	rest := bytes.TrimSpace(d.buf.Bytes())
	d.finish()
	if len(rest) == 0 {
		return Delta{Final: true}, nil
	}

	delta, kind, msg := d.parse(rest)
	switch kind {
	case frameMalformed:
		return Delta{}, chaterr.Decode("decode stream", fmt.Errorf("stream closed mid-frame (%d unterminated bytes)", len(rest)))
	case frameError:
		return Delta{}, chaterr.Decode("provider error", errors.New(msg))
	case frameDelta:
		delta.Final = true
		return delta, nil
	default:
		return Delta{Final: true}, nil
	}
}

func (d *Decoder) fill() error {
	n, err := d.r.Read(d.chunk)
	if n > 0 {
		d.buf.Write(d.chunk[:n])
	}
	if errors.Is(err, io.EOF) {
		d.eof = true
		return nil
	}
	return err
}

func (d *Decoder) finish() {
	d.done = true
	d.buf.Reset()
}

func (d *Decoder) parse(line []byte) (Delta, frameKind, string) {
	line = bytes.TrimRight(line, "\r")
	if d.format == SSE {
		return parseSSE(line)
	}
	return parseNDJSON(line)
}

func parseNDJSON(line []byte) (Delta, frameKind, string) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Delta{}, frameIgnored, ""
	}
	if !gjson.ValidBytes(line) {
		return Delta{}, frameMalformed, ""
	}
	obj := gjson.ParseBytes(line)
	if !obj.IsObject() {
		return Delta{}, frameMalformed, ""
	}
	if e := obj.Get("error"); e.Exists() {
		return Delta{}, frameError, errorText(e)
	}
	return Delta{Text: localContent(obj), Final: obj.Get("done").Bool()}, frameDelta, ""
}

func parseSSE(line []byte) (Delta, frameKind, string) {
	payload, ok := bytes.CutPrefix(line, sseDataPrefix)
	if !ok {
		return Delta{}, frameIgnored, ""
	}
	payload = bytes.TrimSpace(payload)
	if bytes.Equal(payload, sseDone) {
		return Delta{Final: true}, frameDelta, ""
	}
	if !gjson.ValidBytes(payload) {
		return Delta{}, frameMalformed, ""
	}
	obj := gjson.ParseBytes(payload)
	if e := obj.Get("error"); e.Exists() && e.Type != gjson.Null {
		return Delta{}, frameError, errorText(e)
	}
	return Delta{Text: obj.Get("choices.0.delta.content").String()}, frameDelta, ""
}

// localContent prefers the chat shape and falls back to the completion shape.
func localContent(obj gjson.Result) string {
	if c := obj.Get("message.content"); c.Exists() {
		return c.String()
	}
	return obj.Get("response").String()
}

func errorText(e gjson.Result) string {
	if e.IsObject() {
		if msg := e.Get("message").String(); msg != "" {
			return msg
		}
		return e.Raw
	}
	if msg := e.String(); msg != "" {
		return msg
	}
	return "provider reported an error"
}
