package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/casualjim/chatwire/pkg/chaterr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, dec Source) ([]Delta, error) {
	t.Helper()
	var out []Delta
	for range 1000 {
		d, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, d)
	}
	t.Fatal("decoder did not terminate")
	return nil, nil
}

func texts(deltas []Delta) string {
	var sb strings.Builder
	for _, d := range deltas {
		sb.WriteString(d.Text)
	}
	return sb.String()
}

func finals(deltas []Delta) int {
	var n int
	for _, d := range deltas {
		if d.Final {
			n++
		}
	}
	return n
}

const ndjsonBody = `{"message":{"role":"assistant","content":"Hel"},"done":false}
{"message":{"role":"assistant","content":"lo, "},"done":false}
{"response":"wörld"}
{"message":{"role":"assistant","content":""},"done":true}
`

func TestDecoderNDJSON(t *testing.T) {
	t.Run("decodes content and stops at done", func(t *testing.T) {
		deltas, err := drain(t, NewDecoder(strings.NewReader(ndjsonBody), NDJSON))
		require.NoError(t, err)
		require.Len(t, deltas, 4)
		assert.Equal(t, "Hello, wörld", texts(deltas))
		assert.True(t, deltas[3].Final)
		assert.Equal(t, 1, finals(deltas))
	})

	t.Run("every split point yields the same deltas", func(t *testing.T) {
		want, err := drain(t, NewDecoder(strings.NewReader(ndjsonBody), NDJSON))
		require.NoError(t, err)

		body := []byte(ndjsonBody)
		for i := 0; i <= len(body); i++ {
			r := io.MultiReader(bytes.NewReader(body[:i]), bytes.NewReader(body[i:]))
			got, err := drain(t, NewDecoder(r, NDJSON))
			require.NoError(t, err, "split at %d", i)
			assert.Equal(t, want, got, "split at %d", i)
		}
	})

	t.Run("chunking readers yield the same deltas", func(t *testing.T) {
		want, err := drain(t, NewDecoder(strings.NewReader(ndjsonBody), NDJSON))
		require.NoError(t, err)

		readers := map[string]func(io.Reader) io.Reader{
			"one byte": iotest.OneByteReader,
			"half":     iotest.HalfReader,
			"data err": iotest.DataErrReader,
		}
		for name, wrap := range readers {
			t.Run(name, func(t *testing.T) {
				got, err := drain(t, NewDecoder(wrap(strings.NewReader(ndjsonBody)), NDJSON))
				require.NoError(t, err)
				assert.Equal(t, want, got)
			})
		}
	})

	t.Run("bytes after done are never read", func(t *testing.T) {
		body := "{\"message\":{\"content\":\"a\"},\"done\":false}\n{\"message\":{\"content\":\"b\"},\"done\":true}\n{\"message\":{\"content\":\"c\"},\"done\":false}\n"
		r := io.MultiReader(strings.NewReader(body), iotest.ErrReader(errors.New("read past done")))

		deltas, err := drain(t, NewDecoder(r, NDJSON))
		require.NoError(t, err)
		require.Len(t, deltas, 2)
		assert.Equal(t, "ab", texts(deltas))
		assert.True(t, deltas[1].Final)
	})

	t.Run("skips malformed lines", func(t *testing.T) {
		body := "not json\n{\"message\":{\"content\":\"ok\"}}\n[1,2]\n\n{\"done\":true}\n"
		deltas, err := drain(t, NewDecoder(strings.NewReader(body), NDJSON))
		require.NoError(t, err)
		require.Len(t, deltas, 2)
		assert.Equal(t, "ok", deltas[0].Text)
		assert.True(t, deltas[1].Final)
	})

	t.Run("synthesizes a final delta at end of stream", func(t *testing.T) {
		body := "{\"message\":{\"content\":\"a\"},\"done\":false}\n"
		deltas, err := drain(t, NewDecoder(strings.NewReader(body), NDJSON))
		require.NoError(t, err)
		require.Len(t, deltas, 2)
		assert.Equal(t, Delta{Final: true}, deltas[1])
	})

	t.Run("parses an unterminated last line", func(t *testing.T) {
		body := "{\"message\":{\"content\":\"a\"}}\n{\"response\":\"b\",\"done\":false}"
		deltas, err := drain(t, NewDecoder(strings.NewReader(body), NDJSON))
		require.NoError(t, err)
		require.Len(t, deltas, 2)
		assert.Equal(t, Delta{Text: "b", Final: true}, deltas[1])
	})

	t.Run("stream closed mid-frame", func(t *testing.T) {
		body := "{\"message\":{\"content\":\"a\"}}\n{\"message\":{\"con"
		dec := NewDecoder(strings.NewReader(body), NDJSON)

		d, err := dec.Next()
		require.NoError(t, err)
		assert.Equal(t, "a", d.Text)

		_, err = dec.Next()
		require.ErrorIs(t, err, chaterr.ErrDecode)
		assert.Contains(t, err.Error(), "stream closed mid-frame")

		_, err = dec.Next()
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("in-band error", func(t *testing.T) {
		body := "{\"message\":{\"content\":\"a\"}}\n{\"error\":\"model not loaded\"}\n"
		deltas, err := drain(t, NewDecoder(strings.NewReader(body), NDJSON))
		require.ErrorIs(t, err, chaterr.ErrDecode)
		assert.Equal(t, "model not loaded", chaterr.Message(err))
		assert.Len(t, deltas, 1)
	})

	t.Run("read failure is a transport error", func(t *testing.T) {
		_, err := NewDecoder(iotest.ErrReader(errors.New("connection reset")), NDJSON).Next()
		require.ErrorIs(t, err, chaterr.ErrTransport)
		assert.Equal(t, "connection reset", chaterr.Message(err))
	})

	t.Run("empty stream", func(t *testing.T) {
		deltas, err := drain(t, NewDecoder(strings.NewReader(""), NDJSON))
		require.NoError(t, err)
		assert.Equal(t, []Delta{{Final: true}}, deltas)
	})
}

func TestDecoderSSE(t *testing.T) {
	t.Run("yields exactly two deltas", func(t *testing.T) {
		body := "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\ndata: [DONE]\n\n"
		deltas, err := drain(t, NewDecoder(strings.NewReader(body), SSE))
		require.NoError(t, err)
		assert.Equal(t, []Delta{{Text: "Hi"}, {Final: true}}, deltas)
	})

	t.Run("strips carriage returns", func(t *testing.T) {
		body := "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\r\n\r\ndata: [DONE]\r\n\r\n"
		deltas, err := drain(t, NewDecoder(iotest.OneByteReader(strings.NewReader(body)), SSE))
		require.NoError(t, err)
		assert.Equal(t, []Delta{{Text: "Hi"}, {Final: true}}, deltas)
	})

	t.Run("ignores non data lines and skips malformed payloads", func(t *testing.T) {
		body := strings.Join([]string{
			": keep-alive",
			"event: message",
			"data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}",
			"data: {broken",
			"data: {\"choices\":[{\"delta\":{\"content\":null}}]}",
			"data: {\"choices\":[{\"delta\":{\"content\":\"yo\"}}]}",
			"data: [DONE]",
			"data: {\"choices\":[{\"delta\":{\"content\":\"late\"}}]}",
			"",
		}, "\n")
		deltas, err := drain(t, NewDecoder(strings.NewReader(body), SSE))
		require.NoError(t, err)
		require.Len(t, deltas, 4)
		assert.Equal(t, "yo", texts(deltas))
		assert.Equal(t, 1, finals(deltas))
		assert.True(t, deltas[3].Final)
	})

	t.Run("every split point yields the same deltas", func(t *testing.T) {
		body := []byte("data: {\"choices\":[{\"delta\":{\"content\":\"ab\"}}]}\n\ndata: {\"choices\":[{\"delta\":{\"content\":\"cd\"}}]}\n\ndata: [DONE]\n\n")
		for i := 0; i <= len(body); i++ {
			r := io.MultiReader(bytes.NewReader(body[:i]), bytes.NewReader(body[i:]))
			got, err := drain(t, NewDecoder(r, SSE))
			require.NoError(t, err, "split at %d", i)
			assert.Equal(t, []Delta{{Text: "ab"}, {Text: "cd"}, {Final: true}}, got, "split at %d", i)
		}
	})

	t.Run("error payload", func(t *testing.T) {
		body := "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\ndata: {\"error\":{\"message\":\"rate limited\",\"code\":429}}\n\n"
		deltas, err := drain(t, NewDecoder(strings.NewReader(body), SSE))
		require.ErrorIs(t, err, chaterr.ErrDecode)
		assert.Equal(t, "rate limited", chaterr.Message(err))
		assert.Equal(t, "x", texts(deltas))
	})

	t.Run("missing done marker", func(t *testing.T) {
		body := "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\n"
		deltas, err := drain(t, NewDecoder(strings.NewReader(body), SSE))
		require.NoError(t, err)
		assert.Equal(t, []Delta{{Text: "x"}, {Final: true}}, deltas)
	})

	t.Run("closed mid-frame", func(t *testing.T) {
		body := "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\ndata: {\"choi"
		deltas, err := drain(t, NewDecoder(strings.NewReader(body), SSE))
		require.ErrorIs(t, err, chaterr.ErrDecode)
		assert.Equal(t, "x", texts(deltas))
	})
}

func TestWhole(t *testing.T) {
	t.Run("local chat", func(t *testing.T) {
		deltas, err := drain(t, Whole(strings.NewReader(`{"message":{"role":"assistant","content":"full answer"},"done":true}`), NDJSON))
		require.NoError(t, err)
		assert.Equal(t, []Delta{{Text: "full answer", Final: true}}, deltas)
	})

	t.Run("local generate", func(t *testing.T) {
		deltas, err := drain(t, Whole(strings.NewReader(`{"response":"generated","done":true}`), NDJSON))
		require.NoError(t, err)
		assert.Equal(t, []Delta{{Text: "generated", Final: true}}, deltas)
	})

	t.Run("compatible", func(t *testing.T) {
		body := `{"choices":[{"index":0,"message":{"role":"assistant","content":"whole"}}]}`
		deltas, err := drain(t, Whole(strings.NewReader(body), SSE))
		require.NoError(t, err)
		assert.Equal(t, []Delta{{Text: "whole", Final: true}}, deltas)
	})

	t.Run("invalid body", func(t *testing.T) {
		_, err := Whole(strings.NewReader("<html>"), SSE).Next()
		assert.ErrorIs(t, err, chaterr.ErrDecode)
	})

	t.Run("error body", func(t *testing.T) {
		_, err := Whole(strings.NewReader(`{"error":{"message":"bad key"}}`), SSE).Next()
		require.ErrorIs(t, err, chaterr.ErrDecode)
		assert.Equal(t, "bad key", chaterr.Message(err))
	})
}

type endless struct{}

func (endless) Next() (Delta, error) { return Delta{Text: "."}, nil }

func TestPipe(t *testing.T) {
	t.Run("delivers deltas then closes", func(t *testing.T) {
		body := "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\ndata: [DONE]\n\n"
		var got []Delta
		for d := range Pipe(context.Background(), NewDecoder(strings.NewReader(body), SSE)) {
			got = append(got, d)
		}
		assert.Equal(t, []Delta{{Text: "Hi"}, {Final: true}}, got)
	})

	t.Run("errors arrive as a final delta", func(t *testing.T) {
		var got []Delta
		for d := range Pipe(context.Background(), NewDecoder(iotest.ErrReader(errors.New("boom")), NDJSON)) {
			got = append(got, d)
		}
		require.Len(t, got, 1)
		assert.True(t, got[0].Final)
		assert.True(t, got[0].Failed())
		assert.Equal(t, "boom", got[0].ErrorMessage)
		assert.ErrorIs(t, got[0].Err, chaterr.ErrTransport)
	})

	t.Run("stops when the context is done", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		var n int
		for range Pipe(ctx, endless{}) {
			n++
		}
		assert.Zero(t, n)
	})
}

func TestCollect(t *testing.T) {
	text, err := Collect(NewDecoder(strings.NewReader(ndjsonBody), NDJSON))
	require.NoError(t, err)
	assert.Equal(t, "Hello, wörld", text)

	text, err = Collect(NewDecoder(strings.NewReader("{\"response\":\"part\"}\n{\"error\":\"x\"}\n"), NDJSON))
	require.Error(t, err)
	assert.Equal(t, "part", text)
}
