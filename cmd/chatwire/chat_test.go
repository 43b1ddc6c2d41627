package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/casualjim/chatwire/internal/config"
	"github.com/casualjim/chatwire/messages"
	"github.com/casualjim/chatwire/provider"
	"github.com/casualjim/chatwire/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// syncBuffer is written by the REPL and by the console's subscription.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// ollama fakes a local runtime with llama3.2 installed. Every chat request
// streams back the reply of the matching call.
func ollama(t *testing.T, replies ...string) (*httptest.Server, *[]string) {
	t.Helper()
	var (
		calls    atomic.Int32
		mu       sync.Mutex
		requests []string
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"models":[{"name":"llama3.2:latest"}]}`)
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		requests = append(requests, string(body))
		mu.Unlock()

		reply := replies[int(calls.Add(1)-1)%len(replies)]
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, word := range strings.SplitAfter(reply, " ") {
			fmt.Fprintf(w, `{"message":{"role":"assistant","content":%q},"done":false}`+"\n", word)
		}
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &requests
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	c := config.Default()
	c.Storage.Path = filepath.Join(t.TempDir(), "chat.db")
	c.Providers = []provider.ProviderConfig{{ID: provider.LocalID, BaseURL: baseURL}}
	require.NoError(t, c.Validate())
	return c
}

func runREPL(t *testing.T, c *config.Config, input string) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, c)
	require.NoError(t, err)
	defer a.Close()

	out := &syncBuffer{}
	r := &repl{
		app:     a,
		in:      strings.NewReader(input),
		out:     out,
		render:  plainMarkdown,
		console: newConsole(out, plainMarkdown),
	}
	sub, err := a.topic.Subscribe(ctx, r.console)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, r.run(ctx))
	return out.String()
}

func stored(t *testing.T, path string) []messages.Conversation {
	t.Helper()
	s, err := sqlite.Open(context.Background(), path)
	require.NoError(t, err)
	defer s.Close()
	all, err := s.LoadAll(context.Background())
	require.NoError(t, err)
	return all
}

func TestChat(t *testing.T) {
	t.Run("streams replies and persists the conversation", func(t *testing.T) {
		srv, requests := ollama(t, "Paris is the capital.")
		c := testConfig(t, srv.URL)

		out := runREPL(t, c, "What is the capital of France?\n/history\n/title Capitals\n/exit\n")

		assert.Contains(t, out, "llama3.2 is typing...\n")
		assert.Contains(t, out, "llama3.2: Paris is the capital.\n")
		assert.Contains(t, out, "[1] User: What is the capital of France?\n")
		assert.Contains(t, out, "[2] llama3.2: Paris is the capital.\n")
		assert.NotContains(t, out, "Error:")
		require.Len(t, *requests, 1)
		assert.Equal(t, "llama3.2", gjson.Get((*requests)[0], "model").String())

		all := stored(t, c.Storage.Path)
		require.Len(t, all, 1)
		assert.Equal(t, "Capitals", all[0].Title)
		require.Len(t, all[0].Messages, 2)
		assert.Equal(t, "Paris is the capital.", all[0].Messages[1].Content)
	})

	t.Run("edit resends and retry regenerates", func(t *testing.T) {
		srv, requests := ollama(t, "First answer.", "Second answer.", "Third answer.")
		c := testConfig(t, srv.URL)

		out := runREPL(t, c, "Hello\n/edit 1 Hello again\n/retry\n/history\n/exit\n")

		assert.Contains(t, out, "llama3.2: First answer.\n")
		assert.Contains(t, out, "llama3.2: Second answer.\n")
		assert.Contains(t, out, "[1] User: Hello again\n[2] llama3.2: Third answer.\n")
		require.Len(t, *requests, 3)
		assert.Equal(t, "Hello again", gjson.Get((*requests)[1], "messages.0.content").String())
		assert.Equal(t, int64(1), gjson.Get((*requests)[2], "messages.#").Int())

		all := stored(t, c.Storage.Path)
		require.Len(t, all, 1)
		require.Len(t, all[0].Messages, 2)
		assert.Equal(t, "Third answer.", all[0].Messages[1].Content)
	})

	t.Run("resumes stored conversations", func(t *testing.T) {
		srv, requests := ollama(t, "Madrid.")
		c := testConfig(t, srv.URL)
		runREPL(t, c, "Capital of Italy?\n/exit\n")

		out := runREPL(t, c, "/list\n/open 1\nAnd Spain?\n/exit\n")
		assert.Contains(t, out, "  1  ")
		assert.Contains(t, out, "[1] User: Capital of Italy?\n")
		require.Len(t, *requests, 2)
		assert.Equal(t, int64(3), gjson.Get((*requests)[1], "messages.#").Int())
	})

	t.Run("rejected sends and bad commands are reported", func(t *testing.T) {
		srv, requests := ollama(t, "unused")
		c := testConfig(t, srv.URL)

		out := runREPL(t, c, "/retry\n/model nonsense\n/model local/mistral\nHello\n/edit 9 x\n/frobnicate\n/activity\n/exit\n")

		assert.Contains(t, out, "Error: no conversation yet")
		assert.Contains(t, out, `Error: parse target: expected provider/model, got "nonsense"`)
		assert.Contains(t, out, "The next message goes to local/mistral.")
		assert.Contains(t, out, "local/mistral is not available")
		assert.Contains(t, out, "usage: /edit <n> <text> with n between 1 and 0")
		assert.Contains(t, out, "unknown command /frobnicate")
		assert.Contains(t, out, "conversation_created")
		assert.Empty(t, *requests)
	})

	t.Run("delete removes the stored conversation", func(t *testing.T) {
		srv, _ := ollama(t, "Hi.")
		c := testConfig(t, srv.URL)

		out := runREPL(t, c, "Hello\n/delete\n/history\n/exit\n")
		assert.Contains(t, out, "Conversation deleted.")
		assert.Contains(t, out, "Error: no conversation yet")
		assert.Empty(t, stored(t, c.Storage.Path))
	})
}
