package main

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/casualjim/chatwire/events"
	"github.com/casualjim/chatwire/generation"
	"github.com/casualjim/chatwire/messages"
	"github.com/fatih/color"
)

// console is an events.Hook printing the replies of one conversation as they
// arrive. A reply that arrives in one piece is rendered as markdown once the
// session is idle, a streamed reply is printed chunk by chunk.
type console struct {
	events.NopHook

	out    io.Writer
	render markdown
	// idle receives the id of every session of the followed conversation that
	// returned to idle.
	idle chan string

	mu             sync.Mutex
	conversationID string
	model          string
	label          string
	pending        strings.Builder
	streaming      bool
}

func newConsole(out io.Writer, render markdown) *console {
	return &console{
		out:    out,
		render: render,
		idle:   make(chan string, 8),
	}
}

// follow switches the conversation whose replies are printed.
func (c *console) follow(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversationID = conversationID
	c.reset()
}

func (c *console) reset() {
	c.label = ""
	c.pending.Reset()
	c.streaming = false
}

func (c *console) OnTyping(_ context.Context, e events.Typing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e.ConversationID != c.conversationID || !e.Active {
		return
	}
	c.model = e.ModelID
	fmt.Fprintln(c.out, color.HiBlackString("%s is typing...", e.ModelID))
}

func (c *console) OnLedgerChange(_ context.Context, e events.LedgerChange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e.ConversationID != c.conversationID {
		return
	}

	switch e.Kind {
	case events.MessageAppended:
		if e.Role != messages.RoleAssistant {
			return
		}
		c.reset()
		c.label = color.MagentaString(cmp.Or(c.model, "Assistant"))
		c.pending.WriteString(e.Content)
	case events.MessageAccumulated:
		if !c.streaming {
			c.streaming = true
			fmt.Fprint(c.out, c.label+": "+c.pending.String())
		}
		fmt.Fprint(c.out, e.Content)
		c.pending.WriteString(e.Content)
	}
}

func (c *console) OnGeneration(_ context.Context, e events.Generation) {
	c.mu.Lock()
	if e.ConversationID != c.conversationID || e.To != generation.Idle.String() {
		c.mu.Unlock()
		return
	}

	switch {
	case c.streaming:
		fmt.Fprintln(c.out)
	case c.pending.Len() > 0:
		content := c.pending.String()
		if !strings.HasPrefix(content, generation.ErrorPrefix) {
			content = c.render(content)
		} else {
			content = color.RedString(content)
		}
		fmt.Fprintln(c.out, c.label+": "+content)
	}
	if e.Error == generation.ErrCanceled.Error() {
		fmt.Fprintln(c.out, color.HiBlackString("(canceled)"))
	}
	c.reset()
	c.mu.Unlock()

	select {
	case c.idle <- e.SessionID:
	default:
	}
}
