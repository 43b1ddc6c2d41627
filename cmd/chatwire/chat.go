package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/casualjim/chatwire/generation"
	"github.com/casualjim/chatwire/messages"
	"github.com/casualjim/chatwire/provider"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// idleGrace bounds how long the REPL waits for the final events of a session
// that already finished.
const idleGrace = 2 * time.Second

const chatHelp = `Commands:
  /new                 start a new conversation
  /open <conversation> switch to a stored conversation (number, id or id prefix)
  /list                list conversations
  /history             show the current conversation
  /edit <n> <text>     replace user message n and resend it
  /retry               regenerate the last reply
  /cancel              stop the running reply
  /title <title>       rename the conversation
  /model <p>/<m>       send the next message to another provider and model
  /attach <path>       attach an image to the next message
  /activity            show recent activity of the conversation
  /delete              delete the current conversation
  /exit                leave
Press Ctrl-C while a reply streams to cancel it.`

var chatCmd = &cobra.Command{
	Use:   "chat [conversation]",
	Short: "Chat interactively, optionally resuming a stored conversation",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	render := glamourMarkdown()
	r := &repl{
		app:     a,
		in:      cmd.InOrStdin(),
		out:     out,
		render:  render,
		console: newConsole(out, render),
	}

	sub, err := a.topic.Subscribe(ctx, r.console)
	if err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}
	defer sub.Unsubscribe()

	if len(args) == 1 {
		conv, err := a.conversation(args[0])
		if err != nil {
			return err
		}
		r.open(conv)
	}
	return r.run(ctx)
}

type repl struct {
	app     *app
	in      io.Reader
	out     io.Writer
	render  markdown
	console *console

	conversationID string
	// target and images apply to the next message only.
	target provider.Target
	images []messages.ImageRef
}

func (r *repl) run(ctx context.Context) error {
	fmt.Fprintln(r.out, color.HiBlackString("Type /help for commands."))
	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for {
		fmt.Fprintf(r.out, "%s: ", color.CyanString("User"))
		if !scanner.Scan() {
			fmt.Fprintln(r.out, "Exiting...")
			r.shutdown(ctx)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line[0] != '/' {
			r.report(r.send(ctx, line))
			continue
		}

		quit, err := r.command(ctx, line)
		r.report(err)
		if quit {
			r.shutdown(ctx)
			return nil
		}
	}
}

func (r *repl) report(err error) {
	if err != nil {
		fmt.Fprintln(r.out, color.RedString("Error: %v", err))
	}
}

func (r *repl) command(ctx context.Context, line string) (bool, error) {
	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(name) {
	case "exit", "quit":
		return true, nil
	case "help":
		fmt.Fprintln(r.out, chatHelp)
	case "new":
		r.follow("")
		fmt.Fprintln(r.out, color.HiBlackString("New conversation, it is saved when you send the first message."))
	case "open":
		conv, err := r.app.conversation(rest)
		if err != nil {
			return false, err
		}
		r.open(conv)
	case "list":
		writeConversations(r.out, r.app.ledger.List())
	case "history":
		conv, err := r.current()
		if err != nil {
			return false, err
		}
		writeTranscript(r.out, conv, r.render)
	case "edit":
		return false, r.edit(ctx, rest)
	case "retry":
		if r.conversationID == "" {
			return false, errNoConversation
		}
		s, err := r.app.controller.Regenerate(ctx, r.conversationID)
		if err != nil {
			return false, err
		}
		r.await(ctx, s)
	case "cancel":
		if r.conversationID == "" || !r.app.controller.Cancel(r.conversationID) {
			fmt.Fprintln(r.out, color.HiBlackString("Nothing to cancel."))
		}
	case "title":
		if r.conversationID == "" {
			return false, errNoConversation
		}
		return false, r.app.ledger.SetTitle(ctx, r.conversationID, rest)
	case "model":
		target, err := provider.ParseTarget(rest)
		if err != nil {
			return false, err
		}
		r.target = target
		fmt.Fprintln(r.out, color.HiBlackString("The next message goes to %s.", target))
	case "attach":
		return false, r.attach(rest)
	case "activity":
		if r.conversationID == "" {
			return false, errNoConversation
		}
		for _, e := range r.app.activity.Conversation(r.conversationID) {
			fmt.Fprintln(r.out, formatActivity(e))
		}
	case "delete":
		if r.conversationID == "" {
			return false, errNoConversation
		}
		if err := r.app.controller.DeleteConversation(ctx, r.conversationID); err != nil {
			return false, err
		}
		r.follow("")
		fmt.Fprintln(r.out, color.HiBlackString("Conversation deleted."))
	default:
		return false, fmt.Errorf("unknown command /%s, try /help", name)
	}
	return false, nil
}

var errNoConversation = errors.New("no conversation yet, send a message first")

func (r *repl) follow(conversationID string) {
	r.conversationID = conversationID
	r.target = provider.Target{}
	r.images = nil
	r.console.follow(conversationID)
}

func (r *repl) open(conv messages.Conversation) {
	r.follow(conv.ID)
	writeTranscript(r.out, conv, r.render)
}

func (r *repl) current() (messages.Conversation, error) {
	if r.conversationID == "" {
		return messages.Conversation{}, errNoConversation
	}
	return r.app.conversation(r.conversationID)
}

func (r *repl) send(ctx context.Context, content string) error {
	prompt := generation.Prompt{Content: content, Images: r.images, Target: r.target}
	if r.conversationID == "" {
		var conv messages.Conversation
		if r.target.IsZero() {
			conv = r.app.newConversation(ctx)
		} else {
			conv = r.app.ledger.Create(ctx, r.target.ProviderID, r.target.ModelID)
		}
		r.follow(conv.ID)
	}

	s, err := r.app.controller.Send(ctx, r.conversationID, prompt)
	if err != nil {
		return err
	}
	r.target = provider.Target{}
	r.images = nil
	r.await(ctx, s)
	return nil
}

func (r *repl) edit(ctx context.Context, args string) error {
	conv, err := r.current()
	if err != nil {
		return err
	}
	num, content, _ := strings.Cut(args, " ")
	n, err := strconv.Atoi(num)
	if err != nil || n < 1 || n > len(conv.Messages) {
		return fmt.Errorf("usage: /edit <n> <text> with n between 1 and %d", len(conv.Messages))
	}

	s, err := r.app.controller.EditAndResend(ctx, conv.ID, conv.Messages[n-1].ID, strings.TrimSpace(content))
	if err != nil {
		return err
	}
	r.await(ctx, s)
	return nil
}

func (r *repl) attach(path string) error {
	if path == "" {
		return errors.New("usage: /attach <path>")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	mimeType := http.DetectContentType(raw)
	if !strings.HasPrefix(mimeType, "image/") {
		return fmt.Errorf("%s is not an image (%s)", path, mimeType)
	}
	r.images = append(r.images, messages.Image(mimeType, raw))
	fmt.Fprintln(r.out, color.HiBlackString("Attached %s to the next message.", path))
	return nil
}

// await blocks until the console printed the end of s. Ctrl-C cancels the
// session instead of leaving.
func (r *repl) await(ctx context.Context, s *generation.Session) {
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	done := s.Done()
	var grace <-chan time.Time
	for {
		select {
		case id := <-r.console.idle:
			if id == s.ID {
				return
			}
		case <-interrupts:
			r.app.controller.Cancel(s.ConversationID)
		case <-done:
			done = nil
			grace = time.After(idleGrace)
		case <-grace:
			return
		case <-ctx.Done():
			r.app.controller.Cancel(s.ConversationID)
			return
		}
	}
}

// shutdown stops a reply still running in the current conversation.
func (r *repl) shutdown(ctx context.Context) {
	if r.conversationID == "" {
		return
	}
	s, ok := r.app.controller.Session(r.conversationID)
	if !ok {
		return
	}
	r.app.controller.Cancel(r.conversationID)
	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), idleGrace)
	defer cancel()
	_ = s.Wait(waitCtx)
}
