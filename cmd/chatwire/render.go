package main

import (
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/casualjim/chatwire/events"
	"github.com/casualjim/chatwire/generation"
	"github.com/casualjim/chatwire/messages"
	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"
	"github.com/go-openapi/strfmt"
)

const timeLayout = "2006-01-02 15:04"

// markdown renders text for the terminal.
type markdown func(string) string

func glamourMarkdown() markdown {
	glam, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
	)
	if err != nil {
		return plainMarkdown
	}
	return func(s string) string {
		out, err := glam.Render(s)
		if err != nil {
			return s
		}
		return strings.Trim(out, "\n")
	}
}

func plainMarkdown(s string) string { return s }

func formatTime(dt strfmt.DateTime) string {
	t := time.Time(dt)
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

func writeConversations(w io.Writer, convs []messages.Conversation) {
	if len(convs) == 0 {
		fmt.Fprintln(w, "no conversations")
		return
	}
	fmt.Fprintf(w, "%3s  %-36s  %-32s  %-24s  %5s  %s\n", "#", "ID", "TITLE", "MODEL", "MSGS", "UPDATED")
	for i, conv := range convs {
		fmt.Fprintf(w, "%3d  %-36s  %-32s  %-24s  %5d  %s\n",
			i+1,
			conv.ID,
			truncate(conv.Title, 32),
			truncate(conv.ProviderID+"/"+conv.ModelID, 24),
			len(conv.Messages),
			formatTime(conv.UpdatedAt),
		)
	}
}

func speaker(m messages.Message) string {
	switch m.Role {
	case messages.RoleUser:
		return color.CyanString("User")
	case messages.RoleAssistant:
		if m.ModelID != "" {
			return color.MagentaString(m.ModelID)
		}
		return color.MagentaString("Assistant")
	default:
		return color.YellowString(m.Role.String())
	}
}

// writeTranscript prints the messages of conv numbered from 1, the numbers
// /edit refers to.
func writeTranscript(w io.Writer, conv messages.Conversation, render markdown) {
	fmt.Fprintf(w, "%s  %s\n\n", color.New(color.Bold).Sprint(conv.Title), color.HiBlackString("%s/%s", conv.ProviderID, conv.ModelID))
	for i, m := range conv.Messages {
		content := m.Content
		if m.Role == messages.RoleAssistant && !strings.HasPrefix(content, generation.ErrorPrefix) {
			content = render(content)
		}
		fmt.Fprintf(w, "[%d] %s: %s\n", i+1, speaker(m), content)
		if m.HasImages() {
			fmt.Fprintln(w, color.HiBlackString("    %d image(s) attached", len(m.ImageRefs)))
		}
	}
}

// formatActivity describes one recorded event on a single line.
func formatActivity(e events.Event) string {
	ts := time.Time(e.At()).Local().Format(time.TimeOnly)
	switch e := e.(type) {
	case events.LedgerChange:
		detail := string(e.Kind)
		switch e.Kind {
		case events.MessageAppended, events.MessageEdited:
			detail += fmt.Sprintf(" %s %q", e.Role, truncate(e.Content, 40))
		case events.MessageAccumulated:
			detail += fmt.Sprintf(" +%d bytes", len(e.Content))
		case events.MessagesTruncated:
			detail += fmt.Sprintf(" %d message(s)", e.Removed)
		case events.TitleChanged, events.ConversationCreated:
			detail += fmt.Sprintf(" %q", e.Title)
		case events.TargetChanged:
			detail += " " + e.Content
		}
		return ts + "  ledger      " + detail
	case events.Typing:
		state := "stopped"
		if e.Active {
			state = "started"
		}
		return fmt.Sprintf("%s  typing      %s %s", ts, e.ModelID, state)
	case events.Generation:
		line := fmt.Sprintf("%s  generation  %s -> %s", ts, e.From, e.To)
		if e.Error != "" {
			line += " (" + e.Error + ")"
		}
		return line
	default:
		return fmt.Sprintf("%s  %T", ts, e)
	}
}
