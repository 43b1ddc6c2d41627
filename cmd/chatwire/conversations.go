package main

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/k0kubun/pp/v3"
	"github.com/spf13/cobra"
)

var (
	showRaw  bool
	showJSON bool

	conversationsCmd = &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "Inspect and delete stored conversations",
	}
	conversationsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List conversations, most recently updated first",
		Args:  cobra.NoArgs,
		RunE:  runConversationsList,
	}
	conversationsShowCmd = &cobra.Command{
		Use:   "show <conversation>",
		Short: "Print a conversation (number from list, id or id prefix)",
		Args:  cobra.ExactArgs(1),
		RunE:  runConversationsShow,
	}
	conversationsDeleteCmd = &cobra.Command{
		Use:   "delete <conversation>...",
		Short: "Delete conversations and their messages",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runConversationsDelete,
	}
)

func init() {
	conversationsShowCmd.Flags().BoolVar(&showRaw, "raw", false, "dump the stored record")
	conversationsShowCmd.Flags().BoolVar(&showJSON, "json", false, "print the conversation as JSON")
	conversationsShowCmd.MarkFlagsMutuallyExclusive("raw", "json")
	conversationsCmd.AddCommand(conversationsListCmd, conversationsShowCmd, conversationsDeleteCmd)
}

func runConversationsList(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	writeConversations(cmd.OutOrStdout(), a.ledger.List())
	return nil
}

func runConversationsShow(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	conv, err := a.conversation(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case showRaw:
		_, err = pp.Fprintln(out, conv)
		return err
	case showJSON:
		b, err := json.MarshalIndent(conv, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(b))
		return err
	default:
		writeTranscript(out, conv, glamourMarkdown())
		return nil
	}
}

func runConversationsDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// resolve every reference first, list positions shift while deleting
	ids := make([]string, 0, len(args))
	for _, ref := range args {
		conv, err := a.conversation(ref)
		if err != nil {
			return err
		}
		ids = append(ids, conv.ID)
	}
	for _, id := range ids {
		if err := a.controller.DeleteConversation(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
	}
	return nil
}
