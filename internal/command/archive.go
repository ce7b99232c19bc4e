package command

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewArchiveCmd creates the archive command.
func NewArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive <user|conversation>",
		Short: "Hide a conversation from your list",
		Long:  "Archive a conversation for yourself only. The peer still sees it. Use --undo to restore it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			undo, _ := cmd.Flags().GetBool("undo")
			conv, err := resolveConversation(cmd.Context(), ctx, args[0], false)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if err := ctx.Local.ArchiveConversation(cmd.Context(), conv.ID, !undo); err != nil {
				return writeCommandError(cmd, err)
			}
			if ctx.JSONMode {
				return printJSON(cmd.OutOrStdout(), map[string]any{"conversation_id": conv.ID, "archived": !undo})
			}
			state := "archived"
			if undo {
				state = "restored"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", state, conv.ID)
			return nil
		},
	}
	cmd.Flags().Bool("undo", false, "restore an archived conversation")
	return cmd
}
