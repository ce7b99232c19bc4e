package command

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

// NewLsCmd creates the ls command.
func NewLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List your conversations, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			includeArchived, _ := cmd.Flags().GetBool("archived")
			convs, err := ctx.Local.ListConversations(cmd.Context(), ctx.UserID())
			if err != nil {
				return writeCommandError(cmd, err)
			}
			shown := convs[:0]
			for _, conv := range convs {
				if conv.Tombstoned || (conv.Archived && !includeArchived) {
					continue
				}
				shown = append(shown, conv)
			}
			sort.SliceStable(shown, func(i, j int) bool {
				return shown[i].LastMessageAt > shown[j].LastMessageAt
			})

			if ctx.JSONMode {
				return printJSON(cmd.OutOrStdout(), shown)
			}
			out := cmd.OutOrStdout()
			if len(shown) == 0 {
				fmt.Fprintln(out, "No conversations yet. Start one with: murmur send <user> <text>")
				return nil
			}
			for _, conv := range shown {
				line := fmt.Sprintf("%-14s %-20s %s", conv.ID, conv.Peer(ctx.UserID()), formatRelative(conv.LastMessageAt))
				if conv.UnreadCount > 0 {
					line += fmt.Sprintf("  (%d unread)", conv.UnreadCount)
				}
				if conv.Encrypted {
					line += "  🔒"
				}
				if conv.Archived {
					line += "  [archived]"
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().Bool("archived", false, "include archived conversations")
	return cmd
}
