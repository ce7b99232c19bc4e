package command

import (
	"fmt"

	"github.com/adamavenir/murmur/internal/seal"
	"github.com/spf13/cobra"
)

// NewEncryptCmd creates the encrypt command.
func NewEncryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt <user|conversation>",
		Short: "Turn on end-to-end encryption for a conversation",
		Long:  "Encrypt every later message of a conversation. Both participants need a key (murmur keys init). Encryption cannot be turned off.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			conv, err := resolveConversation(cmd.Context(), ctx, args[0], true)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			for _, user := range conv.Participants {
				if _, err := seal.LoadPublic(ctx.Workspace.KeysDir(), user); err != nil {
					return writeCommandError(cmd, err)
				}
			}
			conv, err = ctx.Local.EncryptConversation(cmd.Context(), conv.ID)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if ctx.JSONMode {
				return printJSON(cmd.OutOrStdout(), conv)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "🔒 %s with %s is now encrypted\n", conv.ID, conv.Peer(ctx.UserID()))
			return nil
		},
	}
}
