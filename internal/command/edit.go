package command

import (
	"fmt"
	"strings"

	"github.com/adamavenir/murmur/internal/types"
	"github.com/spf13/cobra"
)

// NewEditCmd creates the edit command.
func NewEditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit <message> <text...>",
		Short: "Edit one of your messages",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			msg, err := ctx.Local.ResolveMessage(cmd.Context(), args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			conv, err := ctx.Local.Conversation(cmd.Context(), msg.ConversationID)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			o := &opener{c: ctx}
			current := o.open(msg)
			if current.Sealed != nil {
				return writeCommandError(cmd, fmt.Errorf("cannot edit #%s without its keys", shortID(msg.ID)))
			}
			edit := current
			edit.SenderID = ctx.UserID()
			edit.Body = types.WithContent(current.Body, strings.Join(args[1:], " "))
			edit, err = o.seal(conv, edit)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			updated, err := ctx.Local.EditMessage(cmd.Context(), edit)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if ctx.JSONMode {
				return printJSON(cmd.OutOrStdout(), o.open(updated))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "edited #%s\n", shortID(updated.ID))
			return nil
		},
	}
}
