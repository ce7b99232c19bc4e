package command

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRmCmd creates the rm command.
func NewRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <message>",
		Short: "Delete one of your messages",
		Args:  cobra.ExactArgs(1),
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
			deleted, err := ctx.Local.DeleteMessage(cmd.Context(), msg.ID, ctx.UserID())
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if ctx.JSONMode {
				return printJSON(cmd.OutOrStdout(), deleted)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted #%s\n", shortID(deleted.ID))
			return nil
		},
	}
}
