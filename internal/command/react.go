package command

import (
	"fmt"
	"strings"

	"github.com/adamavenir/murmur/internal/types"
	"github.com/spf13/cobra"
)

// NewReactCmd creates the react command.
func NewReactCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "react <emoji> <message>",
		Short: "React to a message with an emoji",
		Long:  "Add a reaction to a message, or take it back with --remove.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			remove, _ := cmd.Flags().GetBool("remove")
			emoji := strings.TrimSpace(args[0])
			if emoji == "" {
				return writeCommandError(cmd, &types.ValidationError{Field: "emoji", Reason: "empty"})
			}

			msg, err := ctx.Local.ResolveMessage(cmd.Context(), args[1])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			entry := types.ReactionEntry{MessageID: msg.ID, Emoji: emoji, UserID: ctx.UserID()}
			if remove {
				err = ctx.Local.RemoveReaction(cmd.Context(), entry)
			} else {
				err = ctx.Local.AddReaction(cmd.Context(), entry)
			}
			if err != nil {
				return writeCommandError(cmd, err)
			}

			snapshot, err := ctx.Local.ReactionSnapshot(cmd.Context(), []string{msg.ID})
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if ctx.JSONMode {
				return printJSON(cmd.OutOrStdout(), snapshot[msg.ID])
			}
			verb := "reacted"
			if remove {
				verb = "removed"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s on #%s\n", verb, emoji, shortID(msg.ID))
			return nil
		},
	}
	cmd.Flags().Bool("remove", false, "remove the reaction instead of adding it")
	return cmd
}
