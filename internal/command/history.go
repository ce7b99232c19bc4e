package command

import (
	"context"
	"fmt"

	"github.com/adamavenir/murmur/internal/types"
	"github.com/spf13/cobra"
)

type historyEntry struct {
	types.Message
	Reactions []types.ReactionAggregate `json:"reactions,omitempty"`
}

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <user|conversation>",
		Short: "Show recent messages of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			limit, _ := cmd.Flags().GetInt("last")
			before, _ := cmd.Flags().GetString("before")
			markRead, _ := cmd.Flags().GetBool("mark-read")

			conv, err := resolveConversation(cmd.Context(), ctx, args[0], false)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			q := types.MessageQuery{Limit: limit}
			if before != "" {
				anchor, err := ctx.Local.ResolveMessage(cmd.Context(), before)
				if err != nil {
					return writeCommandError(cmd, err)
				}
				q.Before = &types.MessageCursor{ID: anchor.ID, CreatedAt: anchor.CreatedAt}
			}
			page, err := ctx.Local.FetchMessages(cmd.Context(), conv.ID, q)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			entries, err := loadEntries(cmd.Context(), ctx, page.Messages)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			if markRead && len(page.Messages) > 0 {
				err := ctx.Local.MarkRead(cmd.Context(), types.ReadMarker{
					ConversationID: conv.ID,
					UserID:         ctx.UserID(),
					UpTo:           page.Messages[len(page.Messages)-1].CreatedAt,
				})
				if err != nil {
					return writeCommandError(cmd, err)
				}
			}

			if ctx.JSONMode {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"conversation": conv,
					"messages":     entries,
					"has_more":     page.HasMore,
				})
			}
			out := cmd.OutOrStdout()
			if page.HasMore {
				fmt.Fprintf(out, "--- older messages: murmur history %s --before #%s ---\n", args[0], shortID(page.Messages[0].ID))
			}
			for _, entry := range entries {
				fmt.Fprintln(out, formatMessage(entry.Message, entry.Reactions))
			}
			return nil
		},
	}
	cmd.Flags().Int("last", 20, "number of messages to show")
	cmd.Flags().String("before", "", "show messages older than this message id")
	cmd.Flags().Bool("mark-read", false, "mark the shown messages as read")
	return cmd
}

// loadEntries opens sealed messages and attaches reaction aggregates.
func loadEntries(ctx context.Context, c *CommandContext, msgs []types.Message) ([]historyEntry, error) {
	ids := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		ids = append(ids, msg.ID)
	}
	snapshot, err := c.Local.ReactionSnapshot(ctx, ids)
	if err != nil {
		return nil, err
	}
	o := &opener{c: c}
	entries := make([]historyEntry, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, historyEntry{Message: o.open(msg), Reactions: snapshot[msg.ID]})
	}
	return entries, nil
}
