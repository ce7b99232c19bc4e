package command

import (
	"fmt"
	"strings"
	"time"

	"github.com/adamavenir/murmur/internal/core"
	"github.com/adamavenir/murmur/internal/search"
	"github.com/adamavenir/murmur/internal/types"
	"github.com/spf13/cobra"
)

const searchPageSize = 200

// NewSearchCmd creates the search command.
func NewSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <user|conversation> [text...]",
		Short: "Search a conversation's history",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			from, _ := cmd.Flags().GetString("from")
			kind, _ := cmd.Flags().GetString("kind")
			since, _ := cmd.Flags().GetString("since")
			hasMedia, _ := cmd.Flags().GetBool("media")
			ranked, _ := cmd.Flags().GetBool("ranked")
			limit, _ := cmd.Flags().GetInt("limit")

			filter := search.Filter{
				Text:     strings.Join(args[1:], " "),
				Kind:     types.MessageKind(kind),
				HasMedia: hasMedia,
			}
			if strings.ContainsAny(from, "*?[") {
				filter.SenderGlob = from
			} else {
				filter.SenderID = normalizeUserID(from)
			}
			if since != "" {
				from, err := core.ParseSince(since, time.Now())
				if err != nil {
					return writeCommandError(cmd, err)
				}
				filter.From = from
			}

			conv, err := resolveConversation(cmd.Context(), ctx, args[0], false)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			var all []types.Message
			q := types.MessageQuery{Limit: searchPageSize}
			for {
				page, err := ctx.Local.FetchMessages(cmd.Context(), conv.ID, q)
				if err != nil {
					return writeCommandError(cmd, err)
				}
				all = append(page.Messages, all...)
				if !page.HasMore || len(page.Messages) == 0 {
					break
				}
				oldest := page.Messages[0]
				q.Before = &types.MessageCursor{ID: oldest.ID, CreatedAt: oldest.CreatedAt}
			}
			o := &opener{c: ctx}
			for i := range all {
				all[i] = o.open(all[i])
			}

			matches, err := search.Apply(all, filter, search.Options{Relevance: ranked})
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if limit > 0 && len(matches) > limit {
				if ranked {
					matches = matches[:limit]
				} else {
					matches = matches[len(matches)-limit:]
				}
			}

			if ctx.JSONMode {
				return printJSON(cmd.OutOrStdout(), matches)
			}
			out := cmd.OutOrStdout()
			if len(matches) == 0 {
				fmt.Fprintln(out, "No matches.")
				return nil
			}
			for _, msg := range matches {
				fmt.Fprintln(out, formatMessage(msg, nil))
			}
			return nil
		},
	}
	cmd.Flags().String("from", "", "only messages from this sender; wildcards allowed")
	cmd.Flags().String("kind", "", "only messages of this type: text, image, voice, file")
	cmd.Flags().String("since", "", "only messages newer than this: 2h, 3d, yesterday or 2006-01-02")
	cmd.Flags().Bool("media", false, "only messages with attachments")
	cmd.Flags().Bool("ranked", false, "order by number of matches instead of time")
	cmd.Flags().Int("limit", 50, "maximum results")
	return cmd
}
