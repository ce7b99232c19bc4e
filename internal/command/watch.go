package command

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/adamavenir/murmur/internal/engine"
	"github.com/adamavenir/murmur/internal/types"
	"github.com/spf13/cobra"
)

// NewWatchCmd creates the watch command.
func NewWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <user|conversation>",
		Short: "Stream a conversation in real time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			last, _ := cmd.Flags().GetInt("last")
			conv, err := resolveConversation(cmd.Context(), ctx, args[0], false)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			m, stopMetrics := ctx.clientMetrics()
			defer stopMetrics()
			client, err := ctx.NewClient(m)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer client.Close()

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if _, err := client.LoadConversations(runCtx); err != nil {
				return writeCommandError(cmd, err)
			}
			view, err := client.Open(conv.ID)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer view.Close()

			out := cmd.OutOrStdout()
			if !ctx.JSONMode {
				fmt.Fprintf(out, "--- watching %s (Ctrl+C to stop) ---\n", conv.Peer(ctx.UserID()))
			}
			w := &watcher{out: out, json: ctx.JSONMode, seen: make(map[string]string), backlog: last}
			w.print(view)
			for {
				select {
				case <-runCtx.Done():
					return nil
				case <-client.Changes():
				}
				for _, change := range client.Drain() {
					for _, notice := range change.Notices {
						fmt.Fprintln(cmd.ErrOrStderr(), "! "+notice)
					}
					if change.ConversationID != conv.ID {
						continue
					}
					if change.What.Has(engine.ChangedConnection) && !ctx.JSONMode {
						fmt.Fprintf(out, "--- %s ---\n", view.Connection())
					}
					if change.What&(engine.ChangedMessages|engine.ChangedReactions) != 0 {
						w.print(view)
					}
				}
			}
		},
	}
	cmd.Flags().Int("last", 10, "number of earlier messages to show first")
	return cmd
}

// watcher prints confirmed messages once, and again whenever they change.
type watcher struct {
	out     io.Writer
	json    bool
	seen    map[string]string
	backlog int
	primed  bool
}

func (w *watcher) print(view *engine.View) {
	msgs := view.Messages()
	skip := 0
	if !w.primed && len(msgs) > 0 {
		w.primed = true
		if len(msgs) > w.backlog {
			skip = len(msgs) - w.backlog
		}
	}
	for i, msg := range msgs {
		if msg.Status != types.StatusSent {
			continue
		}
		reactions := view.Reactions(msg.ID)
		version := messageVersion(msg, reactions)
		if w.seen[msg.ID] == version {
			continue
		}
		w.seen[msg.ID] = version
		if i < skip {
			continue
		}
		if w.json {
			data, err := json.Marshal(historyEntry{Message: msg, Reactions: reactions})
			if err == nil {
				fmt.Fprintln(w.out, string(data))
			}
			continue
		}
		fmt.Fprintln(w.out, formatMessage(msg, reactions))
	}
}

func messageVersion(msg types.Message, reactions []types.ReactionAggregate) string {
	edited := int64(0)
	if msg.EditedAt != nil {
		edited = *msg.EditedAt
	}
	version := fmt.Sprintf("%d/%t", edited, msg.Deleted)
	for _, agg := range reactions {
		version += fmt.Sprintf("/%s%d", agg.Emoji, agg.Count)
	}
	return version
}
