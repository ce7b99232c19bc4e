package command

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adamavenir/murmur/internal/chat"
	"github.com/adamavenir/murmur/internal/core"
	"github.com/adamavenir/murmur/internal/logger"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// NewChatCmd creates the chat command.
func NewChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat <user|conversation>",
		Short: "Interactive chat mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonMode, _ := cmd.Flags().GetBool("json"); jsonMode {
				return writeCommandError(cmd, fmt.Errorf("--json not supported for interactive chat"))
			}
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				return writeCommandError(cmd, fmt.Errorf("chat needs a terminal; use 'murmur watch' instead"))
			}
			quiet, _ := cmd.Flags().GetBool("no-notify")

			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			logFile, err := os.OpenFile(filepath.Join(ctx.Workspace.Dir, "chat.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer logFile.Close()
			logger.SetOutput(logFile, ctx.Config.LogLevel)

			m, stopMetrics := ctx.clientMetrics()
			defer stopMetrics()
			client, err := ctx.NewClient(m)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer client.Close()

			if _, err := client.LoadConversations(cmd.Context()); err != nil {
				return writeCommandError(cmd, err)
			}
			ref := stripHash(strings.TrimSpace(args[0]))
			convID, peer := ref, ""
			if !strings.HasPrefix(ref, core.ConversationPrefix+"-") {
				conv, err := client.StartConversation(cmd.Context(), normalizeUserID(ref), nil)
				if err != nil {
					return writeCommandError(cmd, err)
				}
				convID, peer = conv.ID, conv.Peer(ctx.UserID())
			} else {
				conv, err := ctx.Local.Conversation(cmd.Context(), ref)
				if err != nil {
					return writeCommandError(cmd, err)
				}
				peer = conv.Peer(ctx.UserID())
			}

			err = chat.Run(chat.Options{
				Client:         client,
				ConversationID: convID,
				PeerName:       peer,
				ItemHeight:     ctx.Config.ItemHeight,
				Overscan:       ctx.Config.Overscan,
				Notify:         ctx.Config.Notify && !quiet,
				Metrics:        m,
			})
			if err != nil {
				return writeCommandError(cmd, err)
			}
			return nil
		},
	}
	cmd.Flags().Bool("no-notify", false, "no desktop notifications for messages that arrive while scrolled up")
	return cmd
}
