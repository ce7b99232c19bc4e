package command

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/adamavenir/murmur/internal/core"
	"github.com/adamavenir/murmur/internal/media"
	"github.com/adamavenir/murmur/internal/types"
	"github.com/spf13/cobra"
)

// NewSendCmd creates the send command.
func NewSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <user|conversation> [text...]",
		Short: "Send a message, starting the conversation if needed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			replyRef, _ := cmd.Flags().GetString("reply")
			attach, _ := cmd.Flags().GetString("attach")
			text := strings.TrimSpace(strings.Join(args[1:], " "))

			conv, err := resolveConversation(cmd.Context(), ctx, args[0], true)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			var body types.Body = types.Text(text)
			if attach != "" {
				body, err = uploadAttachment(cmd, ctx, attach, text)
				if err != nil {
					return writeCommandError(cmd, err)
				}
			} else if text == "" {
				return writeCommandError(cmd, &types.ValidationError{Field: "content", Reason: "message is empty"})
			}

			msg := types.Message{
				ClientID:       core.NewCorrelationKey(),
				ConversationID: conv.ID,
				SenderID:       ctx.UserID(),
				Body:           body,
			}
			if replyRef != "" {
				parent, err := ctx.Local.ResolveMessage(cmd.Context(), replyRef)
				if err != nil {
					return writeCommandError(cmd, err)
				}
				root := parent.ID
				if parent.ReplyTo != nil {
					root = *parent.ReplyTo
				}
				msg.ReplyTo = &root
			}

			o := &opener{c: ctx}
			sealed, err := o.seal(conv, msg)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			created, err := ctx.Local.SendMessage(cmd.Context(), sealed)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			created = o.open(created)

			if ctx.JSONMode {
				return printJSON(cmd.OutOrStdout(), created)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[#%s] sent to %s\n", shortID(created.ID), conv.Peer(ctx.UserID()))
			return nil
		},
	}
	cmd.Flags().String("reply", "", "reply to a message id")
	cmd.Flags().String("attach", "", "attach a file; the text becomes its caption")
	return cmd
}

func uploadAttachment(cmd *cobra.Command, ctx *CommandContext, path, caption string) (types.Body, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	name := filepath.Base(path)
	contentType := mime.TypeByExtension(filepath.Ext(path))
	store := media.NewDirStore(ctx.Workspace.MediaDir(), media.DefaultMaxSize)
	ref, err := store.Upload(cmd.Context(), name, contentType, f)
	if err != nil {
		return nil, &types.MediaUploadError{Name: name, Err: err}
	}
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return types.ImageBody{MediaRef: ref, Caption: caption}, nil
	case strings.HasPrefix(contentType, "audio/"):
		return types.VoiceBody{MediaRef: ref, Caption: caption}, nil
	}
	return types.FileBody{MediaRef: ref, Name: name, Size: info.Size(), Caption: caption}, nil
}
