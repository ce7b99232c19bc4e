package command

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/adamavenir/murmur/internal/core"
	"github.com/adamavenir/murmur/internal/logger"
	"github.com/adamavenir/murmur/internal/seal"
	"github.com/adamavenir/murmur/internal/types"
	"github.com/dustin/go-humanize"
	"golang.org/x/term"
)

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatRelative(ms int64) string {
	if ms <= 0 {
		return "never"
	}
	return humanize.Time(time.UnixMilli(ms))
}

func stripHash(value string) string {
	return strings.TrimPrefix(value, "#")
}

func shortID(id string) string {
	if _, rest, ok := strings.Cut(id, "-"); ok {
		return rest
	}
	return id
}

func normalizeUserID(ref string) string {
	return strings.TrimPrefix(strings.TrimSpace(ref), "@")
}

// resolveConversation accepts a conversation id or a peer user id and
// returns the user's conversation, creating it for a peer when create is set.
func resolveConversation(ctx context.Context, c *CommandContext, ref string, create bool) (types.Conversation, error) {
	ref = stripHash(strings.TrimSpace(ref))
	if strings.HasPrefix(ref, core.ConversationPrefix+"-") {
		return c.Local.Conversation(ctx, ref)
	}
	peer := normalizeUserID(ref)
	convs, err := c.Local.ListConversations(ctx, c.UserID())
	if err != nil {
		return types.Conversation{}, err
	}
	for _, conv := range convs {
		if conv.Has(peer) && !conv.Tombstoned {
			return conv, nil
		}
	}
	if !create {
		return types.Conversation{}, fmt.Errorf("no conversation with %s: %w", peer, types.ErrNotFound)
	}
	return c.Local.EnsureConversation(ctx, c.UserID(), peer, nil)
}

// opener decrypts sealed messages for display. It prompts for the
// passphrase at most once.
type opener struct {
	c      *CommandContext
	ring   *seal.Keyring
	loaded bool
}

func (o *opener) open(msg types.Message) types.Message {
	if msg.Sealed == nil || msg.Deleted {
		return msg
	}
	if !o.loaded {
		o.loaded = true
		ring, err := o.c.Keyring()
		if err != nil {
			logger.Warn("could not load keys", "err", err)
		}
		o.ring = ring
	}
	if o.ring == nil {
		return msg
	}
	opened, err := o.ring.Open(msg)
	if err != nil {
		logger.Warn("could not open sealed message", "message", msg.ID, "err", err)
		return msg
	}
	return opened
}

func (o *opener) seal(conv types.Conversation, msg types.Message) (types.Message, error) {
	if !conv.Encrypted {
		return msg, nil
	}
	if !o.loaded {
		o.loaded = true
		ring, err := o.c.Keyring()
		if err != nil {
			return types.Message{}, err
		}
		o.ring = ring
	}
	if o.ring == nil {
		return types.Message{}, fmt.Errorf("conversation %s is encrypted: %w", conv.ID, seal.ErrNoKey)
	}
	return o.ring.Seal(msg)
}

func messageText(msg types.Message) string {
	if msg.Deleted {
		return "[deleted]"
	}
	if msg.Sealed != nil {
		return "[encrypted]"
	}
	switch body := msg.Body.(type) {
	case types.ImageBody:
		return strings.TrimSpace("[image " + body.MediaRef + "] " + body.Caption)
	case types.VoiceBody:
		return strings.TrimSpace("[voice " + body.MediaRef + "] " + body.Caption)
	case types.FileBody:
		return strings.TrimSpace(fmt.Sprintf("[file %s %s] %s", body.Name, humanize.Bytes(uint64(body.Size)), body.Caption))
	}
	return msg.Content()
}

func formatMessage(msg types.Message, reactions []types.ReactionAggregate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[#%s] %s · %s", shortID(msg.ID), msg.SenderID, formatRelative(msg.CreatedAt))
	if msg.EditedAt != nil && !msg.Deleted {
		b.WriteString(" (edited)")
	}
	if msg.ReplyTo != nil {
		fmt.Fprintf(&b, " ↳ #%s", shortID(*msg.ReplyTo))
	}
	b.WriteString("\n  ")
	b.WriteString(strings.ReplaceAll(messageText(msg), "\n", "\n  "))
	if len(reactions) > 0 {
		parts := make([]string, 0, len(reactions))
		for _, agg := range reactions {
			parts = append(parts, fmt.Sprintf("%s %d", agg.Emoji, agg.Count))
		}
		b.WriteString("\n  " + strings.Join(parts, "  "))
	}
	return b.String()
}

var stdinLines = bufio.NewReader(os.Stdin)

// readPassphrase reads MURMUR_PASSPHRASE, or prompts without echo when
// stdin is a terminal.
func readPassphrase(prompt string) ([]byte, error) {
	if env := os.Getenv("MURMUR_PASSPHRASE"); env != "" {
		return []byte(env), nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := stdinLines.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, err
		}
		return []byte(strings.TrimRight(line, "\r\n")), nil
	}
	fmt.Fprint(os.Stderr, prompt+": ")
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	return pass, nil
}
