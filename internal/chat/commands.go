package chat

import (
	"fmt"
	"strings"

	"github.com/adamavenir/murmur/internal/types"
)

type command struct {
	name string
	ref  string
	arg  string
}

const helpText = "/edit [#id] text · /rm [#id] · /react emoji [#id] · /reply #id text · /retry · /discard · " +
	"/thread #id · /copy [#id] · /search text · /attach path [caption] · /older · /quit"

// parseCommand turns the input line into a command. Plain text is a send.
func parseCommand(input string) (command, error) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return command{name: "send", arg: input}, nil
	}
	name, rest, _ := strings.Cut(input[1:], " ")
	rest = strings.TrimSpace(rest)

	switch name {
	case "quit", "q", "older", "help":
		return command{name: name}, nil
	case "rm", "retry", "discard", "thread", "copy":
		return command{name: name, ref: rest}, nil
	case "search":
		return command{name: name, arg: rest}, nil
	case "edit":
		if strings.HasPrefix(rest, "#") {
			ref, text, _ := strings.Cut(rest, " ")
			return command{name: name, ref: ref, arg: strings.TrimSpace(text)}, nil
		}
		return command{name: name, arg: rest}, nil
	case "react":
		emoji, ref, _ := strings.Cut(rest, " ")
		if emoji == "" {
			return command{}, fmt.Errorf("usage: /react emoji [#id]")
		}
		return command{name: name, arg: emoji, ref: strings.TrimSpace(ref)}, nil
	case "reply":
		ref, text, _ := strings.Cut(rest, " ")
		if ref == "" || strings.TrimSpace(text) == "" {
			return command{}, fmt.Errorf("usage: /reply #id text")
		}
		return command{name: name, ref: ref, arg: strings.TrimSpace(text)}, nil
	case "attach":
		path, caption, _ := strings.Cut(rest, " ")
		if path == "" {
			return command{}, fmt.Errorf("usage: /attach path [caption]")
		}
		return command{name: name, ref: path, arg: strings.TrimSpace(caption)}, nil
	}
	return command{}, fmt.Errorf("unknown command /%s (try /help)", name)
}

// resolveRef finds the message a command points at. An empty ref picks the
// newest message accepted by fallback.
func resolveRef(msgs []types.Message, ref string, fallback func(types.Message) bool) (types.Message, error) {
	ref = strings.TrimPrefix(strings.TrimSpace(ref), "#")
	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		if ref == "" {
			if fallback(msg) {
				return msg, nil
			}
			continue
		}
		if msg.ID == ref || strings.HasPrefix(shortID(msg.ID), ref) {
			return msg, nil
		}
	}
	if ref == "" {
		return types.Message{}, fmt.Errorf("no matching message")
	}
	return types.Message{}, fmt.Errorf("no message #%s", ref)
}

// shortID strips the id prefix, leaving the part users type.
func shortID(id string) string {
	if _, rest, ok := strings.Cut(id, "-"); ok {
		return rest
	}
	return id
}
