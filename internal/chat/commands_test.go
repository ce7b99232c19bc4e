package chat

import (
	"testing"

	"github.com/adamavenir/murmur/internal/types"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input string
		want  command
		err   bool
	}{
		{input: "hello there", want: command{name: "send", arg: "hello there"}},
		{input: "/edit fixed typo", want: command{name: "edit", arg: "fixed typo"}},
		{input: "/edit #ab12 fixed", want: command{name: "edit", ref: "#ab12", arg: "fixed"}},
		{input: "/react 👍", want: command{name: "react", arg: "👍"}},
		{input: "/react 🎉 #ab12", want: command{name: "react", arg: "🎉", ref: "#ab12"}},
		{input: "/reply #ab12 sure", want: command{name: "reply", ref: "#ab12", arg: "sure"}},
		{input: "/reply #ab12", err: true},
		{input: "/attach ./a.png look", want: command{name: "attach", ref: "./a.png", arg: "look"}},
		{input: "/rm", want: command{name: "rm"}},
		{input: "/copy #ab12", want: command{name: "copy", ref: "#ab12"}},
		{input: "/search  lunch ", want: command{name: "search", arg: "lunch"}},
		{input: "/react", err: true},
		{input: "/dance", err: true},
	}
	for _, tt := range tests {
		got, err := parseCommand(tt.input)
		if (err != nil) != tt.err {
			t.Fatalf("%q: unexpected error %v", tt.input, err)
		}
		if !tt.err && got != tt.want {
			t.Fatalf("%q: got %+v, want %+v", tt.input, got, tt.want)
		}
	}
}

func TestResolveRef(t *testing.T) {
	msgs := []types.Message{
		{ID: "msg-aaaa1111", SenderID: "usr-a"},
		{ID: "msg-bbbb2222", SenderID: "usr-b"},
		{ID: "msg-cccc3333", SenderID: "usr-a", Status: types.StatusFailed},
	}
	mine := func(m types.Message) bool { return m.SenderID == "usr-b" }

	got, err := resolveRef(msgs, "", mine)
	if err != nil || got.ID != "msg-bbbb2222" {
		t.Fatalf("fallback: got %s (%v)", got.ID, err)
	}
	got, err = resolveRef(msgs, "#aaaa", mine)
	if err != nil || got.ID != "msg-aaaa1111" {
		t.Fatalf("prefix: got %s (%v)", got.ID, err)
	}
	if _, err := resolveRef(msgs, "#zzzz", mine); err == nil {
		t.Fatal("expected miss")
	}
	if _, err := resolveRef(nil, "", mine); err == nil {
		t.Fatal("expected no match on empty list")
	}
}

func TestHighlightLeavesPlainTextAlone(t *testing.T) {
	plain := "no code here"
	if got := highlightCodeBlocks(plain); got != plain {
		t.Fatalf("plain text changed: %q", got)
	}
	open := "```go\nfunc main() {}"
	if got := highlightCodeBlocks(open); got != open {
		t.Fatalf("unterminated fence changed: %q", got)
	}
}

func TestCopyText(t *testing.T) {
	tests := []struct {
		name string
		msg  types.Message
		want string
		err  bool
	}{
		{name: "text", msg: types.Message{Body: types.Text("hello")}, want: "hello"},
		{name: "image", msg: types.Message{Body: types.ImageBody{MediaRef: "med-1", Caption: "cat"}}, want: "med-1\ncat"},
		{name: "voice", msg: types.Message{Body: types.VoiceBody{MediaRef: "med-2"}}, want: "med-2"},
		{name: "deleted", msg: types.Message{Body: types.Text(""), Deleted: true}, err: true},
		{name: "sealed", msg: types.Message{Sealed: &types.Sealed{}}, err: true},
	}
	for _, tt := range tests {
		got, err := copyText(tt.msg)
		if (err != nil) != tt.err {
			t.Fatalf("%s: unexpected error %v", tt.name, err)
		}
		if got != tt.want {
			t.Fatalf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}
}
