package chat

import (
	"fmt"
	"strings"
	"testing"

	"github.com/adamavenir/murmur/internal/types"
)

func seqMessages(from, to int64) []types.Message {
	var out []types.Message
	for seq := from; seq <= to; seq++ {
		out = append(out, types.Message{
			ID:       fmt.Sprintf("msg-%04d", seq),
			SenderID: "usr-a",
			Body:     types.Text(fmt.Sprintf("message %d", seq)),
			Seq:      seq,
		})
	}
	return out
}

func twoLines(msg types.Message, r *row) {
	r.id = msg.ID
	r.lines = append(r.lines[:0], msg.ID, msg.Content())
}

func TestMessageListFollowsBottom(t *testing.T) {
	l := newMessageList(2, 1)
	l.sync(seqMessages(1, 20), true)
	l.materialize(6, twoLines)
	if !l.virt.AtBottom() {
		t.Fatal("initial sync should start at the bottom")
	}

	res := l.sync(seqMessages(1, 22), false)
	if !res.Followed || len(res.Appended) != 2 {
		t.Fatalf("append at bottom: %+v", res)
	}
	lines := l.materialize(6, twoLines)
	if last := lines[len(lines)-1]; last != "message 22" {
		t.Fatalf("last visible line = %q", last)
	}
}

func TestMessageListHoldsPositionWhenScrolledUp(t *testing.T) {
	l := newMessageList(2, 1)
	l.sync(seqMessages(1, 20), true)
	l.materialize(6, twoLines)
	l.virt.ScrollTo(10)
	before := l.materialize(6, twoLines)

	res := l.sync(seqMessages(1, 23), false)
	if res.Followed || len(res.Appended) != 3 {
		t.Fatalf("append while scrolled up: %+v", res)
	}
	after := l.materialize(6, twoLines)
	if strings.Join(before, "|") != strings.Join(after, "|") {
		t.Fatalf("viewport moved:\n%v\n%v", before, after)
	}
}

func TestMessageListPrependKeepsAnchor(t *testing.T) {
	l := newMessageList(2, 1)
	l.sync(seqMessages(1, 10), true)
	l.virt.ScrollTo(0)
	before := l.materialize(4, twoLines)

	res := l.sync(seqMessages(-4, 10), false)
	if res.Prepended != 5 {
		t.Fatalf("prepended = %d, want 5", res.Prepended)
	}
	after := l.materialize(4, twoLines)
	if before[0] != after[0] {
		t.Fatalf("first visible line changed from %q to %q", before[0], after[0])
	}
}

func TestMessageListRemoval(t *testing.T) {
	l := newMessageList(2, 1)
	msgs := seqMessages(1, 5)
	l.sync(msgs, true)
	l.materialize(20, twoLines)

	l.sync(append(append([]types.Message{}, msgs[:2]...), msgs[3:]...), false)
	if l.virt.Count() != 4 {
		t.Fatalf("count = %d, want 4", l.virt.Count())
	}
	lines := l.materialize(20, twoLines)
	for _, line := range lines {
		if line == "msg-0003" {
			t.Fatal("removed message still rendered")
		}
	}
}

func TestMessageListRecyclesRows(t *testing.T) {
	l := newMessageList(2, 1)
	l.sync(seqMessages(1, 200), true)
	l.materialize(6, twoLines)
	for i := 0; i < 50; i++ {
		l.virt.ScrollBy(-4)
		l.materialize(6, twoLines)
	}
	if created := l.rows.Created(); created > 8 {
		t.Fatalf("built %d rows for a 6-line viewport", created)
	}
}

func TestBodyText(t *testing.T) {
	tests := []struct {
		name string
		msg  types.Message
		want string
	}{
		{name: "text", msg: types.Message{Body: types.Text("hi")}, want: "hi"},
		{name: "deleted", msg: types.Message{Body: types.Text(""), Deleted: true}, want: "message deleted"},
		{name: "sealed", msg: types.Message{Sealed: &types.Sealed{}}, want: "encrypted message"},
		{name: "file", msg: types.Message{Body: types.FileBody{MediaRef: "media:x.pdf", Name: "x.pdf", Size: 2048}}, want: "file x.pdf 2.0 kB"},
		{name: "image caption", msg: types.Message{Body: types.ImageBody{MediaRef: "media:a.png", Caption: "look"}}, want: "look"},
	}
	for _, tt := range tests {
		if got := bodyText(tt.msg); !strings.Contains(got, tt.want) {
			t.Fatalf("%s: %q does not contain %q", tt.name, got, tt.want)
		}
	}
}

func TestKindFor(t *testing.T) {
	if kindFor("image/png") != types.KindImage || kindFor("audio/ogg") != types.KindVoice || kindFor("") != types.KindFile {
		t.Fatal("unexpected kind mapping")
	}
}
