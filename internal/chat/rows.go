package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/adamavenir/murmur/internal/render"
	"github.com/adamavenir/murmur/internal/types"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/dustin/go-humanize"
)

const (
	defaultItemHeight = 3
	maxReplyPreview   = 8
)

// row is a recycled render node. Its line buffer is reused by whichever
// message it is bound to next.
type row struct {
	id    string
	lines []string
	zones []string
}

// messageList mirrors the conversation log into a virtualizer. Items are
// matched across syncs by local sequence number.
type messageList struct {
	virt *render.Virtualizer
	rows *render.Recycler[*row]
	msgs []types.Message
}

func newMessageList(itemHeight, overscan int) *messageList {
	if itemHeight <= 0 {
		itemHeight = defaultItemHeight
	}
	if overscan <= 0 {
		overscan = render.DefaultOverscan
	}
	return &messageList{
		virt: render.New(render.Config{ItemHeight: itemHeight, Overscan: overscan, Measured: true}),
		rows: render.NewRecycler(func() *row { return &row{} }),
	}
}

// syncResult reports how the list moved.
type syncResult struct {
	Prepended int
	Appended  []types.Message
	Followed  bool
}

// sync folds a new snapshot of the log into the layout. Older pages land
// above the viewport without moving it; new messages follow the bottom only
// when the reader is already there.
func (l *messageList) sync(msgs []types.Message, initial bool) syncResult {
	old := l.msgs
	l.msgs = msgs
	if initial || len(old) == 0 {
		l.virt.Reset()
		l.virt.Append(len(msgs), nil)
		l.virt.ScrollToBottom()
		return syncResult{Followed: true}
	}

	present := make(map[int64]struct{}, len(msgs))
	for _, msg := range msgs {
		present[msg.Seq] = struct{}{}
	}
	for i := len(old) - 1; i >= 0; i-- {
		if _, ok := present[old[i].Seq]; !ok {
			l.virt.Remove(i)
		}
	}

	kept := make(map[int64]struct{}, len(old))
	for _, msg := range old {
		if _, ok := present[msg.Seq]; ok {
			kept[msg.Seq] = struct{}{}
		}
	}
	if len(kept) == 0 {
		l.virt.Reset()
		l.virt.Append(len(msgs), nil)
		l.virt.ScrollToBottom()
		return syncResult{Appended: msgs, Followed: true}
	}

	var res syncResult
	var first, last int64
	seen := false
	for _, msg := range msgs {
		if _, ok := kept[msg.Seq]; ok {
			if !seen {
				first, seen = msg.Seq, true
			}
			last = msg.Seq
		}
	}
	middle := false
	for _, msg := range msgs {
		if _, ok := kept[msg.Seq]; ok {
			continue
		}
		switch {
		case msg.Seq < first:
			res.Prepended++
		case msg.Seq > last:
			res.Appended = append(res.Appended, msg)
		default:
			middle = true
		}
	}

	if middle {
		l.relayout(old)
		res.Followed = l.virt.AtBottom()
		return res
	}
	if res.Prepended > 0 {
		l.virt.Prepend(res.Prepended, nil)
		l.rows.Shift(res.Prepended)
	}
	res.Followed = l.virt.Append(len(res.Appended), nil)
	return res
}

// relayout rebuilds the layout and puts the first visible message of the
// previous snapshot back at the top of the viewport.
func (l *messageList) relayout(old []types.Message) {
	anchor := int64(0)
	if vis := l.virt.Visible(); vis.Len() > 0 && vis.Start < len(old) {
		anchor = old[vis.Start].Seq
	}
	bottom := l.virt.AtBottom()
	l.virt.Reset()
	l.virt.Append(len(l.msgs), nil)
	if bottom {
		l.virt.ScrollToBottom()
		return
	}
	for i, msg := range l.msgs {
		if msg.Seq >= anchor {
			l.virt.ScrollTo(l.virt.OffsetOf(i))
			return
		}
	}
}

// rowRenderer produces the lines and click zones for one message.
type rowRenderer func(msg types.Message, r *row)

// materialize renders the rows in the window, records their heights and
// returns the visible lines.
func (l *messageList) materialize(viewport int, draw rowRenderer) []string {
	l.virt.SetViewport(viewport)
	for pass := 0; pass < 3; pass++ {
		w := l.virt.Window()
		bound := l.rows.Sync(w)
		changed := false
		for i := w.Start; i < w.End; i++ {
			r := bound[i]
			draw(l.msgs[i], r)
			if len(r.lines) != l.virt.HeightOf(i) {
				l.virt.Measure(i, len(r.lines))
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	vis := l.virt.Visible()
	offset := l.virt.Offset()
	lines := make([]string, 0, viewport)
	for i := vis.Start; i < vis.End && len(lines) < viewport; i++ {
		r, ok := l.rows.Node(i)
		if !ok {
			continue
		}
		top := l.virt.OffsetOf(i)
		for j, line := range r.lines {
			if top+j < offset {
				continue
			}
			if len(lines) == viewport {
				break
			}
			lines = append(lines, line)
		}
	}
	return lines
}

// zonesInWindow lists the click zones of the bound rows.
func (l *messageList) zonesInWindow() []string {
	var out []string
	w := l.virt.Window()
	for i := w.Start; i < w.End; i++ {
		if r, ok := l.rows.Node(i); ok {
			out = append(out, r.zones...)
		}
	}
	return out
}

func (m *Model) renderRow(width int) rowRenderer {
	return func(msg types.Message, r *row) {
		r.id = msg.ID
		r.lines = r.lines[:0]
		r.zones = r.zones[:0]
		mark := func(id, text string) string {
			r.zones = append(r.zones, id)
			return m.zones.Mark(id, text)
		}

		name := msg.SenderID
		if msg.SenderID == m.selfID {
			name = "you"
		}
		header := lipgloss.NewStyle().Foreground(colorForUser(msg.SenderID, m.selfID)).Bold(true).Render(name)
		meta := []string{humanize.Time(time.UnixMilli(msg.CreatedAt)), "#" + shortRef(msg.ID)}
		if msg.EditedAt != nil && !msg.Deleted {
			meta = append(meta, "edited")
		}
		header += dimStyle.Render(" · " + strings.Join(meta, " · "))
		switch msg.Status {
		case types.StatusPending:
			header += dimStyle.Render(" · sending…")
		case types.StatusFailed:
			header += " " + errorStyle.Render("failed") + " " +
				mark("retry:"+msg.ID, dimStyle.Render("[retry]")) + " " +
				mark("discard:"+msg.ID, dimStyle.Render("[discard]"))
		}
		r.lines = append(r.lines, header)

		if msg.ReplyTo != nil {
			r.lines = append(r.lines, dimStyle.Render("↳ reply to #"+shortRef(*msg.ReplyTo)))
		}
		r.lines = append(r.lines, strings.Split(ansi.Wrap(bodyText(msg), width, ""), "\n")...)

		var footer []string
		for _, agg := range m.view.Reactions(msg.ID) {
			style := reactionStyle
			if agg.HasCurrentUserReacted {
				style = mineStyle
			}
			footer = append(footer, mark("react:"+msg.ID+":"+agg.Emoji, style.Render(fmt.Sprintf("%s %d", agg.Emoji, agg.Count))))
		}
		if n := m.view.ReplyCount(msg.ID); n > 0 && !msg.IsReply() {
			footer = append(footer, mark("thread:"+msg.ID, dimStyle.Render(humanize.Comma(int64(n))+" "+plural(n, "reply", "replies"))))
		}
		if len(footer) > 0 {
			r.lines = append(r.lines, strings.Join(footer, "  "))
		}
		r.lines = append(r.lines, "")
	}
}

func bodyText(msg types.Message) string {
	if msg.Deleted {
		return deletedStyle.Render("message deleted")
	}
	if msg.Sealed != nil {
		return deletedStyle.Render("🔒 encrypted message")
	}
	switch body := msg.Body.(type) {
	case types.TextBody:
		return highlightCodeBlocks(body.Text)
	case types.ImageBody:
		return mediaLine("image", body.Caption, body.MediaRef)
	case types.VoiceBody:
		label := "voice"
		if body.DurationMs > 0 {
			label = fmt.Sprintf("voice %s", time.Duration(body.DurationMs)*time.Millisecond)
		}
		return mediaLine(label, body.Caption, body.MediaRef)
	case types.FileBody:
		label := "file " + body.Name
		if body.Size > 0 {
			label += " " + humanize.Bytes(uint64(body.Size))
		}
		return mediaLine(label, body.Caption, body.MediaRef)
	}
	return msg.Content()
}

func mediaLine(label, caption, ref string) string {
	line := dimStyle.Render("[" + label + "] " + ref)
	if caption != "" {
		line = caption + "\n" + line
	}
	return line
}

func shortRef(id string) string {
	ref := shortID(id)
	if len(ref) > 8 {
		ref = ref[:8]
	}
	return ref
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
