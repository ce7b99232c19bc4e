package chat

import (
	"fmt"
	"strings"

	"github.com/adamavenir/murmur/internal/types"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

const maxPanelLines = 8

func (m *Model) View() string {
	if m.width == 0 {
		return ""
	}
	header := m.renderHeader()
	bar := m.renderArrivals()
	typing := m.renderTyping()
	panel := m.renderPanel()
	status := statusStyle.Render(ansi.Truncate(m.status, m.width, "…"))
	input := m.input.View()

	used := 1 + lipgloss.Height(input) + 2
	if bar != "" {
		used++
	}
	if panel != "" {
		used += lipgloss.Height(panel)
	}
	bodyHeight := m.height - used
	if bodyHeight < 1 {
		bodyHeight = 1
	}

	body := m.list.materialize(bodyHeight, m.renderRow(m.width))
	m.clicks = m.list.zonesInWindow()
	if m.gauge != nil {
		m.gauge.Materialized.Set(float64(m.list.rows.Live()))
	}
	for len(body) < bodyHeight {
		body = append([]string{""}, body...)
	}

	lines := []string{header, strings.Join(body, "\n")}
	if bar != "" {
		lines = append(lines, bar)
		m.clicks = append(m.clicks, "arrivals")
	}
	if panel != "" {
		lines = append(lines, panel)
	}
	lines = append(lines, typing, input, status)
	return m.zones.Scan(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m *Model) renderHeader() string {
	left := headerStyle.Render(m.peer)
	state := m.view.Connection()
	right := dimStyle.Render(string(state))
	if state == types.ConnDisconnected {
		right = errorStyle.Render("offline · reconnecting")
	}
	if n := m.client.TotalUnread(); n > 0 {
		right = dimStyle.Render(fmt.Sprintf("%d unread · ", n)) + right
	}
	gap := m.width - ansi.StringWidth(left) - ansi.StringWidth(right)
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + right
}

func (m *Model) renderArrivals() string {
	n := m.arrivals.Count()
	if n == 0 {
		return ""
	}
	text := fmt.Sprintf(" ↓ %d new %s from %s ", n, plural(n, "message", "messages"), strings.Join(m.arrivals.Authors(), ", "))
	text = ansi.Truncate(text, m.width, "…")
	return m.zones.Mark("arrivals", barStyle.Width(m.width).Render(text))
}

func (m *Model) renderTyping() string {
	users := m.view.TypingUsers()
	if len(users) == 0 {
		return ""
	}
	names := make([]string, 0, len(users))
	for _, u := range users {
		name := u.DisplayName
		if name == "" {
			name = u.UserID
		}
		names = append(names, name)
	}
	return dimStyle.Render(strings.Join(names, ", ") + " " + plural(len(names), "is", "are") + " typing…")
}

// renderPanel shows the open thread or the last search results.
func (m *Model) renderPanel() string {
	var title string
	var msgs []types.Message
	switch {
	case m.thread != "":
		title = "thread #" + shortRef(m.thread)
		msgs = m.view.ThreadReplies(m.thread)
	case m.results != nil:
		title = "search"
		msgs = m.results
	default:
		return ""
	}
	lines := []string{headerStyle.Render(title)}
	start := 0
	if len(msgs) > maxPanelLines {
		start = len(msgs) - maxPanelLines
	}
	for _, msg := range msgs[start:] {
		text := strings.Join(strings.Fields(msg.Content()), " ")
		if msg.Deleted {
			text = "message deleted"
		}
		line := dimStyle.Render("#"+shortRef(msg.ID)+" "+msg.SenderID+": ") + text
		lines = append(lines, ansi.Truncate(line, m.width, "…"))
	}
	if len(msgs) == 0 {
		lines = append(lines, dimStyle.Render("nothing here"))
	}
	return strings.Join(lines, "\n")
}
