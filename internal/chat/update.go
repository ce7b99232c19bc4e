package chat

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/adamavenir/murmur/internal/engine"
	"github.com/adamavenir/murmur/internal/search"
	"github.com/adamavenir/murmur/internal/types"
	tea "github.com/charmbracelet/bubbletea"
)

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.SetWidth(msg.Width)
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.MouseMsg:
		return m.handleMouse(msg)
	case changesMsg:
		return m, tea.Batch(m.handleChanges(msg.changes), m.waitForChanges())
	case olderMsg:
		m.loadingOlder = false
		m.status = ""
		if msg.err != nil {
			m.status = describeError(msg.err)
		} else if msg.n == 0 {
			m.status = "no older messages"
		}
		m.list.sync(m.view.Messages(), false)
		return m, nil
	case threadMsg:
		if msg.err != nil {
			m.status = describeError(msg.err)
			return m, nil
		}
		m.thread = msg.parent
		m.results = nil
		m.status = fmt.Sprintf("thread #%s · %d loaded · esc to close", shortRef(msg.parent), msg.n)
		return m, nil
	case searchMsg:
		if msg.err != nil {
			m.status = describeError(msg.err)
			return m, nil
		}
		m.results = msg.results
		m.thread = ""
		m.status = fmt.Sprintf("%d %s for %q · esc to close", len(msg.results), plural(len(msg.results), "match", "matches"), msg.query)
		return m, nil
	case errMsg:
		m.status = describeError(msg.err)
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleChanges(changes []engine.Change) tea.Cmd {
	var cmds []tea.Cmd
	for _, change := range changes {
		for _, notice := range change.Notices {
			m.status = notice
		}
		if change.ConversationID != m.view.ID() {
			continue
		}
		if !change.What.Has(engine.ChangedMessages) {
			continue
		}
		res := m.list.sync(m.view.Messages(), false)
		if res.Followed {
			m.arrivals.Clear()
			cmds = append(cmds, m.markRead())
			continue
		}
		for _, msg := range res.Appended {
			if msg.SenderID == m.selfID {
				continue
			}
			m.arrivals.Add(msg.SenderID)
			if m.notify {
				sendNotification(msg.SenderID, msg.Content())
			}
		}
	}
	return tea.Batch(cmds...)
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		switch {
		case m.thread != "":
			m.view.CloseThread(m.thread)
			m.thread = ""
		case m.results != nil:
			m.results = nil
		default:
			m.input.Reset()
		}
		m.status = ""
		return m, nil
	case "enter":
		return m.submit()
	case "pgup":
		return m, m.scroll(-m.list.virt.Viewport())
	case "pgdown":
		return m, m.scroll(m.list.virt.Viewport())
	case "ctrl+up":
		return m, m.scroll(-1)
	case "ctrl+down":
		return m, m.scroll(1)
	case "end":
		if m.input.Value() == "" {
			m.list.virt.ScrollToBottom()
			return m, m.scroll(0)
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if value := m.input.Value(); value != m.lastInput {
		m.lastInput = value
		if value != "" && !strings.HasPrefix(value, "/") {
			m.view.SetTyping()
		}
	}
	return m, cmd
}

// scroll moves the list and reacts to reaching either end.
func (m *Model) scroll(delta int) tea.Cmd {
	m.list.virt.ScrollBy(delta)
	if m.list.virt.AtBottom() {
		if m.arrivals.Count() > 0 {
			m.arrivals.Clear()
			return m.markRead()
		}
		return nil
	}
	if m.list.virt.Offset() == 0 {
		return m.loadOlder()
	}
	return nil
}

func (m *Model) handleMouse(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	switch msg.Button {
	case tea.MouseButtonWheelUp:
		return m, m.scroll(-1)
	case tea.MouseButtonWheelDown:
		return m, m.scroll(1)
	}
	if msg.Action != tea.MouseActionPress || msg.Button != tea.MouseButtonLeft {
		return m, nil
	}
	for _, id := range m.clicks {
		if !m.zones.Get(id).InBounds(msg) {
			continue
		}
		return m, m.click(id)
	}
	return m, nil
}

func (m *Model) click(id string) tea.Cmd {
	action, rest, _ := strings.Cut(id, ":")
	var err error
	switch action {
	case "arrivals":
		m.list.virt.ScrollToBottom()
		return m.scroll(0)
	case "react":
		messageID, emoji, _ := strings.Cut(rest, ":")
		err = m.view.ToggleReaction(messageID, emoji)
	case "retry":
		_, err = m.view.Retry(rest)
	case "discard":
		err = m.view.Discard(rest)
	case "thread":
		return m.openThread(rest)
	}
	if err != nil {
		m.status = describeError(err)
	}
	return nil
}

func (m *Model) submit() (tea.Model, tea.Cmd) {
	value := strings.TrimSpace(m.input.Value())
	if value == "" {
		return m, nil
	}
	cmd, err := parseCommand(value)
	if err != nil {
		m.status = err.Error()
		return m, nil
	}
	m.input.Reset()
	m.lastInput = ""
	m.status = ""

	msgs := m.view.Messages()
	mine := func(msg types.Message) bool { return msg.SenderID == m.selfID && !msg.Deleted }
	live := func(msg types.Message) bool { return !msg.Deleted && msg.Status != types.StatusFailed }
	failed := func(msg types.Message) bool { return msg.SenderID == m.selfID && msg.Status == types.StatusFailed }

	switch cmd.name {
	case "quit", "q":
		return m, tea.Quit
	case "help":
		m.status = helpText
	case "older":
		return m, m.loadOlder()
	case "send":
		_, err = m.view.Send(cmd.arg)
		if err == nil {
			m.list.virt.ScrollToBottom()
		}
	case "edit":
		var target types.Message
		if target, err = resolveRef(msgs, cmd.ref, mine); err == nil {
			err = m.view.Edit(target.ID, cmd.arg)
		}
	case "rm":
		var target types.Message
		if target, err = resolveRef(msgs, cmd.ref, mine); err == nil {
			err = m.view.Delete(target.ID)
		}
	case "react":
		var target types.Message
		if target, err = resolveRef(msgs, cmd.ref, live); err == nil {
			err = m.view.ToggleReaction(target.ID, cmd.arg)
		}
	case "reply":
		var target types.Message
		if target, err = resolveRef(msgs, cmd.ref, live); err == nil {
			_, err = m.view.Reply(target.ID, cmd.arg)
		}
	case "retry":
		var target types.Message
		if target, err = resolveRef(msgs, cmd.ref, failed); err == nil {
			_, err = m.view.Retry(target.ID)
		}
	case "discard":
		var target types.Message
		if target, err = resolveRef(msgs, cmd.ref, failed); err == nil {
			err = m.view.Discard(target.ID)
		}
	case "thread":
		var target types.Message
		if target, err = resolveRef(msgs, cmd.ref, live); err == nil {
			return m, m.openThread(target.ID)
		}
	case "copy":
		var target types.Message
		if target, err = resolveRef(msgs, cmd.ref, live); err == nil {
			var text string
			if text, err = copyText(target); err == nil {
				if err = copyToClipboard(text); err == nil {
					m.status = "copied #" + shortRef(target.ID)
				}
			}
		}
	case "search":
		return m, m.search(cmd.arg)
	case "attach":
		return m, m.attach(cmd.ref, cmd.arg)
	}
	if err != nil {
		m.status = describeError(err)
	}
	return m, nil
}

func (m *Model) search(query string) tea.Cmd {
	view := m.view
	return func() tea.Msg {
		results, err := view.Search(search.Filter{Text: query}, search.Options{Relevance: true})
		return searchMsg{query: query, results: results, err: err}
	}
}

func (m *Model) attach(path, caption string) tea.Cmd {
	ctx, view := m.ctx, m.view
	m.status = "uploading " + filepath.Base(path) + "…"
	return func() tea.Msg {
		_, err := sendFile(ctx, view, path, caption)
		if err != nil {
			return errMsg{err: err}
		}
		return nil
	}
}

func sendFile(ctx context.Context, view *engine.View, path, caption string) (types.Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.Message{}, err
	}
	defer f.Close()
	contentType := mime.TypeByExtension(filepath.Ext(path))
	return view.SendMedia(ctx, engine.Attachment{
		Name:        filepath.Base(path),
		ContentType: contentType,
		Kind:        kindFor(contentType),
		Reader:      f,
		Caption:     caption,
	})
}

func kindFor(contentType string) types.MessageKind {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return types.KindImage
	case strings.HasPrefix(contentType, "audio/"):
		return types.KindVoice
	}
	return types.KindFile
}

func describeError(err error) string {
	var (
		validation *types.ValidationError
		permission *types.PermissionError
		conflict   *types.ConflictError
		upload     *types.MediaUploadError
	)
	switch {
	case errors.As(err, &validation):
		return validation.Reason
	case errors.As(err, &permission):
		return "you can only change your own messages"
	case errors.As(err, &conflict):
		return conflict.Notice
	case errors.As(err, &upload):
		return "upload failed: " + upload.Err.Error()
	case types.IsTransient(err):
		return "network trouble, will retry: " + err.Error()
	}
	return err.Error()
}
