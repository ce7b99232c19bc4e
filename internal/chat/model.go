package chat

import (
	"context"
	"fmt"

	"github.com/adamavenir/murmur/internal/engine"
	"github.com/adamavenir/murmur/internal/metrics"
	"github.com/adamavenir/murmur/internal/render"
	"github.com/adamavenir/murmur/internal/types"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	zone "github.com/lrstanley/bubblezone"
)

// Options configure chat.
type Options struct {
	Client         *engine.Client
	ConversationID string
	PeerName       string
	ItemHeight     int
	Overscan       int
	Notify         bool
	Metrics        *metrics.Metrics
}

// Run starts the chat UI.
func Run(opts Options) error {
	model, err := NewModel(opts)
	if err != nil {
		return err
	}
	fmt.Printf("\033]0;%s\007", "murmur · "+model.peer)

	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err = program.Run()
	model.Close()
	return err
}

// Model implements the chat UI for one conversation.
type Model struct {
	client *engine.Client
	view   *engine.View
	selfID string
	peer   string
	notify bool
	gauge  *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	input    textarea.Model
	list     *messageList
	arrivals render.Arrivals
	zones    *zone.Manager
	clicks   []string

	status       string
	results      []types.Message
	thread       string
	loadingOlder bool
	lastInput    string
	width        int
	height       int
}

type changesMsg struct{ changes []engine.Change }

type olderMsg struct {
	n   int
	err error
}

type threadMsg struct {
	parent string
	n      int
	err    error
}

type searchMsg struct {
	query   string
	results []types.Message
	err     error
}

type errMsg struct{ err error }

// NewModel opens the conversation and builds the initial list.
func NewModel(opts Options) (*Model, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("chat needs a client")
	}
	view, err := opts.Client.Open(opts.ConversationID)
	if err != nil {
		return nil, err
	}
	peer := opts.PeerName
	if peer == "" {
		peer = opts.ConversationID
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Model{
		client: opts.Client,
		view:   view,
		selfID: opts.Client.SelfID(),
		peer:   peer,
		notify: opts.Notify,
		gauge:  opts.Metrics,
		ctx:    ctx,
		cancel: cancel,
		input:  newInputModel(),
		list:   newMessageList(opts.ItemHeight, opts.Overscan),
		zones:  zone.New(),
	}
	m.list.sync(view.Messages(), true)
	return m, nil
}

func newInputModel() textarea.Model {
	input := textarea.New()
	input.Placeholder = "message (/help for commands)"
	input.Prompt = "› "
	input.ShowLineNumbers = false
	input.CharLimit = 0
	input.SetHeight(2)
	input.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("ctrl+j"))
	input.FocusedStyle.CursorLine = lipgloss.NewStyle()
	input.Focus()
	return input
}

// Close releases the view and stops pending commands.
func (m *Model) Close() {
	m.cancel()
	if err := m.view.Close(); err != nil {
		m.status = err.Error()
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.waitForChanges(), m.markRead())
}

func (m *Model) waitForChanges() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.ctx.Done():
			return nil
		case <-m.client.Changes():
			return changesMsg{changes: m.client.Drain()}
		}
	}
}

func (m *Model) markRead() tea.Cmd {
	view := m.view
	return func() tea.Msg {
		if err := view.MarkAsRead(); err != nil {
			return errMsg{err: err}
		}
		return nil
	}
}

func (m *Model) loadOlder() tea.Cmd {
	if m.loadingOlder || !m.view.HasMore() {
		return nil
	}
	m.loadingOlder = true
	m.status = "loading older messages…"
	ctx, view := m.ctx, m.view
	return func() tea.Msg {
		n, err := view.LoadOlder(ctx)
		return olderMsg{n: n, err: err}
	}
}

func (m *Model) openThread(parentID string) tea.Cmd {
	ctx, view := m.ctx, m.view
	return func() tea.Msg {
		n, err := view.OpenThread(ctx, parentID)
		return threadMsg{parent: parentID, n: n, err: err}
	}
}
