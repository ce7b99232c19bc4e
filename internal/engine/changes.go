package engine

// ChangeKind is a bit set of what changed in a conversation.
type ChangeKind uint16

const (
	ChangedMessages ChangeKind = 1 << iota
	ChangedReactions
	ChangedThreads
	ChangedTyping
	ChangedConnection
	ChangedConversations
	ChangedNotice
)

// Has reports whether all bits of k are set.
func (c ChangeKind) Has(k ChangeKind) bool { return c&k == k }

// Change is a coalesced notification for one conversation.
type Change struct {
	ConversationID string
	What           ChangeKind
	Notices        []string
}

func (c *Client) emit(conversationID string, what ChangeKind) {
	c.emitNotice(conversationID, what, "")
}

func (c *Client) emitNotice(conversationID string, what ChangeKind, notice string) {
	c.changesMu.Lock()
	ch, ok := c.pending[conversationID]
	if !ok {
		ch = &Change{ConversationID: conversationID}
		c.pending[conversationID] = ch
		c.order = append(c.order, conversationID)
	}
	ch.What |= what
	if notice != "" {
		ch.What |= ChangedNotice
		ch.Notices = append(ch.Notices, notice)
	}
	c.changesMu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Changes signals that Drain has something to return. Signals coalesce.
func (c *Client) Changes() <-chan struct{} { return c.notify }

// Drain returns and clears pending changes, one per conversation, in the
// order conversations first changed.
func (c *Client) Drain() []Change {
	c.changesMu.Lock()
	defer c.changesMu.Unlock()
	out := make([]Change, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.pending[id])
	}
	c.pending = make(map[string]*Change)
	c.order = nil
	return out
}
