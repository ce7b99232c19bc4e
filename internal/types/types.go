package types

import "time"

// MessageKind tags the body variant carried by a message.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindVoice MessageKind = "voice"
	KindFile  MessageKind = "file"
)

// Valid reports whether the kind is one of the known variants.
func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindVoice, KindFile:
		return true
	}
	return false
}

// MessageStatus represents the delivery state of a local message record.
type MessageStatus string

const (
	StatusPending MessageStatus = "pending"
	StatusSent    MessageStatus = "sent"
	StatusFailed  MessageStatus = "failed"
)

// Message represents one logical message in a conversation.
//
// ID holds the temp id (tmp-*) until the service assigns a server id. ClientID
// is the correlation key sent with the persist request and echoed back on the
// matching insert event.
type Message struct {
	ID             string        `json:"id"`
	ClientID       string        `json:"client_id,omitempty"`
	ConversationID string        `json:"conversation_id"`
	SenderID       string        `json:"sender_id"`
	Body           Body          `json:"-"`
	CreatedAt      int64         `json:"created_at"`
	ReadAt         *int64        `json:"read_at,omitempty"`
	EditedAt       *int64        `json:"edited_at,omitempty"`
	Sealed         *Sealed       `json:"sealed,omitempty"`
	Status         MessageStatus `json:"status,omitempty"`
	Seq            int64         `json:"seq,omitempty"`
	ReplyTo        *string       `json:"reply_to,omitempty"`
	Deleted        bool          `json:"deleted,omitempty"`
}

// Kind returns the body variant tag, defaulting to text.
func (m Message) Kind() MessageKind {
	if m.Body == nil {
		return KindText
	}
	return m.Body.Kind()
}

// Content returns the searchable text of the message.
func (m Message) Content() string {
	if m.Body == nil {
		return ""
	}
	return m.Body.Content()
}

// MediaRef returns the attached media reference, if any.
func (m Message) MediaRef() string {
	if m.Body == nil {
		return ""
	}
	return m.Body.Media()
}

// IsReply reports whether the message belongs to a thread.
func (m Message) IsReply() bool {
	return m.ReplyTo != nil && *m.ReplyTo != ""
}

// Sealed is an encrypted message payload. The plaintext body of a sealed
// message is empty on the wire.
type Sealed struct {
	Alg        string `json:"alg"`
	KeyID      string `json:"key_id"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Draft is the input for a new outgoing message.
type Draft struct {
	ConversationID string
	Body           Body
	ReplyTo        *string
}

// Conversation represents a direct conversation between two participants.
type Conversation struct {
	ID            string    `json:"id"`
	Participants  [2]string `json:"participants"`
	ListingID     *string   `json:"listing_id,omitempty"`
	CreatedAt     int64     `json:"created_at"`
	LastMessageAt int64     `json:"last_message_at"`
	UnreadCount   int       `json:"unread_count"`
	Archived      bool      `json:"archived,omitempty"`
	Tombstoned    bool      `json:"tombstoned,omitempty"`
	Encrypted     bool      `json:"encrypted,omitempty"`
}

// Peer returns the participant that is not self.
func (c Conversation) Peer(self string) string {
	if c.Participants[0] == self {
		return c.Participants[1]
	}
	return c.Participants[0]
}

// Has reports whether userID takes part in the conversation.
func (c Conversation) Has(userID string) bool {
	return c.Participants[0] == userID || c.Participants[1] == userID
}

// ReactionEntry records one user's reaction to a message.
type ReactionEntry struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
	UserID    string `json:"user_id"`
	ReactedAt int64  `json:"reacted_at"`
}

// ReactionAggregate is the per-emoji view of reactions on one message.
type ReactionAggregate struct {
	MessageID             string   `json:"message_id"`
	Emoji                 string   `json:"emoji"`
	Users                 []string `json:"users"`
	Count                 int      `json:"count"`
	HasCurrentUserReacted bool     `json:"has_current_user_reacted"`
}

// ThreadSummary carries the server-side count of live replies to a parent
// message as of AsOf (unix ms).
type ThreadSummary struct {
	ParentID   string `json:"parent_id"`
	ReplyCount int    `json:"reply_count"`
	AsOf       int64  `json:"as_of"`
}

// TypingSignal is the wire form of a typing notification.
type TypingSignal struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	DisplayName    string `json:"display_name"`
}

// TypingState is an ephemeral typing indicator. An entry whose ExpiresAt is
// not after now is absent, swept or not.
type TypingState struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	DisplayName    string    `json:"display_name"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Live reports whether the entry is still present at now.
func (s TypingState) Live(now time.Time) bool {
	return s.ExpiresAt.After(now)
}

// ReadMarker records that a user read a conversation up to a timestamp.
type ReadMarker struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	UpTo           int64  `json:"up_to"`
	ReadAt         int64  `json:"read_at"`
}

// ConnectionState describes the liveness of a realtime subscription.
type ConnectionState string

const (
	ConnConnecting   ConnectionState = "connecting"
	ConnConnected    ConnectionState = "connected"
	ConnDisconnected ConnectionState = "disconnected"
	ConnClosed       ConnectionState = "closed"
)

// MessageCursor represents a stable paging cursor.
type MessageCursor struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"created_at"`
}

// Before reports whether msg sorts before the cursor.
func (c MessageCursor) Before(msg Message) bool {
	if msg.CreatedAt != c.CreatedAt {
		return msg.CreatedAt < c.CreatedAt
	}
	return msg.ID < c.ID
}

// MessageQuery controls message window fetches. Results are ordered oldest
// first. With Before set, the newest Limit messages older than the cursor are
// returned; with neither cursor set, the newest Limit messages.
type MessageQuery struct {
	Before         *MessageCursor
	After          *MessageCursor
	Limit          int
	IncludeDeleted bool
}
