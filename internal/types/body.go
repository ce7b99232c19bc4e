package types

import (
	"encoding/json"
	"fmt"
)

// Body is the tagged payload of a message. Only the variants in this package
// implement it.
type Body interface {
	Kind() MessageKind
	// Content returns the text shown and searched for the body.
	Content() string
	// Media returns the attachment reference, or "".
	Media() string
	isBody()
}

// TextBody is a plain text message.
type TextBody struct {
	Text string `json:"text"`
}

// ImageBody is an image attachment with an optional caption.
type ImageBody struct {
	MediaRef string `json:"media_ref"`
	Caption  string `json:"caption,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// VoiceBody is a recorded voice clip.
type VoiceBody struct {
	MediaRef   string `json:"media_ref"`
	DurationMs int64  `json:"duration_ms"`
	Caption    string `json:"caption,omitempty"`
}

// FileBody is a generic file attachment.
type FileBody struct {
	MediaRef string `json:"media_ref"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Caption  string `json:"caption,omitempty"`
}

func (TextBody) Kind() MessageKind  { return KindText }
func (ImageBody) Kind() MessageKind { return KindImage }
func (VoiceBody) Kind() MessageKind { return KindVoice }
func (FileBody) Kind() MessageKind  { return KindFile }

func (b TextBody) Content() string  { return b.Text }
func (b ImageBody) Content() string { return b.Caption }
func (b VoiceBody) Content() string { return b.Caption }
func (b FileBody) Content() string {
	if b.Caption != "" {
		return b.Caption
	}
	return b.Name
}

func (TextBody) Media() string    { return "" }
func (b ImageBody) Media() string { return b.MediaRef }
func (b VoiceBody) Media() string { return b.MediaRef }
func (b FileBody) Media() string  { return b.MediaRef }

func (TextBody) isBody()  {}
func (ImageBody) isBody() {}
func (VoiceBody) isBody() {}
func (FileBody) isBody()  {}

// Text builds a text body.
func Text(s string) Body { return TextBody{Text: s} }

// WithContent returns a copy of b with its user-editable text replaced.
func WithContent(b Body, content string) Body {
	switch v := b.(type) {
	case TextBody:
		v.Text = content
		return v
	case ImageBody:
		v.Caption = content
		return v
	case VoiceBody:
		v.Caption = content
		return v
	case FileBody:
		v.Caption = content
		return v
	case nil:
		return TextBody{Text: content}
	}
	return b
}

// Cleared returns the tombstone form of b: same variant, no content, no media.
func Cleared(b Body) Body {
	switch b.(type) {
	case ImageBody:
		return ImageBody{}
	case VoiceBody:
		return VoiceBody{}
	case FileBody:
		return FileBody{}
	}
	return TextBody{}
}

// DecodeBody decodes the raw body for the given kind tag.
func DecodeBody(kind MessageKind, raw json.RawMessage) (Body, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Cleared(bodyForKind(kind)), nil
	}
	switch kind {
	case KindText, "":
		var b TextBody
		err := json.Unmarshal(raw, &b)
		return b, err
	case KindImage:
		var b ImageBody
		err := json.Unmarshal(raw, &b)
		return b, err
	case KindVoice:
		var b VoiceBody
		err := json.Unmarshal(raw, &b)
		return b, err
	case KindFile:
		var b FileBody
		err := json.Unmarshal(raw, &b)
		return b, err
	}
	return nil, fmt.Errorf("unknown message type %q", kind)
}

func bodyForKind(kind MessageKind) Body {
	switch kind {
	case KindImage:
		return ImageBody{}
	case KindVoice:
		return VoiceBody{}
	case KindFile:
		return FileBody{}
	}
	return TextBody{}
}

type messageAlias Message

type messageWire struct {
	messageAlias
	Type MessageKind     `json:"type"`
	Raw  json.RawMessage `json:"body,omitempty"`
}

// MarshalJSON writes the body under "body" with its variant tag in "type".
func (m Message) MarshalJSON() ([]byte, error) {
	body := m.Body
	if body == nil {
		body = TextBody{}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(messageWire{messageAlias: messageAlias(m), Type: body.Kind(), Raw: raw})
}

// UnmarshalJSON dispatches the body on the "type" tag.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wire messageWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	body, err := DecodeBody(wire.Type, wire.Raw)
	if err != nil {
		return err
	}
	*m = Message(wire.messageAlias)
	m.Body = body
	return nil
}
