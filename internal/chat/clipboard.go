package chat

import (
	"fmt"

	"github.com/adamavenir/murmur/internal/types"
	"github.com/atotto/clipboard"
)

func copyToClipboard(text string) error {
	if clipboard.Unsupported {
		return fmt.Errorf("clipboard tool not found (install xclip, xsel or wl-clipboard)")
	}
	return clipboard.WriteAll(text)
}

// copyText is what /copy puts on the clipboard: the text, or the media
// reference and caption of an attachment.
func copyText(msg types.Message) (string, error) {
	if msg.Deleted {
		return "", fmt.Errorf("message was deleted")
	}
	if msg.Sealed != nil {
		return "", fmt.Errorf("message is still encrypted")
	}
	if ref := msg.MediaRef(); ref != "" {
		if caption := msg.Content(); caption != "" {
			return ref + "\n" + caption, nil
		}
		return ref, nil
	}
	return msg.Content(), nil
}
