package chat

import (
	"strings"

	"github.com/adamavenir/murmur/internal/logger"
	"github.com/gen2brain/beeep"
)

const notifyPreviewLen = 100

// sendNotification raises a desktop notification for a message that arrived
// while the reader was scrolled up.
func sendNotification(from, preview string) {
	preview = strings.Join(strings.Fields(preview), " ")
	if r := []rune(preview); len(r) > notifyPreviewLen {
		preview = string(r[:notifyPreviewLen-1]) + "…"
	}
	if err := beeep.Notify("murmur · "+from, preview, ""); err != nil {
		logger.Debug("notification failed", "err", err)
	}
}
