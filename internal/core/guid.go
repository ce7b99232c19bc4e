package core

import (
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	guidAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	guidLength   = 8

	// TempPrefix marks client-assigned ids that the service has not confirmed.
	TempPrefix         = "tmp"
	MessagePrefix      = "msg"
	ConversationPrefix = "cnv"
	UserPrefix         = "usr"
	MediaPrefix        = "med"

	displayLengthSmall  = 4
	displayLengthMedium = 5
	displayLengthLarge  = 6
)

// GenerateGUID creates a short GUID with the provided prefix.
func GenerateGUID(prefix string) (string, error) {
	normalized := strings.TrimSuffix(prefix, "-")

	buf := make([]byte, guidLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate guid: %w", err)
	}

	id := make([]byte, guidLength)
	for i := 0; i < guidLength; i++ {
		id[i] = guidAlphabet[int(buf[i])%len(guidAlphabet)]
	}

	return fmt.Sprintf("%s-%s", normalized, string(id)), nil
}

// NewTempID returns a client-side message id.
func NewTempID() (string, error) {
	return GenerateGUID(TempPrefix)
}

// IsTempID reports whether id was assigned locally.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempPrefix+"-")
}

// NewCorrelationKey returns the key carried on a persist request and echoed
// back on the matching insert event.
func NewCorrelationKey() string {
	return uuid.NewString()
}

// GetDisplayPrefixLength returns the short id length for display.
func GetDisplayPrefixLength(messageCount int) int {
	if messageCount < 500 {
		return displayLengthSmall
	}
	if messageCount < 1500 {
		return displayLengthMedium
	}
	return displayLengthLarge
}

// GetGUIDPrefix extracts the shortened id used in the UI.
func GetGUIDPrefix(guid string, length int) string {
	base := guid
	for _, prefix := range []string{MessagePrefix + "-", TempPrefix + "-"} {
		base = strings.TrimPrefix(base, prefix)
	}
	if length <= 0 {
		return ""
	}
	if length > len(base) {
		length = len(base)
	}
	return base[:length]
}
