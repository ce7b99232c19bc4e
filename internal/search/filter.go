// Package search filters a loaded message set in memory.
package search

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/adamavenir/murmur/internal/types"
)

// Filter selects messages. Zero fields match everything.
type Filter struct {
	Text     string
	SenderID string
	// SenderGlob matches sender ids with shell-style wildcards, e.g. "usr-a*".
	SenderGlob string
	Kind       types.MessageKind
	From       time.Time
	To         time.Time
	HasMedia   bool
}

// Empty reports whether the filter selects every live message.
func (f Filter) Empty() bool {
	return strings.TrimSpace(f.Text) == "" && f.SenderID == "" && f.SenderGlob == "" &&
		f.Kind == "" && f.From.IsZero() && f.To.IsZero() && !f.HasMedia
}

// Options tunes result ordering.
type Options struct {
	// Relevance re-sorts matches by text occurrence count, most first. Ties
	// keep their original order.
	Relevance bool
}

type compiled struct {
	Filter
	needle string
	sender glob.Glob
}

func compile(f Filter) (*compiled, error) {
	c := &compiled{Filter: f, needle: strings.ToLower(strings.TrimSpace(f.Text))}
	if f.SenderGlob != "" {
		g, err := glob.Compile(f.SenderGlob)
		if err != nil {
			return nil, fmt.Errorf("sender pattern %q: %w", f.SenderGlob, err)
		}
		c.sender = g
	}
	if f.Kind != "" && !f.Kind.Valid() {
		return nil, &types.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown message type %q", f.Kind)}
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return nil, &types.ValidationError{Field: "date", Reason: "end is before start"}
	}
	return c, nil
}

func (c *compiled) match(msg types.Message) bool {
	if msg.Deleted {
		return false
	}
	if c.SenderID != "" && msg.SenderID != c.SenderID {
		return false
	}
	if c.sender != nil && !c.sender.Match(msg.SenderID) {
		return false
	}
	if c.Kind != "" && msg.Kind() != c.Kind {
		return false
	}
	if !c.From.IsZero() && msg.CreatedAt < c.From.UnixMilli() {
		return false
	}
	if !c.To.IsZero() && msg.CreatedAt > c.To.UnixMilli() {
		return false
	}
	if c.HasMedia && msg.MediaRef() == "" {
		return false
	}
	if c.needle != "" && !strings.Contains(strings.ToLower(msg.Content()), c.needle) {
		return false
	}
	return true
}

// Apply returns the messages matching f in their original order. The input
// is not modified.
func Apply(msgs []types.Message, f Filter, opts Options) ([]types.Message, error) {
	c, err := compile(f)
	if err != nil {
		return nil, err
	}
	out := make([]types.Message, 0, len(msgs))
	for _, msg := range msgs {
		if c.match(msg) {
			out = append(out, msg)
		}
	}
	if opts.Relevance && c.needle != "" {
		score := make(map[string]int, len(out))
		for _, msg := range out {
			score[msg.ID] = Occurrences(msg.Content(), c.needle)
		}
		sort.SliceStable(out, func(i, j int) bool {
			return score[out[i].ID] > score[out[j].ID]
		})
	}
	return out, nil
}

// Occurrences counts case-insensitive, non-overlapping matches of needle.
func Occurrences(text, needle string) int {
	needle = strings.ToLower(needle)
	if needle == "" {
		return 0
	}
	return strings.Count(strings.ToLower(text), needle)
}
