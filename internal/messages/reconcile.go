package messages

import (
	"math"

	"github.com/adamavenir/murmur/internal/types"
)

// Window is an authoritative slice of the service's history for one
// conversation, oldest first.
type Window struct {
	Messages []types.Message
	// Complete is true when no older history exists beyond Messages.
	Complete bool
	// FetchedAt bounds the window from above (unix ms, service clock). Zero
	// means the newest message in Messages is the bound.
	FetchedAt int64
}

// Bounds returns the time range the window is authoritative for.
func (w Window) Bounds() (lower, upper int64, ok bool) {
	lower, upper = math.MinInt64, w.FetchedAt
	if len(w.Messages) > 0 {
		if !w.Complete {
			lower = w.Messages[0].CreatedAt
		}
		if newest := w.Messages[len(w.Messages)-1].CreatedAt; newest > upper {
			upper = newest
		}
	}
	if len(w.Messages) == 0 && (!w.Complete || w.FetchedAt == 0) {
		return 0, 0, false
	}
	return lower, upper, true
}

// ReconcileResult lists what a reconciliation changed.
type ReconcileResult struct {
	Changes []Change
	Filled  int
	Removed int
}

// Overlaps reports whether a tail page reaches local confirmed state, i.e.
// paging further back cannot reveal gaps. An empty store always overlaps.
func (s *Store) Overlaps(page []types.Message) bool {
	newest, ok := s.newestConfirmed()
	if !ok {
		return true
	}
	for _, msg := range page {
		if sl := s.lookup(msg.ID); sl != nil && confirmed(sl.msg) {
			return true
		}
	}
	return len(page) > 0 && page[0].CreatedAt <= newest.CreatedAt
}

func (s *Store) newestConfirmed() (types.Message, bool) {
	for i := len(s.slots) - 1; i >= 0; i-- {
		if confirmed(s.slots[i].msg) {
			return s.slots[i].msg, true
		}
	}
	return types.Message{}, false
}

// Reconcile brings local state for the window's range in line with the
// service: missing records are filled in, changed ones merged, pending and
// failed sends whose echo is present resolved, and confirmed records or
// tombstones the service no longer has dropped. Unsent records are kept.
func (s *Store) Reconcile(w Window) ReconcileResult {
	var res ReconcileResult
	lower, upper, ok := w.Bounds()
	if !ok {
		return res
	}
	server := make(map[string]bool, len(w.Messages))
	msgs := append([]types.Message(nil), w.Messages...)
	sortByServerOrder(msgs)

	var missing []types.Message
	for _, msg := range msgs {
		server[msg.ID] = true
		sl := s.lookupMessage(msg)
		switch {
		case sl == nil:
			msg.Status = types.StatusSent
			missing = append(missing, msg)
		case sl.msg.Status != types.StatusSent:
			res.Changes = append(res.Changes, s.resolve(sl, msg))
		default:
			if change := s.merge(sl, msg); change.Changed() {
				res.Changes = append(res.Changes, change)
			}
		}
	}

	for _, msg := range missing {
		sl := s.placeSlot(msg)
		res.Changes = append(res.Changes, Change{Kind: ChangeInserted, Message: sl.msg})
	}
	res.Filled = len(missing)

	var stale []*slot
	for _, sl := range s.slots {
		msg := sl.msg
		if !confirmed(msg) || server[msg.ID] {
			continue
		}
		if msg.CreatedAt < lower || msg.CreatedAt > upper {
			continue
		}
		stale = append(stale, sl)
	}
	for _, sl := range stale {
		s.removeSlot(sl)
		res.Changes = append(res.Changes, Change{Kind: ChangeRemoved, Message: sl.msg})
	}
	res.Removed = len(stale)
	return res
}
