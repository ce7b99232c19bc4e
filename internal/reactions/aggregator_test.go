package reactions

import (
	"errors"
	"reflect"
	"testing"

	"github.com/adamavenir/murmur/internal/types"
)

func TestAddIsIdempotent(t *testing.T) {
	once := New("alice")
	once.Add("msg-1", "👍", "bob")

	twice := New("alice")
	twice.Add("msg-1", "👍", "bob")
	if twice.Add("msg-1", "👍", "bob") {
		t.Fatalf("second add should report no change")
	}

	if !reflect.DeepEqual(once.Aggregates("msg-1"), twice.Aggregates("msg-1")) {
		t.Fatalf("add twice differs from add once: %+v vs %+v", once.Aggregates("msg-1"), twice.Aggregates("msg-1"))
	}
	agg, _ := twice.Aggregate("msg-1", "👍")
	if agg.Count != 1 || len(agg.Users) != 1 {
		t.Fatalf("count must equal distinct users, got %+v", agg)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	agg := New("alice")
	agg.Add("msg-1", "👍", "bob")
	if !agg.Remove("msg-1", "👍", "bob") {
		t.Fatalf("first remove should report change")
	}
	if agg.Remove("msg-1", "👍", "bob") {
		t.Fatalf("second remove should be a no-op")
	}
	if got := agg.Aggregates("msg-1"); len(got) != 0 {
		t.Fatalf("expected no aggregates, got %+v", got)
	}
}

func TestToggleTwiceRestoresOriginal(t *testing.T) {
	agg := New("alice")
	agg.Add("msg-1", "🎉", "bob")
	before := agg.Aggregates("msg-1")

	added, err := agg.Toggle("msg-1", "🎉", "alice")
	if err != nil || !added {
		t.Fatalf("first toggle: added=%v err=%v", added, err)
	}
	agg.Settle("msg-1", "🎉", nil)

	added, err = agg.Toggle("msg-1", "🎉", "alice")
	if err != nil || added {
		t.Fatalf("second toggle: added=%v err=%v", added, err)
	}
	agg.Settle("msg-1", "🎉", nil)

	if after := agg.Aggregates("msg-1"); !reflect.DeepEqual(before, after) {
		t.Fatalf("toggle twice changed state: %+v -> %+v", before, after)
	}
}

func TestToggleGuardsDoubleClick(t *testing.T) {
	agg := New("alice")
	if _, err := agg.Toggle("msg-1", "👍", "alice"); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if _, err := agg.Toggle("msg-1", "👍", "alice"); !errors.Is(err, types.ErrToggleInFlight) {
		t.Fatalf("expected in-flight rejection, got %v", err)
	}
	got, _ := agg.Aggregate("msg-1", "👍")
	if got.Count != 1 || !got.HasCurrentUserReacted {
		t.Fatalf("double click must not toggle twice: %+v", got)
	}
	if _, err := agg.Toggle("msg-1", "❤️", "alice"); err != nil {
		t.Fatalf("other emoji is independent: %v", err)
	}
}

func TestSettleFailureReverts(t *testing.T) {
	agg := New("alice")
	agg.Toggle("msg-1", "👍", "alice")
	if !agg.Settle("msg-1", "👍", errors.New("offline")) {
		t.Fatalf("failed settle should revert")
	}
	if _, ok := agg.Aggregate("msg-1", "👍"); ok {
		t.Fatalf("reverted add should leave no aggregate")
	}
	if agg.InFlight("msg-1", "👍") {
		t.Fatalf("settle must clear the in-flight flag")
	}

	agg.Add("msg-2", "👍", "alice")
	agg.Toggle("msg-2", "👍", "alice")
	agg.Settle("msg-2", "👍", errors.New("offline"))
	if !agg.Has("msg-2", "👍", "alice") {
		t.Fatalf("reverted remove should restore the reaction")
	}
}

func TestApplySnapshotKeepsInFlightToggle(t *testing.T) {
	agg := New("alice")
	agg.Add("msg-1", "👍", "carol")
	agg.Toggle("msg-1", "🔥", "alice")

	agg.ApplySnapshot("msg-1", []types.ReactionAggregate{
		{MessageID: "msg-1", Emoji: "👍", Users: []string{"bob", "dave"}, Count: 2},
	})

	thumbs, _ := agg.Aggregate("msg-1", "👍")
	if !reflect.DeepEqual(thumbs.Users, []string{"bob", "dave"}) {
		t.Fatalf("snapshot should replace drifted state, got %+v", thumbs)
	}
	fire, ok := agg.Aggregate("msg-1", "🔥")
	if !ok || fire.Count != 1 || !fire.HasCurrentUserReacted {
		t.Fatalf("in-flight toggle lost by snapshot: %+v", fire)
	}
}

func TestAggregatesKeepFirstReactionOrder(t *testing.T) {
	agg := New("bob")
	agg.Add("msg-1", "👍", "bob")
	agg.Add("msg-1", "😂", "carol")
	agg.Add("msg-1", "👍", "carol")

	got := agg.Aggregates("msg-1")
	if len(got) != 2 || got[0].Emoji != "👍" || got[1].Emoji != "😂" {
		t.Fatalf("unexpected order: %+v", got)
	}
	if got[0].Count != 2 || !got[0].HasCurrentUserReacted || got[1].HasCurrentUserReacted {
		t.Fatalf("unexpected derived fields: %+v", got)
	}
}
