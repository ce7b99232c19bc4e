package render

import (
	"testing"
)

func ceilDiv(a, b int) int { return (a + b - 1) / b }

func fixedList(n, h, viewport, overscan int) *Virtualizer {
	v := New(Config{ItemHeight: h, Overscan: overscan, Viewport: viewport})
	v.Append(n, nil)
	return v
}

func TestWindowFormula(t *testing.T) {
	tests := []struct {
		name   string
		n      int
		offset int
		want   Window
	}{
		{"top", 100, 0, Window{0, 10}},
		{"middle aligned", 100, 40, Window{15, 30}},
		{"middle unaligned", 100, 41, Window{15, 31}},
		{"bottom", 100, 180, Window{85, 100}},
		{"short list", 3, 0, Window{0, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// H=2, V=10, O=5
			v := New(Config{ItemHeight: 2, Overscan: 5, Viewport: 10})
			v.Append(tt.n, nil)
			v.ScrollTo(tt.offset)
			if got := v.Window(); got != tt.want {
				t.Fatalf("offset %d: want %+v got %+v", tt.offset, tt.want, got)
			}
		})
	}
}

func TestMaterializedBoundIndependentOfN(t *testing.T) {
	const h, viewport, overscan = 3, 40, 5
	bound := ceilDiv(viewport, h) + 2*overscan

	for _, n := range []int{10, 100_000} {
		v := fixedList(n, h, viewport, overscan)
		rec := NewRecycler(func() *struct{} { return &struct{}{} })

		step := h * 7
		for offset := 0; offset <= v.MaxOffset(); offset += step {
			v.ScrollTo(offset)
			w := v.Window()
			rec.Sync(w)
			limit := bound
			if v.Offset()%h != 0 {
				// A partially visible row at each edge.
				limit++
			}
			if rec.Live() > limit || w.Len() > limit {
				t.Fatalf("n=%d offset=%d: %d live rows exceeds %d", n, offset, rec.Live(), limit)
			}
		}
		v.ScrollToBottom()
		rec.Sync(v.Window())
		if rec.Created() > bound+1 {
			t.Fatalf("n=%d: recycler built %d nodes, want at most %d", n, rec.Created(), bound+1)
		}
	}
}

func TestUnalignedOffsetAddsOneItem(t *testing.T) {
	const h, viewport, overscan = 2, 10, 5
	v := fixedList(1000, h, viewport, overscan)

	v.ScrollTo(20)
	if got, want := v.Window().Len(), ceilDiv(viewport, h)+2*overscan; got != want {
		t.Fatalf("aligned: want %d got %d", want, got)
	}
	v.ScrollTo(21)
	if got, want := v.Window().Len(), ceilDiv(viewport, h)+1+2*overscan; got != want {
		t.Fatalf("unaligned: want %d got %d", want, got)
	}
}

func TestPrependPreservesAnchor(t *testing.T) {
	const h, k = 2, 30
	v := fixedList(100, h, 20, 5)
	v.ScrollTo(50)
	top := v.IndexAt(v.Offset())
	screenY := v.OffsetOf(top) - v.Offset()

	shift := v.Prepend(k, nil)
	if shift != k*h {
		t.Fatalf("shift: want %d got %d", k*h, shift)
	}
	if v.Offset() != 50+k*h {
		t.Fatalf("offset: want %d got %d", 50+k*h, v.Offset())
	}
	moved := top + k
	if !v.Visible().Contains(moved) {
		t.Fatalf("previous top item %d no longer visible in %+v", moved, v.Visible())
	}
	if got := v.OffsetOf(moved) - v.Offset(); got != screenY {
		t.Fatalf("previous top item moved on screen from %d to %d", screenY, got)
	}
}

func TestMeasuredPrependShiftsBySumOfHeights(t *testing.T) {
	v := New(Config{ItemHeight: 2, Overscan: 2, Viewport: 10, Measured: true})
	v.Append(20, nil)
	v.ScrollTo(12)
	top := v.IndexAt(v.Offset())

	shift := v.Prepend(3, []int{1, 4, 6})
	if shift != 11 || v.Offset() != 23 {
		t.Fatalf("shift=%d offset=%d", shift, v.Offset())
	}
	if v.IndexAt(v.Offset()) != top+3 {
		t.Fatalf("anchor lost: top was %d, now %d", top, v.IndexAt(v.Offset()))
	}
}

func TestMeasuredSearchMatchesLinearScan(t *testing.T) {
	v := New(Config{ItemHeight: 3, Viewport: 10, Measured: true})
	heights := []int{1, 5, 2, 2, 7, 1, 3, 4, 4, 1, 9, 2, 2}
	v.Append(len(heights), heights)

	y := 0
	for i, h := range heights {
		if v.OffsetOf(i) != y {
			t.Fatalf("offset of %d: want %d got %d", i, y, v.OffsetOf(i))
		}
		for dy := 0; dy < h; dy++ {
			if got := v.IndexAt(y + dy); got != i {
				t.Fatalf("IndexAt(%d): want %d got %d", y+dy, i, got)
			}
		}
		y += h
	}
	if v.IndexAt(y) != len(heights) {
		t.Fatalf("past the end should return Count()")
	}

	v.Measure(4, 1)
	if v.TotalHeight() != y-6 {
		t.Fatalf("measure should update totals: %d", v.TotalHeight())
	}
}

func TestMeasureAboveViewportKeepsAnchor(t *testing.T) {
	v := New(Config{ItemHeight: 2, Viewport: 10, Measured: true})
	v.Append(50, nil)
	v.ScrollTo(40)
	top := v.IndexAt(v.Offset())
	v.Measure(0, 5)
	if v.IndexAt(v.Offset()) != top || v.Offset() != 43 {
		t.Fatalf("measuring a row above the viewport moved content: offset %d", v.Offset())
	}
}

func TestAppendFollowsOnlyAtBottom(t *testing.T) {
	v := fixedList(50, 2, 10, 3)
	v.ScrollToBottom()
	if !v.Append(1, nil) || !v.AtBottom() {
		t.Fatalf("list at the bottom should follow new items")
	}

	v.ScrollBy(-20)
	offset := v.Offset()
	var bar Arrivals
	if v.Append(2, nil) {
		t.Fatalf("scrolled-up list must not auto-scroll")
	}
	bar.Add("usr-b")
	bar.Add("usr-b")
	if v.Offset() != offset || bar.Count() != 2 || len(bar.Authors()) != 1 {
		t.Fatalf("offset=%d bar=%d authors=%v", v.Offset(), bar.Count(), bar.Authors())
	}
}

func TestRemoveAboveViewport(t *testing.T) {
	v := fixedList(40, 2, 10, 0)
	v.ScrollTo(20)
	top := v.IndexAt(v.Offset())
	v.Remove(0)
	if v.IndexAt(v.Offset()) != top-1 || v.Count() != 39 {
		t.Fatalf("removing a row above the viewport should keep content in place")
	}
}

func TestRecyclerShiftKeepsBindings(t *testing.T) {
	n := 0
	rec := NewRecycler(func() int { n++; return n })
	rec.Sync(Window{0, 3})
	first, _ := rec.Node(0)
	rec.Shift(5)
	if node, ok := rec.Node(5); !ok || node != first {
		t.Fatalf("shift should move bindings with their items")
	}
	rec.Sync(Window{5, 8})
	if rec.Created() != 3 {
		t.Fatalf("no new nodes needed after shift, created %d", rec.Created())
	}
}
