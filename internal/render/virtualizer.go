// Package render computes which rows of a long message list are on screen
// and keeps the reading position stable while the list changes.
package render

// DefaultOverscan is the number of rows kept beyond each viewport edge.
const DefaultOverscan = 5

// Window is the half-open range [Start, End) of materialized items.
type Window struct {
	Start, End int
}

// Len returns the number of items in the window.
func (w Window) Len() int { return w.End - w.Start }

// Contains reports whether item i is in the window.
func (w Window) Contains(i int) bool { return i >= w.Start && i < w.End }

// Config sets up a Virtualizer.
type Config struct {
	// ItemHeight is the fixed row height, or the estimate for unmeasured
	// rows when Measured is set.
	ItemHeight int
	Overscan   int
	Viewport   int
	Measured   bool
}

// Virtualizer does the window math for one list.
type Virtualizer struct {
	itemHeight int
	overscan   int
	viewport   int
	offset     int
	layout     layout
}

// New creates an empty virtualizer.
func New(cfg Config) *Virtualizer {
	if cfg.ItemHeight <= 0 {
		cfg.ItemHeight = 1
	}
	if cfg.Overscan < 0 {
		cfg.Overscan = 0
	}
	v := &Virtualizer{itemHeight: cfg.ItemHeight, overscan: cfg.Overscan, viewport: cfg.Viewport}
	if cfg.Measured {
		v.layout = newMeasuredLayout(nil)
	} else {
		v.layout = &fixedLayout{h: cfg.ItemHeight}
	}
	return v
}

// Count returns the number of items.
func (v *Virtualizer) Count() int { return v.layout.Len() }

// ItemHeight returns the fixed or estimated row height.
func (v *Virtualizer) ItemHeight() int { return v.itemHeight }

// Overscan returns the overscan count.
func (v *Virtualizer) Overscan() int { return v.overscan }

// Viewport returns the viewport height.
func (v *Virtualizer) Viewport() int { return v.viewport }

// Offset returns the scroll offset.
func (v *Virtualizer) Offset() int { return v.offset }

// TotalHeight returns the height of all items.
func (v *Virtualizer) TotalHeight() int { return v.layout.Prefix(v.layout.Len()) }

// MaxOffset returns the offset at which the last item touches the bottom.
func (v *Virtualizer) MaxOffset() int {
	if limit := v.TotalHeight() - v.viewport; limit > 0 {
		return limit
	}
	return 0
}

// AtBottom reports whether the viewport shows the end of the list.
func (v *Virtualizer) AtBottom() bool { return v.offset >= v.MaxOffset() }

// OffsetOf returns the top offset of item i.
func (v *Virtualizer) OffsetOf(i int) int { return v.layout.Prefix(i) }

// HeightOf returns the height of item i.
func (v *Virtualizer) HeightOf(i int) int { return v.layout.Height(i) }

// IndexAt returns the item covering offset y.
func (v *Virtualizer) IndexAt(y int) int { return v.layout.Search(y) }

// SetViewport resizes the viewport. A list that was at the bottom stays there.
func (v *Virtualizer) SetViewport(h int) {
	follow := v.AtBottom()
	v.viewport = h
	if follow {
		v.ScrollToBottom()
		return
	}
	v.ScrollTo(v.offset)
}

// ScrollTo moves to offset, clamped to the list.
func (v *Virtualizer) ScrollTo(offset int) int {
	if offset > v.MaxOffset() {
		offset = v.MaxOffset()
	}
	if offset < 0 {
		offset = 0
	}
	v.offset = offset
	return v.offset
}

// ScrollBy moves by delta rows.
func (v *Virtualizer) ScrollBy(delta int) int { return v.ScrollTo(v.offset + delta) }

// ScrollToBottom shows the end of the list.
func (v *Virtualizer) ScrollToBottom() { v.offset = v.MaxOffset() }

// Visible returns the items intersecting the viewport, without overscan.
func (v *Virtualizer) Visible() Window {
	n := v.layout.Len()
	if n == 0 || v.viewport <= 0 {
		return Window{}
	}
	start := v.layout.Search(v.offset)
	end := v.layout.Search(v.offset+v.viewport-1) + 1
	return clamp(start, end, n)
}

// Window returns the range to materialize: the visible items widened by
// the overscan on both sides and clamped to [0, Count()). With uniform item
// height H, viewport V and overscan O it holds at most ceil(V/H)+1+2*O
// items; the extra one is a partially visible item when the offset is not
// aligned to a row boundary.
func (v *Virtualizer) Window() Window {
	vis := v.Visible()
	if vis.Len() == 0 {
		return vis
	}
	return clamp(vis.Start-v.overscan, vis.End+v.overscan, v.layout.Len())
}

func clamp(start, end, n int) Window {
	if start < 0 {
		start = 0
	}
	if end > n {
		end = n
	}
	if end < start {
		end = start
	}
	return Window{Start: start, End: end}
}

func (v *Virtualizer) heightsFor(k int, heights []int) []int {
	hs := make([]int, k)
	for i := range hs {
		hs[i] = v.itemHeight
		if i < len(heights) && heights[i] > 0 {
			hs[i] = heights[i]
		}
	}
	return hs
}

// Prepend inserts k items above the list and shifts the offset by their
// height so the rows on screen do not move. It returns the shift.
func (v *Virtualizer) Prepend(k int, heights []int) int {
	if k <= 0 {
		return 0
	}
	before := v.layout.Prefix(v.layout.Len())
	v.layout.Insert(0, v.heightsFor(k, heights))
	shift := v.layout.Prefix(v.layout.Len()) - before
	v.offset += shift
	return shift
}

// Append adds k items below the list. When the viewport was at the bottom
// it follows the new items and Append reports true; otherwise the offset is
// left alone.
func (v *Virtualizer) Append(k int, heights []int) bool {
	if k <= 0 {
		return v.AtBottom()
	}
	follow := v.AtBottom()
	v.layout.Insert(v.layout.Len(), v.heightsFor(k, heights))
	if follow {
		v.ScrollToBottom()
	}
	return follow
}

// Remove drops item i. Rows above the viewport pull the offset up with them.
func (v *Virtualizer) Remove(i int) {
	if i < 0 || i >= v.layout.Len() {
		return
	}
	above := v.layout.Prefix(i+1) <= v.offset
	h := v.layout.Remove(i)
	if above {
		v.offset -= h
	}
	v.ScrollTo(v.offset)
}

// Measure records the rendered height of item i. Growth above the viewport
// is absorbed into the offset.
func (v *Virtualizer) Measure(i, h int) {
	if i < 0 || i >= v.layout.Len() {
		return
	}
	if h <= 0 {
		h = 1
	}
	above := v.layout.Prefix(i+1) <= v.offset
	delta := v.layout.Set(i, h)
	if above && delta != 0 {
		v.offset += delta
	}
}

// Reset empties the list.
func (v *Virtualizer) Reset() {
	v.offset = 0
	if _, ok := v.layout.(*measuredLayout); ok {
		v.layout = newMeasuredLayout(nil)
		return
	}
	v.layout = &fixedLayout{h: v.itemHeight}
}
