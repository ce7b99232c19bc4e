package render

// layout maps item indexes to vertical offsets.
type layout interface {
	Len() int
	Height(i int) int
	// Prefix returns the total height of items [0, i).
	Prefix(i int) int
	// Search returns the index of the item covering y, or Len() past the end.
	Search(y int) int
	Insert(at int, heights []int)
	Remove(i int) int
	Set(i, h int) int
}

type fixedLayout struct {
	n, h int
}

func (f *fixedLayout) Len() int         { return f.n }
func (f *fixedLayout) Height(int) int   { return f.h }
func (f *fixedLayout) Prefix(i int) int { return i * f.h }

func (f *fixedLayout) Search(y int) int {
	if y < 0 {
		return 0
	}
	i := y / f.h
	if i > f.n {
		return f.n
	}
	return i
}

func (f *fixedLayout) Insert(_ int, heights []int) { f.n += len(heights) }

func (f *fixedLayout) Remove(int) int {
	if f.n > 0 {
		f.n--
	}
	return f.h
}

func (f *fixedLayout) Set(int, int) int { return 0 }

// measuredLayout keeps per-item heights in a Fenwick tree so offsets and
// hit tests stay logarithmic at any list length.
type measuredLayout struct {
	heights []int
	tree    []int
}

func newMeasuredLayout(heights []int) *measuredLayout {
	m := &measuredLayout{}
	m.rebuild(heights)
	return m
}

func (m *measuredLayout) rebuild(heights []int) {
	m.heights = heights
	m.tree = make([]int, len(heights)+1)
	for i, h := range heights {
		idx := i + 1
		m.tree[idx] += h
		if parent := idx + (idx & -idx); parent < len(m.tree) {
			m.tree[parent] += m.tree[idx]
		}
	}
}

func (m *measuredLayout) Len() int         { return len(m.heights) }
func (m *measuredLayout) Height(i int) int { return m.heights[i] }

func (m *measuredLayout) Prefix(i int) int {
	if i > len(m.heights) {
		i = len(m.heights)
	}
	sum := 0
	for ; i > 0; i -= i & -i {
		sum += m.tree[i]
	}
	return sum
}

func (m *measuredLayout) Search(y int) int {
	if y < 0 {
		return 0
	}
	n := len(m.heights)
	pos, rem := 0, y
	step := 1
	for step<<1 <= n {
		step <<= 1
	}
	for ; step > 0; step >>= 1 {
		if next := pos + step; next <= n && m.tree[next] <= rem {
			pos = next
			rem -= m.tree[next]
		}
	}
	return pos
}

func (m *measuredLayout) add(i, delta int) {
	for idx := i + 1; idx < len(m.tree); idx += idx & -idx {
		m.tree[idx] += delta
	}
}

func (m *measuredLayout) Insert(at int, heights []int) {
	if at == len(m.heights) {
		for _, h := range heights {
			m.heights = append(m.heights, h)
			idx := len(m.heights)
			m.tree = append(m.tree, h+m.Prefix(idx-1)-m.Prefix(idx-(idx&-idx)))
		}
		return
	}
	next := make([]int, 0, len(m.heights)+len(heights))
	next = append(next, m.heights[:at]...)
	next = append(next, heights...)
	next = append(next, m.heights[at:]...)
	m.rebuild(next)
}

func (m *measuredLayout) Remove(i int) int {
	h := m.heights[i]
	next := append(append([]int(nil), m.heights[:i]...), m.heights[i+1:]...)
	m.rebuild(next)
	return h
}

func (m *measuredLayout) Set(i, h int) int {
	delta := h - m.heights[i]
	if delta != 0 {
		m.heights[i] = h
		m.add(i, delta)
	}
	return delta
}
