package render

// Recycler keeps one node per materialized item and hands nodes released by
// items leaving the window to items entering it.
type Recycler[T any] struct {
	create  func() T
	live    map[int]T
	free    []T
	created int
}

// NewRecycler returns a recycler that builds new nodes with create.
func NewRecycler[T any](create func() T) *Recycler[T] {
	return &Recycler[T]{create: create, live: make(map[int]T)}
}

// Sync binds nodes to exactly the items in w and returns the bound set.
func (r *Recycler[T]) Sync(w Window) map[int]T {
	for i, node := range r.live {
		if !w.Contains(i) {
			delete(r.live, i)
			r.free = append(r.free, node)
		}
	}
	for i := w.Start; i < w.End; i++ {
		if _, ok := r.live[i]; ok {
			continue
		}
		if n := len(r.free); n > 0 {
			r.live[i] = r.free[n-1]
			r.free = r.free[:n-1]
			continue
		}
		r.live[i] = r.create()
		r.created++
	}
	return r.live
}

// Shift renumbers live nodes after k items were inserted above them.
func (r *Recycler[T]) Shift(k int) {
	if k == 0 {
		return
	}
	shifted := make(map[int]T, len(r.live))
	for i, node := range r.live {
		shifted[i+k] = node
	}
	r.live = shifted
}

// Node returns the node bound to item i.
func (r *Recycler[T]) Node(i int) (T, bool) {
	node, ok := r.live[i]
	return node, ok
}

// Live returns the number of bound nodes.
func (r *Recycler[T]) Live() int { return len(r.live) }

// Created returns how many nodes were ever built.
func (r *Recycler[T]) Created() int { return r.created }
