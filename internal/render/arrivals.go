package render

// Arrivals collects messages that arrived while the reader was scrolled up.
type Arrivals struct {
	count   int
	authors []string
}

// Add records one arrival.
func (a *Arrivals) Add(author string) {
	a.count++
	for _, existing := range a.authors {
		if existing == author {
			return
		}
	}
	a.authors = append(a.authors, author)
}

// Count returns the number of unseen arrivals.
func (a *Arrivals) Count() int { return a.count }

// Authors returns the distinct authors in arrival order.
func (a *Arrivals) Authors() []string { return append([]string(nil), a.authors...) }

// Clear resets the bar once the reader reaches the bottom.
func (a *Arrivals) Clear() {
	a.count = 0
	a.authors = nil
}
