package domain

// LayerOrder is the back-to-front drawing order of the items in a draft.
// Mutators only swap neighbours, so length and membership never change.
type LayerOrder struct {
	ids []string
}

// NewLayerOrder builds an order from ids, dropping empty and repeated ids
// while keeping the first occurrence.
func NewLayerOrder(ids []string) LayerOrder {
	seen := make(map[string]struct{}, len(ids))
	ordered := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ordered = append(ordered, id)
	}
	return LayerOrder{ids: ordered}
}

// IDs returns a copy of the order, back-most first.
func (l LayerOrder) IDs() []string {
	out := make([]string, len(l.ids))
	copy(out, l.ids)
	return out
}

// Len returns the number of layers.
func (l LayerOrder) Len() int { return len(l.ids) }

// Index returns the position of id or -1.
func (l LayerOrder) Index(id string) int {
	for i, candidate := range l.ids {
		if candidate == id {
			return i
		}
	}
	return -1
}

// Contains reports whether id is part of the order.
func (l LayerOrder) Contains(id string) bool {
	return l.Index(id) >= 0
}

// MoveUp brings id one step towards the front. It is a no-op when id is
// absent or already front-most.
func (l *LayerOrder) MoveUp(id string) bool {
	i := l.Index(id)
	if i < 0 || i == len(l.ids)-1 {
		return false
	}
	l.ids[i], l.ids[i+1] = l.ids[i+1], l.ids[i]
	return true
}

// MoveDown sends id one step towards the back. It is a no-op when id is
// absent or already back-most.
func (l *LayerOrder) MoveDown(id string) bool {
	i := l.Index(id)
	if i <= 0 {
		return false
	}
	l.ids[i], l.ids[i-1] = l.ids[i-1], l.ids[i]
	return true
}

// IsPermutationOf reports whether the order holds exactly the given ids.
func (l LayerOrder) IsPermutationOf(ids []string) bool {
	if len(ids) != len(l.ids) {
		return false
	}
	counts := make(map[string]int, len(ids))
	for _, id := range ids {
		counts[id]++
	}
	for _, id := range l.ids {
		counts[id]--
		if counts[id] < 0 {
			return false
		}
	}
	return true
}
