// Package visited implements the epoch-tagged marking structure used by
// HNSW's beam search. It is the O(1)-reset replacement for a per-query
// hash set: reset only bumps a counter instead of clearing an array, and
// IsVisited is a single comparison.
package visited

// Table marks up to len(epochs) integer ids as visited during a single
// traversal, with O(1) reset between traversals. It is not safe for
// concurrent use; callers pool one Table per search goroutine.
type Table struct {
	epochs  []uint32
	current uint32
}

// New creates a Table sized for n ids.
func New(n int) *Table {
	t := &Table{}
	t.Resize(n)
	return t
}

// Resize grows the table to cover at least n ids, preserving no state
// (equivalent to a fresh Reset). Index positions, not database ids, are
// expected here; callers map ids to dense row indices.
func (t *Table) Resize(n int) {
	if cap(t.epochs) >= n {
		t.epochs = t.epochs[:n]
		for i := range t.epochs {
			t.epochs[i] = 0
		}
		t.current = 1
		return
	}
	t.epochs = make([]uint32, n)
	t.current = 1
}

// Reset begins a new traversal in O(1): it bumps the epoch counter so all
// previous marks read as unvisited, except on wraparound, where the
// backing array is zeroed once.
func (t *Table) Reset() {
	t.current++
	if t.current == 0 {
		// Wrapped around uint32; start a fresh epoch from a clean array.
		for i := range t.epochs {
			t.epochs[i] = 0
		}
		t.current = 1
	}
}

// Mark marks idx as visited in the current epoch.
func (t *Table) Mark(idx int) {
	if idx < 0 || idx >= len(t.epochs) {
		return
	}
	t.epochs[idx] = t.current
}

// IsVisited reports whether idx was marked in the current epoch.
func (t *Table) IsVisited(idx int) bool {
	if idx < 0 || idx >= len(t.epochs) {
		return false
	}
	return t.epochs[idx] == t.current
}
