// Package index defines the capability interface every ANN index kind
// (HNSW, IVF, flat) implements, and the value types that cross that
// boundary.
package index

import "io"

// Record is the minimal (id, vector) pair an index trains or inserts on.
// Metadata lives only in the database façade's vector store.
type Record struct {
	ID     uint64
	Vector []float32
}

// Filter is a pure predicate over ids, used to restrict search results
// without re-expanding the candidate set. It must be safe to call
// concurrently.
type Filter func(id uint64) bool

// SearchParams carries per-query overrides. Zero values mean "use the
// index's configured default".
type SearchParams struct {
	EfSearch int
	NProbe   int
	Filter   Filter
}

// SearchHit is one result row: an id and its distance under the index's
// configured metric. Smaller distance means more similar.
type SearchHit struct {
	ID       uint64
	Distance float32
}

// Index is the capability surface the database façade drives. Every
// operation is safe for concurrent use; each implementation owns an
// internal readers-writer lock.
type Index interface {
	// Add inserts a new vector under id. Returns lynxerr.ErrDimensionMismatch
	// or lynxerr.ErrInvalidState (duplicate id) on failure.
	Add(id uint64, vector []float32) error

	// Remove deletes id. Returns lynxerr.ErrVectorNotFound if absent.
	Remove(id uint64) error

	// Contains reports whether id is present.
	Contains(id uint64) bool

	// Search returns up to k hits ascending by distance, plus the number
	// of candidates that were in scope of the search (before any filter
	// dropped entries).
	Search(query []float32, k int, params SearchParams) (hits []SearchHit, totalCandidates int)

	// Build trains/(re)constructs the index over records. Flat and IVF
	// replace their prior contents (IVF runs k-means training followed by
	// assignment); HNSW inserts records one at a time in the order given,
	// on top of any nodes it already holds.
	Build(records []Record) error

	// Serialize writes the index's binary snapshot format to w.
	Serialize(w io.Writer) error

	// Deserialize replaces the index's state by reading its binary format
	// from r. On failure the index's prior state is left untouched.
	Deserialize(r io.Reader) error

	// Size returns the number of vectors currently indexed.
	Size() int

	// Dimension returns the configured vector dimension D.
	Dimension() int

	// MemoryUsage estimates the index's resident memory in bytes.
	MemoryUsage() int64

	// Optimize performs the index's maintenance pass (HNSW: prune/rebuild
	// undersized or oversized neighbor sets; IVF: retrain centroids over
	// the currently indexed vectors).
	Optimize() error

	// Compact repairs dangling references and reselects the entry point
	// if necessary. Idempotent.
	Compact() error
}
