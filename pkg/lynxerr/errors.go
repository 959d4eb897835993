// Package lynxerr defines the error taxonomy shared by every index
// implementation and the database façade, so callers can use errors.Is
// across package boundaries.
package lynxerr

import "errors"

var (
	// ErrDimensionMismatch is returned when a vector's length does not
	// equal the database-wide dimension D.
	ErrDimensionMismatch = errors.New("lynxdb: vector dimension mismatch")

	// ErrVectorNotFound is returned by remove/lookup against an absent id.
	ErrVectorNotFound = errors.New("lynxdb: vector not found")

	// ErrIndexNotBuilt is returned by an IVF operation issued before
	// centroids exist.
	ErrIndexNotBuilt = errors.New("lynxdb: index not built")

	// ErrInvalidParameter covers id collision on insert, bad n_clusters,
	// and empty build input.
	ErrInvalidParameter = errors.New("lynxdb: invalid parameter")

	// ErrInvalidState covers invariant breakage: duplicate id from an
	// index's perspective, or inconsistent deserialized counts.
	ErrInvalidState = errors.New("lynxdb: invalid state")

	// ErrOutOfMemory is returned on allocation failure, notably clone
	// construction during maintenance.
	ErrOutOfMemory = errors.New("lynxdb: out of memory")

	// ErrIOError covers serialization stream faults, missing files, and
	// short reads.
	ErrIOError = errors.New("lynxdb: io error")

	// ErrBusy is returned when maintenance aborts because the write log
	// exceeded the warn threshold.
	ErrBusy = errors.New("lynxdb: busy")

	// ErrNotImplemented is returned for reserved capabilities, e.g. WAL.
	ErrNotImplemented = errors.New("lynxdb: not implemented")
)
