// Package writelog implements the bounded, ordered write-tee used during
// non-blocking index maintenance: an append-only sequence of {op, id,
// vector} entries captured while a clone is being optimized, then
// replayed in arrival order against the clone before it is swapped in.
// It is an in-memory maintenance buffer, not a crash-recovery log.
package writelog

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lynxvec/lynxdb/pkg/lynxerr"
)

// Default capture thresholds.
const (
	DefaultWarnThreshold = 50000
	DefaultMaxThreshold  = 100000
)

// Op identifies a logged write.
type Op int

const (
	OpInsert Op = iota
	OpRemove
)

// Entry is one logged write. Vector is empty for a Remove.
type Entry struct {
	Op        Op
	ID        uint64
	Vector    []float32
	Timestamp int64
}

// ReplayTarget is the subset of index.Index that replay needs.
type ReplayTarget interface {
	Add(id uint64, vector []float32) error
	Remove(id uint64) error
}

// WriteLog is a bounded, ordered capture of write operations, tee'd
// alongside the active index while a maintenance clone is being
// optimized.
type WriteLog struct {
	mu            sync.Mutex
	entries       []Entry
	enabled       atomic.Bool
	warnThreshold int
	maxThreshold  int
}

// New creates a WriteLog with the given warn/max thresholds. A
// non-positive threshold falls back to the package default.
func New(warnThreshold, maxThreshold int) *WriteLog {
	if warnThreshold <= 0 {
		warnThreshold = DefaultWarnThreshold
	}
	if maxThreshold <= 0 {
		maxThreshold = DefaultMaxThreshold
	}
	return &WriteLog{warnThreshold: warnThreshold, maxThreshold: maxThreshold}
}

// Enabled reports whether the log is currently capturing writes.
func (wl *WriteLog) Enabled() bool {
	return wl.enabled.Load()
}

// SetEnabled turns capture on or off. Turning it off does not clear
// previously captured entries; call Clear for that.
func (wl *WriteLog) SetEnabled(v bool) {
	wl.enabled.Store(v)
}

// LogInsert appends an insert entry. It returns false (an overflow
// signal) if the log is at its max threshold; the caller's write still
// completes regardless; only maintenance aborts on overflow.
func (wl *WriteLog) LogInsert(id uint64, vector []float32) bool {
	if !wl.Enabled() {
		return true
	}
	v := make([]float32, len(vector))
	copy(v, vector)

	wl.mu.Lock()
	defer wl.mu.Unlock()
	if len(wl.entries) >= wl.maxThreshold {
		return false
	}
	wl.entries = append(wl.entries, Entry{Op: OpInsert, ID: id, Vector: v, Timestamp: time.Now().UnixNano()})
	return true
}

// LogRemove appends a remove entry, subject to the same overflow rule as
// LogInsert.
func (wl *WriteLog) LogRemove(id uint64) bool {
	if !wl.Enabled() {
		return true
	}
	wl.mu.Lock()
	defer wl.mu.Unlock()
	if len(wl.entries) >= wl.maxThreshold {
		return false
	}
	wl.entries = append(wl.entries, Entry{Op: OpRemove, ID: id, Timestamp: time.Now().UnixNano()})
	return true
}

// Size returns the number of captured entries.
func (wl *WriteLog) Size() int {
	wl.mu.Lock()
	defer wl.mu.Unlock()
	return len(wl.entries)
}

// ExceedsWarn reports whether the log has grown past the warn threshold,
// the signal index maintenance uses to abort rather than replay.
func (wl *WriteLog) ExceedsWarn() bool {
	wl.mu.Lock()
	defer wl.mu.Unlock()
	return len(wl.entries) > wl.warnThreshold
}

// Clear discards all captured entries.
func (wl *WriteLog) Clear() {
	wl.mu.Lock()
	defer wl.mu.Unlock()
	wl.entries = nil
}

// ReplayTo applies every captured entry, in order, to target. An insert
// that the target rejects as a duplicate (lynxerr.ErrInvalidState) is
// replayed as remove-then-add, making replay an idempotent overwrite,
// a deliberately looser rule than the façade's strict insert at the
// public boundary.
func (wl *WriteLog) ReplayTo(target ReplayTarget) error {
	wl.mu.Lock()
	defer wl.mu.Unlock()

	for _, e := range wl.entries {
		switch e.Op {
		case OpInsert:
			if err := target.Add(e.ID, e.Vector); err != nil {
				if errors.Is(err, lynxerr.ErrInvalidState) {
					_ = target.Remove(e.ID)
					if err2 := target.Add(e.ID, e.Vector); err2 != nil {
						return fmt.Errorf("replay overwrite insert id %d: %w", e.ID, err2)
					}
					continue
				}
				return fmt.Errorf("replay insert id %d: %w", e.ID, err)
			}
		case OpRemove:
			if err := target.Remove(e.ID); err != nil && !errors.Is(err, lynxerr.ErrVectorNotFound) {
				return fmt.Errorf("replay remove id %d: %w", e.ID, err)
			}
		}
	}
	return nil
}
