package lynxdb

import (
	"bytes"
	"fmt"

	"github.com/lynxvec/lynxdb/pkg/lynxerr"
)

// OptimizeIndex runs the non-blocking clone-optimize-replay-swap
// maintenance protocol: the active index is cloned by serializing it into
// memory and deserializing into a fresh instance, writes are tee'd into
// the write log while the clone is optimized, and the log is replayed
// onto the clone in the same exclusive critical section as the pointer
// swap. Readers and writers never block on any of this except that final
// replay-and-swap: Insert/Remove/Search pin the active index with indexMu
// held shared for their whole call (db.go), so by the time OptimizeIndex
// acquires indexMu exclusively, every write concurrently applied to the
// pre-clone index has already either completed its write-log tee or is
// guaranteed not to start until after the swap. Replaying under the same
// lock that performs the swap is what closes the window where a write
// could land on the old index after the log was already replayed and
// disabled.
func (db *Database) OptimizeIndex() error {
	db.wl.Clear()
	db.wl.SetEnabled(true)

	active := db.activeIndex()

	bufPtr := db.bufPool.get(int(active.MemoryUsage()) + 1024)
	buf := bytes.NewBuffer(*bufPtr)
	if err := active.Serialize(buf); err != nil {
		db.wl.SetEnabled(false)
		*bufPtr = buf.Bytes()[:0]
		db.bufPool.put(bufPtr)
		return fmt.Errorf("%w: %v", lynxerr.ErrOutOfMemory, err)
	}
	data := buf.Bytes()

	clone := newIndexForConfig(db.cfg)
	if err := clone.Deserialize(bytes.NewReader(data)); err != nil {
		db.wl.SetEnabled(false)
		*bufPtr = data[:0]
		db.bufPool.put(bufPtr)
		return fmt.Errorf("%w: %v", lynxerr.ErrOutOfMemory, err)
	}
	*bufPtr = data[:0]
	db.bufPool.put(bufPtr)

	if err := clone.Optimize(); err != nil {
		db.wl.SetEnabled(false)
		return err
	}

	if db.afterCloneHook != nil {
		db.afterCloneHook()
	}

	db.indexMu.Lock()
	defer db.indexMu.Unlock()

	if db.wl.ExceedsWarn() {
		db.wl.SetEnabled(false)
		db.wl.Clear()
		return lynxerr.ErrBusy
	}

	if err := db.wl.ReplayTo(clone); err != nil {
		db.wl.SetEnabled(false)
		db.wl.Clear()
		return err
	}

	db.idx = clone
	db.wl.SetEnabled(false)
	db.wl.Clear()
	return nil
}
