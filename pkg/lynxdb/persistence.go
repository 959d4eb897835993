package lynxdb

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/lynxvec/lynxdb/pkg/codec"
	"github.com/lynxvec/lynxdb/pkg/distance"
	"github.com/lynxvec/lynxdb/pkg/lynxerr"
)

var magicVectors = [4]byte{'L', 'Y', 'N', 'X'}

const vectorsFormatVersion = 1
const maxReasonableRecords = 1 << 30

func ioErr(err error) error {
	return fmt.Errorf("%w: %v", lynxerr.ErrIOError, err)
}

// writeFileAtomic writes to path+".tmp" and renames over path only on
// success, so a crash mid-write never leaves a torn file behind.
func writeFileAtomic(path string, write func(io.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return ioErr(err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return ioErr(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return ioErr(err)
	}
	return nil
}

func (db *Database) serializeVectors(w io.Writer) error {
	db.storeMu.RLock()
	defer db.storeMu.RUnlock()

	if err := codec.WriteHeader(w, magicVectors, vectorsFormatVersion); err != nil {
		return err
	}
	hw := codec.NewHashingWriter(w)

	ids := make([]uint64, 0, len(db.store))
	for id := range db.store {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if err := binary.Write(hw, binary.LittleEndian, uint64(len(ids))); err != nil {
		return ioErr(err)
	}
	if err := binary.Write(hw, binary.LittleEndian, uint64(db.cfg.Dimension)); err != nil {
		return ioErr(err)
	}

	for _, id := range ids {
		rec := db.store[id]
		if err := binary.Write(hw, binary.LittleEndian, id); err != nil {
			return ioErr(err)
		}
		if err := binary.Write(hw, binary.LittleEndian, rec.Vector); err != nil {
			return ioErr(err)
		}
		if err := codec.WriteBytesWithLen(hw, rec.Metadata); err != nil {
			return err
		}
	}
	return hw.WriteTrailer()
}

func (db *Database) deserializeVectors(r io.Reader) (map[uint64]VectorRecord, error) {
	version, err := codec.ReadHeader(r, magicVectors)
	if err != nil {
		return nil, err
	}
	if version != vectorsFormatVersion {
		return nil, fmt.Errorf("%w: unsupported vectors format version %d", lynxerr.ErrIOError, version)
	}
	hr := codec.NewHashingReader(r)

	var count, dim uint64
	if err := binary.Read(hr, binary.LittleEndian, &count); err != nil {
		return nil, ioErr(err)
	}
	if err := binary.Read(hr, binary.LittleEndian, &dim); err != nil {
		return nil, ioErr(err)
	}
	if dim != uint64(db.cfg.Dimension) {
		return nil, fmt.Errorf("%w: file dimension %d != configured %d", lynxerr.ErrIOError, dim, db.cfg.Dimension)
	}
	if count > maxReasonableRecords {
		return nil, fmt.Errorf("%w: unreasonable record count %d", lynxerr.ErrIOError, count)
	}

	store := make(map[uint64]VectorRecord, count)
	for i := uint64(0); i < count; i++ {
		var id uint64
		if err := binary.Read(hr, binary.LittleEndian, &id); err != nil {
			return nil, ioErr(err)
		}
		vec := make([]float32, dim)
		if err := binary.Read(hr, binary.LittleEndian, vec); err != nil {
			return nil, ioErr(err)
		}
		meta, err := codec.ReadBytesWithLen(hr)
		if err != nil {
			return nil, err
		}
		store[id] = VectorRecord{ID: id, Vector: vec, Metadata: meta}
	}

	if err := hr.VerifyTrailer(); err != nil {
		return nil, err
	}
	return store, nil
}

type metricReporter interface {
	Metric() distance.Metric
}

// Save writes index.bin and vectors.bin under cfg.DataPath, creating the
// directory if necessary.
func (db *Database) Save() error {
	if db.cfg.DataPath == "" {
		return fmt.Errorf("%w: no data_path configured", lynxerr.ErrInvalidParameter)
	}
	if err := os.MkdirAll(db.cfg.DataPath, 0o755); err != nil {
		return ioErr(err)
	}

	idx := db.activeIndex()

	indexPath := filepath.Join(db.cfg.DataPath, "index.bin")
	if err := writeFileAtomic(indexPath, idx.Serialize); err != nil {
		return err
	}

	vectorsPath := filepath.Join(db.cfg.DataPath, "vectors.bin")
	if err := writeFileAtomic(vectorsPath, db.serializeVectors); err != nil {
		return err
	}
	return nil
}

// Load reads index.bin and vectors.bin from cfg.DataPath, verifying magic,
// version, dimension, and metric before replacing any live state; on any
// mismatch or short read the database is left exactly as it was.
func (db *Database) Load() error {
	if db.cfg.DataPath == "" {
		return fmt.Errorf("%w: no data_path configured", lynxerr.ErrInvalidParameter)
	}

	indexPath := filepath.Join(db.cfg.DataPath, "index.bin")
	indexFile, err := os.Open(indexPath)
	if err != nil {
		return ioErr(err)
	}
	defer indexFile.Close()

	freshIdx := newIndexForConfig(db.cfg)
	if err := freshIdx.Deserialize(indexFile); err != nil {
		return err
	}
	if freshIdx.Dimension() != db.cfg.Dimension {
		return fmt.Errorf("%w: loaded index dimension %d != configured %d", lynxerr.ErrIOError, freshIdx.Dimension(), db.cfg.Dimension)
	}
	if mr, ok := freshIdx.(metricReporter); ok && mr.Metric() != db.cfg.Metric {
		return fmt.Errorf("%w: loaded index metric %v != configured %v", lynxerr.ErrIOError, mr.Metric(), db.cfg.Metric)
	}

	vectorsPath := filepath.Join(db.cfg.DataPath, "vectors.bin")
	vectorsFile, err := os.Open(vectorsPath)
	if err != nil {
		return ioErr(err)
	}
	defer vectorsFile.Close()

	store, err := db.deserializeVectors(vectorsFile)
	if err != nil {
		return err
	}

	db.indexMu.Lock()
	db.idx = freshIdx
	db.indexMu.Unlock()

	db.storeMu.Lock()
	db.store = store
	db.storeMu.Unlock()
	return nil
}

// Flush persists the database. EnableWAL is reserved and always rejected
// here.
func (db *Database) Flush() error {
	if db.cfg.EnableWAL {
		return fmt.Errorf("%w: write-ahead logging is reserved", lynxerr.ErrNotImplemented)
	}
	return db.Save()
}
