// Package flat implements the brute-force linear-scan index: every query
// scans all vectors and keeps the k closest. Exact by construction, it is
// the baseline the approximate indexes are measured against and the
// cheapest choice for small collections.
package flat

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/lynxvec/lynxdb/pkg/codec"
	"github.com/lynxvec/lynxdb/pkg/distance"
	"github.com/lynxvec/lynxdb/pkg/index"
	"github.com/lynxvec/lynxdb/pkg/lynxerr"
)

var magicFlat = [4]byte{'F', 'L', 'A', 'T'}

const formatVersion = 1

// Index is a concurrency-safe linear-scan index.
type Index struct {
	mu      sync.RWMutex
	dim     int
	metric  distance.Metric
	vectors map[uint64][]float32
}

// New constructs an empty flat index over vectors of dimension dim.
func New(dim int, metric distance.Metric) *Index {
	return &Index{dim: dim, metric: metric, vectors: make(map[uint64][]float32)}
}

func (f *Index) Dimension() int {
	return f.dim
}

func (f *Index) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vectors)
}

// Metric returns the configured distance metric.
func (f *Index) Metric() distance.Metric {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.metric
}

func (f *Index) Contains(id uint64) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.vectors[id]
	return ok
}

func (f *Index) MemoryUsage() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return int64(len(f.vectors)) * int64(f.dim) * 4
}

func (f *Index) Add(id uint64, vector []float32) error {
	if len(vector) != f.dim {
		return fmt.Errorf("%w: got %d, want %d", lynxerr.ErrDimensionMismatch, len(vector), f.dim)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.vectors[id]; exists {
		return fmt.Errorf("%w: id %d already present", lynxerr.ErrInvalidState, id)
	}
	vcopy := make([]float32, f.dim)
	copy(vcopy, vector)
	f.vectors[id] = vcopy
	return nil
}

func (f *Index) Remove(id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.vectors[id]; !exists {
		return fmt.Errorf("%w: id %d", lynxerr.ErrVectorNotFound, id)
	}
	delete(f.vectors, id)
	return nil
}

type scored struct {
	id   uint64
	dist float32
}

func (f *Index) Search(query []float32, k int, params index.SearchParams) ([]index.SearchHit, int) {
	if len(query) != f.dim {
		return nil, 0
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	cands := make([]scored, 0, len(f.vectors))
	for id, vec := range f.vectors {
		if params.Filter != nil && !params.Filter(id) {
			continue
		}
		cands = append(cands, scored{id: id, dist: distance.Calculate(query, vec, f.metric)})
	}
	total := len(f.vectors)

	sort.Slice(cands, func(i, j int) bool { return cands[i].dist < cands[j].dist })
	if len(cands) > k {
		cands = cands[:k]
	}
	out := make([]index.SearchHit, len(cands))
	for i, c := range cands {
		out[i] = index.SearchHit{ID: c.id, Distance: c.dist}
	}
	return out, total
}

// Build inserts every record; flat has no training step.
func (f *Index) Build(records []index.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectors = make(map[uint64][]float32, len(records))
	for _, r := range records {
		if len(r.Vector) != f.dim {
			return fmt.Errorf("%w: record %d has %d dims, want %d", lynxerr.ErrDimensionMismatch, r.ID, len(r.Vector), f.dim)
		}
		vcopy := make([]float32, f.dim)
		copy(vcopy, r.Vector)
		f.vectors[r.ID] = vcopy
	}
	return nil
}

// Optimize is a no-op: a linear scan has no structure to maintain.
func (f *Index) Optimize() error {
	return nil
}

// Compact is a no-op for the same reason.
func (f *Index) Compact() error {
	return nil
}

func ioErr(err error) error {
	return fmt.Errorf("%w: %v", lynxerr.ErrIOError, err)
}

const maxReasonableCount = 1 << 30

// Serialize writes a simple magic+version+count framed dump of every
// vector, checksummed the same way as the other index kinds.
func (f *Index) Serialize(w io.Writer) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if err := codec.WriteHeader(w, magicFlat, formatVersion); err != nil {
		return err
	}
	hw := codec.NewHashingWriter(w)

	if err := binary.Write(hw, binary.LittleEndian, uint64(f.dim)); err != nil {
		return ioErr(err)
	}
	if err := binary.Write(hw, binary.LittleEndian, uint32(f.metric)); err != nil {
		return ioErr(err)
	}
	if err := binary.Write(hw, binary.LittleEndian, uint64(len(f.vectors))); err != nil {
		return ioErr(err)
	}

	ids := make([]uint64, 0, len(f.vectors))
	for id := range f.vectors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if err := binary.Write(hw, binary.LittleEndian, id); err != nil {
			return ioErr(err)
		}
		if err := binary.Write(hw, binary.LittleEndian, f.vectors[id]); err != nil {
			return ioErr(err)
		}
	}
	return hw.WriteTrailer()
}

func (f *Index) Deserialize(r io.Reader) error {
	version, err := codec.ReadHeader(r, magicFlat)
	if err != nil {
		return err
	}
	if version != formatVersion {
		return fmt.Errorf("%w: unsupported flat format version %d", lynxerr.ErrIOError, version)
	}

	hr := codec.NewHashingReader(r)
	var dim uint64
	var metric uint32
	var count uint64
	for _, field := range []interface{}{&dim, &metric, &count} {
		if err := binary.Read(hr, binary.LittleEndian, field); err != nil {
			return ioErr(err)
		}
	}
	if dim == 0 || dim > (1<<20) {
		return fmt.Errorf("%w: invalid dimension %d", lynxerr.ErrIOError, dim)
	}
	if count > maxReasonableCount {
		return fmt.Errorf("%w: invalid count %d", lynxerr.ErrIOError, count)
	}

	vectors := make(map[uint64][]float32, count)
	for i := uint64(0); i < count; i++ {
		var id uint64
		if err := binary.Read(hr, binary.LittleEndian, &id); err != nil {
			return ioErr(err)
		}
		v := make([]float32, dim)
		if err := binary.Read(hr, binary.LittleEndian, v); err != nil {
			return ioErr(err)
		}
		vectors[id] = v
	}

	if err := hr.VerifyTrailer(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.dim = int(dim)
	f.metric = distance.Metric(metric)
	f.vectors = vectors
	return nil
}
