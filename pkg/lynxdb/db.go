// Package lynxdb is the concurrency-safe database façade: it owns the
// vector store and the active ANN index, enforces the dimension/id
// invariants at the public boundary, and drives batch insert,
// persistence, and non-blocking maintenance. A readers-writer lock
// guards only the *reference* to the active index, separate from the
// index's own internal lock; statistics are plain atomics.
package lynxdb

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lynxvec/lynxdb/pkg/distance"
	"github.com/lynxvec/lynxdb/pkg/flat"
	"github.com/lynxvec/lynxdb/pkg/hnsw"
	"github.com/lynxvec/lynxdb/pkg/index"
	"github.com/lynxvec/lynxdb/pkg/ivf"
	"github.com/lynxvec/lynxdb/pkg/lynxerr"
	"github.com/lynxvec/lynxdb/pkg/writelog"
)

// IndexType selects which ANN index kind backs a Database.
type IndexType int

const (
	Flat IndexType = iota
	HNSW
	IVF
)

func (t IndexType) String() string {
	switch t {
	case HNSW:
		return "hnsw"
	case IVF:
		return "ivf"
	default:
		return "flat"
	}
}

// Config is the immutable set of parameters a Database is created with.
// Dimension, once set, never changes.
type Config struct {
	Dimension       int
	Metric          distance.Metric
	IndexType       IndexType
	HNSW            hnsw.Config
	IVF             ivf.Config
	DataPath        string
	NumQueryThreads int
	NumIndexThreads int
	// EnableWAL is reserved; Flush refuses it with
	// lynxerr.ErrNotImplemented.
	EnableWAL bool
}

// DefaultConfig returns an HNSW-backed configuration over vectors of
// dimension dim under the L2 metric.
func DefaultConfig(dim int) Config {
	return Config{
		Dimension: dim,
		Metric:    distance.L2,
		IndexType: HNSW,
		HNSW:      hnsw.DefaultConfig(),
		IVF:       ivf.DefaultConfig(16, 4),
	}
}

// VectorRecord is a stored (id, vector, metadata) triple. Metadata is
// stored verbatim and never interpreted.
type VectorRecord struct {
	ID       uint64
	Vector   []float32
	Metadata []byte
}

func cloneRecord(r VectorRecord) VectorRecord {
	v := make([]float32, len(r.Vector))
	copy(v, r.Vector)
	var m []byte
	if r.Metadata != nil {
		m = make([]byte, len(r.Metadata))
		copy(m, r.Metadata)
	}
	return VectorRecord{ID: r.ID, Vector: v, Metadata: m}
}

// DatabaseStats is a point-in-time snapshot of database counters.
type DatabaseStats struct {
	VectorCount      int
	Dimension        int
	TotalInserts     uint64
	TotalQueries     uint64
	AvgQueryTimeMs   float64
	IndexMemoryBytes int64
	TotalMemoryBytes int64
}

// SearchParams carries per-query overrides; zero values mean "use the
// database's configured default".
type SearchParams = index.SearchParams

// SearchResult is the ordered outcome of a search call.
type SearchResult struct {
	Items           []index.SearchHit
	TotalCandidates int
	QueryTimeMs     float64
}

func newIndexForConfig(cfg Config) index.Index {
	switch cfg.IndexType {
	case HNSW:
		c := cfg.HNSW
		c.Metric = cfg.Metric
		return hnsw.New(cfg.Dimension, c)
	case IVF:
		c := cfg.IVF
		c.Metric = cfg.Metric
		return ivf.New(c)
	default:
		return flat.New(cfg.Dimension, cfg.Metric)
	}
}

// Database is the concurrency-safe façade over a vector store and an ANN
// index. The zero value is not usable; construct with Create.
type Database struct {
	cfg Config

	storeMu sync.RWMutex
	store   map[uint64]VectorRecord

	// indexMu guards only the reference to idx, never the index's own
	// internal lock: holding it shared pins the current index object
	// against a concurrent maintenance swap.
	indexMu sync.RWMutex
	idx     index.Index

	wl      *writelog.WriteLog
	bufPool *bufferPool

	// afterCloneHook, when non-nil, runs between the maintenance clone's
	// optimize pass and the replay-and-swap critical section. Tests use it
	// to land writes inside the tee window deterministically.
	afterCloneHook func()

	totalInserts        uint64
	totalQueries        uint64
	totalQueryTimeNanos uint64
}

// Create constructs a Database from cfg.
func Create(cfg Config) (*Database, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", lynxerr.ErrInvalidParameter)
	}
	return &Database{
		cfg:     cfg,
		store:   make(map[uint64]VectorRecord),
		idx:     newIndexForConfig(cfg),
		wl:      writelog.New(0, 0),
		bufPool: newBufferPool(),
	}, nil
}

func (db *Database) activeIndex() index.Index {
	db.indexMu.RLock()
	defer db.indexMu.RUnlock()
	return db.idx
}

// Config returns the database's configuration.
func (db *Database) Config() Config {
	return db.cfg
}

// Dimension returns the configured vector dimension D.
func (db *Database) Dimension() int {
	return db.cfg.Dimension
}

// Size returns the number of vectors currently stored.
func (db *Database) Size() int {
	db.storeMu.RLock()
	defer db.storeMu.RUnlock()
	return len(db.store)
}

// Contains reports whether id is present in the vector store.
func (db *Database) Contains(id uint64) bool {
	db.storeMu.RLock()
	defer db.storeMu.RUnlock()
	_, ok := db.store[id]
	return ok
}

// Get returns a copy of the record stored under id, if present.
func (db *Database) Get(id uint64) (VectorRecord, bool) {
	db.storeMu.RLock()
	defer db.storeMu.RUnlock()
	rec, ok := db.store[id]
	if !ok {
		return VectorRecord{}, false
	}
	return cloneRecord(rec), true
}

// AllRecords returns an ascending-by-id snapshot of every stored record.
func (db *Database) AllRecords() []VectorRecord {
	db.storeMu.RLock()
	defer db.storeMu.RUnlock()
	out := make([]VectorRecord, 0, len(db.store))
	for _, rec := range db.store {
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Insert adds rec. A duplicate id is rejected as InvalidParameter, the
// façade's strict boundary rule, distinct from the write-tee replay's
// remove-then-add overwrite rule.
func (db *Database) Insert(rec VectorRecord) error {
	if len(rec.Vector) != db.cfg.Dimension {
		return fmt.Errorf("%w: got %d, want %d", lynxerr.ErrDimensionMismatch, len(rec.Vector), db.cfg.Dimension)
	}

	// Pin the active index for the whole call: indexMu held shared blocks
	// OptimizeIndex's exclusive swap (maintenance.go) until this write has
	// either landed in idx or been logged, so a write can never fall
	// between "applied to the pre-swap index" and "tee'd to the write
	// log".
	db.indexMu.RLock()
	defer db.indexMu.RUnlock()
	idx := db.idx

	stored := cloneRecord(rec)

	db.storeMu.Lock()
	if _, exists := db.store[rec.ID]; exists {
		db.storeMu.Unlock()
		return fmt.Errorf("%w: id %d already present", lynxerr.ErrInvalidParameter, rec.ID)
	}
	db.store[rec.ID] = stored
	db.storeMu.Unlock()

	if err := idx.Add(rec.ID, stored.Vector); err != nil {
		db.storeMu.Lock()
		delete(db.store, rec.ID)
		db.storeMu.Unlock()
		return err
	}

	if db.wl.Enabled() {
		db.wl.LogInsert(rec.ID, stored.Vector)
	}

	atomic.AddUint64(&db.totalInserts, 1)
	return nil
}

// Remove deletes id, mirroring Insert: the index is the source of truth,
// so a failed index removal never touches the store.
func (db *Database) Remove(id uint64) error {
	// See Insert: pin the active index across the whole call so the
	// write-log-enabled check below always refers to the same index
	// instance the removal was just applied to.
	db.indexMu.RLock()
	defer db.indexMu.RUnlock()
	idx := db.idx

	if err := idx.Remove(id); err != nil {
		return err
	}

	db.storeMu.Lock()
	delete(db.store, id)
	db.storeMu.Unlock()

	if db.wl.Enabled() {
		db.wl.LogRemove(id)
	}
	return nil
}

// Search returns up to k hits for query under params, filling unspecified
// EfSearch/NProbe values from the database's configuration.
func (db *Database) Search(query []float32, k int, params SearchParams) SearchResult {
	if len(query) != db.cfg.Dimension {
		return SearchResult{}
	}

	// Pin the active index across the whole search so a concurrent
	// OptimizeIndex swap cannot replace db.idx out from under the
	// in-flight query.
	db.indexMu.RLock()
	defer db.indexMu.RUnlock()
	idx := db.idx

	effective := params
	if effective.EfSearch <= 0 {
		effective.EfSearch = db.cfg.HNSW.EfSearch
	}
	if effective.NProbe <= 0 {
		effective.NProbe = db.cfg.IVF.NProbe
	}

	start := time.Now()
	hits, total := idx.Search(query, k, effective)
	elapsed := time.Since(start)

	atomic.AddUint64(&db.totalQueries, 1)
	atomic.AddUint64(&db.totalQueryTimeNanos, uint64(elapsed.Nanoseconds()))

	return SearchResult{
		Items:           hits,
		TotalCandidates: total,
		QueryTimeMs:     float64(elapsed.Nanoseconds()) / 1e6,
	}
}

// BatchInsert dispatches to one of three strategies: a bulk index build
// when the store is empty, a full retrain-and-merge when a large batch
// lands on an IVF index, and per-record inserts otherwise.
func (db *Database) BatchInsert(records []VectorRecord) error {
	db.storeMu.RLock()
	storeEmpty := len(db.store) == 0
	storeSize := len(db.store)
	db.storeMu.RUnlock()

	if storeEmpty {
		return db.bulkBuild(records)
	}

	if _, isIVF := db.activeIndex().(*ivf.Index); isIVF && float64(len(records)) > 0.5*float64(storeSize) {
		return db.rebuildWithMerge(records)
	}
	return db.incrementalInsert(records)
}

func (db *Database) bulkBuild(records []VectorRecord) error {
	recs := make([]index.Record, len(records))
	for i, r := range records {
		if len(r.Vector) != db.cfg.Dimension {
			return fmt.Errorf("%w: record %d has %d dims, want %d", lynxerr.ErrDimensionMismatch, r.ID, len(r.Vector), db.cfg.Dimension)
		}
		recs[i] = index.Record{ID: r.ID, Vector: r.Vector}
	}

	idx := db.activeIndex()
	if err := idx.Build(recs); err != nil {
		return err
	}

	db.storeMu.Lock()
	defer db.storeMu.Unlock()
	for _, r := range records {
		db.store[r.ID] = cloneRecord(r)
	}
	return nil
}

func (db *Database) rebuildWithMerge(records []VectorRecord) error {
	db.storeMu.RLock()
	merged := make([]VectorRecord, 0, len(db.store)+len(records))
	for _, r := range db.store {
		merged = append(merged, r)
	}
	db.storeMu.RUnlock()
	merged = append(merged, records...)

	recs := make([]index.Record, len(merged))
	for i, r := range merged {
		if len(r.Vector) != db.cfg.Dimension {
			return fmt.Errorf("%w: record %d has %d dims, want %d", lynxerr.ErrDimensionMismatch, r.ID, len(r.Vector), db.cfg.Dimension)
		}
		recs[i] = index.Record{ID: r.ID, Vector: r.Vector}
	}

	idx := db.activeIndex()
	if err := idx.Build(recs); err != nil {
		return err
	}

	db.storeMu.Lock()
	defer db.storeMu.Unlock()
	newStore := make(map[uint64]VectorRecord, len(merged))
	for _, r := range merged {
		newStore[r.ID] = cloneRecord(r)
	}
	db.store = newStore
	return nil
}

func (db *Database) incrementalInsert(records []VectorRecord) error {
	for _, r := range records {
		if err := db.Insert(r); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns a snapshot of database counters.
func (db *Database) Stats() DatabaseStats {
	db.storeMu.RLock()
	count := len(db.store)
	db.storeMu.RUnlock()

	idx := db.activeIndex()

	totalQueries := atomic.LoadUint64(&db.totalQueries)
	totalNanos := atomic.LoadUint64(&db.totalQueryTimeNanos)
	denom := totalQueries
	if denom == 0 {
		denom = 1
	}
	avgMs := float64(totalNanos) / float64(denom) / 1e6

	indexMem := idx.MemoryUsage()
	storeMem := int64(count) * int64(db.cfg.Dimension) * 4

	return DatabaseStats{
		VectorCount:      count,
		Dimension:        db.cfg.Dimension,
		TotalInserts:     atomic.LoadUint64(&db.totalInserts),
		TotalQueries:     totalQueries,
		AvgQueryTimeMs:   avgMs,
		IndexMemoryBytes: indexMem,
		TotalMemoryBytes: indexMem + storeMem,
	}
}
