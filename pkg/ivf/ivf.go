// Package ivf implements the inverted-file cluster index: a set of
// k-means-trained centroids, one inverted list of (id, vector) pairs per
// centroid, and an id -> cluster map. A query scans only the n_probe
// nearest clusters, trading recall for a sublinear candidate set.
package ivf

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"

	"github.com/lynxvec/lynxdb/pkg/codec"
	"github.com/lynxvec/lynxdb/pkg/distance"
	"github.com/lynxvec/lynxdb/pkg/index"
	"github.com/lynxvec/lynxdb/pkg/kmeans"
	"github.com/lynxvec/lynxdb/pkg/lynxerr"
)

var magicIVF = [4]byte{'I', 'V', 'F', 'X'}

const formatVersion = 1

// Config controls training and search.
type Config struct {
	NClusters int
	NProbe    int
	Metric    distance.Metric
	KMeans    kmeans.Config
}

// DefaultConfig returns a Config for nClusters centroids probing nProbe of
// them per query.
func DefaultConfig(nClusters, nProbe int) Config {
	return Config{
		NClusters: nClusters,
		NProbe:    nProbe,
		Metric:    distance.L2,
		KMeans:    kmeans.DefaultConfig(nClusters),
	}
}

type invertedList struct {
	ids     []uint64
	vectors [][]float32
}

// Index is a concurrency-safe IVF index. The zero value is not usable;
// construct with New.
type Index struct {
	mu  sync.RWMutex
	cfg Config
	dim int

	centroids   [][]float32
	lists       []invertedList
	idToCluster map[uint64]int
	built       bool
}

// New constructs an untrained index; Build must run before Add or Search.
func New(cfg Config) *Index {
	if cfg.NClusters <= 0 {
		cfg.NClusters = 1
	}
	if cfg.NProbe <= 0 {
		cfg.NProbe = 1
	}
	return &Index{cfg: cfg, idToCluster: make(map[uint64]int)}
}

// Dimension returns the configured vector dimension D, or 0 before Build.
func (idx *Index) Dimension() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dim
}

// Metric returns the configured distance metric.
func (idx *Index) Metric() distance.Metric {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.cfg.Metric
}

// Size returns the number of vectors currently indexed.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.idToCluster)
}

// Contains reports whether id is present.
func (idx *Index) Contains(id uint64) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.idToCluster[id]
	return ok
}

// MemoryUsage estimates resident bytes across centroids and inverted
// lists.
func (idx *Index) MemoryUsage() int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	total := int64(len(idx.centroids)) * int64(idx.dim) * 4
	for _, list := range idx.lists {
		total += int64(len(list.ids)) * 8
		total += int64(len(list.vectors)) * int64(idx.dim) * 4
	}
	return total
}

// Build trains centroids via k-means++ + Lloyd over records and assigns
// every record to its nearest centroid, replacing any prior training.
// Once trained, centroids are never mutated; Add only assigns new
// vectors to the nearest existing centroid.
func (idx *Index) Build(records []index.Record) error {
	if len(records) == 0 {
		return fmt.Errorf("%w: empty build input", lynxerr.ErrInvalidParameter)
	}
	dim := len(records[0].Vector)
	vectors := make([][]float32, len(records))
	for i, r := range records {
		if len(r.Vector) != dim {
			return fmt.Errorf("%w: record %d has %d dims, want %d", lynxerr.ErrDimensionMismatch, i, len(r.Vector), dim)
		}
		vectors[i] = r.Vector
	}

	k := idx.cfg.NClusters
	if k <= 0 {
		k = 1
	}
	kmCfg := idx.cfg.KMeans
	kmCfg.K = k
	result := kmeans.Run(vectors, kmCfg, idx.cfg.Metric)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.dim = dim
	idx.centroids = result.Centroids
	idx.lists = make([]invertedList, len(result.Centroids))
	idx.idToCluster = make(map[uint64]int, len(records))
	for i, r := range records {
		c := result.Assignments[i]
		vcopy := make([]float32, dim)
		copy(vcopy, r.Vector)
		idx.lists[c].ids = append(idx.lists[c].ids, r.ID)
		idx.lists[c].vectors = append(idx.lists[c].vectors, vcopy)
		idx.idToCluster[r.ID] = c
	}
	idx.built = true
	return nil
}

func (idx *Index) nearestCentroidLocked(vec []float32) int {
	best, bestDist := 0, float32(math.MaxFloat32)
	for c, centroid := range idx.centroids {
		d := distance.Calculate(vec, centroid, idx.cfg.Metric)
		if d < bestDist {
			bestDist = d
			best = c
		}
	}
	return best
}

// Add assigns vec to its nearest existing centroid. Requires centroids to
// already exist (IndexNotBuilt otherwise); duplicate ids are rejected.
func (idx *Index) Add(id uint64, vec []float32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if !idx.built {
		return fmt.Errorf("%w: ivf centroids not trained", lynxerr.ErrIndexNotBuilt)
	}
	if len(vec) != idx.dim {
		return fmt.Errorf("%w: got %d, want %d", lynxerr.ErrDimensionMismatch, len(vec), idx.dim)
	}
	if _, exists := idx.idToCluster[id]; exists {
		return fmt.Errorf("%w: id %d already present", lynxerr.ErrInvalidState, id)
	}

	c := idx.nearestCentroidLocked(vec)
	vcopy := make([]float32, idx.dim)
	copy(vcopy, vec)
	idx.lists[c].ids = append(idx.lists[c].ids, id)
	idx.lists[c].vectors = append(idx.lists[c].vectors, vcopy)
	idx.idToCluster[id] = c
	return nil
}

// Remove deletes id via an O(1) swap-with-last inside its owning
// inverted list.
func (idx *Index) Remove(id uint64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	c, ok := idx.idToCluster[id]
	if !ok {
		return fmt.Errorf("%w: id %d", lynxerr.ErrVectorNotFound, id)
	}
	list := &idx.lists[c]
	pos := -1
	for i, lid := range list.ids {
		if lid == id {
			pos = i
			break
		}
	}
	if pos < 0 {
		return fmt.Errorf("%w: id %d missing from its owning cluster list", lynxerr.ErrInvalidState, id)
	}

	last := len(list.ids) - 1
	list.ids[pos] = list.ids[last]
	list.vectors[pos] = list.vectors[last]
	list.ids = list.ids[:last]
	list.vectors = list.vectors[:last]
	delete(idx.idToCluster, id)
	return nil
}

type scoredCentroid struct {
	index int
	dist  float32
}

type scoredID struct {
	id   uint64
	dist float32
}

// Search clamps n_probe to [1, k_centroids], scans the nearest n_probe
// inverted lists in full, and returns the k closest hits.
func (idx *Index) Search(query []float32, k int, params index.SearchParams) ([]index.SearchHit, int) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if !idx.built || len(query) != idx.dim {
		return nil, 0
	}

	nProbe := params.NProbe
	if nProbe <= 0 {
		nProbe = idx.cfg.NProbe
	}
	if nProbe < 1 {
		nProbe = 1
	}
	if nProbe > len(idx.centroids) {
		nProbe = len(idx.centroids)
	}

	centroidDists := make([]scoredCentroid, len(idx.centroids))
	for i, c := range idx.centroids {
		centroidDists[i] = scoredCentroid{index: i, dist: distance.Calculate(query, c, idx.cfg.Metric)}
	}
	sort.Slice(centroidDists, func(i, j int) bool { return centroidDists[i].dist < centroidDists[j].dist })

	var cands []scoredID
	total := 0
	for p := 0; p < nProbe; p++ {
		list := idx.lists[centroidDists[p].index]
		total += len(list.ids)
		for i, vec := range list.vectors {
			id := list.ids[i]
			if params.Filter != nil && !params.Filter(id) {
				continue
			}
			cands = append(cands, scoredID{id: id, dist: distance.Calculate(query, vec, idx.cfg.Metric)})
		}
	}
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

// Optimize retrains centroids from scratch over the currently indexed
// vectors: the maintenance clone's equivalent of a fresh Build. Centroid
// quality drifts as Add keeps assigning new vectors to centroids trained
// on an older population; retraining re-partitions the lists around the
// data that is actually there now. A no-op before Build.
func (idx *Index) Optimize() error {
	idx.mu.RLock()
	if !idx.built {
		idx.mu.RUnlock()
		return nil
	}
	records := make([]index.Record, 0, len(idx.idToCluster))
	for _, list := range idx.lists {
		for i, id := range list.ids {
			v := make([]float32, idx.dim)
			copy(v, list.vectors[i])
			records = append(records, index.Record{ID: id, Vector: v})
		}
	}
	idx.mu.RUnlock()

	if len(records) == 0 {
		return nil
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return idx.Build(records)
}

// Compact rebuilds the id -> cluster map from the inverted lists
// themselves, self-healing any drift between the two. Idempotent.
func (idx *Index) Compact() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if !idx.built {
		return nil
	}
	rebuilt := make(map[uint64]int, len(idx.idToCluster))
	for c, list := range idx.lists {
		for _, id := range list.ids {
			rebuilt[id] = c
		}
	}
	idx.idToCluster = rebuilt
	return nil
}

func ioErr(err error) error {
	return fmt.Errorf("%w: %v", lynxerr.ErrIOError, err)
}

const (
	maxReasonableDim      = 1 << 20
	maxReasonableClusters = 1 << 24
	maxReasonableListSize = 1 << 30
)

// Serialize writes the IVF binary snapshot: header, scalar fields,
// centroids, per-list {count, ids, vectors}, then the id-map, and a
// trailing xxhash64 checksum.
func (idx *Index) Serialize(w io.Writer) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if err := codec.WriteHeader(w, magicIVF, formatVersion); err != nil {
		return err
	}
	hw := codec.NewHashingWriter(w)

	scalars := []interface{}{
		uint64(idx.dim),
		uint32(idx.cfg.Metric),
		uint64(len(idx.centroids)),
	}
	for _, f := range scalars {
		if err := binary.Write(hw, binary.LittleEndian, f); err != nil {
			return ioErr(err)
		}
	}
	for _, c := range idx.centroids {
		if err := binary.Write(hw, binary.LittleEndian, c); err != nil {
			return ioErr(err)
		}
	}
	for _, list := range idx.lists {
		if err := binary.Write(hw, binary.LittleEndian, uint64(len(list.ids))); err != nil {
			return ioErr(err)
		}
		for _, id := range list.ids {
			if err := binary.Write(hw, binary.LittleEndian, id); err != nil {
				return ioErr(err)
			}
		}
		for _, v := range list.vectors {
			if err := binary.Write(hw, binary.LittleEndian, v); err != nil {
				return ioErr(err)
			}
		}
	}

	ids := make([]uint64, 0, len(idx.idToCluster))
	for id := range idx.idToCluster {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if err := binary.Write(hw, binary.LittleEndian, uint64(len(ids))); err != nil {
		return ioErr(err)
	}
	for _, id := range ids {
		c := idx.idToCluster[id]
		if err := binary.Write(hw, binary.LittleEndian, id); err != nil {
			return ioErr(err)
		}
		if err := binary.Write(hw, binary.LittleEndian, uint32(c)); err != nil {
			return ioErr(err)
		}
	}

	return hw.WriteTrailer()
}

// Deserialize reads the IVF binary snapshot, validating that the id-map
// and inverted lists agree before committing any state. A failure at any
// point leaves the receiver untouched.
func (idx *Index) Deserialize(r io.Reader) error {
	version, err := codec.ReadHeader(r, magicIVF)
	if err != nil {
		return err
	}
	if version != formatVersion {
		return fmt.Errorf("%w: unsupported ivf format version %d", lynxerr.ErrIOError, version)
	}

	hr := codec.NewHashingReader(r)

	var dim uint64
	var metric uint32
	var k uint64
	for _, f := range []interface{}{&dim, &metric, &k} {
		if err := binary.Read(hr, binary.LittleEndian, f); err != nil {
			return ioErr(err)
		}
	}
	if dim == 0 || dim > maxReasonableDim {
		return fmt.Errorf("%w: invalid dimension %d", lynxerr.ErrIOError, dim)
	}
	if k > maxReasonableClusters {
		return fmt.Errorf("%w: invalid cluster count %d", lynxerr.ErrIOError, k)
	}

	centroids := make([][]float32, k)
	for i := range centroids {
		c := make([]float32, dim)
		if err := binary.Read(hr, binary.LittleEndian, c); err != nil {
			return ioErr(err)
		}
		centroids[i] = c
	}

	lists := make([]invertedList, k)
	var totalFromLists uint64
	for c := range lists {
		var count uint64
		if err := binary.Read(hr, binary.LittleEndian, &count); err != nil {
			return ioErr(err)
		}
		if count > maxReasonableListSize {
			return fmt.Errorf("%w: unreasonable list size %d", lynxerr.ErrIOError, count)
		}
		ids := make([]uint64, count)
		if count > 0 {
			if err := binary.Read(hr, binary.LittleEndian, ids); err != nil {
				return ioErr(err)
			}
		}
		vectors := make([][]float32, count)
		for i := uint64(0); i < count; i++ {
			v := make([]float32, dim)
			if err := binary.Read(hr, binary.LittleEndian, v); err != nil {
				return ioErr(err)
			}
			vectors[i] = v
		}
		lists[c] = invertedList{ids: ids, vectors: vectors}
		totalFromLists += count
	}

	var mapCount uint64
	if err := binary.Read(hr, binary.LittleEndian, &mapCount); err != nil {
		return ioErr(err)
	}
	if mapCount > maxReasonableListSize {
		return fmt.Errorf("%w: unreasonable id-map size %d", lynxerr.ErrIOError, mapCount)
	}
	idToCluster := make(map[uint64]int, mapCount)
	for i := uint64(0); i < mapCount; i++ {
		var id uint64
		var cluster uint32
		if err := binary.Read(hr, binary.LittleEndian, &id); err != nil {
			return ioErr(err)
		}
		if err := binary.Read(hr, binary.LittleEndian, &cluster); err != nil {
			return ioErr(err)
		}
		if uint64(cluster) >= k {
			return fmt.Errorf("%w: id %d cluster %d out of range", lynxerr.ErrIOError, id, cluster)
		}
		idToCluster[id] = int(cluster)
	}

	if err := hr.VerifyTrailer(); err != nil {
		return err
	}

	if mapCount != totalFromLists {
		return fmt.Errorf("%w: id-map size %d != total inverted-list size %d", lynxerr.ErrInvalidState, mapCount, totalFromLists)
	}
	for c, list := range lists {
		for _, id := range list.ids {
			cluster, ok := idToCluster[id]
			if !ok || cluster != c {
				return fmt.Errorf("%w: id %d cluster assignment mismatch", lynxerr.ErrInvalidState, id)
			}
		}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.dim = int(dim)
	idx.cfg.Metric = distance.Metric(metric)
	idx.centroids = centroids
	idx.lists = lists
	idx.idToCluster = idToCluster
	idx.built = k > 0
	return nil
}
