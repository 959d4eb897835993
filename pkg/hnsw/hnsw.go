// Package hnsw implements the hierarchical navigable small-world graph
// index, lynxdb's primary ANN index kind: a multi-layer proximity graph
// where each upper layer is an exponential subsample and search descends
// greedily before running a beam search on the dense bottom layer.
// Neighbor sets are kept sparse by a diversifying selection heuristic
// rather than plain nearest-M truncation. Remove drops edges without
// re-linking survivors; Optimize and Compact do not add edges either, and
// only Rebuild reinserts every vector into a fresh graph.
package hnsw

import (
	"container/heap"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/lynxvec/lynxdb/pkg/codec"
	"github.com/lynxvec/lynxdb/pkg/distance"
	"github.com/lynxvec/lynxdb/pkg/index"
	"github.com/lynxvec/lynxdb/pkg/lynxerr"
	"github.com/lynxvec/lynxdb/pkg/visited"
)

var magicHNSW = [4]byte{'H', 'N', 'S', 'W'}

const formatVersion = 1

// maxLayerCap bounds the randomized layer assignment regardless of M.
const maxLayerCap = 16

// Config controls graph construction and search.
type Config struct {
	M              int
	EfConstruction int
	EfSearch       int
	MaxElements    int
	Metric         distance.Metric
	// Seed makes layer assignment reproducible. Zero draws from the clock.
	Seed int64
}

// DefaultConfig returns the standard construction parameters.
func DefaultConfig() Config {
	return Config{
		M:              16,
		EfConstruction: 200,
		EfSearch:       50,
		Metric:         distance.L2,
	}
}

type node struct {
	id        uint64
	maxLayer  int
	neighbors [][]uint64 // indexed by level, 0..maxLayer
}

// Index is a concurrency-safe HNSW graph. The zero value is not usable;
// construct with New.
type Index struct {
	mu  sync.RWMutex
	cfg Config
	dim int
	mL  float64
	rng *rand.Rand

	nodes      map[uint64]*node
	store      *flatStore
	entryPoint uint64
	entryLayer int
	hasEntry   bool
}

var visitedPool = sync.Pool{New: func() interface{} { return visited.New(0) }}

func getVisited(n int) *visited.Table {
	t := visitedPool.Get().(*visited.Table)
	t.Resize(n)
	t.Reset()
	return t
}

func putVisited(t *visited.Table) {
	visitedPool.Put(t)
}

// New constructs an empty index over vectors of dimension dim.
func New(dim int, cfg Config) *Index {
	if cfg.M <= 0 {
		cfg.M = 16
	}
	if cfg.EfConstruction <= 0 {
		cfg.EfConstruction = 200
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = 50
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Index{
		cfg:   cfg,
		dim:   dim,
		mL:    1.0 / math.Log(float64(cfg.M)),
		rng:   rand.New(rand.NewSource(seed)),
		nodes: make(map[uint64]*node),
		store: newFlatStore(dim),
	}
}

func maxNeighborsFor(m, level int) int {
	if level == 0 {
		return 2 * m
	}
	return m
}

func (h *Index) maxNeighbors(level int) int {
	return maxNeighborsFor(h.cfg.M, level)
}

func (h *Index) randomLevel() int {
	r := h.rng.Float64()
	if r <= 0 {
		r = 1e-12
	}
	level := int(math.Floor(-math.Log(r) * h.mL))
	if level > maxLayerCap {
		level = maxLayerCap
	}
	return level
}

// Dimension returns the configured vector dimension D.
func (h *Index) Dimension() int {
	return h.dim
}

// Metric returns the configured distance metric.
func (h *Index) Metric() distance.Metric {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg.Metric
}

// EntryPoint returns the id of the current entry point. Undefined if the
// graph is empty; check Size first.
func (h *Index) EntryPoint() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.entryPoint
}

// Size returns the number of vectors currently indexed.
func (h *Index) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes)
}

// Contains reports whether id is present.
func (h *Index) Contains(id uint64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.nodes[id]
	return ok
}

// MemoryUsage estimates resident bytes: the flat vector buffer plus the
// per-node neighbor-id slices.
func (h *Index) MemoryUsage() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := int64(len(h.store.data)) * 4
	for _, n := range h.nodes {
		total += 32
		for _, level := range n.neighbors {
			total += int64(len(level)) * 8
		}
	}
	return total
}

// Add inserts a new vector under id.
func (h *Index) Add(id uint64, vec []float32) error {
	if len(vec) != h.dim {
		return fmt.Errorf("%w: got %d, want %d", lynxerr.ErrDimensionMismatch, len(vec), h.dim)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.nodes[id]; exists {
		return fmt.Errorf("%w: id %d already present", lynxerr.ErrInvalidState, id)
	}

	level := h.randomLevel()
	h.store.add(id, vec)
	n := &node{id: id, maxLayer: level, neighbors: make([][]uint64, level+1)}
	h.nodes[id] = n

	if !h.hasEntry {
		h.entryPoint = id
		h.entryLayer = level
		h.hasEntry = true
		return nil
	}

	myVec := h.store.view(id)

	entry := h.entryPoint
	for l := h.entryLayer; l > level; l-- {
		entry = h.greedyClosest(myVec, entry, l)
	}

	top := level
	if h.entryLayer < top {
		top = h.entryLayer
	}
	entryPoints := []uint64{entry}
	for l := top; l >= 0; l-- {
		vt := getVisited(h.store.numRows())
		cands := h.searchLayer(myVec, entryPoints, h.cfg.EfConstruction, l, vt)
		putVisited(vt)

		selected := h.selectHeuristic(myVec, cands, h.maxNeighbors(l))
		// pruneIfNeeded can remove s from n.neighbors[l] in place, so the
		// node keeps its own copy and the loop walks the unmodified one.
		n.neighbors[l] = append([]uint64(nil), selected...)

		for _, s := range selected {
			h.addEdge(s, id, l)
			h.pruneIfNeeded(s, l)
		}
		if len(selected) > 0 {
			entryPoints = selected
		}
	}

	if level > h.entryLayer {
		h.entryPoint = id
		h.entryLayer = level
	}
	return nil
}

// Remove deletes id, dropping its edges. Surviving neighbors are not
// re-linked to one another, so heavy removal can disconnect components
// and degrade recall. Optimize and Compact do not re-link them; Rebuild
// does.
func (h *Index) Remove(id uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	n, ok := h.nodes[id]
	if !ok {
		return fmt.Errorf("%w: id %d", lynxerr.ErrVectorNotFound, id)
	}

	for level := 0; level <= n.maxLayer; level++ {
		for _, nb := range n.neighbors[level] {
			h.removeEdge(nb, id, level)
		}
	}

	delete(h.nodes, id)
	h.store.remove(id)

	if h.entryPoint == id {
		h.reselectEntry()
	}
	return nil
}

func (h *Index) reselectEntry() {
	if len(h.nodes) == 0 {
		h.hasEntry = false
		h.entryPoint = 0
		h.entryLayer = 0
		return
	}
	var best uint64
	bestLayer := -1
	for nid, nn := range h.nodes {
		if bestLayer < 0 || nn.maxLayer > bestLayer || (nn.maxLayer == bestLayer && nid < best) {
			bestLayer = nn.maxLayer
			best = nid
		}
	}
	h.entryPoint = best
	h.entryLayer = bestLayer
	h.hasEntry = true
}

// Search returns up to k hits ascending by distance.
func (h *Index) Search(query []float32, k int, params index.SearchParams) ([]index.SearchHit, int) {
	if len(query) != h.dim {
		return nil, 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.hasEntry {
		return nil, 0
	}

	ef := params.EfSearch
	if ef <= 0 {
		ef = h.cfg.EfSearch
	}
	if ef < k {
		ef = k
	}

	entry := h.entryPoint
	for l := h.entryLayer; l > 0; l-- {
		entry = h.greedyClosest(query, entry, l)
	}

	vt := getVisited(h.store.numRows())
	hits := h.searchLayer(query, []uint64{entry}, ef, 0, vt)
	putVisited(vt)

	// Every indexed vector is in scope of a graph search, unlike IVF's
	// probed-lists subset.
	total := len(h.nodes)

	out := make([]index.SearchHit, 0, k)
	for _, it := range hits {
		if params.Filter != nil && !params.Filter(it.id) {
			continue
		}
		out = append(out, index.SearchHit{ID: it.id, Distance: it.dist})
		if len(out) >= k {
			break
		}
	}
	return out, total
}

// Build inserts every record in order on top of any nodes already in the
// graph; it does not clear them, so an id that is already present fails
// with ErrInvalidState. Used for bulk construction of an empty index.
func (h *Index) Build(records []index.Record) error {
	for _, r := range records {
		if err := h.Add(r.ID, r.Vector); err != nil {
			return err
		}
	}
	return nil
}

// greedyClosest descends from entryID at level, following whichever
// neighbor edge most reduces distance to query, until no neighbor
// improves on the current point.
func (h *Index) greedyClosest(query []float32, entryID uint64, level int) uint64 {
	curr := entryID
	currVec := h.store.view(curr)
	if currVec == nil {
		return entryID
	}
	currDist := distance.Calculate(query, currVec, h.cfg.Metric)

	for {
		n := h.nodes[curr]
		if n == nil || level > n.maxLayer {
			return curr
		}
		improved := false
		for _, nb := range n.neighbors[level] {
			nbVec := h.store.view(nb)
			if nbVec == nil {
				continue
			}
			d := distance.Calculate(query, nbVec, h.cfg.Metric)
			if d < currDist {
				currDist = d
				curr = nb
				improved = true
			}
		}
		if !improved {
			return curr
		}
	}
}

// searchLayer is the ef-bounded beam search within one layer. Results
// are returned ascending by distance.
func (h *Index) searchLayer(query []float32, entryPoints []uint64, ef int, level int, vt *visited.Table) []item {
	cand := &minHeap{}
	res := &maxHeap{}
	heap.Init(cand)
	heap.Init(res)

	for _, ep := range entryPoints {
		row, ok := h.store.idToRow[ep]
		if !ok {
			continue
		}
		if vt.IsVisited(row) {
			continue
		}
		vt.Mark(row)
		d := distance.Calculate(query, h.store.viewRow(row), h.cfg.Metric)
		heap.Push(cand, item{id: ep, dist: d})
		heap.Push(res, item{id: ep, dist: d})
	}
	if cand.Len() == 0 {
		return nil
	}

	for cand.Len() > 0 {
		c := heap.Pop(cand).(item)
		if res.Len() >= ef && c.dist > (*res)[0].dist {
			break
		}

		n, ok := h.nodes[c.id]
		if !ok || level > n.maxLayer {
			continue
		}
		for _, nb := range n.neighbors[level] {
			row, ok := h.store.idToRow[nb]
			if !ok || vt.IsVisited(row) {
				continue
			}
			vt.Mark(row)
			d := distance.Calculate(query, h.store.viewRow(row), h.cfg.Metric)

			if res.Len() < ef {
				heap.Push(cand, item{id: nb, dist: d})
				heap.Push(res, item{id: nb, dist: d})
			} else if d < (*res)[0].dist {
				heap.Push(cand, item{id: nb, dist: d})
				heap.Push(res, item{id: nb, dist: d})
				heap.Pop(res)
			}
		}
	}

	out := make([]item, res.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(res).(item)
	}
	return out
}

// selectHeuristic implements diversifying neighbor selection: candidates
// are considered nearest-first, and a candidate is accepted only if no
// already-accepted neighbor lies closer to it than it lies to the query.
// Rejected candidates backfill by distance if fewer than m were accepted.
func (h *Index) selectHeuristic(query []float32, candidates []item, m int) []uint64 {
	sorted := make([]item, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].dist < sorted[j].dist })

	accepted := make([]uint64, 0, m)
	acceptedVecs := make([][]float32, 0, m)
	var rejected []item

	for _, c := range sorted {
		if len(accepted) >= m {
			rejected = append(rejected, c)
			continue
		}
		cVec := h.store.view(c.id)
		if cVec == nil {
			continue
		}
		good := true
		for _, av := range acceptedVecs {
			if distance.Calculate(cVec, av, h.cfg.Metric) < c.dist {
				good = false
				break
			}
		}
		if good {
			accepted = append(accepted, c.id)
			acceptedVecs = append(acceptedVecs, cVec)
		} else {
			rejected = append(rejected, c)
		}
	}

	for _, c := range rejected {
		if len(accepted) >= m {
			break
		}
		accepted = append(accepted, c.id)
	}
	return accepted
}

func (h *Index) addEdge(from, to uint64, level int) {
	n := h.nodes[from]
	if n == nil || level > n.maxLayer || from == to {
		return
	}
	for _, x := range n.neighbors[level] {
		if x == to {
			return
		}
	}
	n.neighbors[level] = append(n.neighbors[level], to)
}

func (h *Index) removeEdge(from, to uint64, level int) {
	n := h.nodes[from]
	if n == nil || level > n.maxLayer {
		return
	}
	neighbors := n.neighbors[level]
	for i, x := range neighbors {
		if x == to {
			n.neighbors[level] = append(neighbors[:i], neighbors[i+1:]...)
			return
		}
	}
}

// pruneIfNeeded re-applies selectHeuristic to id's neighbor set at level
// once it grows past the level's cap, and removes the reverse edge for
// every neighbor the reselection drops so invariant 1 (edges are
// bidirectional) keeps holding.
func (h *Index) pruneIfNeeded(id uint64, level int) {
	n := h.nodes[id]
	if n == nil {
		return
	}
	maxN := h.maxNeighbors(level)
	old := n.neighbors[level]
	if len(old) <= maxN {
		return
	}

	vec := h.store.view(id)
	cands := make([]item, 0, len(old))
	for _, nb := range old {
		nbVec := h.store.view(nb)
		if nbVec == nil {
			continue
		}
		cands = append(cands, item{id: nb, dist: distance.Calculate(vec, nbVec, h.cfg.Metric)})
	}
	selected := h.selectHeuristic(vec, cands, maxN)

	keep := make(map[uint64]bool, len(selected))
	for _, s := range selected {
		keep[s] = true
	}
	for _, nb := range old {
		if !keep[nb] {
			h.removeEdge(nb, id, level)
		}
	}
	n.neighbors[level] = selected
}

// Optimize rebuilds any neighbor set whose size falls outside [M/2, M_l]
// (2*M at level 0), reselecting via selectHeuristic over the node's
// current neighbors.
func (h *Index) Optimize() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	minN := h.cfg.M / 2

	ids := make([]uint64, 0, len(h.nodes))
	for id := range h.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		n := h.nodes[id]
		vec := h.store.view(id)
		for level := 0; level <= n.maxLayer; level++ {
			maxN := h.maxNeighbors(level)
			old := n.neighbors[level]
			if len(old) >= minN && len(old) <= maxN {
				continue
			}

			cands := make([]item, 0, len(old))
			for _, nb := range old {
				nbVec := h.store.view(nb)
				if nbVec == nil {
					continue
				}
				cands = append(cands, item{id: nb, dist: distance.Calculate(vec, nbVec, h.cfg.Metric)})
			}
			selected := h.selectHeuristic(vec, cands, maxN)

			keep := make(map[uint64]bool, len(selected))
			for _, s := range selected {
				keep[s] = true
			}
			for _, nb := range old {
				if !keep[nb] {
					h.removeEdge(nb, id, level)
				}
			}
			n.neighbors[level] = selected
			for _, s := range selected {
				h.addEdge(s, id, level)
			}
		}
	}
	return nil
}

// Compact drops dangling neighbor references (ids no longer present),
// re-caps any neighbor set left oversized by that drop, and reselects the
// entry point if it no longer sits at the graph's top layer. Idempotent.
func (h *Index) Compact() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.nodes) == 0 {
		h.hasEntry = false
		h.entryPoint = 0
		h.entryLayer = 0
		return nil
	}

	ids := make([]uint64, 0, len(h.nodes))
	for id := range h.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		n := h.nodes[id]
		vec := h.store.view(id)
		for level := 0; level <= n.maxLayer; level++ {
			old := n.neighbors[level]
			kept := make([]uint64, 0, len(old))
			for _, nb := range old {
				if nb == id {
					continue
				}
				if _, ok := h.nodes[nb]; ok {
					kept = append(kept, nb)
				}
			}
			maxN := h.maxNeighbors(level)
			if len(kept) > maxN {
				cands := make([]item, 0, len(kept))
				for _, nb := range kept {
					cands = append(cands, item{id: nb, dist: distance.Calculate(vec, h.store.view(nb), h.cfg.Metric)})
				}
				kept = h.selectHeuristic(vec, cands, maxN)
			}
			n.neighbors[level] = kept
		}
	}

	if _, ok := h.nodes[h.entryPoint]; !ok || h.nodes[h.entryPoint].maxLayer < h.globalMaxLayer() {
		h.reselectEntry()
	}
	return nil
}

func (h *Index) globalMaxLayer() int {
	max := -1
	for _, n := range h.nodes {
		if n.maxLayer > max {
			max = n.maxLayer
		}
	}
	return max
}

// AllVectors returns a defensive copy of every indexed id's vector, used
// by the database façade to drive Rebuild over a fresh index instance.
func (h *Index) AllVectors() map[uint64][]float32 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[uint64][]float32, len(h.nodes))
	for id := range h.nodes {
		v := h.store.view(id)
		cp := make([]float32, len(v))
		copy(cp, v)
		out[id] = cp
	}
	return out
}

// Rebuild discards the current graph and reinserts every live vector from
// scratch in ascending id order, useful after churn has left the graph's
// diversification stale in a way Optimize alone won't recover.
func (h *Index) Rebuild() error {
	vectors := h.AllVectors()
	if len(vectors) == 0 {
		return nil
	}

	fresh := New(h.dim, h.cfg)
	ids := make([]uint64, 0, len(vectors))
	for id := range vectors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if err := fresh.Add(id, vectors[id]); err != nil {
			return fmt.Errorf("rebuild: %w", err)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.nodes = fresh.nodes
	h.store = fresh.store
	h.entryPoint = fresh.entryPoint
	h.entryLayer = fresh.entryLayer
	h.hasEntry = fresh.hasEntry
	return nil
}

// ValidateIntegrity checks the graph's structural invariants:
// bidirectional edges, no self-loops, neighbor-count caps, and an entry
// point at the global top layer.
func (h *Index) ValidateIntegrity() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return validateGraph(h.nodes, h.entryPoint, h.entryLayer, h.hasEntry, h.cfg.M)
}

func validateGraph(nodes map[uint64]*node, entryPoint uint64, entryLayer int, hasEntry bool, m int) error {
	if len(nodes) == 0 {
		return nil
	}
	if !hasEntry {
		return fmt.Errorf("%w: no entry point for non-empty graph", lynxerr.ErrInvalidState)
	}
	entryNode, ok := nodes[entryPoint]
	if !ok {
		return fmt.Errorf("%w: entry point %d missing from graph", lynxerr.ErrInvalidState, entryPoint)
	}
	globalMax := -1
	for _, n := range nodes {
		if n.maxLayer > globalMax {
			globalMax = n.maxLayer
		}
	}
	if entryNode.maxLayer != globalMax {
		return fmt.Errorf("%w: entry point layer %d != global max %d", lynxerr.ErrInvalidState, entryNode.maxLayer, globalMax)
	}
	if entryLayer != entryNode.maxLayer {
		return fmt.Errorf("%w: entry layer field %d != entry node's max layer %d", lynxerr.ErrInvalidState, entryLayer, entryNode.maxLayer)
	}

	for id, n := range nodes {
		for level, neighbors := range n.neighbors {
			maxN := maxNeighborsFor(m, level)
			if len(neighbors) > maxN {
				return fmt.Errorf("%w: node %d level %d has %d neighbors, max %d", lynxerr.ErrInvalidState, id, level, len(neighbors), maxN)
			}
			for _, nb := range neighbors {
				if nb == id {
					return fmt.Errorf("%w: node %d has self-loop at level %d", lynxerr.ErrInvalidState, id, level)
				}
				other, ok := nodes[nb]
				if !ok {
					return fmt.Errorf("%w: node %d references missing neighbor %d", lynxerr.ErrInvalidState, id, nb)
				}
				if level > other.maxLayer {
					return fmt.Errorf("%w: node %d neighbor %d absent at level %d", lynxerr.ErrInvalidState, id, nb, level)
				}
				found := false
				for _, back := range other.neighbors[level] {
					if back == id {
						found = true
						break
					}
				}
				if !found {
					return fmt.Errorf("%w: missing reverse edge %d->%d at level %d", lynxerr.ErrInvalidState, nb, id, level)
				}
			}
		}
	}
	return nil
}

func ioErr(err error) error {
	return fmt.Errorf("%w: %v", lynxerr.ErrIOError, err)
}

// Serialize writes the HNSW binary snapshot: header, scalar config
// fields, then per node {id, vector, max_layer, per-layer(count, ids)},
// and a trailing xxhash64 checksum over everything after the header.
func (h *Index) Serialize(w io.Writer) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if err := codec.WriteHeader(w, magicHNSW, formatVersion); err != nil {
		return err
	}
	hw := codec.NewHashingWriter(w)

	scalars := []interface{}{
		uint64(h.dim),
		uint8(h.cfg.Metric),
		uint32(h.cfg.M),
		uint32(h.cfg.EfConstruction),
		uint32(h.cfg.EfSearch),
		uint32(h.cfg.MaxElements),
		h.entryPoint,
		uint64(h.entryLayer),
		uint64(len(h.nodes)),
	}
	for _, f := range scalars {
		if err := binary.Write(hw, binary.LittleEndian, f); err != nil {
			return ioErr(err)
		}
	}

	ids := make([]uint64, 0, len(h.nodes))
	for id := range h.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		n := h.nodes[id]
		vec := h.store.view(id)
		if err := binary.Write(hw, binary.LittleEndian, id); err != nil {
			return ioErr(err)
		}
		if err := binary.Write(hw, binary.LittleEndian, vec); err != nil {
			return ioErr(err)
		}
		if err := binary.Write(hw, binary.LittleEndian, uint64(n.maxLayer)); err != nil {
			return ioErr(err)
		}
		for level := 0; level <= n.maxLayer; level++ {
			neighbors := n.neighbors[level]
			if err := binary.Write(hw, binary.LittleEndian, uint64(len(neighbors))); err != nil {
				return ioErr(err)
			}
			for _, nb := range neighbors {
				if err := binary.Write(hw, binary.LittleEndian, nb); err != nil {
					return ioErr(err)
				}
			}
		}
	}

	return hw.WriteTrailer()
}

const (
	maxReasonableDim       = 1 << 20
	maxReasonableNodes     = 100_000_000
	maxReasonableNeighbors = 1_000_000
)

// Deserialize reads the HNSW binary snapshot and, only once the full
// body has been read and its checksum verified, replaces the index's
// state. A failure at any point leaves the receiver untouched.
func (h *Index) Deserialize(r io.Reader) error {
	version, err := codec.ReadHeader(r, magicHNSW)
	if err != nil {
		return err
	}
	if version != formatVersion {
		return fmt.Errorf("%w: unsupported hnsw format version %d", lynxerr.ErrIOError, version)
	}

	hr := codec.NewHashingReader(r)

	var dim uint64
	var metricByte uint8
	var mCfg, efc, efs, maxElems uint32
	var entryPoint uint64
	var entryLayer uint64
	var count uint64

	for _, f := range []interface{}{&dim, &metricByte, &mCfg, &efc, &efs, &maxElems, &entryPoint, &entryLayer, &count} {
		if err := binary.Read(hr, binary.LittleEndian, f); err != nil {
			return ioErr(err)
		}
	}
	if dim == 0 || dim > maxReasonableDim {
		return fmt.Errorf("%w: invalid dimension %d", lynxerr.ErrIOError, dim)
	}
	if count > maxReasonableNodes {
		return fmt.Errorf("%w: invalid node count %d", lynxerr.ErrIOError, count)
	}

	newNodes := make(map[uint64]*node, count)
	newStore := newFlatStore(int(dim))

	for i := uint64(0); i < count; i++ {
		var id uint64
		if err := binary.Read(hr, binary.LittleEndian, &id); err != nil {
			return ioErr(err)
		}
		vec := make([]float32, dim)
		if err := binary.Read(hr, binary.LittleEndian, vec); err != nil {
			return ioErr(err)
		}
		var maxLayer uint64
		if err := binary.Read(hr, binary.LittleEndian, &maxLayer); err != nil {
			return ioErr(err)
		}
		if maxLayer > maxLayerCap {
			return fmt.Errorf("%w: node %d invalid max_layer %d", lynxerr.ErrIOError, id, maxLayer)
		}

		n := &node{id: id, maxLayer: int(maxLayer), neighbors: make([][]uint64, maxLayer+1)}
		for level := uint64(0); level <= maxLayer; level++ {
			var nc uint64
			if err := binary.Read(hr, binary.LittleEndian, &nc); err != nil {
				return ioErr(err)
			}
			if nc > maxReasonableNeighbors {
				return fmt.Errorf("%w: node %d level %d unreasonable neighbor count %d", lynxerr.ErrIOError, id, level, nc)
			}
			neighbors := make([]uint64, nc)
			if nc > 0 {
				if err := binary.Read(hr, binary.LittleEndian, neighbors); err != nil {
					return ioErr(err)
				}
			}
			n.neighbors[level] = neighbors
		}

		newStore.add(id, vec)
		newNodes[id] = n
	}

	if err := hr.VerifyTrailer(); err != nil {
		return err
	}

	hasEntry := count > 0
	if err := validateGraph(newNodes, entryPoint, int(entryLayer), hasEntry, int(mCfg)); err != nil {
		return fmt.Errorf("deserialize: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.dim = int(dim)
	h.cfg.Metric = distance.Metric(metricByte)
	h.cfg.M = int(mCfg)
	h.cfg.EfConstruction = int(efc)
	h.cfg.EfSearch = int(efs)
	h.cfg.MaxElements = int(maxElems)
	h.mL = 1.0 / math.Log(float64(h.cfg.M))
	h.entryPoint = entryPoint
	h.entryLayer = int(entryLayer)
	h.hasEntry = hasEntry
	h.nodes = newNodes
	h.store = newStore
	return nil
}
