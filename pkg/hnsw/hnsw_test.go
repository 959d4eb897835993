package hnsw

import (
	"bytes"
	"errors"
	"math/rand"
	"sort"
	"testing"

	"github.com/lynxvec/lynxdb/pkg/index"
	"github.com/lynxvec/lynxdb/pkg/lynxerr"
)

func randomVectors(n, dim int, seed int64) [][]float32 {
	rng := rand.New(rand.NewSource(seed))
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for d := range v {
			v[d] = rng.Float32()
		}
		out[i] = v
	}
	return out
}

func newTestIndex(dim int) *Index {
	cfg := DefaultConfig()
	cfg.Seed = 1
	return New(dim, cfg)
}

func TestAddAndSearchFindsExactMatch(t *testing.T) {
	idx := newTestIndex(8)
	vecs := randomVectors(200, 8, 42)
	for i, v := range vecs {
		if err := idx.Add(uint64(i), v); err != nil {
			t.Fatalf("Add(%d): %v", i, err)
		}
	}

	target := 57
	hits, _ := idx.Search(vecs[target], 10, index.SearchParams{EfSearch: 100})
	found := false
	for _, h := range hits {
		if h.ID == uint64(target) {
			found = true
			if h.Distance > 1e-4 {
				t.Errorf("exact match distance = %v, want ~0", h.Distance)
			}
		}
	}
	if !found {
		t.Fatalf("expected id %d among top hits, got %+v", target, hits)
	}
}

func TestAddDimensionMismatch(t *testing.T) {
	idx := newTestIndex(4)
	err := idx.Add(1, []float32{1, 2, 3})
	if !errors.Is(err, lynxerr.ErrDimensionMismatch) {
		t.Fatalf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestAddDuplicateID(t *testing.T) {
	idx := newTestIndex(4)
	vec := []float32{1, 2, 3, 4}
	if err := idx.Add(1, vec); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	err := idx.Add(1, vec)
	if !errors.Is(err, lynxerr.ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}

func TestRemoveUnknownID(t *testing.T) {
	idx := newTestIndex(4)
	err := idx.Remove(99)
	if !errors.Is(err, lynxerr.ErrVectorNotFound) {
		t.Fatalf("err = %v, want ErrVectorNotFound", err)
	}
}

func TestRemoveExcludesFromSearch(t *testing.T) {
	idx := newTestIndex(6)
	vecs := randomVectors(100, 6, 7)
	for i, v := range vecs {
		if err := idx.Add(uint64(i), v); err != nil {
			t.Fatalf("Add(%d): %v", i, err)
		}
	}

	if err := idx.Remove(10); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if idx.Contains(10) {
		t.Fatalf("Contains(10) = true after remove")
	}
	if idx.Size() != 99 {
		t.Fatalf("Size() = %d, want 99", idx.Size())
	}

	hits, _ := idx.Search(vecs[10], 100, index.SearchParams{EfSearch: 200})
	for _, h := range hits {
		if h.ID == 10 {
			t.Fatalf("removed id 10 still returned by Search")
		}
	}
}

func TestValidateIntegrityAfterChurn(t *testing.T) {
	idx := newTestIndex(5)
	vecs := randomVectors(150, 5, 3)
	for i, v := range vecs {
		if err := idx.Add(uint64(i), v); err != nil {
			t.Fatalf("Add(%d): %v", i, err)
		}
	}
	for i := 0; i < 150; i += 3 {
		if err := idx.Remove(uint64(i)); err != nil {
			t.Fatalf("Remove(%d): %v", i, err)
		}
	}
	if err := idx.ValidateIntegrity(); err != nil {
		t.Fatalf("ValidateIntegrity after churn: %v", err)
	}
	if err := idx.Optimize(); err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if err := idx.ValidateIntegrity(); err != nil {
		t.Fatalf("ValidateIntegrity after Optimize: %v", err)
	}
	if err := idx.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if err := idx.ValidateIntegrity(); err != nil {
		t.Fatalf("ValidateIntegrity after Compact: %v", err)
	}
}

func TestCompactIsIdempotent(t *testing.T) {
	idx := newTestIndex(4)
	vecs := randomVectors(40, 4, 9)
	for i, v := range vecs {
		idx.Add(uint64(i), v)
	}
	if err := idx.Compact(); err != nil {
		t.Fatalf("first Compact: %v", err)
	}
	entry1, layer1 := idx.entryPoint, idx.entryLayer
	if err := idx.Compact(); err != nil {
		t.Fatalf("second Compact: %v", err)
	}
	if idx.entryPoint != entry1 || idx.entryLayer != layer1 {
		t.Fatalf("Compact not idempotent: entry (%d,%d) -> (%d,%d)", entry1, layer1, idx.entryPoint, idx.entryLayer)
	}
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	idx := newTestIndex(6)
	vecs := randomVectors(80, 6, 11)
	for i, v := range vecs {
		idx.Add(uint64(i), v)
	}

	var buf bytes.Buffer
	if err := idx.Serialize(&buf); err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	restored := New(6, DefaultConfig())
	if err := restored.Deserialize(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("Deserialize: %v", err)
	}

	if restored.Size() != idx.Size() {
		t.Fatalf("restored Size() = %d, want %d", restored.Size(), idx.Size())
	}
	for i := range vecs {
		if !restored.Contains(uint64(i)) {
			t.Fatalf("restored index missing id %d", i)
		}
	}
	if err := restored.ValidateIntegrity(); err != nil {
		t.Fatalf("restored ValidateIntegrity: %v", err)
	}

	hits, _ := restored.Search(vecs[5], 5, index.SearchParams{EfSearch: 50})
	if len(hits) == 0 {
		t.Fatalf("restored index returned no hits")
	}
}

func TestDeserializeRejectsBadMagic(t *testing.T) {
	idx := newTestIndex(3)
	idx.Add(1, []float32{1, 2, 3})

	var buf bytes.Buffer
	if err := idx.Serialize(&buf); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	corrupted := buf.Bytes()
	corrupted[0] = 'X'

	fresh := New(3, DefaultConfig())
	err := fresh.Deserialize(bytes.NewReader(corrupted))
	if !errors.Is(err, lynxerr.ErrIOError) {
		t.Fatalf("err = %v, want ErrIOError", err)
	}
	if fresh.Size() != 0 {
		t.Fatalf("fresh index mutated despite failed Deserialize")
	}
}

func TestDeserializeRejectsBadChecksum(t *testing.T) {
	idx := newTestIndex(3)
	for i := 0; i < 20; i++ {
		idx.Add(uint64(i), []float32{float32(i), 1, 2})
	}

	var buf bytes.Buffer
	if err := idx.Serialize(&buf); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	corrupted := buf.Bytes()
	corrupted[len(corrupted)-1] ^= 0xFF

	fresh := New(3, DefaultConfig())
	err := fresh.Deserialize(bytes.NewReader(corrupted))
	if !errors.Is(err, lynxerr.ErrIOError) {
		t.Fatalf("err = %v, want ErrIOError", err)
	}
}

func TestSelectHeuristicDiversifies(t *testing.T) {
	idx := newTestIndex(2)
	// The nearest candidate (id 1) is always accepted. Id 2 lies exactly as
	// far from id 1 as from the query, which is not strictly closer, so it
	// is accepted too and fills m=2 before ids 3 and 4 are considered.
	idx.Add(1, []float32{0, 0})
	idx.Add(2, []float32{1, 0})
	idx.Add(3, []float32{2, 0})
	idx.Add(4, []float32{0, 5})

	query := []float32{0, 0}
	cands := []item{
		{id: 1, dist: 0},
		{id: 2, dist: 1},
		{id: 3, dist: 2},
		{id: 4, dist: 5},
	}
	selected := idx.selectHeuristic(query, cands, 2)
	if len(selected) != 2 {
		t.Fatalf("selectHeuristic returned %d ids, want 2: %v", len(selected), selected)
	}
	if selected[0] != 1 {
		t.Fatalf("selectHeuristic[0] = %d, want 1 (nearest always accepted)", selected[0])
	}
}

func TestOptimizeBoundsNeighborCounts(t *testing.T) {
	idx := newTestIndex(4)
	idx.cfg.M = 4
	vecs := randomVectors(300, 4, 5)
	for i, v := range vecs {
		idx.Add(uint64(i), v)
	}
	if err := idx.Optimize(); err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	for _, n := range idx.nodes {
		for level, neighbors := range n.neighbors {
			max := maxNeighborsFor(idx.cfg.M, level)
			if len(neighbors) > max {
				t.Fatalf("node %d level %d has %d neighbors, want <= %d", n.id, level, len(neighbors), max)
			}
		}
	}
}

func TestRebuildAfterChurn(t *testing.T) {
	idx := newTestIndex(8)
	vecs := randomVectors(150, 8, 11)
	for i, v := range vecs {
		idx.Add(uint64(i), v)
	}
	for i := 0; i < 75; i += 2 {
		if err := idx.Remove(uint64(i)); err != nil {
			t.Fatalf("Remove(%d): %v", i, err)
		}
	}

	if err := idx.Rebuild(); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if err := idx.ValidateIntegrity(); err != nil {
		t.Fatalf("ValidateIntegrity after Rebuild: %v", err)
	}

	hits, _ := idx.Search(vecs[101], 5, index.SearchParams{EfSearch: 100})
	if len(hits) == 0 || hits[0].ID != 101 {
		t.Fatalf("rebuilt index failed exact-match search: %+v", hits)
	}
}

// Top-10 recall against brute force must stay at or above 0.90 at
// default parameters over a random 1000-vector corpus.
func TestRecallFloorAgainstBruteForce(t *testing.T) {
	const (
		n       = 1000
		dim     = 32
		k       = 10
		queries = 50
	)
	idx := newTestIndex(dim)
	vecs := randomVectors(n, dim, 99)
	for i, v := range vecs {
		if err := idx.Add(uint64(i), v); err != nil {
			t.Fatalf("Add(%d): %v", i, err)
		}
	}

	queryVecs := randomVectors(queries, dim, 100)
	var hitSum, wantSum int
	for _, q := range queryVecs {
		type scored struct {
			id   uint64
			dist float32
		}
		exact := make([]scored, n)
		for i, v := range vecs {
			exact[i] = scored{id: uint64(i), dist: squaredL2(q, v)}
		}
		sort.Slice(exact, func(i, j int) bool { return exact[i].dist < exact[j].dist })
		truth := make(map[uint64]bool, k)
		for _, s := range exact[:k] {
			truth[s.id] = true
		}

		hits, _ := idx.Search(q, k, index.SearchParams{})
		for _, h := range hits {
			if truth[h.ID] {
				hitSum++
			}
		}
		wantSum += k
	}

	recall := float64(hitSum) / float64(wantSum)
	if recall < 0.90 {
		t.Fatalf("recall@%d = %.3f, want >= 0.90", k, recall)
	}
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// Two consecutive Optimize passes must converge: the second run may not
// change any neighbor set.
func TestOptimizeIsIdempotent(t *testing.T) {
	idx := newTestIndex(6)
	vecs := randomVectors(250, 6, 21)
	for i, v := range vecs {
		idx.Add(uint64(i), v)
	}
	for i := 0; i < 100; i += 3 {
		idx.Remove(uint64(i))
	}

	if err := idx.Optimize(); err != nil {
		t.Fatalf("first Optimize: %v", err)
	}
	snapshot := neighborSnapshot(idx)

	if err := idx.Optimize(); err != nil {
		t.Fatalf("second Optimize: %v", err)
	}
	again := neighborSnapshot(idx)

	for id, levels := range snapshot {
		for level, want := range levels {
			got := again[id][level]
			if len(got) != len(want) {
				t.Fatalf("node %d level %d: neighbor count changed %d -> %d", id, level, len(want), len(got))
			}
			wantSet := make(map[uint64]bool, len(want))
			for _, nb := range want {
				wantSet[nb] = true
			}
			for _, nb := range got {
				if !wantSet[nb] {
					t.Fatalf("node %d level %d: neighbor %d appeared on second pass", id, level, nb)
				}
			}
		}
	}
}

func neighborSnapshot(idx *Index) map[uint64][][]uint64 {
	out := make(map[uint64][][]uint64, len(idx.nodes))
	for id, n := range idx.nodes {
		levels := make([][]uint64, len(n.neighbors))
		for l, neighbors := range n.neighbors {
			cp := make([]uint64, len(neighbors))
			copy(cp, neighbors)
			levels[l] = cp
		}
		out[id] = levels
	}
	return out
}
