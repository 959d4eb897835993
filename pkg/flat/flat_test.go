package flat

import (
	"bytes"
	"errors"
	"testing"

	"github.com/lynxvec/lynxdb/pkg/distance"
	"github.com/lynxvec/lynxdb/pkg/index"
	"github.com/lynxvec/lynxdb/pkg/lynxerr"
)

func TestAddSearchRemove(t *testing.T) {
	idx := New(3, distance.L2)
	if err := idx.Add(1, []float32{1, 0, 0}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := idx.Add(2, []float32{0, 1, 0}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	hits, total := idx.Search([]float32{1, 0, 0}, 1, index.SearchParams{})
	if total != 2 {
		t.Fatalf("total = %d, want 2", total)
	}
	if len(hits) != 1 || hits[0].ID != 1 || hits[0].Distance != 0 {
		t.Fatalf("hits = %+v, want [{1 0}]", hits)
	}

	if err := idx.Remove(1); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if idx.Contains(1) {
		t.Fatalf("Contains(1) = true after remove")
	}
	if err := idx.Remove(1); !errors.Is(err, lynxerr.ErrVectorNotFound) {
		t.Fatalf("err = %v, want ErrVectorNotFound", err)
	}
}

func TestAddDimensionMismatchAndDuplicate(t *testing.T) {
	idx := New(2, distance.L2)
	if err := idx.Add(1, []float32{1, 2, 3}); !errors.Is(err, lynxerr.ErrDimensionMismatch) {
		t.Fatalf("err = %v, want ErrDimensionMismatch", err)
	}
	idx.Add(1, []float32{1, 2})
	if err := idx.Add(1, []float32{3, 4}); !errors.Is(err, lynxerr.ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}

func TestSearchWithFilter(t *testing.T) {
	idx := New(2, distance.L2)
	idx.Add(1, []float32{0, 0})
	idx.Add(2, []float32{0, 0})
	hits, _ := idx.Search([]float32{0, 0}, 5, index.SearchParams{
		Filter: func(id uint64) bool { return id != 1 },
	})
	if len(hits) != 1 || hits[0].ID != 2 {
		t.Fatalf("hits = %+v, want only id 2", hits)
	}
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	idx := New(4, distance.Cosine)
	for i := uint64(0); i < 30; i++ {
		idx.Add(i, []float32{float32(i), 1, 2, 3})
	}

	var buf bytes.Buffer
	if err := idx.Serialize(&buf); err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	restored := New(4, distance.Cosine)
	if err := restored.Deserialize(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if restored.Size() != idx.Size() {
		t.Fatalf("restored Size() = %d, want %d", restored.Size(), idx.Size())
	}
}
