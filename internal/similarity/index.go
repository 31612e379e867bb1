// Package similarity is the append-only vector index behind duplicate
// detection and context sampling.
//
// Distances are squared Euclidean, matching a flat L2 index, and Search
// returns neighbours in ascending distance.
package similarity

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"mcqgen/internal/models"
)

// ErrDimensionMismatch is returned when a vector's length differs from the index's
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Meta is the optional source identity stored with a vector
type Meta struct {
	Cluster    string            `json:"cluster,omitempty"`
	Difficulty models.Difficulty `json:"difficulty,omitempty"`
	Question   string            `json:"question,omitempty"`
	Answer     string            `json:"answer,omitempty"`
}

// Entry is one stored vector
type Entry struct {
	ID     int64     `json:"id"`
	Vector []float32 `json:"vector"`
	Meta   Meta      `json:"meta"`
}

// Neighbor is a search hit
type Neighbor struct {
	Entry    Entry
	Distance float32
}

// Index is the contract the generation pipeline depends on
type Index interface {
	Insert(vec []float32, meta Meta) (Entry, error)
	Search(vec []float32, k int) ([]Neighbor, error)
	// Admit inserts vec unless one of its k nearest neighbours lies within
	// maxDistance. The check and the insert happen under one write lock.
	Admit(vec []float32, meta Meta, k int, maxDistance float32) (Entry, bool, error)
	Size() int
}

// MemoryIndex is an exact brute-force index. It is safe for concurrent use.
type MemoryIndex struct {
	mu      sync.RWMutex
	dim     int
	nextID  int64
	entries []Entry
}

// NewMemoryIndex returns an empty index. dim 0 adopts the first vector's length.
func NewMemoryIndex(dim int) *MemoryIndex {
	return &MemoryIndex{dim: dim}
}

// Size returns the number of stored vectors
func (idx *MemoryIndex) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Dimension returns the vector length, 0 while empty and unset
func (idx *MemoryIndex) Dimension() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dim
}

// Insert appends vec
func (idx *MemoryIndex) Insert(vec []float32, meta Meta) (Entry, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.checkDim(vec, true); err != nil {
		return Entry{}, err
	}
	return idx.appendLocked(vec, meta), nil
}

// Search returns up to k nearest entries
func (idx *MemoryIndex) Search(vec []float32, k int) ([]Neighbor, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if len(idx.entries) == 0 || k <= 0 {
		return nil, nil
	}
	if err := idx.checkDim(vec, false); err != nil {
		return nil, err
	}
	return idx.searchLocked(vec, k), nil
}

// Admit is the atomic check-then-insert used by the duplicate gate
func (idx *MemoryIndex) Admit(vec []float32, meta Meta, k int, maxDistance float32) (Entry, bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.checkDim(vec, true); err != nil {
		return Entry{}, false, err
	}
	for _, n := range idx.searchLocked(vec, k) {
		if n.Distance <= maxDistance {
			return n.Entry, false, nil
		}
	}
	return idx.appendLocked(vec, meta), true, nil
}

// Entries returns a copy of every stored entry in insertion order
func (idx *MemoryIndex) Entries() []Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]Entry, len(idx.entries))
	copy(out, idx.entries)
	return out
}

// Restore replaces the contents with entries, keeping their ids
func (idx *MemoryIndex) Restore(entries []Entry) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	dim := idx.dim
	var maxID int64
	for _, e := range entries {
		if dim == 0 {
			dim = len(e.Vector)
		}
		if len(e.Vector) != dim {
			return fmt.Errorf("%w: entry %d has %d, want %d", ErrDimensionMismatch, e.ID, len(e.Vector), dim)
		}
		if e.ID > maxID {
			maxID = e.ID
		}
	}
	idx.dim = dim
	idx.entries = append([]Entry(nil), entries...)
	idx.nextID = maxID
	return nil
}

func (idx *MemoryIndex) checkDim(vec []float32, adopt bool) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
	}
	if idx.dim == 0 {
		if adopt {
			idx.dim = len(vec)
		}
		return nil
	}
	if len(vec) != idx.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), idx.dim)
	}
	return nil
}

func (idx *MemoryIndex) appendLocked(vec []float32, meta Meta) Entry {
	idx.nextID++
	e := Entry{ID: idx.nextID, Vector: append([]float32(nil), vec...), Meta: meta}
	idx.entries = append(idx.entries, e)
	return e
}

func (idx *MemoryIndex) searchLocked(vec []float32, k int) []Neighbor {
	hits := make([]Neighbor, 0, len(idx.entries))
	for _, e := range idx.entries {
		hits = append(hits, Neighbor{Entry: e, Distance: SquaredL2(vec, e.Vector)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits
}
