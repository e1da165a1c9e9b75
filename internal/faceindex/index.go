// Package faceindex holds the face embedding index and its row-aligned
// metadata records.
package faceindex

import (
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// Record describes the vector stored at the same row of the index.
type Record struct {
	URL   string `json:"url"`
	PHash string `json:"phash,omitempty"`
}

// Hit is a single retrieval result. Score is the inner product of the two
// unit-normalized vectors, so it lies in [-1, 1].
type Hit struct {
	Row   int
	Score float32
}

// Index is an append-only store of unit-normalized embeddings with parallel
// metadata. Reads and writes are guarded, but the intended usage is a single
// offline writer and many concurrent readers.
type Index struct {
	dimension int

	mu      sync.RWMutex
	graph   *hnsw.Graph[int]
	vectors [][]float32
	records []Record
	byURL   map[string]struct{}
}

// New creates an empty index for vectors of the given dimension.
func New(dimension int) *Index {
	return &Index{
		dimension: dimension,
		graph:     newGraph(),
		byURL:     make(map[string]struct{}),
	}
}

func newGraph() *hnsw.Graph[int] {
	g := hnsw.NewGraph[int]()
	g.M = 16
	g.Ml = 1.0 / 16.0
	g.Distance = hnsw.CosineDistance
	return g
}

// Dimension returns the fixed vector dimensionality of the index.
func (x *Index) Dimension() int {
	return x.dimension
}

// Len returns the number of indexed rows.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.records)
}

// Has reports whether a record with the given URL is already indexed.
func (x *Index) Has(url string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.byURL[url]
	return ok
}

// Add normalizes vector and appends it with its record, returning the new
// row. The vector must match the index dimension and have a nonzero norm.
func (x *Index) Add(vector []float32, rec Record) (int, error) {
	if len(vector) != x.dimension {
		return 0, fmt.Errorf("vector dimension %d does not match index dimension %d", len(vector), x.dimension)
	}
	normalized, ok := Normalize(vector)
	if !ok {
		return 0, fmt.Errorf("cannot index zero-norm vector for %s", rec.URL)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	row := len(x.records)
	x.vectors = append(x.vectors, normalized)
	x.records = append(x.records, rec)
	x.byURL[rec.URL] = struct{}{}
	x.graph.Add(hnsw.MakeNode(row, normalized))
	return row, nil
}

// Search returns up to k hits ordered by descending inner product. A k larger
// than the row count simply returns fewer hits. The query is normalized on a
// copy, so scores are always inner products of unit vectors.
func (x *Index) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != x.dimension {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(query), x.dimension)
	}
	normalized, ok := Normalize(query)
	if !ok {
		return nil, fmt.Errorf("cannot search with zero-norm query")
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if len(x.records) == 0 || k <= 0 {
		return nil, nil
	}
	if k > len(x.records) {
		k = len(x.records)
	}

	neighbors := x.graph.Search(normalized, k)
	hits := make([]Hit, 0, len(neighbors))
	for _, n := range neighbors {
		if n.Key < 0 || n.Key >= len(x.vectors) {
			continue
		}
		// Rescore exactly; the graph's own distances are approximate.
		hits = append(hits, Hit{Row: n.Key, Score: dot(normalized, x.vectors[n.Key])})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return hits, nil
}

// Record returns the metadata for a row.
func (x *Index) Record(row int) (Record, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if row < 0 || row >= len(x.records) {
		return Record{}, false
	}
	return x.records[row], true
}

// Records returns a snapshot copy of all metadata records in row order.
func (x *Index) Records() []Record {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]Record, len(x.records))
	copy(out, x.records)
	return out
}

// Vector returns the stored unit-normalized vector at row.
func (x *Index) Vector(row int) ([]float32, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if row < 0 || row >= len(x.vectors) {
		return nil, false
	}
	out := make([]float32, len(x.vectors[row]))
	copy(out, x.vectors[row])
	return out, true
}

// vectorsFile is the on-disk gob representation of the vector rows.
type vectorsFile struct {
	Dimension int
	Vectors   [][]float32
}

// SaveVectors writes the vector rows to path through a temp file and rename.
func (x *Index) SaveVectors(path string) error {
	x.mu.RLock()
	payload := vectorsFile{Dimension: x.dimension, Vectors: x.vectors}
	x.mu.RUnlock()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create index dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create vectors file: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(payload); err != nil {
		f.Close()
		return fmt.Errorf("encode vectors: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close vectors file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace vectors file: %w", err)
	}
	return nil
}

// Load rebuilds an index from a vectors file and its row-aligned records.
// A missing vectors file yields an empty index. The records must describe
// exactly the stored rows; any mismatch is a corruption error.
func Load(path string, dimension int, records []Record) (*Index, error) {
	x := New(dimension)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			if len(records) != 0 {
				return nil, fmt.Errorf("found %d records but no vectors file at %s", len(records), path)
			}
			return x, nil
		}
		return nil, fmt.Errorf("open vectors file %s: %w", path, err)
	}
	defer f.Close()

	var payload vectorsFile
	if err := gob.NewDecoder(f).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode vectors file %s: %w", path, err)
	}
	if payload.Dimension != dimension {
		return nil, fmt.Errorf("vectors file dimension %d does not match configured dimension %d", payload.Dimension, dimension)
	}
	if len(payload.Vectors) != len(records) {
		return nil, fmt.Errorf("vectors file has %d rows but metadata has %d records", len(payload.Vectors), len(records))
	}

	for row, vec := range payload.Vectors {
		if _, err := x.Add(vec, records[row]); err != nil {
			return nil, fmt.Errorf("rebuild row %d: %w", row, err)
		}
	}
	return x, nil
}

// Normalize returns a unit-length copy of v, or false when the norm is zero.
func Normalize(v []float32) ([]float32, bool) {
	var norm float64
	for _, f := range v {
		norm += float64(f) * float64(f)
	}
	if norm == 0 {
		return nil, false
	}
	inv := 1 / math.Sqrt(norm)
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) * inv)
	}
	return out, true
}

func dot(a, b []float32) float32 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	// Clamp for floating point drift so scores stay in [-1, 1].
	if sum > 1 {
		sum = 1
	}
	if sum < -1 {
		sum = -1
	}
	return float32(sum)
}
