// Package vector provides exact inner-product similarity indexes over unit vectors.
package vector

import (
	"context"
	"errors"
	"math"
)

// ErrSealed is returned by Add once an index has been saved or loaded.
var ErrSealed = errors.New("vector index is sealed")

// NoMatchScore is the score reported alongside Row -1 padding.
const NoMatchScore = -math.MaxFloat32

// VectorIndex is built once with Add and then searched many times. Search never mutates
// the index and is safe for concurrent callers.
type VectorIndex interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	// Search returns, for each query, exactly k hits ordered by descending score. Ranks past
	// the end of the index carry Row -1 and must be dropped by the caller.
	Search(ctx context.Context, queries [][]float32, k int) ([][]Hit, error)
	// IDs returns the item id stored for each row, in row order.
	IDs() []string
	Dimensions() int
	Size() int
	Type() string
	Save(path string) error
	Load(path string) error
	Close() error
}

// Hit is one ranked row of a search.
type Hit struct {
	Row   int
	ID    string
	Score float32
}

// Valid reports whether the hit refers to an index row.
func (h Hit) Valid() bool {
	return h.Row >= 0
}

func padHits(hits []Hit, k int) []Hit {
	for len(hits) < k {
		hits = append(hits, Hit{Row: -1, Score: NoMatchScore})
	}
	return hits
}
