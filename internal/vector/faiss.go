//go:build faiss && cgo
// +build faiss,cgo

package vector

/*
#cgo CFLAGS: -I/opt/homebrew/include -I/usr/local/include
#cgo LDFLAGS: -L/opt/homebrew/lib -L/usr/local/lib -lfaiss_c

#include <stdlib.h>
#include <faiss/c_api/Index_c.h>
#include <faiss/c_api/IndexFlat_c.h>
#include <faiss/c_api/index_io_c.h>
#include <faiss/c_api/error_c.h>
*/
import "C"

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"unsafe"
)

// FAISSIndex wraps a FAISS IndexFlatIP. FAISS row labels are positions, so the row ids
// are kept alongside in a gob file next to the index.
type FAISSIndex struct {
	index      *C.FaissIndex
	dimensions int
	ids        []string
	sealed     bool
	mu         sync.RWMutex
}

// NewFAISSIndex creates a FAISS inner-product index with the given dimension.
func NewFAISSIndex(dimensions int) (*FAISSIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	var index *C.FaissIndexFlatIP
	if ret := C.faiss_IndexFlatIP_new_with(&index, C.idx_t(dimensions)); ret != 0 {
		return nil, fmt.Errorf("failed to create FAISS index: %s", faissLastError())
	}
	return &FAISSIndex{index: (*C.FaissIndex)(index), dimensions: dimensions}, nil
}

func faissLastError() string {
	cErr := C.faiss_get_last_error()
	if cErr == nil {
		return "unknown error"
	}
	return C.GoString(cErr)
}

// Add appends rows.
func (f *FAISSIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	if len(ids) == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sealed {
		return ErrSealed
	}
	flat, err := f.flatten(vectors)
	if err != nil {
		return err
	}
	if ret := C.faiss_Index_add(f.index, C.idx_t(len(vectors)), (*C.float)(unsafe.Pointer(&flat[0]))); ret != 0 {
		return fmt.Errorf("failed to add vectors to FAISS index: %s", faissLastError())
	}
	f.ids = append(f.ids, ids...)
	return nil
}

func (f *FAISSIndex) flatten(vectors [][]float32) ([]float32, error) {
	flat := make([]float32, len(vectors)*f.dimensions)
	for i, vec := range vectors {
		if len(vec) != f.dimensions {
			return nil, fmt.Errorf("row %d: dimension mismatch: got %d, expected %d", i, len(vec), f.dimensions)
		}
		copy(flat[i*f.dimensions:], vec)
	}
	return flat, nil
}

// Search runs one batched FAISS search over all queries.
func (f *FAISSIndex) Search(ctx context.Context, queries [][]float32, k int) ([][]Hit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if len(queries) == 0 {
		return [][]Hit{}, nil
	}
	flat, err := f.flatten(queries)
	if err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	nq := len(queries)
	distances := make([]float32, nq*k)
	labels := make([]int64, nq*k)
	ret := C.faiss_Index_search(
		f.index,
		C.idx_t(nq),
		(*C.float)(unsafe.Pointer(&flat[0])),
		C.idx_t(k),
		(*C.float)(unsafe.Pointer(&distances[0])),
		(*C.idx_t)(unsafe.Pointer(&labels[0])),
	)
	if ret != 0 {
		return nil, fmt.Errorf("FAISS search failed: %s", faissLastError())
	}

	out := make([][]Hit, nq)
	for q := 0; q < nq; q++ {
		hits := make([]Hit, 0, k)
		for i := q * k; i < (q+1)*k; i++ {
			row := int(labels[i])
			if row < 0 || row >= len(f.ids) {
				continue
			}
			hits = append(hits, Hit{Row: row, ID: f.ids[row], Score: distances[i]})
		}
		sort.SliceStable(hits, func(a, b int) bool {
			if hits[a].Score != hits[b].Score {
				return hits[a].Score > hits[b].Score
			}
			return hits[a].Row < hits[b].Row
		})
		out[q] = padHits(hits, k)
	}
	return out, nil
}

// IDs returns a copy of the row ids.
func (f *FAISSIndex) IDs() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]string(nil), f.ids...)
}

// Dimensions returns the vector dimension.
func (f *FAISSIndex) Dimensions() int {
	return f.dimensions
}

// Size returns the number of rows.
func (f *FAISSIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.ids)
}

// Save writes the FAISS index to path and the row ids to path + ".ids", then seals the index.
func (f *FAISSIndex) Save(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sealed = true
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))
	if ret := C.faiss_write_index_fname(f.index, cPath); ret != 0 {
		return fmt.Errorf("failed to save FAISS index: %s", faissLastError())
	}
	idFile, err := os.Create(path + ".ids")
	if err != nil {
		return fmt.Errorf("create id file: %w", err)
	}
	defer idFile.Close()
	if err := gob.NewEncoder(idFile).Encode(f.ids); err != nil {
		return fmt.Errorf("encode ids: %w", err)
	}
	return nil
}

// Load reads the FAISS index at path and its row ids, then seals the index.
func (f *FAISSIndex) Load(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	idFile, err := os.Open(path + ".ids")
	if err != nil {
		return fmt.Errorf("open id file: %w", err)
	}
	defer idFile.Close()
	var ids []string
	if err := gob.NewDecoder(idFile).Decode(&ids); err != nil {
		return fmt.Errorf("decode ids: %w", err)
	}

	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))
	var loaded *C.FaissIndex
	if ret := C.faiss_read_index_fname(cPath, 0, &loaded); ret != 0 {
		return fmt.Errorf("failed to load FAISS index: %s", faissLastError())
	}
	if d := int(C.faiss_Index_d(loaded)); d != f.dimensions {
		C.faiss_Index_free(loaded)
		return fmt.Errorf("dimension mismatch: file has %d, index expects %d", d, f.dimensions)
	}
	if n := int(C.faiss_Index_ntotal(loaded)); n != len(ids) {
		C.faiss_Index_free(loaded)
		return fmt.Errorf("FAISS index has %d rows but %d ids", n, len(ids))
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index != nil {
		C.faiss_Index_free(f.index)
	}
	f.index = loaded
	f.ids = ids
	f.sealed = true
	return nil
}

// Close frees the FAISS index.
func (f *FAISSIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index != nil {
		C.faiss_Index_free(f.index)
		f.index = nil
	}
	return nil
}

// Type returns the index type identifier.
func (f *FAISSIndex) Type() string {
	return string(IndexTypeFAISS)
}
