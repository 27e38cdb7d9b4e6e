package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const (
	flatMagic   = "RJFI"
	flatVersion = 1
	// flatHeaderSize covers the magic plus version, dimension and row count.
	flatHeaderSize = 16
	// maxIDLen bounds a stored id so a corrupt length cannot force a huge allocation.
	maxIDLen = 64 << 10
)

// FlatIndex is an exact (brute-force) inner-product index held in memory. With unit
// vectors the score is the cosine similarity. Ties rank by ascending row.
type FlatIndex struct {
	dimensions int
	ids        []string
	vectors    [][]float32
	sealed     bool
	mu         sync.RWMutex
}

// NewFlatIndex creates an empty flat index for vectors of the given dimension.
func NewFlatIndex(dimensions int) (*FlatIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &FlatIndex{dimensions: dimensions}, nil
}

// Type returns the index type identifier.
func (f *FlatIndex) Type() string {
	return string(IndexTypeMemory)
}

// Add appends rows. Vectors are copied.
func (f *FlatIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sealed {
		return ErrSealed
	}
	for i, vec := range vectors {
		if len(vec) != f.dimensions {
			return fmt.Errorf("row %d: vector dimension mismatch: got %d, expected %d", i, len(vec), f.dimensions)
		}
	}
	for i, id := range ids {
		f.ids = append(f.ids, id)
		f.vectors = append(f.vectors, append([]float32(nil), vectors[i]...))
	}
	return nil
}

// Search scores every row against every query.
func (f *FlatIndex) Search(ctx context.Context, queries [][]float32, k int) ([][]Hit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	for i, q := range queries {
		if len(q) != f.dimensions {
			return nil, fmt.Errorf("query %d: dimension mismatch: got %d, expected %d", i, len(q), f.dimensions)
		}
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([][]Hit, len(queries))
	for qi, q := range queries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[qi] = f.searchOne(q, k)
	}
	return out, nil
}

func (f *FlatIndex) searchOne(query []float32, k int) []Hit {
	scores := make([]float32, len(f.vectors))
	for i, vec := range f.vectors {
		scores[i] = InnerProduct(query, vec)
	}
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })
	n := k
	if n > len(order) {
		n = len(order)
	}
	hits := make([]Hit, 0, k)
	for _, row := range order[:n] {
		hits = append(hits, Hit{Row: row, ID: f.ids[row], Score: scores[row]})
	}
	return padHits(hits, k)
}

// IDs returns a copy of the row ids.
func (f *FlatIndex) IDs() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]string(nil), f.ids...)
}

// Dimensions returns the vector dimension.
func (f *FlatIndex) Dimensions() int {
	return f.dimensions
}

// Size returns the number of rows.
func (f *FlatIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.ids)
}

// Save writes the index to path and seals it. Format (little-endian): magic "RJFI",
// version, dimension, row count, then per row: id length, id bytes, dimension float32s.
func (f *FlatIndex) Save(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sealed = true
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	w := bufio.NewWriter(file)
	if err := f.writeTo(w); err != nil {
		_ = file.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = file.Close()
		return fmt.Errorf("flush index file: %w", err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return fmt.Errorf("sync index file: %w", err)
	}
	return file.Close()
}

func (f *FlatIndex) writeTo(w io.Writer) error {
	if _, err := io.WriteString(w, flatMagic); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	header := []uint32{flatVersion, uint32(f.dimensions), uint32(len(f.ids))}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, id := range f.ids {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(id))); err != nil {
			return fmt.Errorf("write id len: %w", err)
		}
		if _, err := io.WriteString(w, id); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if _, err := w.Write(float32SliceToBytes(f.vectors[i])); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// Load replaces the contents with the index stored at path and seals it. The file's
// dimension must match. A missing file returns an error wrapping os.ErrNotExist.
func (f *FlatIndex) Load(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat index file: %w", err)
	}
	r := bufio.NewReader(file)

	magic := make([]byte, len(flatMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != flatMagic {
		return fmt.Errorf("not a flat index file: %s", path)
	}
	var header [3]uint32
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	version, dim, n := header[0], header[1], header[2]
	if version != flatVersion {
		return fmt.Errorf("unsupported flat index version %d", version)
	}
	if int(dim) != f.dimensions {
		return fmt.Errorf("dimension mismatch: file has %d, index expects %d", dim, f.dimensions)
	}
	// Every row takes at least its id length field and its vector.
	if minSize := flatHeaderSize + uint64(n)*(4+uint64(dim)*4); minSize > uint64(info.Size()) {
		return fmt.Errorf("index file %s too short for %d rows of dimension %d", path, n, dim)
	}

	ids := make([]string, 0, n)
	vectors := make([][]float32, 0, n)
	buf := make([]byte, f.dimensions*4)
	for i := uint32(0); i < n; i++ {
		var idLen uint32
		if err := binary.Read(r, binary.LittleEndian, &idLen); err != nil {
			return fmt.Errorf("read id len: %w", err)
		}
		if idLen > maxIDLen {
			return fmt.Errorf("row %d: id length %d exceeds %d", i, idLen, maxIDLen)
		}
		idBytes := make([]byte, idLen)
		if _, err := io.ReadFull(r, idBytes); err != nil {
			return fmt.Errorf("read id: %w", err)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("read vector: %w", err)
		}
		ids = append(ids, string(idBytes))
		vectors = append(vectors, bytesToFloat32Slice(buf))
	}
	if _, err := r.ReadByte(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("trailing data after %d rows in %s", n, path)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = ids
	f.vectors = vectors
	f.sealed = true
	return nil
}

// Close is a no-op for FlatIndex.
func (f *FlatIndex) Close() error {
	return nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
