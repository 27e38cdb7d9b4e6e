package vector

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestFlatIndex_AddSearch(t *testing.T) {
	idx, err := NewFlatIndex(3)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()

	vecs := [][]float32{
		{1, 0, 0},
		{0.9, 0.1, 0},
		{0, 1, 0},
	}
	if err := idx.Add(ctx, []string{"a", "b", "c"}, vecs); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 3 {
		t.Errorf("Size=%d", idx.Size())
	}

	hits, err := idx.Search(ctx, [][]float32{{1, 0, 0}, {0, 1, 0}}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 || len(hits[0]) != 2 {
		t.Fatalf("unexpected shape: %v", hits)
	}
	if hits[0][0].ID != "a" || hits[0][1].ID != "b" {
		t.Errorf("query 0: got %+v", hits[0])
	}
	if hits[1][0].ID != "c" || hits[1][0].Row != 2 {
		t.Errorf("query 1: got %+v", hits[1])
	}
	for _, row := range hits {
		for i := 1; i < len(row); i++ {
			if row[i].Score > row[i-1].Score {
				t.Errorf("scores increase: %+v", row)
			}
		}
	}
}

func TestFlatIndex_TiesKeepRowOrder(t *testing.T) {
	idx, _ := NewFlatIndex(2)
	ctx := context.Background()
	vecs := [][]float32{{0, 1}, {1, 0}, {1, 0}, {1, 0}}
	_ = idx.Add(ctx, []string{"w", "x", "y", "z"}, vecs)
	hits, err := idx.Search(ctx, [][]float32{{1, 0}}, 3)
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []int{1, 2, 3} {
		if hits[0][i].Row != want {
			t.Fatalf("rank %d: row %d, want %d (%+v)", i, hits[0][i].Row, want, hits[0])
		}
	}
}

func TestFlatIndex_PadsWhenKExceedsSize(t *testing.T) {
	idx, _ := NewFlatIndex(2)
	ctx := context.Background()
	_ = idx.Add(ctx, []string{"a", "b"}, [][]float32{{1, 0}, {0, 1}})
	hits, err := idx.Search(ctx, [][]float32{{1, 0}}, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits[0]) != 4 {
		t.Fatalf("expected 4 ranks, got %d", len(hits[0]))
	}
	valid := 0
	for _, h := range hits[0] {
		if h.Valid() {
			valid++
		} else if h.Row != -1 || h.ID != "" {
			t.Errorf("bad padding %+v", h)
		}
	}
	if valid != 2 {
		t.Errorf("valid hits = %d, want 2", valid)
	}
}

func TestFlatIndex_SearchErrors(t *testing.T) {
	idx, _ := NewFlatIndex(2)
	ctx := context.Background()
	if _, err := idx.Search(ctx, [][]float32{{1, 0, 0}}, 1); err == nil {
		t.Error("expected dimension error")
	}
	if _, err := idx.Search(ctx, [][]float32{{1, 0}}, 0); err == nil {
		t.Error("expected error for k=0")
	}
	if err := idx.Add(ctx, []string{"a"}, [][]float32{{1}}); err == nil {
		t.Error("expected dimension error on Add")
	}
	if err := idx.Add(ctx, []string{"a", "b"}, [][]float32{{1, 0}}); err == nil {
		t.Error("expected length mismatch error on Add")
	}
}

func TestFlatIndex_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "image_index.bin")
	ctx := context.Background()

	idx, _ := NewFlatIndex(3)
	ids := []string{"Men:Shirts:1", "Women:Dresses:2", "Men:Shirts:1"}
	vecs := [][]float32{{1, 0, 0}, {0, 0.6, 0.8}, {0, 0, 1}}
	if err := idx.Add(ctx, ids, vecs); err != nil {
		t.Fatal(err)
	}
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}
	if err := idx.Add(ctx, []string{"late"}, [][]float32{{1, 0, 0}}); !errors.Is(err, ErrSealed) {
		t.Errorf("Add after Save = %v, want ErrSealed", err)
	}

	loaded, _ := NewFlatIndex(3)
	if err := loaded.Load(path); err != nil {
		t.Fatal(err)
	}
	got := loaded.IDs()
	if len(got) != len(ids) {
		t.Fatalf("IDs = %v", got)
	}
	for i := range ids {
		if got[i] != ids[i] {
			t.Errorf("row %d: id %q, want %q", i, got[i], ids[i])
		}
		v := loaded.vectors[i]
		for j := range v {
			if math.Float32bits(v[j]) != math.Float32bits(vecs[i][j]) {
				t.Errorf("row %d differs: %v vs %v", i, v, vecs[i])
			}
		}
	}
	if err := loaded.Add(ctx, []string{"x"}, [][]float32{{1, 0, 0}}); !errors.Is(err, ErrSealed) {
		t.Errorf("Add after Load = %v, want ErrSealed", err)
	}
}

func TestFlatIndex_LoadErrors(t *testing.T) {
	dir := t.TempDir()
	idx, _ := NewFlatIndex(2)
	if err := idx.Load(filepath.Join(dir, "missing.bin")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: got %v, want os.ErrNotExist", err)
	}

	garbage := filepath.Join(dir, "garbage.bin")
	if err := os.WriteFile(garbage, []byte("not an index"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := idx.Load(garbage); err == nil {
		t.Error("expected error for garbage file")
	}

	src, _ := NewFlatIndex(3)
	_ = src.Add(context.Background(), []string{"a"}, [][]float32{{1, 0, 0}})
	path := filepath.Join(dir, "dim3.bin")
	if err := src.Save(path); err != nil {
		t.Fatal(err)
	}
	if err := idx.Load(path); err == nil {
		t.Error("expected dimension mismatch error")
	}

	data, _ := os.ReadFile(path)
	truncated := filepath.Join(dir, "truncated.bin")
	_ = os.WriteFile(truncated, data[:len(data)-2], 0644)
	other, _ := NewFlatIndex(3)
	if err := other.Load(truncated); err == nil {
		t.Error("expected error for truncated file")
	}
}

func TestFlatIndex_LoadCorruptHeader(t *testing.T) {
	dir := t.TempDir()
	src, _ := NewFlatIndex(3)
	_ = src.Add(context.Background(), []string{"a"}, [][]float32{{1, 0, 0}})
	path := filepath.Join(dir, "ok.bin")
	if err := src.Save(path); err != nil {
		t.Fatal(err)
	}
	valid, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		offset int
		value  uint32
		want   string
	}{
		{"huge row count", 12, math.MaxUint32, "too short"},
		{"row count past file end", 12, 2, "too short"},
		{"huge id length", 16, math.MaxInt32, "id length"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := append([]byte(nil), valid...)
			binary.LittleEndian.PutUint32(data[tt.offset:], tt.value)
			corrupt := filepath.Join(dir, "corrupt.bin")
			if err := os.WriteFile(corrupt, data, 0644); err != nil {
				t.Fatal(err)
			}
			idx, _ := NewFlatIndex(3)
			err := idx.Load(corrupt)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestFlatIndex_ConcurrentSearch(t *testing.T) {
	idx, _ := NewFlatIndex(2)
	ctx := context.Background()
	_ = idx.Add(ctx, []string{"a", "b"}, [][]float32{{1, 0}, {0, 1}})

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hits, err := idx.Search(ctx, [][]float32{{0, 1}}, 1)
			if err != nil {
				errs <- err
				return
			}
			if hits[0][0].ID != "b" {
				errs <- errors.New("wrong top hit " + hits[0][0].ID)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
