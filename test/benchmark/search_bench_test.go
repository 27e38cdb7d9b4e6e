package benchmark

import (
	"context"
	"image"
	"image/color"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/hyperjump/ruiji/internal/embedding"
	"github.com/hyperjump/ruiji/internal/fusion"
	"github.com/hyperjump/ruiji/internal/vector"
)

func randomRows(n, dim int) [][]float32 {
	r := rand.New(rand.NewPCG(1, 2))
	rows := make([][]float32, n)
	for i := range rows {
		rows[i] = make([]float32, dim)
		for j := range rows[i] {
			rows[i][j] = r.Float32()*2 - 1
		}
		fusion.NormalizeInPlace(rows[i])
	}
	return rows
}

func BenchmarkFuse(b *testing.B) {
	img := randomRows(256, 512)
	txt := randomRows(256, 512)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = fusion.Fuse(img, txt, fusion.DefaultAlpha)
	}
}

func newFlatIndex(b *testing.B, n, dim int) *vector.FlatIndex {
	b.Helper()
	idx, err := vector.NewFlatIndex(dim)
	if err != nil {
		b.Fatal(err)
	}
	ids := make([]string, n)
	for i := range ids {
		ids[i] = string(rune('a' + i%26))
	}
	if err := idx.Add(context.Background(), ids, randomRows(n, dim)); err != nil {
		b.Fatal(err)
	}
	return idx
}

func BenchmarkFlatIndexSearch(b *testing.B) {
	idx := newFlatIndex(b, 10000, 512)
	query := randomRows(1, 512)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = idx.Search(ctx, query, 10)
	}
}

func BenchmarkFlatIndexLoad(b *testing.B) {
	idx := newFlatIndex(b, 10000, 512)
	path := filepath.Join(b.TempDir(), vector.FileName("memory"))
	if err := idx.Save(path); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		loaded, _ := vector.NewFlatIndex(512)
		if err := loaded.Load(path); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkMockProvider_EmbedImages(b *testing.B) {
	p := embedding.NewMockProvider(512)
	img := image.NewRGBA(image.Rect(0, 0, 224, 224))
	for y := 0; y < 224; y++ {
		for x := 0; x < 224; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = p.EmbedImages(ctx, []image.Image{img})
	}
}

func BenchmarkPreprocess(b *testing.B) {
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = embedding.Preprocess(img, 224)
	}
}
