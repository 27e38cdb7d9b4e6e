package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"image"
	"math/rand/v2"

	"github.com/hyperjump/ruiji/internal/fusion"
)

// MockModelID is reported by MockProvider.
const MockModelID = "mock"

// mockGrid is the side of the pixel grid an image is sampled on before hashing.
const mockGrid = 8

// MockProvider is a deterministic provider for tests and for running without a model.
// The same image pixels or the same text always produce the same unit vector.
type MockProvider struct {
	dimensions int
}

// NewMockProvider returns a provider that produces deterministic embeddings of the given dimensions.
func NewMockProvider(dimensions int) *MockProvider {
	if dimensions <= 0 {
		dimensions = 512
	}
	return &MockProvider{dimensions: dimensions}
}

// EmbedImages hashes a downsampled grid of each image's pixels.
func (m *MockProvider) EmbedImages(ctx context.Context, images []image.Image) ([][]float32, error) {
	out := make([][]float32, len(images))
	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = m.vector(imageDigest(img))
	}
	return out, nil
}

// EmbedTexts hashes each text.
func (m *MockProvider) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = m.vector(sha256.Sum256([]byte("text:" + text)))
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (m *MockProvider) Dimensions() int {
	return m.dimensions
}

// ModelID returns MockModelID.
func (m *MockProvider) ModelID() string {
	return MockModelID
}

// Close is a no-op for MockProvider.
func (m *MockProvider) Close() error {
	return nil
}

func (m *MockProvider) vector(seed [32]byte) []float32 {
	rng := rand.New(rand.NewPCG(binary.LittleEndian.Uint64(seed[:8]), binary.LittleEndian.Uint64(seed[8:16])))
	emb := make([]float32, m.dimensions)
	for i := range emb {
		emb[i] = float32(rng.NormFloat64())
	}
	fusion.NormalizeInPlace(emb)
	return emb
}

func imageDigest(img image.Image) [32]byte {
	h := sha256.New()
	if img == nil {
		return sha256.Sum256(nil)
	}
	b := img.Bounds()
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[:4], uint32(b.Dx()))
	binary.LittleEndian.PutUint32(buf[4:], uint32(b.Dy()))
	h.Write(buf[:])
	for gy := 0; gy < mockGrid; gy++ {
		for gx := 0; gx < mockGrid; gx++ {
			x := b.Min.X + (gx*b.Dx()+b.Dx()/2)/mockGrid
			y := b.Min.Y + (gy*b.Dy()+b.Dy()/2)/mockGrid
			r, g, bl, _ := img.At(x, y).RGBA()
			h.Write([]byte{byte(r >> 8), byte(g >> 8), byte(bl >> 8)})
		}
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}
