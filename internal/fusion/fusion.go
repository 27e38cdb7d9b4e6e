// Package fusion combines image and text embeddings into one unit-norm vector per item.
package fusion

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas/blas32"
)

// DefaultAlpha is the image weight used when a build does not set one.
const DefaultAlpha float32 = 0.7

// Epsilon is added to the norm before dividing so a zero vector stays zero.
const Epsilon = 1e-12

// ValidateAlpha returns an error unless alpha is in [0, 1].
func ValidateAlpha(alpha float32) error {
	if math.IsNaN(float64(alpha)) || alpha < 0 || alpha > 1 {
		return fmt.Errorf("alpha must be in [0, 1], got %v", alpha)
	}
	return nil
}

// Fuse returns one vector per row. With txt nil the image rows are returned as-is (copied);
// otherwise row i is normalize(alpha*img[i] + (1-alpha)*txt[i]).
func Fuse(img, txt [][]float32, alpha float32) ([][]float32, error) {
	if err := ValidateAlpha(alpha); err != nil {
		return nil, err
	}
	out := make([][]float32, len(img))
	if txt == nil {
		for i, row := range img {
			out[i] = append([]float32(nil), row...)
		}
		return out, nil
	}
	if len(txt) != len(img) {
		return nil, fmt.Errorf("row count mismatch: %d image rows, %d text rows", len(img), len(txt))
	}
	for i := range img {
		if len(img[i]) != len(txt[i]) {
			return nil, fmt.Errorf("row %d: dimension mismatch: image %d, text %d", i, len(img[i]), len(txt[i]))
		}
		out[i] = fuseRow(img[i], txt[i], alpha)
	}
	return out, nil
}

func fuseRow(img, txt []float32, alpha float32) []float32 {
	row := append([]float32(nil), img...)
	v := blas32.Vector{N: len(row), Inc: 1, Data: row}
	blas32.Scal(alpha, v)
	blas32.Axpy(1-alpha, blas32.Vector{N: len(txt), Inc: 1, Data: txt}, v)
	NormalizeInPlace(row)
	return row
}

// NormalizeInPlace divides x by its L2 norm plus Epsilon.
func NormalizeInPlace(x []float32) {
	if len(x) == 0 {
		return
	}
	v := blas32.Vector{N: len(x), Inc: 1, Data: x}
	norm := float64(blas32.Nrm2(v)) + Epsilon
	blas32.Scal(float32(1/norm), v)
}

// Normalize returns a normalized copy of x.
func Normalize(x []float32) []float32 {
	out := append([]float32(nil), x...)
	NormalizeInPlace(out)
	return out
}

// Dot returns the inner product of a and b, which must have the same length.
func Dot(a, b []float32) float32 {
	return blas32.Dot(
		blas32.Vector{N: len(a), Inc: 1, Data: a},
		blas32.Vector{N: len(b), Inc: 1, Data: b},
	)
}
