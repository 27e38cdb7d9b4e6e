package vector

import "gonum.org/v1/gonum/blas/blas32"

// InnerProduct returns the inner product of two vectors of equal length. For unit
// vectors it equals the cosine similarity.
func InnerProduct(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return blas32.Dot(
		blas32.Vector{N: len(a), Inc: 1, Data: a},
		blas32.Vector{N: len(b), Inc: 1, Data: b},
	)
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float32 {
	if len(x) == 0 {
		return 0
	}
	return blas32.Nrm2(blas32.Vector{N: len(x), Inc: 1, Data: x})
}
