// Package tensor provides the owned numeric buffers used by the reservoir
// core: dense and compressed-sparse-row matrices, vector helpers and the
// small dense solver needed for ridge regression.
package tensor

import (
	"errors"
	"fmt"
	"math"
)

// Weights is the read-side contract shared by dense and sparse matrices.
type Weights interface {
	Dims() (rows, cols int)
	MulVecTo(dst, x []float64)
	AddMulVecTo(dst, x []float64)
	Scale(s float64)
	NNZ() int
}

var ErrNotFinite = errors.New("non-finite value")

// Zeros returns a fresh zero vector.
func Zeros(n int) []float64 {
	return make([]float64, n)
}

// CloneVec copies a vector, mapping nil to nil.
func CloneVec(x []float64) []float64 {
	if x == nil {
		return nil
	}
	out := make([]float64, len(x))
	copy(out, x)
	return out
}

// Concat joins feature vectors along the feature axis.
func Concat(parts ...[]float64) []float64 {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	out := make([]float64, 0, total)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Norm2 returns the Euclidean norm of x.
func Norm2(x []float64) float64 {
	sum := 0.0
	for _, v := range x {
		sum += v * v
	}
	return math.Sqrt(sum)
}

// CheckFinite fails on the first NaN or Inf entry. The caller name is
// included so recurrent instabilities are pinned to a node immediately
// instead of propagating through the state loop.
func CheckFinite(caller string, x []float64) error {
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s: %w at index %d: %v", caller, ErrNotFinite, i, v)
		}
	}
	return nil
}

// WeightsFinite validates every stored entry of a weight matrix.
func WeightsFinite(caller string, w Weights) error {
	switch m := w.(type) {
	case *Dense:
		return CheckFinite(caller, m.Data)
	case *CSR:
		return CheckFinite(caller, m.Data)
	default:
		return fmt.Errorf("%s: unknown weight matrix type %T", caller, w)
	}
}

// CloneWeights deep-copies a weight matrix.
func CloneWeights(w Weights) Weights {
	switch m := w.(type) {
	case *Dense:
		return m.Clone()
	case *CSR:
		return m.Clone()
	default:
		return nil
	}
}
