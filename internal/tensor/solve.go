package tensor

import (
	"errors"
	"math"
)

var ErrNotPositiveDefinite = errors.New("matrix is not positive definite")

// CholeskySolve solves A X = B in place for symmetric positive definite A
// (n x n) and returns X (n x m). A and B are left untouched.
// Used by the ridge readout, where A = S'S + ridge*I is SPD whenever
// ridge > 0 or the design matrix has full column rank.
func CholeskySolve(a *Dense, b *Dense) (*Dense, error) {
	n, cols := a.Dims()
	if n != cols {
		return nil, errors.New("cholesky solve needs a square matrix")
	}
	bn, m := b.Dims()
	if bn != n {
		return nil, errors.New("right-hand side rows disagree with matrix order")
	}

	l := a.Clone()
	for j := 0; j < n; j++ {
		d := l.At(j, j)
		for k := 0; k < j; k++ {
			d -= l.At(j, k) * l.At(j, k)
		}
		if d <= 0 || math.IsNaN(d) {
			return nil, ErrNotPositiveDefinite
		}
		d = math.Sqrt(d)
		l.Set(j, j, d)
		for i := j + 1; i < n; i++ {
			s := l.At(i, j)
			for k := 0; k < j; k++ {
				s -= l.At(i, k) * l.At(j, k)
			}
			l.Set(i, j, s/d)
		}
	}

	x := b.Clone()
	// forward substitution L Y = B
	for c := 0; c < m; c++ {
		for i := 0; i < n; i++ {
			s := x.At(i, c)
			for k := 0; k < i; k++ {
				s -= l.At(i, k) * x.At(k, c)
			}
			x.Set(i, c, s/l.At(i, i))
		}
	}
	// back substitution L' X = Y
	for c := 0; c < m; c++ {
		for i := n - 1; i >= 0; i-- {
			s := x.At(i, c)
			for k := i + 1; k < n; k++ {
				s -= l.At(k, i) * x.At(k, c)
			}
			x.Set(i, c, s/l.At(i, i))
		}
	}
	return x, nil
}
