package tensor

import (
	"fmt"
	"math"
	"sort"
)

// CSR is a compressed sparse row matrix. Indptr has RowCount+1 entries;
// row i owns Indices[Indptr[i]:Indptr[i+1]] and the matching Data span.
type CSR struct {
	RowCount int
	ColCount int
	Indptr   []int
	Indices  []int
	Data     []float64
}

func (m *CSR) Dims() (int, int) { return m.RowCount, m.ColCount }

func (m *CSR) NNZ() int { return len(m.Data) }

// MulVecTo computes dst = M*x. dst must have length RowCount.
func (m *CSR) MulVecTo(dst, x []float64) {
	for i := 0; i < m.RowCount; i++ {
		sum := 0.0
		for k := m.Indptr[i]; k < m.Indptr[i+1]; k++ {
			sum += m.Data[k] * x[m.Indices[k]]
		}
		dst[i] = sum
	}
}

// AddMulVecTo computes dst += M*x.
func (m *CSR) AddMulVecTo(dst, x []float64) {
	for i := 0; i < m.RowCount; i++ {
		sum := 0.0
		for k := m.Indptr[i]; k < m.Indptr[i+1]; k++ {
			sum += m.Data[k] * x[m.Indices[k]]
		}
		dst[i] += sum
	}
}

func (m *CSR) Scale(s float64) {
	for i := range m.Data {
		m.Data[i] *= s
	}
}

func (m *CSR) Clone() *CSR {
	out := &CSR{
		RowCount: m.RowCount,
		ColCount: m.ColCount,
		Indptr:   make([]int, len(m.Indptr)),
		Indices:  make([]int, len(m.Indices)),
		Data:     make([]float64, len(m.Data)),
	}
	copy(out.Indptr, m.Indptr)
	copy(out.Indices, m.Indices)
	copy(out.Data, m.Data)
	return out
}

// NormalizeRowsL2 rescales every row with a nonzero norm to unit L2 norm.
func (m *CSR) NormalizeRowsL2() {
	for i := 0; i < m.RowCount; i++ {
		lo, hi := m.Indptr[i], m.Indptr[i+1]
		sum := 0.0
		for k := lo; k < hi; k++ {
			sum += m.Data[k] * m.Data[k]
		}
		if sum == 0 {
			continue
		}
		norm := math.Sqrt(sum)
		for k := lo; k < hi; k++ {
			m.Data[k] /= norm
		}
	}
}

func (m *CSR) ToDense() *Dense {
	out := NewDense(m.RowCount, m.ColCount)
	for i := 0; i < m.RowCount; i++ {
		for k := m.Indptr[i]; k < m.Indptr[i+1]; k++ {
			out.Set(i, m.Indices[k], m.Data[k])
		}
	}
	return out
}

// ToCSR compresses a dense matrix, keeping only its nonzero entries.
func (m *Dense) ToCSR() *CSR {
	out := &CSR{
		RowCount: m.RowCount,
		ColCount: m.ColCount,
		Indptr:   make([]int, m.RowCount+1),
	}
	for i := 0; i < m.RowCount; i++ {
		for j := 0; j < m.ColCount; j++ {
			if v := m.At(i, j); v != 0 {
				out.Indices = append(out.Indices, j)
				out.Data = append(out.Data, v)
			}
		}
		out.Indptr[i+1] = len(out.Data)
	}
	return out
}

// NewCSRFromTriplets builds a CSR matrix from coordinate entries.
// Duplicate coordinates are rejected.
func NewCSRFromTriplets(rows, cols int, ri, ci []int, values []float64) (*CSR, error) {
	if len(ri) != len(ci) || len(ci) != len(values) {
		return nil, fmt.Errorf("triplet slices disagree in length: %d/%d/%d", len(ri), len(ci), len(values))
	}
	order := make([]int, len(ri))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		ia, ib := order[a], order[b]
		if ri[ia] != ri[ib] {
			return ri[ia] < ri[ib]
		}
		return ci[ia] < ci[ib]
	})

	out := &CSR{
		RowCount: rows,
		ColCount: cols,
		Indptr:   make([]int, rows+1),
		Indices:  make([]int, 0, len(values)),
		Data:     make([]float64, 0, len(values)),
	}
	prevRow, prevCol := -1, -1
	for _, idx := range order {
		r, c := ri[idx], ci[idx]
		if r < 0 || r >= rows || c < 0 || c >= cols {
			return nil, fmt.Errorf("triplet (%d,%d) outside %dx%d matrix", r, c, rows, cols)
		}
		if r == prevRow && c == prevCol {
			return nil, fmt.Errorf("duplicate triplet at (%d,%d)", r, c)
		}
		out.Indices = append(out.Indices, c)
		out.Data = append(out.Data, values[idx])
		out.Indptr[r+1]++
		prevRow, prevCol = r, c
	}
	for i := 0; i < rows; i++ {
		out.Indptr[i+1] += out.Indptr[i]
	}
	return out, nil
}
