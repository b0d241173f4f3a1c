package tensor

import (
	"fmt"
	"math"
)

// Dense is a row-major matrix backed by a single owned slice.
type Dense struct {
	RowCount int
	ColCount int
	Data     []float64
}

func NewDense(rows, cols int) *Dense {
	return &Dense{
		RowCount: rows,
		ColCount: cols,
		Data:     make([]float64, rows*cols),
	}
}

func NewDenseFrom(rows, cols int, data []float64) (*Dense, error) {
	if len(data) != rows*cols {
		return nil, fmt.Errorf("dense matrix needs %d values for shape %dx%d, got %d", rows*cols, rows, cols, len(data))
	}
	return &Dense{RowCount: rows, ColCount: cols, Data: data}, nil
}

func (m *Dense) Dims() (int, int) { return m.RowCount, m.ColCount }

func (m *Dense) At(i, j int) float64 { return m.Data[i*m.ColCount+j] }

func (m *Dense) Set(i, j int, v float64) { m.Data[i*m.ColCount+j] = v }

// MulVecTo computes dst = M*x. dst must have length RowCount.
func (m *Dense) MulVecTo(dst, x []float64) {
	for i := 0; i < m.RowCount; i++ {
		row := m.Data[i*m.ColCount : (i+1)*m.ColCount]
		sum := 0.0
		for j, w := range row {
			sum += w * x[j]
		}
		dst[i] = sum
	}
}

// AddMulVecTo computes dst += M*x.
func (m *Dense) AddMulVecTo(dst, x []float64) {
	for i := 0; i < m.RowCount; i++ {
		row := m.Data[i*m.ColCount : (i+1)*m.ColCount]
		sum := 0.0
		for j, w := range row {
			sum += w * x[j]
		}
		dst[i] += sum
	}
}

func (m *Dense) Scale(s float64) {
	for i := range m.Data {
		m.Data[i] *= s
	}
}

func (m *Dense) NNZ() int {
	n := 0
	for _, v := range m.Data {
		if v != 0 {
			n++
		}
	}
	return n
}

func (m *Dense) Clone() *Dense {
	out := NewDense(m.RowCount, m.ColCount)
	copy(out.Data, m.Data)
	return out
}

// MaxAbs returns the largest absolute entry.
func (m *Dense) MaxAbs() float64 {
	max := 0.0
	for _, v := range m.Data {
		if a := math.Abs(v); a > max {
			max = a
		}
	}
	return max
}
