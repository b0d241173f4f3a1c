package record

import (
	"fmt"

	"echoflow/internal/tensor"
)

// FromWeights converts a weight matrix into its serializable form,
// preserving the dense or sparse representation.
func FromWeights(w tensor.Weights) *Matrix {
	if w == nil {
		return nil
	}
	rows, cols := w.Dims()
	out := &Matrix{Rows: rows, Cols: cols}
	switch m := w.(type) {
	case *tensor.Dense:
		out.Dense = append([]float64(nil), m.Data...)
	case *tensor.CSR:
		out.Indptr = append([]int(nil), m.Indptr...)
		out.Indices = append([]int(nil), m.Indices...)
		out.Data = append([]float64(nil), m.Data...)
	default:
		// Unknown implementations round-trip through a dense copy.
		d := tensor.NewDense(rows, cols)
		for j := 0; j < cols; j++ {
			e := tensor.Zeros(cols)
			e[j] = 1
			col := tensor.Zeros(rows)
			w.MulVecTo(col, e)
			for i := 0; i < rows; i++ {
				d.Set(i, j, col[i])
			}
		}
		out.Dense = d.Data
	}
	return out
}

// Weights rebuilds the in-memory matrix from its serialized form.
func (m *Matrix) Weights() (tensor.Weights, error) {
	if m == nil {
		return nil, nil
	}
	if m.Dense != nil {
		d, err := tensor.NewDenseFrom(m.Rows, m.Cols, append([]float64(nil), m.Dense...))
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	if len(m.Indptr) != m.Rows+1 {
		return nil, fmt.Errorf("sparse matrix with %d rows has %d row offsets", m.Rows, len(m.Indptr))
	}
	if len(m.Indices) != len(m.Data) {
		return nil, fmt.Errorf("sparse matrix has %d indices for %d values", len(m.Indices), len(m.Data))
	}
	return &tensor.CSR{
		RowCount: m.Rows,
		ColCount: m.Cols,
		Indptr:   append([]int(nil), m.Indptr...),
		Indices:  append([]int(nil), m.Indices...),
		Data:     append([]float64(nil), m.Data...),
	}, nil
}
