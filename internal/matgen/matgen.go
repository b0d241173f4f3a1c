// Package matgen generates the random weight matrices of a reservoir:
// sparse or dense draws from uniform, normal or bernoulli distributions,
// with a target connectivity and an optional rescale to a requested
// spectral radius.
package matgen

import (
	"errors"
	"fmt"
	"math/rand"

	"echoflow/internal/tensor"
)

type Dist string

const (
	DistUniform   Dist = "uniform"
	DistNormal    Dist = "normal"
	DistBernoulli Dist = "bernoulli"
)

var (
	ErrEmptyMatrix    = errors.New("generated matrix has no nonzero entry")
	ErrUnknownDist    = errors.New("unknown weight distribution")
	ErrBadConnectivty = errors.New("connectivity must be in ]0, 1]")
)

// Params drives a single matrix draw. Zero values fall back to the
// reference defaults: dense connectivity, uniform on [-1, 1], normal with
// unit variance, bernoulli magnitude 1 with p=0.5, no spectral rescale.
type Params struct {
	Dist         Dist
	Connectivity float64
	Low, High    float64 // uniform bounds
	Loc, Scale   float64 // normal mean and stddev
	Value        float64 // bernoulli magnitude
	P            float64 // bernoulli probability of +Value

	SpectralRadius float64 // rescale dominant eigenvalue magnitude to this, if > 0
	Scaling        float64 // plain multiplicative gain, if != 0

	Seed int64

	// Dense forces a dense result even at low connectivity. Sparse draws
	// default to CSR below full connectivity.
	Dense bool
}

func (p Params) normalized() (Params, error) {
	if p.Dist == "" {
		p.Dist = DistUniform
	}
	switch p.Dist {
	case DistUniform, DistNormal, DistBernoulli:
	default:
		return p, fmt.Errorf("%w: %q", ErrUnknownDist, p.Dist)
	}
	if p.Connectivity == 0 {
		p.Connectivity = 1
	}
	if p.Connectivity < 0 || p.Connectivity > 1 {
		return p, fmt.Errorf("%w: got %v", ErrBadConnectivty, p.Connectivity)
	}
	if p.Low == 0 && p.High == 0 {
		p.Low, p.High = -1, 1
	}
	if p.Scale == 0 {
		p.Scale = 1
	}
	if p.Value == 0 {
		p.Value = 1
	}
	if p.P == 0 {
		p.P = 0.5
	}
	return p, nil
}

func (p Params) draw(rng *rand.Rand) float64 {
	switch p.Dist {
	case DistNormal:
		return p.Loc + p.Scale*rng.NormFloat64()
	case DistBernoulli:
		if rng.Float64() < p.P {
			return p.Value
		}
		return -p.Value
	default: // uniform
		return p.Low + (p.High-p.Low)*rng.Float64()
	}
}

// Generate draws a rows x cols weight matrix. Entries are independently
// nonzero with probability Connectivity. A draw that comes out all-zero is
// rejected rather than returned, since a zero reservoir matrix is
// non-functional.
func Generate(rows, cols int, p Params) (tensor.Weights, error) {
	p, err := p.normalized()
	if err != nil {
		return nil, err
	}
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("matrix shape must be positive, got %dx%d", rows, cols)
	}

	rng := rand.New(rand.NewSource(p.Seed))

	var w tensor.Weights
	if p.Dense || p.Connectivity == 1 {
		d := tensor.NewDense(rows, cols)
		for i := range d.Data {
			if p.Connectivity == 1 || rng.Float64() < p.Connectivity {
				d.Data[i] = p.draw(rng)
			}
		}
		w = d
	} else {
		var ri, ci []int
		var values []float64
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				if rng.Float64() < p.Connectivity {
					ri = append(ri, i)
					ci = append(ci, j)
					values = append(values, p.draw(rng))
				}
			}
		}
		w, err = tensor.NewCSRFromTriplets(rows, cols, ri, ci, values)
		if err != nil {
			return nil, err
		}
	}

	if w.NNZ() == 0 {
		return nil, fmt.Errorf("%w: shape %dx%d, connectivity %v", ErrEmptyMatrix, rows, cols, p.Connectivity)
	}

	if p.Scaling != 0 {
		w.Scale(p.Scaling)
	}
	if p.SpectralRadius > 0 {
		if err := RescaleSpectralRadius(w, p.SpectralRadius); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// Uniform draws from a uniform distribution on [Low, High].
func Uniform(rows, cols int, p Params) (tensor.Weights, error) {
	p.Dist = DistUniform
	return Generate(rows, cols, p)
}

// Normal draws from a normal distribution with mean Loc and stddev Scale.
func Normal(rows, cols int, p Params) (tensor.Weights, error) {
	p.Dist = DistNormal
	return Generate(rows, cols, p)
}

// Bernoulli draws +Value with probability P and -Value otherwise.
func Bernoulli(rows, cols int, p Params) (tensor.Weights, error) {
	p.Dist = DistBernoulli
	return Generate(rows, cols, p)
}
