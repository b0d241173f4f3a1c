// Package readout implements the trained output layers of an echo state
// network: offline ridge regression over accumulated states and an online
// least-mean-squares rule.
package readout

import (
	"errors"
	"fmt"

	"echoflow/internal/node"
	"echoflow/internal/tensor"
)

var (
	// ErrNotFitted is returned when a readout is stepped before any
	// weights exist.
	ErrNotFitted = errors.New("readout has not been fitted")
	// ErrNoBatch is returned by Fit when no batch was accumulated.
	ErrNoBatch = errors.New("no batch accumulated before fit")
)

// RidgeConfig carries the ridge readout hyperparameters.
type RidgeConfig struct {
	// Ridge is the L2 regularization coefficient of the closed-form
	// solve. Zero is plain least squares.
	Ridge float64
	// NoInputBias drops the learned intercept.
	NoInputBias bool
	// OutputDim fixes the target dimension ahead of time; 0 infers it
	// from the first targets seen or from a bound teacher node.
	OutputDim int
}

// Ridge learns a linear readout Wout by Tikhonov-regularized least
// squares. Batches accumulate into the normal-equation moments (XᵀX and
// XᵀY) through PartialFit, so the memory footprint is independent of the
// series length; Fit runs the closed-form solve.
type Ridge struct {
	*node.Core

	cfg RidgeConfig

	wout *tensor.Dense // outputDim x inputDim
	bias []float64

	xxt    *tensor.Dense // (inputDim+bias) x (inputDim+bias)
	yxt    *tensor.Dense // (inputDim+bias) x outputDim
	fitted bool
}

// NewRidge builds a ridge readout node.
func NewRidge(name string, cfg RidgeConfig) (*Ridge, error) {
	if cfg.Ridge < 0 {
		return nil, fmt.Errorf("ridge coefficient must be nonnegative, got %v", cfg.Ridge)
	}
	r := &Ridge{cfg: cfg}
	var err error
	r.Core, err = node.NewCore(name, "ridge", r.forward, r.initialize)
	if err != nil {
		return nil, err
	}
	if cfg.OutputDim > 0 {
		if err := r.SetOutputDim(cfg.OutputDim); err != nil {
			r.Core.Close()
			return nil, err
		}
	}
	return r, nil
}

func (r *Ridge) initialize(x, y []float64) error {
	if r.OutputDim() == 0 {
		return fmt.Errorf("%s: target dimension unresolved, provide targets or bind a teacher: %w",
			r.Name(), node.ErrDimUnresolvable)
	}
	return nil
}

func (r *Ridge) forward(x []float64) ([]float64, error) {
	if r.wout == nil {
		return nil, fmt.Errorf("%s: %w", r.Name(), ErrNotFitted)
	}
	out := make([]float64, r.OutputDim())
	r.wout.MulVecTo(out, x)
	if r.bias != nil {
		for i := range out {
			out[i] += r.bias[i]
		}
	}
	return out, nil
}

func (r *Ridge) momentDim() int {
	if r.cfg.NoInputBias {
		return r.InputDim()
	}
	return r.InputDim() + 1
}

// PartialFit accumulates one batch into the normal-equation moments. The
// first warmup timesteps of the batch are discarded as transient.
func (r *Ridge) PartialFit(xs, ys [][]float64, warmup int) error {
	if len(xs) == 0 {
		return nil
	}
	if len(ys) != len(xs) {
		return fmt.Errorf("%s: %d states for %d targets: %w", r.Name(), len(xs), len(ys), node.ErrDimMismatch)
	}
	if warmup < 0 || warmup >= len(xs) {
		return fmt.Errorf("%s: warmup %d leaves no training timestep out of %d", r.Name(), warmup, len(xs))
	}
	if !r.IsInitialized() {
		if err := r.Initialize(xs[0], ys[0]); err != nil {
			return err
		}
	}

	d := r.momentDim()
	out := r.OutputDim()
	if r.xxt == nil {
		r.xxt = tensor.NewDense(d, d)
		r.yxt = tensor.NewDense(d, out)
	}

	xb := make([]float64, d)
	for t := warmup; t < len(xs); t++ {
		x, y := xs[t], ys[t]
		if len(x) != r.InputDim() {
			return fmt.Errorf("%s: step %d: state dimension is %d, received %d", r.Name(), t, r.InputDim(), len(x))
		}
		if len(y) != out {
			return fmt.Errorf("%s: step %d: target dimension is %d, received %d", r.Name(), t, out, len(y))
		}
		copy(xb, x)
		if !r.cfg.NoInputBias {
			xb[d-1] = 1
		}
		for i := 0; i < d; i++ {
			for j := 0; j < d; j++ {
				r.xxt.Data[i*d+j] += xb[i] * xb[j]
			}
			for j := 0; j < out; j++ {
				r.yxt.Data[i*out+j] += xb[i] * y[j]
			}
		}
	}
	return nil
}

// Fit solves the regularized normal equations over everything accumulated
// since the last solve and installs the resulting weights.
func (r *Ridge) Fit() error {
	if r.xxt == nil {
		return fmt.Errorf("%s: %w", r.Name(), ErrNoBatch)
	}

	d := r.momentDim()
	a := r.xxt.Clone()
	for i := 0; i < d; i++ {
		a.Data[i*d+i] += r.cfg.Ridge
	}
	w, err := tensor.CholeskySolve(a, r.yxt)
	if err != nil {
		return fmt.Errorf("%s: %w", r.Name(), err)
	}

	out := r.OutputDim()
	r.wout = tensor.NewDense(out, r.InputDim())
	for i := 0; i < out; i++ {
		for j := 0; j < r.InputDim(); j++ {
			r.wout.Set(i, j, w.At(j, i))
		}
	}
	if r.cfg.NoInputBias {
		r.bias = nil
	} else {
		r.bias = make([]float64, out)
		for i := 0; i < out; i++ {
			r.bias[i] = w.At(d-1, i)
		}
	}

	r.xxt, r.yxt = nil, nil
	r.fitted = true
	return nil
}

// Fitted reports whether a solve has produced weights.
func (r *Ridge) Fitted() bool { return r.fitted }

// Wout returns the learned weights, nil before the first fit.
func (r *Ridge) Wout() *tensor.Dense { return r.wout }

// Bias returns the learned intercept, nil before the first fit or when
// disabled.
func (r *Ridge) Bias() []float64 { return r.bias }

// SetWeights installs solved weights, for deserialization.
func (r *Ridge) SetWeights(wout *tensor.Dense, bias []float64) error {
	if wout == nil {
		return fmt.Errorf("%s: weights are required", r.Name())
	}
	rows, cols := wout.Dims()
	if err := r.SetOutputDim(rows); err != nil && r.OutputDim() != rows {
		return err
	}
	if err := r.SetInputDim(cols); err != nil && r.InputDim() != cols {
		return err
	}
	r.wout = wout.Clone()
	r.bias = tensor.CloneVec(bias)
	r.fitted = true
	return nil
}

// Copy duplicates the readout under a fresh name.
func (r *Ridge) Copy(name string) (*Ridge, error) {
	out := &Ridge{
		cfg:    r.cfg,
		bias:   tensor.CloneVec(r.bias),
		fitted: r.fitted,
	}
	if r.wout != nil {
		out.wout = r.wout.Clone()
	}
	if r.xxt != nil {
		out.xxt = r.xxt.Clone()
		out.yxt = r.yxt.Clone()
	}
	core, err := r.Core.CloneCore(name, "ridge", false, out.forward, out.initialize)
	if err != nil {
		return nil, err
	}
	out.Core = core
	return out, nil
}
