package readout

import (
	"fmt"

	"echoflow/internal/node"
	"echoflow/internal/tensor"
)

// LMSConfig carries the least-mean-squares readout hyperparameters.
type LMSConfig struct {
	// LearningRate scales the per-step gradient. 0 defaults to 1e-6.
	LearningRate float64
	// NoInputBias drops the learned intercept.
	NoInputBias bool
	// OutputDim fixes the target dimension ahead of time; 0 infers it
	// from the first targets seen or from a bound teacher node.
	OutputDim int
}

// LMS learns a linear readout online with the delta rule: after every
// step the weights move along the prediction error. Unlike Ridge it is
// callable from the start, emitting zeros until trained.
type LMS struct {
	*node.Core

	cfg LMSConfig

	wout *tensor.Dense
	bias []float64
}

// NewLMS builds a least-mean-squares readout node.
func NewLMS(name string, cfg LMSConfig) (*LMS, error) {
	if cfg.LearningRate == 0 {
		cfg.LearningRate = 1e-6
	}
	if cfg.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %v", cfg.LearningRate)
	}
	l := &LMS{cfg: cfg}
	var err error
	l.Core, err = node.NewCore(name, "lms", l.forward, l.initialize)
	if err != nil {
		return nil, err
	}
	if cfg.OutputDim > 0 {
		if err := l.SetOutputDim(cfg.OutputDim); err != nil {
			l.Core.Close()
			return nil, err
		}
	}
	return l, nil
}

func (l *LMS) initialize(x, y []float64) error {
	if l.OutputDim() == 0 {
		return fmt.Errorf("%s: target dimension unresolved, provide targets or bind a teacher: %w",
			l.Name(), node.ErrDimUnresolvable)
	}
	l.wout = tensor.NewDense(l.OutputDim(), l.InputDim())
	if !l.cfg.NoInputBias {
		l.bias = tensor.Zeros(l.OutputDim())
	}
	return nil
}

func (l *LMS) forward(x []float64) ([]float64, error) {
	out := make([]float64, l.OutputDim())
	l.wout.MulVecTo(out, x)
	if l.bias != nil {
		for i := range out {
			out[i] += l.bias[i]
		}
	}
	return out, nil
}

// Train applies one delta-rule update from the input x and target y. A
// nil target falls back to the bound teacher's previous-step state.
func (l *LMS) Train(x, y []float64) error {
	if !l.IsInitialized() {
		if err := l.Initialize(x, y); err != nil {
			return err
		}
	}
	if y == nil {
		tv, err := l.TeacherValue()
		if err != nil {
			return fmt.Errorf("%s: %w", l.Name(), err)
		}
		if tv == nil {
			return fmt.Errorf("%s: no target and no bound teacher", l.Name())
		}
		y = tv
	}
	if len(x) != l.InputDim() {
		return fmt.Errorf("%s: state dimension is %d, received %d", l.Name(), l.InputDim(), len(x))
	}
	if len(y) != l.OutputDim() {
		return fmt.Errorf("%s: target dimension is %d, received %d", l.Name(), l.OutputDim(), len(y))
	}

	pred, err := l.forward(x)
	if err != nil {
		return err
	}
	alpha := l.cfg.LearningRate
	cols := l.InputDim()
	for i := range pred {
		e := y[i] - pred[i]
		for j := 0; j < cols; j++ {
			l.wout.Data[i*cols+j] += alpha * e * x[j]
		}
		if l.bias != nil {
			l.bias[i] += alpha * e
		}
	}
	return nil
}

// Wout returns the current weights, nil before initialization.
func (l *LMS) Wout() *tensor.Dense { return l.wout }

// Bias returns the current intercept, nil when disabled.
func (l *LMS) Bias() []float64 { return l.bias }

// SetWeights installs trained weights, for deserialization.
func (l *LMS) SetWeights(wout *tensor.Dense, bias []float64) error {
	if wout == nil {
		return fmt.Errorf("%s: weights are required", l.Name())
	}
	l.wout = wout.Clone()
	l.bias = tensor.CloneVec(bias)
	return nil
}

// Copy duplicates the readout under a fresh name.
func (l *LMS) Copy(name string) (*LMS, error) {
	out := &LMS{
		cfg:  l.cfg,
		bias: tensor.CloneVec(l.bias),
	}
	if l.wout != nil {
		out.wout = l.wout.Clone()
	}
	core, err := l.Core.CloneCore(name, "lms", false, out.forward, out.initialize)
	if err != nil {
		return nil, err
	}
	out.Core = core
	return out, nil
}
