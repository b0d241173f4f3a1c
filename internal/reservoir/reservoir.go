// Package reservoir implements the recurrent pool at the heart of an echo
// state network: a leaky-integrator unit population driven by a random
// recurrent matrix, plus the intrinsic-plasticity and local-synaptic-rule
// variants that adapt it unsupervised.
package reservoir

import (
	"fmt"
	"math/rand"

	"echoflow/internal/activations"
	"echoflow/internal/matgen"
	"echoflow/internal/node"
	"echoflow/internal/tensor"
)

// Equation selects which leaky-integrator update the reservoir runs.
type Equation string

const (
	// Internal applies the activation inside the leak:
	//   s[t+1] = (1-lr)*s[t] + lr*f(W*s[t] + Win*u[t+1] + Wfb*g(y[t]) + bias)
	Internal Equation = "internal"
	// External keeps a separate pre-activation state r:
	//   r[t+1] = (1-lr)*r[t] + lr*(W*s[t] + Win*u[t+1] + Wfb*g(y[t]) + bias)
	//   s[t+1] = f(r[t+1])
	External Equation = "external"
)

// Config carries the reservoir hyperparameters. The zero value of most
// fields falls back to the reference defaults noted per field; Units is
// required unless a prebuilt W fixes the unit count.
type Config struct {
	Units int

	LeakRate       float64 // in ]0, 1]; 0 defaults to 1 (no leak memory)
	SpectralRadius float64 // rescale W's dominant eigenvalue to this; 0 skips

	InputScaling float64 // gain on Win entries; 0 defaults to 1
	BiasScaling  float64 // magnitude of the bernoulli bias draw; 0 keeps a zero bias
	FbScaling    float64 // gain on Wfb entries; 0 defaults to 1

	Connectivity      float64 // recurrent density; 0 defaults to 0.1
	InputConnectivity float64 // 0 defaults to 0.1
	FbConnectivity    float64 // 0 defaults to 0.1

	NoiseIn   float64 // gain of the noise added to inputs
	NoiseRC   float64 // gain of the noise added to the state update
	NoiseFb   float64 // gain of the noise added to the feedback signal
	NoiseDist matgen.Dist

	Activation   string // unit activation f; "" defaults to tanh
	FbActivation string // feedback activation g; "" defaults to identity

	Equation Equation // "" defaults to Internal

	Seed int64

	// Prebuilt matrices override the random draws. W must be square and
	// fixes Units; Win and Wfb must agree with the data dimensions seen
	// at initialization.
	W    tensor.Weights
	Win  tensor.Weights
	Wfb  tensor.Weights
	Bias []float64
}

func (c Config) normalized() (Config, error) {
	if c.W != nil {
		rows, cols := c.W.Dims()
		if rows != cols {
			return c, fmt.Errorf("recurrent matrix must be square, got %dx%d", rows, cols)
		}
		if c.Units != 0 && c.Units != rows {
			return c, fmt.Errorf("units is %d but recurrent matrix is %dx%d", c.Units, rows, cols)
		}
		c.Units = rows
	}
	if c.Units <= 0 {
		return c, fmt.Errorf("unit count is required: %w", node.ErrDimUnresolvable)
	}
	if c.LeakRate == 0 {
		c.LeakRate = 1
	}
	if c.LeakRate < 0 || c.LeakRate > 1 {
		return c, fmt.Errorf("leak rate must be in ]0, 1], got %v", c.LeakRate)
	}
	if c.InputScaling == 0 {
		c.InputScaling = 1
	}
	if c.FbScaling == 0 {
		c.FbScaling = 1
	}
	if c.Connectivity == 0 {
		c.Connectivity = 0.1
	}
	if c.InputConnectivity == 0 {
		c.InputConnectivity = 0.1
	}
	if c.FbConnectivity == 0 {
		c.FbConnectivity = 0.1
	}
	if c.NoiseDist == "" {
		c.NoiseDist = matgen.DistNormal
	}
	if c.Activation == "" {
		c.Activation = activations.Tanh
	}
	if c.FbActivation == "" {
		c.FbActivation = activations.Identity
	}
	if c.Equation == "" {
		c.Equation = Internal
	}
	if c.Equation != Internal && c.Equation != External {
		return c, fmt.Errorf("unknown reservoir equation %q", c.Equation)
	}
	return c, nil
}

// Reservoir is a pool of leaky-integrator units with random recurrent
// weights. It is a plain stateful node: it learns nothing by itself, the
// plasticity variants and the downstream readout do.
type Reservoir struct {
	*node.Core

	cfg Config

	f activations.Func
	g activations.Func

	w    tensor.Weights
	win  tensor.Weights
	wfb  tensor.Weights
	bias []float64

	// internal is the pre-activation state r kept by the External
	// equation; nil under Internal.
	internal []float64
	// prevInternal snapshots r before each step, read by the local
	// synaptic rules as the pre-synaptic signal.
	prevInternal []float64

	rng *rand.Rand

	// postInit runs after the matrices exist; the plasticity variants use
	// it to adjust the draw (e.g. compress W for per-synapse updates).
	postInit func() error
}

// New builds a reservoir node from cfg. Matrices are drawn lazily at the
// first Call, once the input dimension is known; the feedback matrix is
// drawn at the first feedback read.
func New(name string, cfg Config) (*Reservoir, error) {
	cfg, err := cfg.normalized()
	if err != nil {
		return nil, err
	}
	f, err := activations.Get(cfg.Activation)
	if err != nil {
		return nil, err
	}
	g, err := activations.Get(cfg.FbActivation)
	if err != nil {
		return nil, err
	}

	r := &Reservoir{
		cfg: cfg,
		f:   f,
		g:   g,
		rng: rand.New(rand.NewSource(cfg.Seed + 4)),
	}
	r.Core, err = node.NewCore(name, "reservoir", r.forward, r.initialize)
	if err != nil {
		return nil, err
	}
	if err := r.SetOutputDim(cfg.Units); err != nil {
		r.Core.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reservoir) initialize(x, y []float64) error {
	cfg := r.cfg

	if cfg.W != nil {
		r.w = cfg.W
	} else {
		w, err := matgen.Normal(cfg.Units, cfg.Units, matgen.Params{
			Connectivity:   cfg.Connectivity,
			SpectralRadius: cfg.SpectralRadius,
			Seed:           cfg.Seed,
		})
		if err != nil {
			return fmt.Errorf("%s: recurrent weights: %w", r.Name(), err)
		}
		r.w = w
	}

	if cfg.Win != nil {
		rows, cols := cfg.Win.Dims()
		if rows != cfg.Units || cols != r.InputDim() {
			return fmt.Errorf("%s: input weights are %dx%d, want %dx%d",
				r.Name(), rows, cols, cfg.Units, r.InputDim())
		}
		r.win = cfg.Win
	} else {
		win, err := matgen.Bernoulli(cfg.Units, r.InputDim(), matgen.Params{
			Connectivity: cfg.InputConnectivity,
			Scaling:      cfg.InputScaling,
			Seed:         cfg.Seed + 1,
		})
		if err != nil {
			return fmt.Errorf("%s: input weights: %w", r.Name(), err)
		}
		r.win = win
	}

	switch {
	case cfg.Bias != nil:
		if len(cfg.Bias) != cfg.Units {
			return fmt.Errorf("%s: bias has %d entries, want %d", r.Name(), len(cfg.Bias), cfg.Units)
		}
		r.bias = tensor.CloneVec(cfg.Bias)
	case cfg.BiasScaling != 0:
		b, err := matgen.Bernoulli(cfg.Units, 1, matgen.Params{
			Scaling: cfg.BiasScaling,
			Seed:    cfg.Seed + 2,
			Dense:   true,
		})
		if err != nil {
			return fmt.Errorf("%s: bias: %w", r.Name(), err)
		}
		r.bias = b.(*tensor.Dense).Data
	default:
		r.bias = tensor.Zeros(cfg.Units)
	}

	if cfg.Wfb != nil {
		r.wfb = cfg.Wfb
	}
	if cfg.Equation == External {
		r.internal = tensor.Zeros(cfg.Units)
	}
	if r.postInit != nil {
		return r.postInit()
	}
	return nil
}

// kernel computes W*s[t] + Win*(u + noise) + Wfb*(g(fb) + noise) + bias.
func (r *Reservoir) kernel(u []float64) ([]float64, error) {
	pre := make([]float64, r.cfg.Units)

	if r.cfg.NoiseIn > 0 {
		u = r.noisy(u, r.cfg.NoiseIn)
	}
	r.win.MulVecTo(pre, u)
	r.w.AddMulVecTo(pre, r.State())

	if fb := r.FeedbackBinding(); fb != nil {
		y, err := fb.Value()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", r.Name(), err)
		}
		if r.wfb == nil {
			wfb, err := matgen.Bernoulli(r.cfg.Units, len(y), matgen.Params{
				Connectivity: r.cfg.FbConnectivity,
				Scaling:      r.cfg.FbScaling,
				Seed:         r.cfg.Seed + 3,
			})
			if err != nil {
				return nil, fmt.Errorf("%s: feedback weights: %w", r.Name(), err)
			}
			r.wfb = wfb
		}
		if _, cols := r.wfb.Dims(); cols != len(y) {
			return nil, fmt.Errorf("%s: feedback weights expect dimension %d, received %d", r.Name(), cols, len(y))
		}
		gy := make([]float64, len(y))
		r.g(gy, y)
		if r.cfg.NoiseFb > 0 {
			gy = r.noisy(gy, r.cfg.NoiseFb)
		}
		r.wfb.AddMulVecTo(pre, gy)
	}

	for i := range pre {
		pre[i] += r.bias[i]
	}
	return pre, nil
}

func (r *Reservoir) forward(u []float64) ([]float64, error) {
	pre, err := r.kernel(u)
	if err != nil {
		return nil, err
	}

	lr := r.cfg.LeakRate
	out := make([]float64, r.cfg.Units)

	if r.cfg.Equation == Internal {
		r.f(out, pre)
		state := r.State()
		for i := range out {
			out[i] = (1-lr)*state[i] + lr*out[i]
		}
		if r.cfg.NoiseRC > 0 {
			out = r.noisy(out, r.cfg.NoiseRC)
		}
		return out, nil
	}

	// External equation: the leak integrates the pre-activation state,
	// the activation maps it to the emitted state.
	r.prevInternal = tensor.CloneVec(r.internal)
	for i := range pre {
		r.internal[i] = (1-lr)*r.internal[i] + lr*pre[i]
	}
	if r.cfg.NoiseRC > 0 {
		r.internal = r.noisy(r.internal, r.cfg.NoiseRC)
	}
	r.f(out, r.internal)
	return out, nil
}

// noisy returns x plus gain-scaled noise drawn from the configured
// distribution. x is never written in place.
func (r *Reservoir) noisy(x []float64, gain float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v + gain*r.draw()
	}
	return out
}

func (r *Reservoir) draw() float64 {
	switch r.cfg.NoiseDist {
	case matgen.DistUniform:
		return -1 + 2*r.rng.Float64()
	case matgen.DistBernoulli:
		if r.rng.Float64() < 0.5 {
			return 1
		}
		return -1
	default:
		return r.rng.NormFloat64()
	}
}

// Reset zeroes (or seeds) the emitted state and clears the pre-activation
// state kept by the External equation.
func (r *Reservoir) Reset(to []float64) error {
	if err := r.Core.Reset(to); err != nil {
		return err
	}
	if r.internal != nil {
		r.internal = tensor.Zeros(r.cfg.Units)
		r.prevInternal = nil
	}
	return nil
}

// Config returns the normalized hyperparameters the reservoir runs with.
func (r *Reservoir) Config() Config { return r.cfg }

// W returns the recurrent weight matrix, nil before initialization.
func (r *Reservoir) W() tensor.Weights { return r.w }

// Win returns the input weight matrix, nil before initialization.
func (r *Reservoir) Win() tensor.Weights { return r.win }

// Wfb returns the feedback weight matrix, nil until the first feedback
// read.
func (r *Reservoir) Wfb() tensor.Weights { return r.wfb }

// Bias returns the unit bias vector, nil before initialization.
func (r *Reservoir) Bias() []float64 { return r.bias }

// InternalState returns the pre-activation state r of the External
// equation, nil under Internal.
func (r *Reservoir) InternalState() []float64 { return r.internal }

// SetWeights installs prebuilt matrices after construction but before
// initialization, for deserialization.
func (r *Reservoir) SetWeights(w, win, wfb tensor.Weights, bias []float64) error {
	if r.IsInitialized() {
		return fmt.Errorf("%s: %w: weights", r.Name(), node.ErrDimImmutable)
	}
	r.cfg.W = w
	r.cfg.Win = win
	r.cfg.Wfb = wfb
	r.cfg.Bias = bias
	return nil
}

// Copy duplicates the reservoir under a fresh name. Weight matrices and
// states are deep-copied; the feedback binding is shared by reference
// unless copyFeedback is set. The noise stream restarts from the seed.
func (r *Reservoir) Copy(name string, copyFeedback bool) (*Reservoir, error) {
	out := &Reservoir{
		cfg:          r.cfg,
		f:            r.f,
		g:            r.g,
		bias:         tensor.CloneVec(r.bias),
		internal:     tensor.CloneVec(r.internal),
		prevInternal: tensor.CloneVec(r.prevInternal),
		rng:          rand.New(rand.NewSource(r.cfg.Seed + 4)),
	}
	if r.w != nil {
		out.w = tensor.CloneWeights(r.w)
	}
	if r.win != nil {
		out.win = tensor.CloneWeights(r.win)
	}
	if r.wfb != nil {
		out.wfb = tensor.CloneWeights(r.wfb)
	}
	core, err := r.Core.CloneCore(name, "reservoir", copyFeedback, out.forward, out.initialize)
	if err != nil {
		return nil, err
	}
	out.Core = core
	return out, nil
}
