package reservoir

import (
	"fmt"

	"echoflow/internal/activations"
	"echoflow/internal/tensor"
)

// IPConfig carries the intrinsic plasticity hyperparameters on top of the
// base reservoir ones. The reservoir activation selects the target
// distribution: tanh adapts toward a gaussian of mean Mu and stddev
// Sigma, sigmoid toward an exponential of mean Mu.
type IPConfig struct {
	Reservoir Config

	Mu           float64
	Sigma        float64 // 0 defaults to 1
	LearningRate float64 // 0 defaults to 5e-4
	Epochs       int     // 0 defaults to 1
}

// IPReservoir adapts a per-unit gain a and bias b so that each unit's
// activation a_i*r_i + b_i drives its output toward a target
// distribution. The update is unsupervised and runs one timestep at a
// time, on the pre-activation state kept by the external equation.
type IPReservoir struct {
	*Reservoir

	ipCfg IPConfig
	baseF activations.Func

	a []float64
	b []float64
}

// NewIP builds an intrinsic plasticity reservoir. The external state
// equation is always used, since the rule reads the pre-activation state.
func NewIP(name string, cfg IPConfig) (*IPReservoir, error) {
	if cfg.Sigma == 0 {
		cfg.Sigma = 1
	}
	if cfg.Sigma < 0 {
		return nil, fmt.Errorf("sigma must be positive, got %v", cfg.Sigma)
	}
	if cfg.LearningRate == 0 {
		cfg.LearningRate = 5e-4
	}
	if cfg.Epochs == 0 {
		cfg.Epochs = 1
	}
	cfg.Reservoir.Equation = External
	if cfg.Reservoir.Activation == "" {
		cfg.Reservoir.Activation = activations.Tanh
	}
	switch activations.Normalize(cfg.Reservoir.Activation) {
	case activations.Tanh:
	case activations.Sigmoid:
		if cfg.Mu <= 0 {
			return nil, fmt.Errorf("exponential target needs a positive mean, got %v", cfg.Mu)
		}
	default:
		return nil, fmt.Errorf("intrinsic plasticity supports tanh and sigmoid, got %q", cfg.Reservoir.Activation)
	}

	base, err := New(name, cfg.Reservoir)
	if err != nil {
		return nil, err
	}

	ip := &IPReservoir{
		Reservoir: base,
		ipCfg:     cfg,
		baseF:     base.f,
		a:         ones(base.cfg.Units),
		b:         tensor.Zeros(base.cfg.Units),
	}
	base.f = ip.gainedActivation
	return ip, nil
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

// gainedActivation computes f(a*r + b) elementwise.
func (ip *IPReservoir) gainedActivation(dst, x []float64) {
	scaled := make([]float64, len(x))
	for i, v := range x {
		scaled[i] = ip.a[i]*v + ip.b[i]
	}
	ip.baseF(dst, scaled)
}

// Train applies one intrinsic plasticity update from the step that just
// ran: the pre-activation state is the rule's input, the emitted state
// its output. The target is ignored; the rule is unsupervised.
func (ip *IPReservoir) Train(x, y []float64) error {
	if !ip.IsInitialized() {
		return fmt.Errorf("%s: not initialized", ip.Name())
	}
	ip.update(ip.InternalState(), ip.State())
	return nil
}

func (ip *IPReservoir) update(pre, post []float64) {
	eta := ip.ipCfg.LearningRate
	mu := ip.ipCfg.Mu

	if activations.Normalize(ip.cfg.Activation) == activations.Sigmoid {
		for i := range post {
			y := post[i]
			db := eta * (1 - (2+1/mu)*y + y*y/mu)
			ip.b[i] += db
			ip.a[i] += eta/ip.a[i] + db*pre[i]
		}
		return
	}

	sig2 := ip.ipCfg.Sigma * ip.ipCfg.Sigma
	for i := range post {
		y := post[i]
		db := -eta * (-(mu / sig2) + (y/sig2)*(2*sig2+1-y*y+mu*y))
		ip.b[i] += db
		ip.a[i] += eta/ip.a[i] + db*pre[i]
	}
}

// Adapt runs the configured number of epochs over a timeseries. The
// reservoir steps through every timestep, but the rule only fires once
// the warmup steps of each epoch have washed the transient out.
func (ip *IPReservoir) Adapt(xs [][]float64, warmup int) error {
	if warmup < 0 || warmup >= len(xs) {
		return fmt.Errorf("%s: warmup %d not smaller than sequence length %d", ip.Name(), warmup, len(xs))
	}
	for epoch := 0; epoch < ip.ipCfg.Epochs; epoch++ {
		for t, u := range xs {
			if _, err := ip.Call(u); err != nil {
				return fmt.Errorf("%s: epoch %d, step %d: %w", ip.Name(), epoch, t, err)
			}
			if t < warmup {
				continue
			}
			ip.update(ip.InternalState(), ip.State())
		}
	}
	return nil
}

// Fitted reports true: the rule needs no closed-form fit and the node is
// usable at any point of its adaptation.
func (ip *IPReservoir) Fitted() bool { return true }

// A returns the per-unit gains.
func (ip *IPReservoir) A() []float64 { return ip.a }

// B returns the per-unit biases.
func (ip *IPReservoir) B() []float64 { return ip.b }

// SetGains installs adapted gains and biases, for deserialization.
func (ip *IPReservoir) SetGains(a, b []float64) error {
	if len(a) != ip.cfg.Units || len(b) != ip.cfg.Units {
		return fmt.Errorf("%s: gains have %d/%d entries, want %d", ip.Name(), len(a), len(b), ip.cfg.Units)
	}
	ip.a = tensor.CloneVec(a)
	ip.b = tensor.CloneVec(b)
	return nil
}

// Copy duplicates the reservoir and its adapted gains under a fresh name.
func (ip *IPReservoir) Copy(name string, copyFeedback bool) (*IPReservoir, error) {
	base, err := ip.Reservoir.Copy(name, copyFeedback)
	if err != nil {
		return nil, err
	}
	out := &IPReservoir{
		Reservoir: base,
		ipCfg:     ip.ipCfg,
		baseF:     ip.baseF,
		a:         tensor.CloneVec(ip.a),
		b:         tensor.CloneVec(ip.b),
	}
	base.f = out.gainedActivation
	return out, nil
}
