package reservoir

import (
	"fmt"

	"echoflow/internal/tensor"
)

// LocalRule names a local synaptic plasticity rule. Every rule updates a
// recurrent weight from its pre-synaptic signal x (the sending unit's
// pre-activation state) and post-synaptic signal y (the receiving unit's
// emitted state) only, which keeps the update linear in the number of
// nonzero synapses.
type LocalRule string

const (
	Oja         LocalRule = "oja"
	AntiOja     LocalRule = "anti-oja"
	Hebbian     LocalRule = "hebbian"
	AntiHebbian LocalRule = "anti-hebbian"
	BCM         LocalRule = "bcm"
)

// LocalConfig carries the synaptic plasticity hyperparameters on top of
// the base reservoir ones.
type LocalConfig struct {
	Reservoir Config

	Rule LocalRule // "" defaults to Oja
	Eta  float64   // 0 defaults to 1e-3
	// Theta is the BCM sliding threshold.
	Theta float64
	// SynapseNormalization renormalizes every unit's incoming weights to
	// unit L2 norm after each update.
	SynapseNormalization bool
	Epochs               int // 0 defaults to 1
}

type ruleFunc func(w, x, y float64) float64

func ruleFor(cfg LocalConfig) (ruleFunc, error) {
	eta, theta := cfg.Eta, cfg.Theta
	switch cfg.Rule {
	case Oja:
		return func(w, x, y float64) float64 { return eta * y * (x - y*w) }, nil
	case AntiOja:
		return func(w, x, y float64) float64 { return -eta * y * (x - y*w) }, nil
	case Hebbian:
		return func(w, x, y float64) float64 { return eta * x * y }, nil
	case AntiHebbian:
		return func(w, x, y float64) float64 { return -eta * x * y }, nil
	case BCM:
		return func(w, x, y float64) float64 { return eta * x * y * (y - theta) }, nil
	default:
		return nil, fmt.Errorf("unknown local plasticity rule %q", cfg.Rule)
	}
}

// LocalPlasticityReservoir adapts its recurrent weights with a local
// synaptic rule. Only existing synapses change: the sparsity pattern of W
// is fixed at initialization. The external state equation is always used,
// since the rules read the pre-activation state.
type LocalPlasticityReservoir struct {
	*Reservoir

	localCfg LocalConfig
	rule     ruleFunc
}

// NewLocalPlasticity builds a reservoir adapted by the configured local
// rule.
func NewLocalPlasticity(name string, cfg LocalConfig) (*LocalPlasticityReservoir, error) {
	if cfg.Rule == "" {
		cfg.Rule = Oja
	}
	if cfg.Eta == 0 {
		cfg.Eta = 1e-3
	}
	if cfg.Epochs == 0 {
		cfg.Epochs = 1
	}
	rule, err := ruleFor(cfg)
	if err != nil {
		return nil, err
	}
	cfg.Reservoir.Equation = External

	base, err := New(name, cfg.Reservoir)
	if err != nil {
		return nil, err
	}
	lp := &LocalPlasticityReservoir{
		Reservoir: base,
		localCfg:  cfg,
		rule:      rule,
	}
	// The rule iterates nonzero synapses, so W must be compressed even
	// when the draw came out dense.
	base.postInit = func() error {
		if d, ok := base.w.(*tensor.Dense); ok {
			base.w = d.ToCSR()
		}
		return nil
	}
	return lp, nil
}

// Train applies one synaptic update from the step that just ran: the
// pre-synaptic signal is the pre-activation state before the step, the
// post-synaptic signal the state it produced. The target is ignored; the
// rule is unsupervised.
func (lp *LocalPlasticityReservoir) Train(x, y []float64) error {
	if !lp.IsInitialized() {
		return fmt.Errorf("%s: not initialized", lp.Name())
	}
	lp.applyRule()
	return nil
}

func (lp *LocalPlasticityReservoir) applyRule() {
	w := lp.w.(*tensor.CSR)
	pre := lp.prevInternal
	if pre == nil {
		pre = tensor.Zeros(lp.cfg.Units)
	}
	post := lp.State()

	for i := 0; i < w.RowCount; i++ {
		for k := w.Indptr[i]; k < w.Indptr[i+1]; k++ {
			w.Data[k] += lp.rule(w.Data[k], pre[w.Indices[k]], post[i])
		}
	}
	if lp.localCfg.SynapseNormalization {
		w.NormalizeRowsL2()
	}
}

// Adapt runs the configured number of epochs over a timeseries. The
// reservoir steps through every timestep, but the rule only fires once
// the warmup steps of each epoch have washed the transient out.
func (lp *LocalPlasticityReservoir) Adapt(xs [][]float64, warmup int) error {
	if warmup < 0 || warmup >= len(xs) {
		return fmt.Errorf("%s: warmup %d not smaller than sequence length %d", lp.Name(), warmup, len(xs))
	}
	for epoch := 0; epoch < lp.localCfg.Epochs; epoch++ {
		for t, u := range xs {
			if _, err := lp.Call(u); err != nil {
				return fmt.Errorf("%s: epoch %d, step %d: %w", lp.Name(), epoch, t, err)
			}
			if t < warmup {
				continue
			}
			lp.applyRule()
		}
	}
	return nil
}

// Fitted reports true: the rule needs no closed-form fit and the node is
// usable at any point of its adaptation.
func (lp *LocalPlasticityReservoir) Fitted() bool { return true }

// Rule returns the active plasticity rule.
func (lp *LocalPlasticityReservoir) Rule() LocalRule { return lp.localCfg.Rule }

// Theta returns the BCM sliding threshold.
func (lp *LocalPlasticityReservoir) Theta() float64 { return lp.localCfg.Theta }

// SynapseNormalization reports whether incoming weights are renormalized
// after each update.
func (lp *LocalPlasticityReservoir) SynapseNormalization() bool {
	return lp.localCfg.SynapseNormalization
}

// Copy duplicates the reservoir and its adapted weights under a fresh
// name.
func (lp *LocalPlasticityReservoir) Copy(name string, copyFeedback bool) (*LocalPlasticityReservoir, error) {
	base, err := lp.Reservoir.Copy(name, copyFeedback)
	if err != nil {
		return nil, err
	}
	out := &LocalPlasticityReservoir{
		Reservoir: base,
		localCfg:  lp.localCfg,
		rule:      lp.rule,
	}
	base.postInit = func() error {
		if d, ok := base.w.(*tensor.Dense); ok {
			base.w = d.ToCSR()
		}
		return nil
	}
	return out, nil
}
