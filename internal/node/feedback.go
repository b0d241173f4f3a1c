package node

import (
	"fmt"

	"echoflow/internal/tensor"
)

// Feedback is the lazy binding "this node reads, as feedback or teacher
// signal, the state of that node or model". It is resolved when the
// receiver initializes: the sender must know its output dimension by
// then. When the sender is a Model, its exit nodes are cached at
// resolution so every read avoids re-deriving the sender's graph.
type Feedback struct {
	sender Node

	resolved bool
	dim      int

	// exits caches the pruned view of a model sender: only its output
	// nodes matter for the feedback signal.
	exits []Node

	clamped []float64

	// lastFlag tracks the sender's call flag so nested-model receivers
	// can skip rereads when the sender did not advance. Efficiency only.
	lastFlag bool
	cached   []float64
}

func newFeedback(sender Node) *Feedback {
	return &Feedback{sender: sender}
}

func (f *Feedback) Sender() Node { return f.sender }

func (f *Feedback) resolve() error {
	if f.resolved {
		return nil
	}
	if f.sender.OutputDim() == 0 {
		return fmt.Errorf("feedback sender %s has no output dimension yet", f.sender.Name())
	}
	if m, ok := f.sender.(*Model); ok {
		f.exits = m.OutputNodes()
	}
	f.dim = f.sender.OutputDim()
	f.resolved = true
	return nil
}

// Dim returns the feedback signal dimension, 0 before resolution.
func (f *Feedback) Dim() int { return f.dim }

// Zero returns a zero feedback vector, used before the sender has ever
// emitted a state.
func (f *Feedback) Zero() []float64 { return tensor.Zeros(f.dim) }

// Value reads the feedback signal: the clamped override when pinned,
// otherwise the sender's frozen state proxy. A sender that has not
// initialized yet contributes zeros, honoring the previous-step contract
// at t=0.
func (f *Feedback) Value() ([]float64, error) {
	if f.clamped != nil {
		return f.clamped, nil
	}
	if !f.resolved {
		if err := f.resolve(); err != nil {
			return nil, err
		}
	}

	if len(f.exits) > 0 {
		return f.modelValue()
	}

	proxy := f.sender.StateProxy()
	if proxy == nil {
		return f.Zero(), nil
	}
	return proxy, nil
}

func (f *Feedback) modelValue() ([]float64, error) {
	if core, ok := f.sender.(interface{ callFlag() bool }); ok {
		if f.cached != nil && core.callFlag() == f.lastFlag {
			return f.cached, nil
		}
		f.lastFlag = core.callFlag()
	}
	parts := make([][]float64, len(f.exits))
	for i, exit := range f.exits {
		proxy := exit.StateProxy()
		if proxy == nil {
			if exit.OutputDim() == 0 {
				return nil, fmt.Errorf("feedback exit %s has no output dimension", exit.Name())
			}
			proxy = tensor.Zeros(exit.OutputDim())
		}
		parts[i] = proxy
	}
	f.cached = tensor.Concat(parts...)
	return f.cached, nil
}

// Clamp pins the feedback to a fixed value until Unclamp, used to force
// teacher signals during training.
func (f *Feedback) Clamp(value []float64) error {
	if value == nil {
		f.clamped = nil
		return nil
	}
	if f.resolved && len(value) != f.dim {
		return dimError(f.sender.Name(), "feedback", f.dim, len(value))
	}
	f.clamped = tensor.CloneVec(value)
	return nil
}

func (f *Feedback) Unclamp() { f.clamped = nil }
