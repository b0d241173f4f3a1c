// Package node implements the dataflow core of the reservoir library: the
// Node contract, the shared stepping state every node embeds, feedback
// bindings, IO nodes, and the Model graph that composes nodes into
// trainable pipelines.
//
// A Node is a stateful unit applying a forward function to one timestep of
// data. Dimensions are inferred lazily from the first data seen and are
// immutable afterwards. Names are process-wide unique and released by
// Close. Execution is single-threaded and synchronous; the topological
// order of a Model is the exact execution order.
package node

import (
	"fmt"

	"echoflow/internal/tensor"
)

// StepOptions tunes a single Call or a Run. The zero value is the plain
// stateful step.
type StepOptions struct {
	// From overrides the starting state for this step.
	From []float64
	// Freeze restores the node's prior state once the step returns, so
	// the call has no lasting effect on the node.
	Freeze bool
	// Reset zeroes the state before the step.
	Reset bool
}

func mergeOptions(opts []StepOptions) StepOptions {
	if len(opts) == 0 {
		return StepOptions{}
	}
	return opts[0]
}

// ForwardFn computes one step from the input vector. It may read the
// owning node's state and feedback; the stepping core persists the result.
type ForwardFn func(x []float64) ([]float64, error)

// InitFn allocates a node's parameters once dimensions are known. x and y
// may be nil when a dimension was fixed ahead of time.
type InitFn func(x, y []float64) error

// Node is the atomic computational unit of a model graph.
type Node interface {
	Name() string
	IsInitialized() bool

	InputDim() int
	OutputDim() int
	SetInputDim(dim int) error
	SetOutputDim(dim int) error

	Initialize(x, y []float64) error
	Call(x []float64, opts ...StepOptions) ([]float64, error)
	Run(xs [][]float64, opts ...StepOptions) ([][]float64, error)

	State() []float64
	StateProxy() []float64
	PinProxy(v []float64) error
	UnpinProxy()
	Reset(to []float64) error

	// Close releases the node's name back to the registry. It must be
	// called exactly once by the owning handle.
	Close() error
}

// FeedbackReceiver is a Node wired to read another node's previous-step
// state as a feedback signal.
type FeedbackReceiver interface {
	Node
	FeedbackDim() int
	LinkFeedback(sender Node) error
	FeedbackBinding() *Feedback
}

// OnlineTrainer learns from one timestep at a time, typically right after
// Call. Unsupervised nodes accept a nil target.
type OnlineTrainer interface {
	Node
	Train(x, y []float64) error
}

// OfflineTrainer accumulates batches through PartialFit and applies the
// closed-form update in Fit.
type OfflineTrainer interface {
	Node
	PartialFit(xs, ys [][]float64, warmup int) error
	Fit() error
	Fitted() bool
}

// Core carries the state every node shares: name, dimensions, state
// vector, frozen proxy and feedback binding. Concrete nodes embed *Core
// and install their forward and initializer functions.
type Core struct {
	name string

	inputDim    int
	outputDim   int
	initialized bool

	state    []float64
	proxy    []float64 // pinned snapshot; nil means expose live state
	feedback *Feedback
	teacher  *Feedback

	// fbFlag flips on every call; nested-model feedback uses it to detect
	// whether the sender advanced since the last read.
	fbFlag bool

	forward     ForwardFn
	initializer InitFn

	closed bool
}

// NewCore claims a node name (generated from prefix when name is empty)
// and wires the stepping callbacks.
func NewCore(name, prefix string, forward ForwardFn, initializer InitFn) (*Core, error) {
	if name == "" {
		name = generateName(prefix)
	} else if err := claimName(name); err != nil {
		return nil, err
	}
	return &Core{
		name:        name,
		forward:     forward,
		initializer: initializer,
	}, nil
}

func (c *Core) Name() string        { return c.name }
func (c *Core) IsInitialized() bool { return c.initialized }
func (c *Core) InputDim() int       { return c.inputDim }
func (c *Core) OutputDim() int      { return c.outputDim }

func (c *Core) SetInputDim(dim int) error {
	if c.initialized {
		return fmt.Errorf("%s: %w: input", c.name, ErrDimImmutable)
	}
	if c.inputDim != 0 && c.inputDim != dim {
		return dimError(c.name, "input", c.inputDim, dim)
	}
	c.inputDim = dim
	return nil
}

func (c *Core) SetOutputDim(dim int) error {
	if c.initialized {
		return fmt.Errorf("%s: %w: output", c.name, ErrDimImmutable)
	}
	if c.outputDim != 0 && c.outputDim != dim {
		return dimError(c.name, "output", c.outputDim, dim)
	}
	c.outputDim = dim
	return nil
}

// Initialize infers dimensions from the first data seen, runs the
// node-specific initializer and zeroes the state. Repeated calls are
// no-ops.
func (c *Core) Initialize(x, y []float64) error {
	if c.initialized {
		return nil
	}
	if x != nil {
		if err := c.SetInputDim(len(x)); err != nil {
			return err
		}
	}
	if y != nil {
		if err := c.SetOutputDim(len(y)); err != nil {
			return err
		}
	}
	if c.inputDim == 0 {
		return fmt.Errorf("%s: %w", c.name, ErrDimUnresolvable)
	}
	if c.outputDim == 0 && c.teacher != nil && c.teacher.sender.OutputDim() > 0 {
		if err := c.SetOutputDim(c.teacher.sender.OutputDim()); err != nil {
			return err
		}
	}
	if c.initializer != nil {
		if err := c.initializer(x, y); err != nil {
			return err
		}
	}
	if c.outputDim == 0 {
		return fmt.Errorf("%s: output dimension unresolved after initialization", c.name)
	}
	if c.feedback != nil && c.feedback.sender.OutputDim() > 0 {
		// Resolve eagerly when the sender already knows its output
		// dimension; otherwise resolution stays lazy until the first
		// feedback read, so a downstream sender can initialize first.
		if err := c.feedback.resolve(); err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
	}
	c.state = tensor.Zeros(c.outputDim)
	c.initialized = true
	return nil
}

// Call advances the node by exactly one timestep and returns the new
// state vector.
func (c *Core) Call(x []float64, opts ...StepOptions) ([]float64, error) {
	opt := mergeOptions(opts)

	if !c.initialized {
		if err := c.Initialize(x, nil); err != nil {
			return nil, err
		}
	}
	if len(x) != c.inputDim {
		return nil, dimError(c.name, "input", c.inputDim, len(x))
	}

	prev := c.state
	if opt.Reset {
		c.state = tensor.Zeros(c.outputDim)
	}
	if opt.From != nil {
		if len(opt.From) != c.outputDim {
			return nil, dimError(c.name, "state", c.outputDim, len(opt.From))
		}
		c.state = tensor.CloneVec(opt.From)
	}

	out, err := c.forward(x)
	if err != nil {
		c.state = prev
		return nil, err
	}
	if len(out) != c.outputDim {
		c.state = prev
		return nil, dimError(c.name, "state", c.outputDim, len(out))
	}
	if err := tensor.CheckFinite(c.name, out); err != nil {
		c.state = prev
		return nil, err
	}

	if opt.Freeze {
		c.state = prev
	} else {
		c.state = out
	}
	c.fbFlag = !c.fbFlag

	return tensor.CloneVec(out), nil
}

// Run iterates Call over a timestep sequence and returns every
// intermediate state. Options apply to the whole run: From and Reset seed
// the first step, Freeze restores the pre-run state afterwards.
func (c *Core) Run(xs [][]float64, opts ...StepOptions) ([][]float64, error) {
	opt := mergeOptions(opts)
	if len(xs) == 0 {
		return nil, nil
	}

	if !c.initialized {
		if err := c.Initialize(xs[0], nil); err != nil {
			return nil, err
		}
	}

	var restore func()
	if opt.Freeze {
		saved := tensor.CloneVec(c.state)
		restore = func() { c.state = saved }
		defer restore()
	}

	states := make([][]float64, len(xs))
	for i, x := range xs {
		var s []float64
		var err error
		if i == 0 {
			s, err = c.Call(x, StepOptions{From: opt.From, Reset: opt.Reset})
		} else {
			s, err = c.Call(x)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: step %d: %w", c.name, i, err)
		}
		states[i] = s
	}
	return states, nil
}

// State returns the node's current state vector, or nil before
// initialization.
func (c *Core) State() []float64 { return c.state }

// StateProxy returns the frozen snapshot feedback receivers read. It
// falls back to the live state when nothing is pinned.
func (c *Core) StateProxy() []float64 {
	if c.proxy != nil {
		return c.proxy
	}
	return c.state
}

// PinProxy freezes the value exposed to feedback receivers.
func (c *Core) PinProxy(v []float64) error {
	if !c.initialized {
		return fmt.Errorf("%s: %w", c.name, ErrNotInitialized)
	}
	if len(v) != c.outputDim {
		return dimError(c.name, "state", c.outputDim, len(v))
	}
	c.proxy = tensor.CloneVec(v)
	return nil
}

func (c *Core) UnpinProxy() { c.proxy = nil }

// Reset sets the state to zero, or to a given vector.
func (c *Core) Reset(to []float64) error {
	if !c.initialized {
		return fmt.Errorf("%s: %w", c.name, ErrNotInitialized)
	}
	if to == nil {
		c.state = tensor.Zeros(c.outputDim)
		return nil
	}
	if len(to) != c.outputDim {
		return dimError(c.name, "state", c.outputDim, len(to))
	}
	c.state = tensor.CloneVec(to)
	return nil
}

// WithState swaps the state in and returns a restore closure. The caller
// defers the closure so the prior state comes back on every exit path;
// dropping the closure makes the substitution permanent.
func (c *Core) WithState(state []float64) (restore func(), err error) {
	if !c.initialized {
		return nil, fmt.Errorf("%s: %w", c.name, ErrNotInitialized)
	}
	saved := c.state
	if state != nil {
		if err := c.Reset(state); err != nil {
			return nil, err
		}
	}
	return func() { c.state = saved }, nil
}

// WithFeedback pins the feedback signal this node observes (when it is a
// receiver) or the snapshot it exposes (when it is a sender), returning
// the restore closure.
func (c *Core) WithFeedback(value []float64) (restore func(), err error) {
	if c.feedback != nil {
		if err := c.feedback.Clamp(value); err != nil {
			return nil, fmt.Errorf("%s: %w", c.name, err)
		}
		return func() { c.feedback.Unclamp() }, nil
	}
	savedPinned := c.proxy != nil
	saved := c.proxy
	if value != nil {
		if err := c.PinProxy(value); err != nil {
			return nil, err
		}
	}
	return func() {
		if savedPinned {
			c.proxy = saved
		} else {
			c.proxy = nil
		}
	}, nil
}

// FeedbackDim returns the feedback signal dimension, 0 when unbound.
func (c *Core) FeedbackDim() int {
	if c.feedback == nil {
		return 0
	}
	return c.feedback.Dim()
}

// FeedbackBinding exposes the distant feedback binding, nil when unbound.
func (c *Core) FeedbackBinding() *Feedback { return c.feedback }

// LinkFeedback binds another node (or model) as this node's feedback
// sender. The binding is resolved lazily at initialization.
func (c *Core) LinkFeedback(sender Node) error {
	if sender == nil {
		return fmt.Errorf("%s: feedback sender is required", c.name)
	}
	c.feedback = newFeedback(sender)
	if c.initialized {
		return c.feedback.resolve()
	}
	return nil
}

// LinkTeacher binds another node as the source of training targets. A
// readout with a bound teacher infers its output dimension from the
// teacher and reads targets from it when Train receives none.
func (c *Core) LinkTeacher(sender Node) error {
	if sender == nil {
		return fmt.Errorf("%s: teacher sender is required", c.name)
	}
	c.teacher = newFeedback(sender)
	return nil
}

// TeacherValue reads the bound teacher's previous-step state, nil when no
// teacher is bound.
func (c *Core) TeacherValue() ([]float64, error) {
	if c.teacher == nil {
		return nil, nil
	}
	return c.teacher.Value()
}

// FeedbackValue reads the current feedback signal, zero before the sender
// ever emitted.
func (c *Core) FeedbackValue() ([]float64, error) {
	if c.feedback == nil {
		return nil, fmt.Errorf("%s: %w", c.name, ErrNoFeedback)
	}
	return c.feedback.Value()
}

// Close releases the node name. Safe to call once per handle.
func (c *Core) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	releaseName(c.name)
	return nil
}

// CloneCore duplicates dimension and state bookkeeping under a fresh
// name. The feedback binding is shared by reference unless copyFeedback
// is set, matching the copy contract.
func (c *Core) CloneCore(name, prefix string, copyFeedback bool, forward ForwardFn, initializer InitFn) (*Core, error) {
	out, err := NewCore(name, prefix, forward, initializer)
	if err != nil {
		return nil, err
	}
	out.inputDim = c.inputDim
	out.outputDim = c.outputDim
	out.initialized = c.initialized
	out.state = tensor.CloneVec(c.state)
	out.proxy = tensor.CloneVec(c.proxy)
	if c.feedback != nil {
		if copyFeedback {
			fb := *c.feedback
			out.feedback = &fb
		} else {
			out.feedback = c.feedback
		}
	}
	out.teacher = c.teacher
	return out, nil
}
