package node

import (
	"echoflow/internal/tensor"
)

// Input marks a model entry point. It passes data through unchanged.
type Input struct {
	*Core
}

// Output marks a model exit point. It passes data through unchanged.
type Output struct {
	*Core
}

// Concat joins the outputs of several parent nodes along the feature
// axis. Models insert one automatically whenever a node has more than one
// incoming edge; the data dispatcher hands it the pre-concatenated
// vector.
type Concat struct {
	*Core
}

func newPassThrough(name, prefix string) (*Core, error) {
	var core *Core
	var err error
	core, err = NewCore(name, prefix,
		func(x []float64) ([]float64, error) {
			return tensor.CloneVec(x), nil
		},
		func(x, y []float64) error {
			return core.SetOutputDim(core.InputDim())
		},
	)
	return core, err
}

func NewInput(name string) (*Input, error) {
	core, err := newPassThrough(name, "input")
	if err != nil {
		return nil, err
	}
	return &Input{Core: core}, nil
}

func NewOutput(name string) (*Output, error) {
	core, err := newPassThrough(name, "output")
	if err != nil {
		return nil, err
	}
	return &Output{Core: core}, nil
}

func NewConcat(name string) (*Concat, error) {
	core, err := newPassThrough(name, "concat")
	if err != nil {
		return nil, err
	}
	return &Concat{Core: core}, nil
}
