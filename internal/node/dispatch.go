package node

import (
	"fmt"

	"echoflow/internal/tensor"
)

// DataDispatcher gathers, for each node of a model, the input vector its
// Call expects at the current step: externally supplied data for entry
// nodes, the parents' current states otherwise. Parent lists are cached
// and rebuilt only when the model's edge set changes.
type DataDispatcher struct {
	model   *Model
	version int
	parents map[string][]Node
}

func newDispatcher(m *Model) *DataDispatcher {
	return &DataDispatcher{model: m, version: -1}
}

func (d *DataDispatcher) refresh() {
	if d.version == d.model.version {
		return
	}
	d.parents, _ = parentsAndChildren(d.model.edges)
	d.version = d.model.version
}

// InputFor resolves the current-step input of a node. Multi-parent nodes
// (always auto-inserted Concat nodes) receive the feature-axis
// concatenation of their parents' states.
func (d *DataDispatcher) InputFor(n Node, external map[string][]float64) ([]float64, error) {
	d.refresh()

	parents := d.parents[n.Name()]
	if len(parents) == 0 {
		x, ok := external[n.Name()]
		if !ok {
			return nil, fmt.Errorf("%s: %w: this entry node requires data to run", n.Name(), ErrMissingInput)
		}
		return x, nil
	}

	if len(parents) == 1 {
		return d.parentState(parents[0])
	}

	parts := make([][]float64, len(parents))
	for i, p := range parents {
		s, err := d.parentState(p)
		if err != nil {
			return nil, err
		}
		parts[i] = s
	}
	return tensor.Concat(parts...), nil
}

func (d *DataDispatcher) parentState(p Node) ([]float64, error) {
	s := p.State()
	if s == nil {
		if p.OutputDim() == 0 {
			return nil, fmt.Errorf("%s: %w", p.Name(), ErrNotInitialized)
		}
		return tensor.Zeros(p.OutputDim()), nil
	}
	return s, nil
}
