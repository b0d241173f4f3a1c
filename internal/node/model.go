package node

import (
	"fmt"

	"echoflow/internal/tensor"
)

// Model is a directed acyclic graph of nodes. It is itself Node-like:
// models can be nested inside other models, linked, and used as feedback
// senders. Node execution order is the topological order of the graph,
// recomputed whenever the structure changes; a cycle is a fatal
// configuration error at construction.
type Model struct {
	name   string
	closed bool
	frozen bool

	nodes   []Node // topological order
	edges   []Edge
	entries []Node
	exits   []Node
	version int

	dispatcher  *DataDispatcher
	initialized bool
	fbFlag      bool
}

// NewModel assembles a model from nodes and edges. Nodes referenced only
// by edges are adopted automatically; any non-Concat node with several
// incoming edges gets a Concat node inserted in front of it.
func NewModel(name string, nodes []Node, edges []Edge) (*Model, error) {
	if name == "" {
		name = generateName("model")
	} else if err := claimName(name); err != nil {
		return nil, err
	}

	m := &Model{name: name}
	m.dispatcher = newDispatcher(m)
	if err := m.update(nodes, edges); err != nil {
		releaseName(name)
		return nil, err
	}
	return m, nil
}

func (m *Model) update(nodes []Node, edges []Edge) error {
	nodes, edges = adoptEdgeNodes(nodes, edges)

	nodes, edges, err := insertConcats(nodes, edges)
	if err != nil {
		return err
	}

	ordered, err := TopoSort(nodes, edges)
	if err != nil {
		return err
	}

	m.nodes = ordered
	m.edges = edges
	m.entries, m.exits = FindEntriesAndExits(nodes, edges)
	m.version++
	return nil
}

func adoptEdgeNodes(nodes []Node, edges []Edge) ([]Node, []Edge) {
	seen := make(map[string]bool, len(nodes))
	out := make([]Node, 0, len(nodes))
	add := func(n Node) {
		if !seen[n.Name()] {
			seen[n.Name()] = true
			out = append(out, n)
		}
	}
	for _, n := range nodes {
		add(n)
	}
	for _, e := range edges {
		add(e.From)
		add(e.To)
	}
	return out, edges
}

// insertConcats rewires every multi-parent non-Concat receiver through a
// fresh Concat node, so the dispatcher only ever concatenates for Concat
// nodes.
func insertConcats(nodes []Node, edges []Edge) ([]Node, []Edge, error) {
	parents, _ := parentsAndChildren(edges)

	for _, n := range nodes {
		if len(parents[n.Name()]) < 2 {
			continue
		}
		if _, ok := n.(*Concat); ok {
			continue
		}
		concat, err := NewConcat("")
		if err != nil {
			return nil, nil, err
		}
		rewired := make([]Edge, 0, len(edges)+1)
		for _, e := range edges {
			if e.To.Name() == n.Name() {
				rewired = append(rewired, Edge{From: e.From, To: concat})
			} else {
				rewired = append(rewired, e)
			}
		}
		rewired = append(rewired, Edge{From: concat, To: n})
		edges = rewired
		nodes = append(nodes, concat)
		parents, _ = parentsAndChildren(edges)
	}
	return nodes, edges, nil
}

// Add grafts nodes and edges onto the model. Frozen and initialized
// models reject structural edits.
func (m *Model) Add(nodes []Node, edges []Edge) error {
	if m.frozen || m.initialized {
		return fmt.Errorf("%s: %w", m.name, ErrFrozenModel)
	}
	return m.update(append(append([]Node{}, m.nodes...), nodes...),
		append(append([]Edge{}, m.edges...), edges...))
}

// Freeze permanently rejects structural edits.
func (m *Model) Freeze()      { m.frozen = true }
func (m *Model) Frozen() bool { return m.frozen }

func (m *Model) Name() string        { return m.name }
func (m *Model) IsInitialized() bool { return m.initialized }

func (m *Model) Nodes() []Node       { return m.nodes }
func (m *Model) Edges() []Edge       { return m.edges }
func (m *Model) InputNodes() []Node  { return m.entries }
func (m *Model) OutputNodes() []Node { return m.exits }

// Node retrieves a member node by name.
func (m *Model) Node(name string) (Node, bool) {
	for _, n := range m.nodes {
		if n.Name() == name {
			return n, true
		}
	}
	return nil, false
}

// InputDim is the summed input dimension of the entry nodes.
func (m *Model) InputDim() int {
	total := 0
	for _, n := range m.entries {
		total += n.InputDim()
	}
	return total
}

// OutputDim is the summed output dimension of the exit nodes.
func (m *Model) OutputDim() int {
	total := 0
	for _, n := range m.exits {
		total += n.OutputDim()
	}
	return total
}

func (m *Model) SetInputDim(int) error {
	return fmt.Errorf("%s: model dimensions derive from its nodes", m.name)
}

func (m *Model) SetOutputDim(int) error {
	return fmt.Errorf("%s: model dimensions derive from its nodes", m.name)
}

// Initialize walks the graph in topological order, feeding each entry
// node its input slice and every other node a placeholder of its parents'
// summed output dimension. Targets reach trainable exit nodes.
// Initializing freezes the structure.
func (m *Model) Initialize(x, y []float64) error {
	if m.initialized {
		return nil
	}
	if len(m.nodes) == 0 {
		return fmt.Errorf("%s: model has no nodes", m.name)
	}

	external, err := m.splitAcross(m.entries, x, "input")
	if err != nil {
		return err
	}

	parents, _ := parentsAndChildren(m.edges)
	for _, n := range m.nodes {
		if n.IsInitialized() {
			continue
		}
		var xn []float64
		if len(parents[n.Name()]) == 0 {
			xn = external[n.Name()]
		} else {
			dim := 0
			for _, p := range parents[n.Name()] {
				dim += p.OutputDim()
			}
			xn = tensor.Zeros(dim)
		}
		var yn []float64
		if y != nil && m.isExit(n) {
			yn = y
		}
		if err := n.Initialize(xn, yn); err != nil {
			return fmt.Errorf("%s: %w", m.name, err)
		}
	}

	m.initialized = true
	m.frozen = true
	return nil
}

func (m *Model) isExit(n Node) bool {
	for _, e := range m.exits {
		if e.Name() == n.Name() {
			return true
		}
	}
	return false
}

// splitAcross slices a flat vector into per-node chunks following the
// given node list order. With a single node the whole vector is passed
// through untouched.
func (m *Model) splitAcross(nodes []Node, x []float64, which string) (map[string][]float64, error) {
	out := make(map[string][]float64, len(nodes))
	if x == nil {
		return out, nil
	}
	if len(nodes) == 1 {
		out[nodes[0].Name()] = x
		return out, nil
	}
	total := 0
	dims := make([]int, len(nodes))
	for i, n := range nodes {
		d := n.InputDim()
		if which == "output" {
			d = n.OutputDim()
		}
		if d == 0 {
			return nil, fmt.Errorf("%s: %s dimension of %s unknown, use the per-node mapping API", m.name, which, n.Name())
		}
		dims[i] = d
		total += d
	}
	if len(x) != total {
		return nil, dimError(m.name, which, total, len(x))
	}
	off := 0
	for i, n := range nodes {
		out[n.Name()] = x[off : off+dims[i]]
		off += dims[i]
	}
	return out, nil
}

// pinAll freezes every member node's exposed state at its pre-step value,
// so a feedback read inside the step always observes the previous
// timestep. Returns the matching unpin closure.
func (m *Model) pinAll() func() {
	pinned := make([]Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		if n.IsInitialized() && n.State() != nil {
			if err := n.PinProxy(n.State()); err == nil {
				pinned = append(pinned, n)
			}
		}
	}
	return func() {
		for _, n := range pinned {
			n.UnpinProxy()
		}
	}
}

// step runs one synchronous pass over the graph in topological order.
// external maps entry node names to their input vectors; forced maps any
// node name to a pinned proxy override (teacher forcing).
func (m *Model) step(external, forced map[string][]float64) error {
	unpin := m.pinAll()
	defer unpin()

	for name, v := range forced {
		n, ok := m.Node(name)
		if !ok {
			return fmt.Errorf("%s: forced value for unknown node %s", m.name, name)
		}
		if err := n.PinProxy(v); err != nil {
			return err
		}
	}

	for _, n := range m.nodes {
		x, err := m.dispatcher.InputFor(n, external)
		if err != nil {
			return err
		}
		if _, err := n.Call(x); err != nil {
			return err
		}
	}
	m.fbFlag = !m.fbFlag
	return nil
}

// Call steps the whole model on one timestep of data and returns the
// concatenated states of the exit nodes.
func (m *Model) Call(x []float64, opts ...StepOptions) ([]float64, error) {
	opt := mergeOptions(opts)
	if opt.From != nil {
		return nil, fmt.Errorf("%s: a model cannot start from a flat state vector; reset its nodes instead", m.name)
	}

	if !m.initialized {
		if err := m.Initialize(x, nil); err != nil {
			return nil, err
		}
	}

	if opt.Freeze {
		saved := m.snapshot()
		defer m.restore(saved)
	}
	if opt.Reset {
		if err := m.Reset(nil); err != nil {
			return nil, err
		}
	}

	external, err := m.splitAcross(m.entries, x, "input")
	if err != nil {
		return nil, err
	}
	if err := m.step(external, nil); err != nil {
		return nil, err
	}
	return m.State(), nil
}

// CallMap steps the model with one input vector per entry node.
func (m *Model) CallMap(inputs map[string][]float64) ([]float64, error) {
	if !m.initialized {
		for _, entry := range m.entries {
			if x, ok := inputs[entry.Name()]; ok && entry.InputDim() == 0 {
				if err := entry.SetInputDim(len(x)); err != nil {
					return nil, err
				}
			}
		}
		if err := m.Initialize(nil, nil); err != nil {
			return nil, err
		}
	}
	if err := m.step(inputs, nil); err != nil {
		return nil, err
	}
	return m.State(), nil
}

// Run iterates Call over a sequence and returns the exit states per step.
func (m *Model) Run(xs [][]float64, opts ...StepOptions) ([][]float64, error) {
	opt := mergeOptions(opts)
	if len(xs) == 0 {
		return nil, nil
	}

	if opt.Freeze {
		if !m.initialized {
			if err := m.Initialize(xs[0], nil); err != nil {
				return nil, err
			}
		}
		saved := m.snapshot()
		defer m.restore(saved)
	}

	states := make([][]float64, len(xs))
	for i, x := range xs {
		var s []float64
		var err error
		if i == 0 {
			s, err = m.Call(x, StepOptions{Reset: opt.Reset})
		} else {
			s, err = m.Call(x)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: step %d: %w", m.name, i, err)
		}
		states[i] = s
	}
	return states, nil
}

func (m *Model) snapshot() map[string][]float64 {
	saved := make(map[string][]float64, len(m.nodes))
	for _, n := range m.nodes {
		saved[n.Name()] = tensor.CloneVec(n.State())
	}
	return saved
}

func (m *Model) restore(saved map[string][]float64) {
	for _, n := range m.nodes {
		if s, ok := saved[n.Name()]; ok && s != nil {
			_ = n.Reset(s)
		}
	}
}

// State is the concatenation of the exit nodes' states, nil before
// initialization.
func (m *Model) State() []float64 {
	if !m.initialized {
		return nil
	}
	parts := make([][]float64, len(m.exits))
	for i, n := range m.exits {
		s := n.State()
		if s == nil {
			s = tensor.Zeros(n.OutputDim())
		}
		parts[i] = s
	}
	return tensor.Concat(parts...)
}

// StateProxy concatenates the exit nodes' frozen proxies.
func (m *Model) StateProxy() []float64 {
	if !m.initialized {
		return nil
	}
	parts := make([][]float64, len(m.exits))
	for i, n := range m.exits {
		s := n.StateProxy()
		if s == nil {
			s = tensor.Zeros(n.OutputDim())
		}
		parts[i] = s
	}
	return tensor.Concat(parts...)
}

// PinProxy splits the vector across exit nodes and pins each slice.
func (m *Model) PinProxy(v []float64) error {
	chunks, err := m.splitAcross(m.exits, v, "output")
	if err != nil {
		return err
	}
	for _, n := range m.exits {
		if chunk, ok := chunks[n.Name()]; ok {
			if err := n.PinProxy(chunk); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Model) UnpinProxy() {
	for _, n := range m.exits {
		n.UnpinProxy()
	}
}

// Reset zeroes every member node's state. A target vector is not
// meaningful for a whole graph and is rejected.
func (m *Model) Reset(to []float64) error {
	if to != nil {
		return fmt.Errorf("%s: a model resets to zero only", m.name)
	}
	for _, n := range m.nodes {
		if n.IsInitialized() {
			if err := n.Reset(nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Model) callFlag() bool { return m.fbFlag }

// Close releases the model's own name. Member nodes keep their names;
// their owning handles close them.
func (m *Model) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	releaseName(m.name)
	return nil
}
