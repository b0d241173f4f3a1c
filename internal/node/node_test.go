package node

import (
	"errors"
	"testing"

	"echoflow/internal/tensor"
)

// doubler multiplies its input by two, keeping dimensions.
type doubler struct {
	*Core
}

func newDoubler(t *testing.T, name string) *doubler {
	t.Helper()
	d := &doubler{}
	var err error
	d.Core, err = NewCore(name, "doubler",
		func(x []float64) ([]float64, error) {
			out := make([]float64, len(x))
			for i, v := range x {
				out[i] = 2 * v
			}
			return out, nil
		},
		nil,
	)
	if err != nil {
		t.Fatalf("new doubler: %v", err)
	}
	d.Core.initializer = func(x, y []float64) error {
		return d.SetOutputDim(d.InputDim())
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// fbProbe emits its input plus the feedback signal.
type fbProbe struct {
	*Core
}

func newFbProbe(t *testing.T) *fbProbe {
	t.Helper()
	p := &fbProbe{}
	var err error
	p.Core, err = NewCore("", "probe", nil, nil)
	if err != nil {
		t.Fatalf("new probe: %v", err)
	}
	p.Core.forward = func(x []float64) ([]float64, error) {
		out := tensor.CloneVec(x)
		if p.FeedbackBinding() != nil {
			fb, err := p.FeedbackValue()
			if err != nil {
				return nil, err
			}
			for i := range out {
				out[i] += fb[i]
			}
		}
		return out, nil
	}
	p.Core.initializer = func(x, y []float64) error {
		return p.SetOutputDim(p.InputDim())
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// onlineRec is a passthrough that records every online training pair.
type onlineRec struct {
	*Core
	xs, ys [][]float64
}

func newOnlineRec(t *testing.T) *onlineRec {
	t.Helper()
	o := &onlineRec{}
	var err error
	o.Core, err = NewCore("", "online", nil, nil)
	if err != nil {
		t.Fatalf("new online: %v", err)
	}
	o.Core.forward = func(x []float64) ([]float64, error) {
		return tensor.CloneVec(x), nil
	}
	o.Core.initializer = func(x, y []float64) error {
		return o.SetOutputDim(o.InputDim())
	}
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func (o *onlineRec) Train(x, y []float64) error {
	o.xs = append(o.xs, tensor.CloneVec(x))
	o.ys = append(o.ys, tensor.CloneVec(y))
	return nil
}

// offlineMean predicts the mean target seen during fitting.
type offlineMean struct {
	*Core
	sum         []float64
	count       int
	partialRuns int
	warmups     []int
	fitted      bool
	mean        []float64
}

func newOfflineMean(t *testing.T) *offlineMean {
	t.Helper()
	o := &offlineMean{}
	var err error
	o.Core, err = NewCore("", "offline", nil, nil)
	if err != nil {
		t.Fatalf("new offline: %v", err)
	}
	o.Core.forward = func(x []float64) ([]float64, error) {
		if !o.fitted {
			return tensor.Zeros(o.OutputDim()), nil
		}
		return tensor.CloneVec(o.mean), nil
	}
	o.Core.initializer = func(x, y []float64) error {
		if o.OutputDim() == 0 {
			return errors.New("offline learner needs targets")
		}
		return nil
	}
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func (o *offlineMean) PartialFit(xs, ys [][]float64, warmup int) error {
	o.partialRuns++
	o.warmups = append(o.warmups, warmup)
	if o.sum == nil {
		o.sum = tensor.Zeros(o.OutputDim())
	}
	for t := warmup; t < len(ys); t++ {
		for i, v := range ys[t] {
			o.sum[i] += v
		}
		o.count++
	}
	return nil
}

func (o *offlineMean) Fit() error {
	o.mean = tensor.Zeros(o.OutputDim())
	for i := range o.sum {
		o.mean[i] = o.sum[i] / float64(o.count)
	}
	o.fitted = true
	return nil
}

func (o *offlineMean) Fitted() bool { return o.fitted }

func TestNameUniqueness(t *testing.T) {
	a, err := NewCore("dup-check", "node", nil, nil)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if _, err := NewCore("dup-check", "node", nil, nil); !errors.Is(err, ErrNameTaken) {
		t.Fatalf("expected ErrNameTaken, got %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	b, err := NewCore("dup-check", "node", nil, nil)
	if err != nil {
		t.Fatalf("claim after release: %v", err)
	}
	_ = b.Close()
}

func TestGeneratedNames(t *testing.T) {
	a := newDoubler(t, "")
	b := newDoubler(t, "")
	if a.Name() == b.Name() {
		t.Fatalf("generated names collide: %s", a.Name())
	}
}

func TestCallInfersAndLocksDims(t *testing.T) {
	d := newDoubler(t, "")

	out, err := d.Call([]float64{1, 2, 3})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if out[0] != 2 || out[2] != 6 {
		t.Fatalf("unexpected output: %v", out)
	}
	if d.InputDim() != 3 || d.OutputDim() != 3 {
		t.Fatalf("dims = %d/%d, want 3/3", d.InputDim(), d.OutputDim())
	}

	if _, err := d.Call([]float64{1, 2}); !errors.Is(err, ErrDimMismatch) {
		t.Fatalf("expected ErrDimMismatch, got %v", err)
	}
	if err := d.SetInputDim(4); !errors.Is(err, ErrDimImmutable) {
		t.Fatalf("expected ErrDimImmutable, got %v", err)
	}
}

func TestCallStepOptions(t *testing.T) {
	d := newDoubler(t, "")
	if _, err := d.Call([]float64{1}); err != nil {
		t.Fatalf("call: %v", err)
	}

	// Freeze leaves the state untouched.
	before := tensor.CloneVec(d.State())
	out, err := d.Call([]float64{5}, StepOptions{Freeze: true})
	if err != nil {
		t.Fatalf("frozen call: %v", err)
	}
	if out[0] != 10 {
		t.Fatalf("frozen call output: %v", out)
	}
	if d.State()[0] != before[0] {
		t.Fatalf("frozen call mutated state: %v", d.State())
	}

	// From overrides the starting state for one step.
	if _, err := d.Call([]float64{1}, StepOptions{From: []float64{9}}); err != nil {
		t.Fatalf("from call: %v", err)
	}

	// Reset zeroes before stepping.
	if _, err := d.Call([]float64{0}, StepOptions{Reset: true}); err != nil {
		t.Fatalf("reset call: %v", err)
	}
	if d.State()[0] != 0 {
		t.Fatalf("state after reset step: %v", d.State())
	}
}

func TestCallRejectsNonFinite(t *testing.T) {
	n, err := NewCore("", "nan", nil, nil)
	if err != nil {
		t.Fatalf("new core: %v", err)
	}
	t.Cleanup(func() { _ = n.Close() })
	n.forward = func(x []float64) ([]float64, error) {
		out := tensor.CloneVec(x)
		out[0] = out[0] / 0 * 0 // NaN
		return out, nil
	}
	n.initializer = func(x, y []float64) error { return n.SetOutputDim(n.InputDim()) }

	if _, err := n.Call([]float64{1}); !errors.Is(err, tensor.ErrNotFinite) {
		t.Fatalf("expected ErrNotFinite, got %v", err)
	}
	if n.State()[0] != 0 {
		t.Fatalf("failed call mutated state: %v", n.State())
	}
}

func TestWithStateRestores(t *testing.T) {
	d := newDoubler(t, "")
	if _, err := d.Call([]float64{3}); err != nil {
		t.Fatalf("call: %v", err)
	}

	restore, err := d.WithState([]float64{100})
	if err != nil {
		t.Fatalf("with state: %v", err)
	}
	if d.State()[0] != 100 {
		t.Fatalf("state not swapped: %v", d.State())
	}
	restore()
	if d.State()[0] != 6 {
		t.Fatalf("state not restored: %v", d.State())
	}
}

func TestTopoSortDeterministicAndCycle(t *testing.T) {
	a := newDoubler(t, "topo-a")
	b := newDoubler(t, "topo-b")
	c := newDoubler(t, "topo-c")

	ordered, err := TopoSort([]Node{c, b, a}, []Edge{{From: a, To: c}, {From: b, To: c}})
	if err != nil {
		t.Fatalf("topo sort: %v", err)
	}
	if ordered[0].Name() != "topo-a" || ordered[1].Name() != "topo-b" || ordered[2].Name() != "topo-c" {
		t.Fatalf("unexpected order: %s %s %s", ordered[0].Name(), ordered[1].Name(), ordered[2].Name())
	}

	if _, err := TopoSort([]Node{a, b}, []Edge{{From: a, To: b}, {From: b, To: a}}); !errors.Is(err, ErrGraphCycle) {
		t.Fatalf("expected ErrGraphCycle, got %v", err)
	}
}

func TestChainRunsInOrder(t *testing.T) {
	a := newDoubler(t, "")
	b := newDoubler(t, "")
	m, err := Chain(a, b)
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })

	out, err := m.Call([]float64{1})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if out[0] != 4 {
		t.Fatalf("chained doublers produced %v, want 4", out)
	}
	if m.Frozen() != true {
		t.Fatal("initialized model should be frozen")
	}
	if err := m.Add(nil, nil); !errors.Is(err, ErrFrozenModel) {
		t.Fatalf("expected ErrFrozenModel, got %v", err)
	}
}

func TestMergeAutoConcat(t *testing.T) {
	a := newDoubler(t, "merge-a")
	b := newDoubler(t, "merge-b")
	sink := newDoubler(t, "merge-sink")

	m, err := NewModel("", []Node{a, b, sink},
		[]Edge{{From: a, To: sink}, {From: b, To: sink}})
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })

	foundConcat := false
	for _, n := range m.Nodes() {
		if _, ok := n.(*Concat); ok {
			foundConcat = true
		}
	}
	if !foundConcat {
		t.Fatal("expected an auto-inserted concat node")
	}

	out, err := m.CallMap(map[string][]float64{
		"merge-a": {1},
		"merge-b": {2, 3},
	})
	if err != nil {
		t.Fatalf("call map: %v", err)
	}
	// Each branch doubles, then the sink doubles the concatenation.
	want := []float64{4, 8, 12}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("output %v, want %v", out, want)
		}
	}
}

func TestModelEntryRequiresData(t *testing.T) {
	a := newDoubler(t, "need-a")
	b := newDoubler(t, "need-b")
	sink := newDoubler(t, "need-sink")
	m, err := NewModel("", []Node{a, b, sink},
		[]Edge{{From: a, To: sink}, {From: b, To: sink}})
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })

	if _, err := m.CallMap(map[string][]float64{"need-a": {1}, "need-b": {2}}); err != nil {
		t.Fatalf("call map: %v", err)
	}
	if _, err := m.CallMap(map[string][]float64{"need-a": {1}}); !errors.Is(err, ErrMissingInput) {
		t.Fatalf("expected ErrMissingInput, got %v", err)
	}
}

func TestFeedbackReadsPreviousStep(t *testing.T) {
	src := newDoubler(t, "")
	probe := newFbProbe(t)

	m, err := Link(src, probe)
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	if err := LinkFeedback(probe, src); err != nil {
		t.Fatalf("link feedback: %v", err)
	}

	// probe output at t is src(t) + src(t-1); src doubles its input.
	states, err := m.Run([][]float64{{1}, {2}, {3}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []float64{2, 6, 10}
	for i := range want {
		if states[i][0] != want[i] {
			t.Fatalf("step %d = %v, want %v", i, states[i][0], want[i])
		}
	}
}

func TestLinkFeedbackRejectsNonReceiver(t *testing.T) {
	m, err := Chain(newDoubler(t, ""), newDoubler(t, ""))
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })

	if err := LinkFeedback(m, newDoubler(t, "")); err == nil {
		t.Fatal("expected an error linking feedback into a model")
	}
}

func TestModelTrainOnline(t *testing.T) {
	src := newDoubler(t, "")
	learner := newOnlineRec(t)

	m, err := Link(src, learner)
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })

	xs := [][]float64{{1}, {2}, {3}}
	ys := [][]float64{{10}, {20}, {30}}
	states, err := m.Train(xs, ys)
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if len(states) != 3 {
		t.Fatalf("expected 3 step states, got %d", len(states))
	}
	if len(learner.ys) != 3 {
		t.Fatalf("expected 3 online updates, got %d", len(learner.ys))
	}
	for i := range ys {
		if learner.ys[i][0] != ys[i][0] {
			t.Fatalf("update %d saw target %v, want %v", i, learner.ys[i], ys[i])
		}
	}
}

func TestModelTrainLearnEvery(t *testing.T) {
	src := newDoubler(t, "")
	learner := newOnlineRec(t)
	m, err := Link(src, learner)
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })

	xs := [][]float64{{1}, {2}, {3}, {4}}
	ys := [][]float64{{1}, {2}, {3}, {4}}
	if _, err := m.Train(xs, ys, TrainOptions{LearnEvery: 2}); err != nil {
		t.Fatalf("train: %v", err)
	}
	if len(learner.ys) != 2 {
		t.Fatalf("expected 2 updates at learn-every 2, got %d", len(learner.ys))
	}
}

func TestModelFitOffline(t *testing.T) {
	src := newDoubler(t, "")
	learner := newOfflineMean(t)

	m, err := Link(src, learner)
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })

	xs := [][]float64{{1}, {1}, {1}, {1}}
	ys := [][]float64{{100}, {4}, {6}, {8}}
	if err := m.Fit(xs, ys, 1); err != nil {
		t.Fatalf("fit: %v", err)
	}
	if learner.partialRuns != 1 || learner.warmups[0] != 1 {
		t.Fatalf("partial fit runs %d, warmups %v", learner.partialRuns, learner.warmups)
	}
	if !learner.Fitted() {
		t.Fatal("learner not fitted after Fit")
	}

	// The warmup target (100) was discarded: the mean is (4+6+8)/3.
	out, err := m.Call([]float64{1})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if out[0] != 6 {
		t.Fatalf("fitted output %v, want 6", out[0])
	}
}

func TestModelFitRejectsUntrainable(t *testing.T) {
	m, err := Chain(newDoubler(t, ""), newDoubler(t, ""))
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })

	err = m.Fit([][]float64{{1}}, [][]float64{{1}}, 0)
	if !errors.Is(err, ErrNotTrainable) {
		t.Fatalf("expected ErrNotTrainable, got %v", err)
	}
}

func TestModelFitRejectsLongWarmup(t *testing.T) {
	src := newDoubler(t, "")
	learner := newOfflineMean(t)
	m, err := Link(src, learner)
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })

	if err := m.Fit([][]float64{{1}, {2}}, [][]float64{{1}, {2}}, 2); err == nil {
		t.Fatal("expected an error for warmup >= sequence length")
	}
}

func TestModelRunFreeze(t *testing.T) {
	d := newDoubler(t, "")
	e := newDoubler(t, "")
	m, err := Link(d, e)
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })

	if _, err := m.Run([][]float64{{1}}); err != nil {
		t.Fatalf("run: %v", err)
	}
	before := tensor.CloneVec(m.State())

	if _, err := m.Run([][]float64{{7}, {8}}, StepOptions{Freeze: true}); err != nil {
		t.Fatalf("frozen run: %v", err)
	}
	after := m.State()
	if before[0] != after[0] {
		t.Fatalf("frozen run mutated state: %v vs %v", before, after)
	}
}

func TestOfflineSubgraphsPartition(t *testing.T) {
	a := newDoubler(t, "part-a")
	l1 := newOfflineMean(t)
	b := newDoubler(t, "part-b")
	l2 := newOfflineMean(t)

	groups := OfflineSubgraphs([]Node{a, l1, b, l2})
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if len(groups[0]) != 2 || groups[0][1].Name() != l1.Name() {
		t.Fatalf("unexpected first group: %d nodes", len(groups[0]))
	}
	if len(groups[1]) != 2 || groups[1][1].Name() != l2.Name() {
		t.Fatalf("unexpected second group: %d nodes", len(groups[1]))
	}
}
