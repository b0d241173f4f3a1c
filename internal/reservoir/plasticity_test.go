package reservoir

import (
	"math"
	"testing"

	"echoflow/internal/activations"
	"echoflow/internal/tensor"
)

func TestIPRejectsUnsupportedActivation(t *testing.T) {
	_, err := NewIP("", IPConfig{Reservoir: Config{Units: 10, Activation: activations.ReLU}})
	if err == nil {
		t.Fatal("expected an error for a relu intrinsic plasticity reservoir")
	}
}

func TestIPExponentialTargetNeedsPositiveMean(t *testing.T) {
	_, err := NewIP("", IPConfig{Reservoir: Config{Units: 10, Activation: activations.Sigmoid}})
	if err == nil {
		t.Fatal("expected an error for a zero-mean exponential target")
	}
}

func TestIPForcesExternalEquation(t *testing.T) {
	ip, err := NewIP("", IPConfig{Reservoir: Config{Units: 10, Equation: Internal, Seed: 1, InputConnectivity: 1}})
	if err != nil {
		t.Fatalf("new ip: %v", err)
	}
	t.Cleanup(func() { _ = ip.Close() })

	if ip.Config().Equation != External {
		t.Fatalf("equation = %q, want external", ip.Config().Equation)
	}
	if _, err := ip.Call([]float64{0.5}); err != nil {
		t.Fatalf("call: %v", err)
	}
	if ip.InternalState() == nil {
		t.Fatal("no pre-activation state kept")
	}
}

func TestIPAdaptMovesGains(t *testing.T) {
	ip, err := NewIP("", IPConfig{
		Reservoir:    Config{Units: 20, SpectralRadius: 0.9, Seed: 6, InputConnectivity: 1},
		Mu:           0,
		Sigma:        0.5,
		LearningRate: 1e-3,
		Epochs:       3,
	})
	if err != nil {
		t.Fatalf("new ip: %v", err)
	}
	t.Cleanup(func() { _ = ip.Close() })

	if err := ip.Adapt(sineInputs(100, 1), 0); err != nil {
		t.Fatalf("adapt: %v", err)
	}
	moved := false
	for i := range ip.A() {
		if ip.A()[i] != 1 || ip.B()[i] != 0 {
			moved = true
		}
		if math.IsNaN(ip.A()[i]) || math.IsNaN(ip.B()[i]) {
			t.Fatalf("gain %d went non-finite: a=%v b=%v", i, ip.A()[i], ip.B()[i])
		}
	}
	if !moved {
		t.Fatal("adaptation left every gain untouched")
	}
	if !ip.Fitted() {
		t.Fatal("intrinsic plasticity reservoir should always report fitted")
	}
}

func TestIPGainedActivationApplied(t *testing.T) {
	ip, err := NewIP("", IPConfig{Reservoir: Config{Units: 8, Seed: 2, InputConnectivity: 1}})
	if err != nil {
		t.Fatalf("new ip: %v", err)
	}
	t.Cleanup(func() { _ = ip.Close() })

	a := make([]float64, 8)
	b := make([]float64, 8)
	for i := range a {
		a[i] = 2
		b[i] = 0.1
	}
	if err := ip.SetGains(a, b); err != nil {
		t.Fatalf("set gains: %v", err)
	}

	s, err := ip.Call([]float64{0.4})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	for i, r := range ip.InternalState() {
		want := math.Tanh(2*r + 0.1)
		if math.Abs(s[i]-want) > 1e-12 {
			t.Fatalf("unit %d: state %v, want tanh(2r+0.1)=%v", i, s[i], want)
		}
	}
}

func TestIPSetGainsRejectsBadLength(t *testing.T) {
	ip, err := NewIP("", IPConfig{Reservoir: Config{Units: 5, Seed: 3, InputConnectivity: 1}})
	if err != nil {
		t.Fatalf("new ip: %v", err)
	}
	t.Cleanup(func() { _ = ip.Close() })

	if err := ip.SetGains(make([]float64, 4), make([]float64, 5)); err == nil {
		t.Fatal("expected an error for mismatched gain lengths")
	}
}

func TestIPCopyKeepsGains(t *testing.T) {
	ip, err := NewIP("", IPConfig{Reservoir: Config{Units: 12, Seed: 8, InputConnectivity: 1}})
	if err != nil {
		t.Fatalf("new ip: %v", err)
	}
	t.Cleanup(func() { _ = ip.Close() })

	if err := ip.Adapt(sineInputs(30, 1), 0); err != nil {
		t.Fatalf("adapt: %v", err)
	}
	dup, err := ip.Copy("", false)
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	t.Cleanup(func() { _ = dup.Close() })

	for i := range ip.A() {
		if dup.A()[i] != ip.A()[i] || dup.B()[i] != ip.B()[i] {
			t.Fatalf("copy lost adapted gains at unit %d", i)
		}
	}
	// Adapting the copy must not write back into the original.
	before := tensor.CloneVec(ip.A())
	if err := dup.Adapt(sineInputs(30, 1), 0); err != nil {
		t.Fatalf("adapt copy: %v", err)
	}
	for i := range before {
		if ip.A()[i] != before[i] {
			t.Fatalf("copy adaptation mutated the original at unit %d", i)
		}
	}
}

func TestIPAdaptWarmupSkipsUpdates(t *testing.T) {
	cfg := IPConfig{
		Reservoir:    Config{Units: 12, Seed: 4, InputConnectivity: 1},
		Sigma:        0.5,
		LearningRate: 1e-3,
	}
	ip, err := NewIP("", cfg)
	if err != nil {
		t.Fatalf("new ip: %v", err)
	}
	t.Cleanup(func() { _ = ip.Close() })
	ref, err := NewIP("", cfg)
	if err != nil {
		t.Fatalf("new ip: %v", err)
	}
	t.Cleanup(func() { _ = ref.Close() })

	xs := sineInputs(8, 1)
	if err := ip.Adapt(xs, 5); err != nil {
		t.Fatalf("adapt: %v", err)
	}

	// Reference: same steps, rule applied by hand only past the warmup.
	for i, u := range xs {
		if _, err := ref.Call(u); err != nil {
			t.Fatalf("call: %v", err)
		}
		if i < 5 {
			continue
		}
		if err := ref.Train(nil, nil); err != nil {
			t.Fatalf("train: %v", err)
		}
	}
	for i := range ip.A() {
		if ip.A()[i] != ref.A()[i] || ip.B()[i] != ref.B()[i] {
			t.Fatalf("warmup adaptation diverged from the reference at unit %d", i)
		}
	}
}

func TestIPAdaptRejectsLongWarmup(t *testing.T) {
	ip, err := NewIP("", IPConfig{Reservoir: Config{Units: 10, Seed: 1, InputConnectivity: 1}})
	if err != nil {
		t.Fatalf("new ip: %v", err)
	}
	t.Cleanup(func() { _ = ip.Close() })

	if err := ip.Adapt(sineInputs(5, 1), 5); err == nil {
		t.Fatal("expected an error for a warmup covering the whole sequence")
	}
}

func TestLocalUnknownRuleRejected(t *testing.T) {
	_, err := NewLocalPlasticity("", LocalConfig{Reservoir: Config{Units: 10}, Rule: "ojas"})
	if err == nil {
		t.Fatal("expected an error for an unknown rule")
	}
}

func TestLocalCompressesRecurrentWeights(t *testing.T) {
	lp, err := NewLocalPlasticity("", LocalConfig{
		Reservoir: Config{Units: 10, Connectivity: 1, Seed: 1, InputConnectivity: 1},
	})
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	t.Cleanup(func() { _ = lp.Close() })

	if _, err := lp.Call([]float64{0.1}); err != nil {
		t.Fatalf("call: %v", err)
	}
	if _, ok := lp.W().(*tensor.CSR); !ok {
		t.Fatalf("recurrent weights are %T, want compressed sparse rows", lp.W())
	}
}

func TestLocalPreservesSparsityPattern(t *testing.T) {
	lp, err := NewLocalPlasticity("", LocalConfig{
		Reservoir: Config{Units: 30, SpectralRadius: 0.9, Seed: 5, InputConnectivity: 1},
		Rule:      Hebbian,
		Eta:       0.01,
	})
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	t.Cleanup(func() { _ = lp.Close() })

	xs := sineInputs(40, 1)
	if _, err := lp.Call(xs[0]); err != nil {
		t.Fatalf("call: %v", err)
	}
	w := lp.W().(*tensor.CSR)
	indptr := append([]int{}, w.Indptr...)
	indices := append([]int{}, w.Indices...)

	if err := lp.Adapt(xs, 0); err != nil {
		t.Fatalf("adapt: %v", err)
	}
	after := lp.W().(*tensor.CSR)
	for i := range indptr {
		if after.Indptr[i] != indptr[i] {
			t.Fatal("adaptation changed the sparsity pattern")
		}
	}
	for i := range indices {
		if after.Indices[i] != indices[i] {
			t.Fatal("adaptation changed the synapse positions")
		}
	}
	if !lp.Fitted() {
		t.Fatal("local plasticity reservoir should always report fitted")
	}
}

func TestLocalFirstUpdateUsesPreStepState(t *testing.T) {
	lp, err := NewLocalPlasticity("", LocalConfig{
		Reservoir: Config{Units: 15, Seed: 7, InputConnectivity: 1},
		Rule:      Hebbian,
		Eta:       0.1,
	})
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	t.Cleanup(func() { _ = lp.Close() })

	// After the first step the pre-synaptic signal is the zero state the
	// reservoir started from, so a hebbian update changes nothing.
	if _, err := lp.Call([]float64{0.8}); err != nil {
		t.Fatalf("call: %v", err)
	}
	before := append([]float64{}, lp.W().(*tensor.CSR).Data...)
	if err := lp.Train(nil, nil); err != nil {
		t.Fatalf("train: %v", err)
	}
	for i, v := range lp.W().(*tensor.CSR).Data {
		if v != before[i] {
			t.Fatal("first hebbian update should see a zero pre-synaptic signal")
		}
	}

	// From the second step on the signal is nonzero and weights move.
	if _, err := lp.Call([]float64{0.8}); err != nil {
		t.Fatalf("call: %v", err)
	}
	if err := lp.Train(nil, nil); err != nil {
		t.Fatalf("train: %v", err)
	}
	moved := false
	for i, v := range lp.W().(*tensor.CSR).Data {
		if v != before[i] {
			moved = true
			break
		}
	}
	if !moved {
		t.Fatal("second hebbian update left every synapse untouched")
	}
}

func TestLocalAdaptWarmupSkipsUpdates(t *testing.T) {
	cfg := LocalConfig{
		Reservoir: Config{Units: 15, Seed: 7, InputConnectivity: 1},
		Rule:      Hebbian,
		Eta:       0.1,
	}
	lp, err := NewLocalPlasticity("", cfg)
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	t.Cleanup(func() { _ = lp.Close() })
	ref, err := NewLocalPlasticity("", cfg)
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	t.Cleanup(func() { _ = ref.Close() })

	xs := sineInputs(6, 1)
	if err := lp.Adapt(xs, 3); err != nil {
		t.Fatalf("adapt: %v", err)
	}

	// Reference: same steps, rule applied by hand only past the warmup.
	for i, u := range xs {
		if _, err := ref.Call(u); err != nil {
			t.Fatalf("call: %v", err)
		}
		if i < 3 {
			continue
		}
		if err := ref.Train(nil, nil); err != nil {
			t.Fatalf("train: %v", err)
		}
	}
	got := lp.W().(*tensor.CSR)
	want := ref.W().(*tensor.CSR)
	for i := range want.Data {
		if got.Data[i] != want.Data[i] {
			t.Fatalf("warmup adaptation diverged from the reference at synapse %d", i)
		}
	}
}

func TestLocalAdaptRejectsLongWarmup(t *testing.T) {
	lp, err := NewLocalPlasticity("", LocalConfig{Reservoir: Config{Units: 10, Seed: 2, InputConnectivity: 1}})
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	t.Cleanup(func() { _ = lp.Close() })

	if err := lp.Adapt(sineInputs(4, 1), 4); err == nil {
		t.Fatal("expected an error for a warmup covering the whole sequence")
	}
}

func TestLocalSynapseNormalization(t *testing.T) {
	lp, err := NewLocalPlasticity("", LocalConfig{
		Reservoir:            Config{Units: 20, Seed: 9, InputConnectivity: 1},
		Rule:                 Oja,
		Eta:                  0.05,
		SynapseNormalization: true,
	})
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	t.Cleanup(func() { _ = lp.Close() })

	if err := lp.Adapt(sineInputs(20, 1), 0); err != nil {
		t.Fatalf("adapt: %v", err)
	}
	w := lp.W().(*tensor.CSR)
	for i := 0; i < w.RowCount; i++ {
		if w.Indptr[i] == w.Indptr[i+1] {
			continue
		}
		sum := 0.0
		for k := w.Indptr[i]; k < w.Indptr[i+1]; k++ {
			sum += w.Data[k] * w.Data[k]
		}
		if math.Abs(math.Sqrt(sum)-1) > 1e-9 {
			t.Fatalf("row %d norm %v, want 1", i, math.Sqrt(sum))
		}
	}
}
