// Package activations keeps the named activation functions used by
// reservoir and readout nodes. Functions are registered once under a
// canonical lowercase name and looked up at node construction, so an
// unknown name fails before any state is allocated.
package activations

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

const (
	Identity = "identity"
	Tanh     = "tanh"
	Sigmoid  = "sigmoid"
	ReLU     = "relu"
	Softplus = "softplus"
	Softmax  = "softmax"
)

var (
	ErrActivationExists   = errors.New("activation already registered")
	ErrActivationNotFound = errors.New("activation not found")
)

// Func maps a state vector to an output vector of the same length,
// writing into dst. Elementwise functions ignore coupling between units;
// softmax is the one registered function that does not.
type Func func(dst, x []float64)

var registry = struct {
	mu sync.RWMutex
	m  map[string]Func
}{
	m: make(map[string]Func),
}

func init() {
	MustRegister(Identity, func(dst, x []float64) { copy(dst, x) })
	MustRegister(Tanh, elementwise(math.Tanh))
	MustRegister(Sigmoid, elementwise(func(v float64) float64 {
		return 1.0 / (1.0 + math.Exp(-v))
	}))
	MustRegister(ReLU, elementwise(func(v float64) float64 {
		if v < 0 {
			return 0
		}
		return v
	}))
	MustRegister(Softplus, elementwise(func(v float64) float64 {
		return math.Log1p(math.Exp(v))
	}))
	MustRegister(Softmax, softmax)
}

func elementwise(f func(float64) float64) Func {
	return func(dst, x []float64) {
		for i, v := range x {
			dst[i] = f(v)
		}
	}
}

func softmax(dst, x []float64) {
	if len(x) == 0 {
		return
	}
	max := x[0]
	for _, v := range x[1:] {
		if v > max {
			max = v
		}
	}
	sum := 0.0
	for i, v := range x {
		dst[i] = math.Exp(v - max)
		sum += dst[i]
	}
	for i := range dst {
		dst[i] /= sum
	}
}

func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func Register(name string, fn Func) error {
	name = Normalize(name)
	if name == "" {
		return errors.New("activation name is required")
	}
	if fn == nil {
		return errors.New("activation function is required")
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()

	if _, ok := registry.m[name]; ok {
		return fmt.Errorf("%w: %s", ErrActivationExists, name)
	}
	registry.m[name] = fn
	return nil
}

func MustRegister(name string, fn Func) {
	if err := Register(name, fn); err != nil {
		panic(err)
	}
}

func Get(name string) (Func, error) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	fn, ok := registry.m[Normalize(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrActivationNotFound, name)
	}
	return fn, nil
}

// Names lists the registered activations in sorted order.
func Names() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	names := make([]string, 0, len(registry.m))
	for name := range registry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply resolves and applies an activation in one call.
func Apply(name string, dst, x []float64) error {
	fn, err := Get(name)
	if err != nil {
		return err
	}
	fn(dst, x)
	return nil
}
