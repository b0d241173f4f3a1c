package node

import (
	"fmt"
	"sync"
)

// Process-wide node name registry. Node names are unique identifiers,
// claimed at construction and released by Close. The dataflow engine is
// single-threaded; the lock only covers concurrent construction of
// independent models.
var names = struct {
	mu       sync.Mutex
	taken    map[string]struct{}
	counters map[string]int
}{
	taken:    make(map[string]struct{}),
	counters: make(map[string]int),
}

func claimName(name string) error {
	names.mu.Lock()
	defer names.mu.Unlock()

	if _, ok := names.taken[name]; ok {
		return fmt.Errorf("%w: %s", ErrNameTaken, name)
	}
	names.taken[name] = struct{}{}
	return nil
}

func releaseName(name string) {
	names.mu.Lock()
	defer names.mu.Unlock()

	delete(names.taken, name)
}

// generateName claims the next free "<prefix>-N" name.
func generateName(prefix string) string {
	names.mu.Lock()
	defer names.mu.Unlock()

	for {
		n := names.counters[prefix]
		names.counters[prefix]++
		name := fmt.Sprintf("%s-%d", prefix, n)
		if _, ok := names.taken[name]; !ok {
			names.taken[name] = struct{}{}
			return name
		}
	}
}
