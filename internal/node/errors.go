package node

import (
	"errors"
	"fmt"
)

var (
	ErrNotInitialized   = errors.New("node is not initialized")
	ErrDimImmutable     = errors.New("dimension is immutable after initialization")
	ErrDimUnresolvable  = errors.New("input dimension cannot be inferred")
	ErrDimMismatch      = errors.New("dimension mismatch")
	ErrNameTaken        = errors.New("node name already registered")
	ErrGraphCycle       = errors.New("model has a cycle: impossible to determine operation order")
	ErrFrozenModel      = errors.New("model is frozen and rejects structural edits")
	ErrNotTrainable     = errors.New("node has no learning rule")
	ErrNoFeedback       = errors.New("node has no feedback connection")
	ErrMissingInput     = errors.New("required input data missing")
)

// dimError builds the fail-fast dimension mismatch error mandated for all
// call-time shape violations: it names the node, the expected dimension
// and the received one.
func dimError(name, which string, want, got int) error {
	return fmt.Errorf("%s: %w: %s dimension is %d, received %d", name, ErrDimMismatch, which, want, got)
}
