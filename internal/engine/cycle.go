package engine

import (
	"slices"
	"strings"
	"sync"
)

// CycleDetector tracks the constants being evaluated to stop mutually
// recursive definitions.
//
// Constants are evaluated lazily: a constant whose expression references
// another constant that has not been computed yet computes it first. The
// detector keeps the chain of constants in progress; entering a constant
// that is already on the chain is a cycle.
//
// Example cycle:
//
//	rate -> total -> rate   <- CYCLE DETECTED
//
// Thread-safety: CycleDetector is safe for concurrent use.
type CycleDetector struct {
	mu     sync.Mutex
	active []string
}

// NewCycleDetector creates a new cycle detector.
func NewCycleDetector() *CycleDetector {
	return &CycleDetector{}
}

// WouldCycle reports whether entering name would close a cycle.
func (c *CycleDetector) WouldCycle(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Contains(c.active, name)
}

// Enter pushes name onto the chain, or returns a CONSTANT_CYCLE error
// naming the whole cycle.
func (c *CycleDetector) Enter(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i := slices.Index(c.active, name); i >= 0 {
		chain := append(slices.Clone(c.active[i:]), name)
		return &ProcessingError{
			Code:    ErrCodeConstantCycle,
			Message: "constant cycle: " + strings.Join(chain, " -> "),
			Rule:    name,
		}
	}
	c.active = append(c.active, name)
	return nil
}

// Leave pops name. Leaving a name that is not on top is a no-op.
func (c *CycleDetector) Leave(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n := len(c.active); n > 0 && c.active[n-1] == name {
		c.active = c.active[:n-1]
	}
}

// Depth returns the length of the chain in progress.
func (c *CycleDetector) Depth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}
