package balancer

import (
	"sync/atomic"

	"edge-router/internal/routing"
)

// RoundRobin rotates through eligible instances with an atomically advanced
// cursor. Over N consecutive calls against N eligible instances, each
// instance is selected exactly once; concurrent callers never observe a
// skipped or repeated cursor value.
type RoundRobin struct {
	cursor atomic.Uint64
}

// NewRoundRobin creates a round-robin balancer.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Select picks the next eligible instance in rotation.
func (rr *RoundRobin) Select(targets []routing.Backend) (*routing.Backend, error) {
	candidates := eligible(targets)
	if len(candidates) == 0 {
		return nil, ErrNoHealthyBackend
	}

	idx := (rr.cursor.Add(1) - 1) % uint64(len(candidates))
	selected := candidates[idx]
	return &selected, nil
}

// Done is a no-op for round-robin.
func (rr *RoundRobin) Done(*routing.Backend) {}
