package balancer

import (
	"sync"

	"edge-router/internal/routing"
)

// LeastConnections selects the eligible instance with the fewest in-flight
// requests. Ties are broken in round-robin order so that equally loaded
// instances share traffic evenly. Callers must invoke Done once the request
// completes to release the in-flight slot.
type LeastConnections struct {
	mu       sync.Mutex
	inflight map[string]int // backend address -> in-flight requests
	tiebreak uint64
}

// NewLeastConnections creates a least-connections balancer.
func NewLeastConnections() *LeastConnections {
	return &LeastConnections{
		inflight: make(map[string]int),
	}
}

// Select picks the eligible instance with the fewest in-flight requests and
// increments its counter.
func (lc *LeastConnections) Select(targets []routing.Backend) (*routing.Backend, error) {
	candidates := eligible(targets)
	if len(candidates) == 0 {
		return nil, ErrNoHealthyBackend
	}

	lc.mu.Lock()
	defer lc.mu.Unlock()

	min := -1
	ties := make([]int, 0, len(candidates))
	for i, b := range candidates {
		n := lc.inflight[b.Address]
		switch {
		case min == -1 || n < min:
			min = n
			ties = ties[:0]
			ties = append(ties, i)
		case n == min:
			ties = append(ties, i)
		}
	}

	idx := ties[int(lc.tiebreak%uint64(len(ties)))]
	lc.tiebreak++

	selected := candidates[idx]
	lc.inflight[selected.Address]++
	return &selected, nil
}

// Done releases the in-flight slot acquired by Select.
func (lc *LeastConnections) Done(backend *routing.Backend) {
	if backend == nil {
		return
	}

	lc.mu.Lock()
	defer lc.mu.Unlock()

	if n := lc.inflight[backend.Address]; n > 1 {
		lc.inflight[backend.Address] = n - 1
	} else {
		delete(lc.inflight, backend.Address)
	}
}
