// Package balancer provides per-route backend selection strategies.
//
// A Balancer picks one eligible instance from a route's target set on each
// call. Strategies are stateful per route (round-robin cursors, in-flight
// counters), so the dispatcher keeps one Balancer per route and reuses it
// across snapshot rebuilds.
package balancer

import (
	"errors"

	"edge-router/internal/routing"
)

// ErrNoHealthyBackend is returned when every instance in the target set is
// marked unhealthy.
var ErrNoHealthyBackend = errors.New("no healthy backend available")

// ErrUnsupportedStrategy is returned for an unknown strategy name.
var ErrUnsupportedStrategy = errors.New("unsupported load balancing strategy")

// Balancer selects one backend instance from a target set.
type Balancer interface {
	// Select picks an eligible instance, skipping unhealthy ones. It
	// returns ErrNoHealthyBackend when no instance is eligible.
	Select(targets []routing.Backend) (*routing.Backend, error)

	// Done releases any per-request accounting for the instance. It must
	// be called once for every successful Select.
	Done(backend *routing.Backend)
}

// Strategy names accepted by New.
const (
	StrategyRoundRobin       = "round_robin"
	StrategyLeastConnections = "least_connections"
)

// New creates a balancer for the named strategy. An empty name defaults to
// round-robin.
func New(strategy string) (Balancer, error) {
	switch strategy {
	case StrategyRoundRobin, "":
		return NewRoundRobin(), nil
	case StrategyLeastConnections:
		return NewLeastConnections(), nil
	default:
		return nil, ErrUnsupportedStrategy
	}
}

// eligible filters the target set down to selectable instances, preserving
// order.
func eligible(targets []routing.Backend) []routing.Backend {
	out := make([]routing.Backend, 0, len(targets))
	for _, b := range targets {
		if b.Eligible() {
			out = append(out, b)
		}
	}
	return out
}
