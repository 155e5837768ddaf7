package routing

import (
	"fmt"
	"time"

	apperrors "edge-router/internal/common/errors"
)

// HealthState describes the probe-derived eligibility of a backend instance.
type HealthState int

const (
	// HealthUnknown means the instance has not been probed yet. Unknown
	// instances remain eligible for selection.
	HealthUnknown HealthState = iota
	// HealthHealthy means the last probe passed
	HealthHealthy
	// HealthUnhealthy means the instance exceeded the failure threshold
	HealthUnhealthy
)

// String returns the string representation of a health state
func (s HealthState) String() string {
	switch s {
	case HealthHealthy:
		return "healthy"
	case HealthUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Backend represents one network-addressable replica of a service.
type Backend struct {
	Address string      `json:"address" yaml:"address"` // host:port
	Weight  int         `json:"weight" yaml:"weight"`
	Health  HealthState `json:"health" yaml:"-"`
}

// Eligible reports whether the instance may be selected for traffic.
func (b Backend) Eligible() bool {
	return b.Health != HealthUnhealthy
}

// Route maps a host/path predicate to a target service on an entrypoint.
//
// Host is either an exact hostname ("live.example.test") or a single-level
// wildcard ("*.example.test"). PathPrefix narrows the match to paths under
// the prefix; an empty prefix is treated as "/". EntryPoint restricts the
// route to one listener; empty means any listener.
type Route struct {
	ID         string `json:"id" yaml:"id"`
	Host       string `json:"host" yaml:"host"`
	PathPrefix string `json:"path_prefix" yaml:"path_prefix"`
	Service    string `json:"service" yaml:"service"`
	EntryPoint string `json:"entrypoint" yaml:"entrypoint"`
}

// Request is the descriptor the matcher evaluates for an inbound request.
// It is built per connection and discarded once the response completes.
type Request struct {
	Host       string
	Path       string
	Method     string
	EntryPoint string
}

// EventType identifies the kind of discovery event
type EventType int

const (
	// EventAdd introduces a new route or backend instance
	EventAdd EventType = iota
	// EventUpdate replaces an existing route or backend instance
	EventUpdate
	// EventRemove withdraws a route or backend instance
	EventRemove
)

// String returns the string representation of an event type
func (t EventType) String() string {
	switch t {
	case EventAdd:
		return "add"
	case EventUpdate:
		return "update"
	case EventRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Event is a typed discovery notification about a route or a backend
// instance. Exactly one of Route or Backend is set: route events carry
// Route, backend events carry Service plus Backend.
type Event struct {
	Type      EventType
	Route     *Route
	Service   string
	Backend   *Backend
	Timestamp time.Time
}

// Validate reports whether the event is well formed. Malformed events must
// never reach the route table; callers drop them with a diagnostic.
func (e Event) Validate() error {
	switch e.Type {
	case EventAdd, EventUpdate, EventRemove:
	default:
		return apperrors.MalformedEventError(fmt.Sprintf("unknown event type %d", int(e.Type)))
	}

	if e.Route == nil && e.Backend == nil {
		return apperrors.MalformedEventError("event carries neither route nor backend")
	}
	if e.Route != nil && e.Backend != nil {
		return apperrors.MalformedEventError("event carries both route and backend")
	}

	if e.Route != nil {
		if e.Route.ID == "" {
			return apperrors.MalformedEventError("route event missing route ID")
		}
		if e.Route.Host == "" && e.Type != EventRemove {
			return apperrors.MalformedEventError(fmt.Sprintf("route %q missing host predicate", e.Route.ID))
		}
		if e.Route.Service == "" && e.Type != EventRemove {
			return apperrors.MalformedEventError(fmt.Sprintf("route %q missing target service", e.Route.ID))
		}
	}

	if e.Backend != nil {
		if e.Service == "" {
			return apperrors.MalformedEventError("backend event missing service name")
		}
		if e.Backend.Address == "" {
			return apperrors.MalformedEventError(fmt.Sprintf("backend event for service %q missing address", e.Service))
		}
	}

	return nil
}
