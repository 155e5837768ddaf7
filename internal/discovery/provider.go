// Package discovery turns external service definitions into a typed stream
// of route table events.
//
// A Provider watches one external source (a static config block, a YAML
// definitions file, or a Redis keyspace) and emits add/update/remove events
// for routes and backend instances. The Watcher drives a provider, applies
// its events to the route table, and restarts the provider with exponential
// backoff when the source fails. Source failures never terminate the
// process; the table keeps serving the last known-good snapshot.
package discovery

import (
	"context"

	"edge-router/internal/routing"
)

// Provider streams discovery events from one external source.
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// Watch emits the source's current definitions as add events, then
	// streams changes until ctx is canceled or the source fails. A nil
	// return means ctx was canceled; any error triggers a backoff
	// restart by the watcher.
	Watch(ctx context.Context, events chan<- routing.Event) error
}

// diffDefinitions compares two route/backend definition sets and returns
// the events that transform prev into next. Providers that can only
// observe full states (file re-reads, Redis scans) use it to emit
// incremental events.
func diffDefinitions(prev, next *Definitions) []routing.Event {
	events := make([]routing.Event, 0)

	prevRoutes := make(map[string]routing.Route)
	if prev != nil {
		for _, r := range prev.Routes {
			prevRoutes[r.ID] = r
		}
	}
	nextRoutes := make(map[string]struct{}, len(next.Routes))

	for _, r := range next.Routes {
		route := r
		nextRoutes[r.ID] = struct{}{}
		if old, ok := prevRoutes[r.ID]; !ok {
			events = append(events, routing.Event{Type: routing.EventAdd, Route: &route})
		} else if old != r {
			events = append(events, routing.Event{Type: routing.EventUpdate, Route: &route})
		}
	}
	for id, r := range prevRoutes {
		if _, ok := nextRoutes[id]; !ok {
			route := r
			events = append(events, routing.Event{Type: routing.EventRemove, Route: &route})
		}
	}

	prevBackends := make(map[string]map[string]routing.Backend)
	if prev != nil {
		for service, svc := range prev.Services {
			prevBackends[service] = make(map[string]routing.Backend, len(svc.Backends))
			for _, b := range svc.Backends {
				prevBackends[service][b.Address] = b
			}
		}
	}

	for service, svc := range next.Services {
		for _, b := range svc.Backends {
			backend := b
			old, ok := prevBackends[service][b.Address]
			if !ok {
				events = append(events, routing.Event{Type: routing.EventAdd, Service: service, Backend: &backend})
			} else if old != b {
				events = append(events, routing.Event{Type: routing.EventUpdate, Service: service, Backend: &backend})
			}
		}
	}
	for service, instances := range prevBackends {
		for addr, b := range instances {
			if !definesBackend(next, service, addr) {
				backend := b
				events = append(events, routing.Event{Type: routing.EventRemove, Service: service, Backend: &backend})
			}
		}
	}

	return events
}

func definesBackend(defs *Definitions, service, address string) bool {
	svc, ok := defs.Services[service]
	if !ok {
		return false
	}
	for _, b := range svc.Backends {
		if b.Address == address {
			return true
		}
	}
	return false
}

// Definitions is the declarative route/service form providers decode from
// their source. It mirrors the validated shape the config collaborator
// supplies.
type Definitions struct {
	Routes   []routing.Route    `json:"routes" yaml:"routes"`
	Services map[string]Service `json:"services" yaml:"services"`
}

// Service groups the backend instances of one target service.
type Service struct {
	Backends []routing.Backend `json:"backends" yaml:"backends"`
}
