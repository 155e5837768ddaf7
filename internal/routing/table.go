package routing

import (
	"sync"
	"sync/atomic"
	"time"

	"edge-router/internal/common/logging"
)

// Snapshot is an immutable point-in-time view of the route table. A
// snapshot is constructed once during a rebuild and never mutated after
// publication, so readers need no locking. In-flight requests may keep
// using a superseded snapshot until they complete.
type Snapshot struct {
	revision uint64
	routes   []*Route             // declaration order, preserved across rebuilds
	backends map[string][]Backend // service name -> instances
}

// Revision returns the monotonically increasing snapshot revision.
func (s *Snapshot) Revision() uint64 {
	return s.revision
}

// Routes returns the routes in declaration order. The returned slice must
// not be modified.
func (s *Snapshot) Routes() []*Route {
	return s.routes
}

// Backends returns the instances registered for a service. The returned
// slice must not be modified.
func (s *Snapshot) Backends(service string) []Backend {
	return s.backends[service]
}

// Services returns the names of all services with registered instances.
func (s *Snapshot) Services() []string {
	names := make([]string, 0, len(s.backends))
	for name := range s.backends {
		names = append(names, name)
	}
	return names
}

// Table holds the currently published snapshot and rebuilds it from
// discovery events. Rebuilds are copy-on-write: a new snapshot is derived
// from the previous one plus the applied events, then published with an
// atomic pointer swap. Current never blocks and never observes a partial
// update.
type Table struct {
	snapshot atomic.Pointer[Snapshot]

	// mu serializes rebuilds; readers never take it.
	mu        sync.Mutex
	lastWrite map[string]time.Time // route ID -> timestamp of last applied write
	logger    logging.Logger
}

// NewTable creates a route table with an empty published snapshot.
func NewTable(logger logging.Logger) *Table {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	t := &Table{
		lastWrite: make(map[string]time.Time),
		logger:    logger,
	}
	t.snapshot.Store(&Snapshot{
		backends: make(map[string][]Backend),
	})
	return t
}

// Current returns the latest published snapshot. It is safe for concurrent
// use and never blocks.
func (t *Table) Current() *Snapshot {
	return t.snapshot.Load()
}

// Rebuild applies a sequence of discovery events to the current snapshot
// and publishes the result. Events must already be validated; Rebuild
// resolves conflicting route writes by last-writer-wins on the event
// timestamp and logs dropped writes as warnings.
func (t *Table) Rebuild(events []Event) *Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.snapshot.Load()
	next := &Snapshot{
		revision: prev.revision + 1,
		routes:   make([]*Route, len(prev.routes)),
		backends: make(map[string][]Backend, len(prev.backends)),
	}
	copy(next.routes, prev.routes)
	for service, instances := range prev.backends {
		next.backends[service] = append([]Backend(nil), instances...)
	}

	for _, ev := range events {
		if ev.Route != nil {
			t.applyRouteEvent(next, ev)
		} else {
			applyBackendEvent(next, ev)
		}
	}

	t.snapshot.Store(next)
	return next
}

func (t *Table) applyRouteEvent(s *Snapshot, ev Event) {
	idx := -1
	for i, r := range s.routes {
		if r.ID == ev.Route.ID {
			idx = i
			break
		}
	}

	switch ev.Type {
	case EventAdd, EventUpdate:
		// Two discovery sources may race on the same route ID; the
		// write with the newest timestamp wins.
		if last, ok := t.lastWrite[ev.Route.ID]; ok && ev.Timestamp.Before(last) {
			t.logger.Warn("Dropping stale route write",
				logging.Field{Key: "route", Value: ev.Route.ID},
				logging.Field{Key: "event_time", Value: ev.Timestamp},
				logging.Field{Key: "last_write", Value: last},
			)
			return
		}
		t.lastWrite[ev.Route.ID] = ev.Timestamp

		routeCopy := *ev.Route
		if idx >= 0 {
			s.routes[idx] = &routeCopy
		} else {
			s.routes = append(s.routes, &routeCopy)
		}
	case EventRemove:
		if idx >= 0 {
			s.routes = append(s.routes[:idx], s.routes[idx+1:]...)
		}
		delete(t.lastWrite, ev.Route.ID)
	}
}

func applyBackendEvent(s *Snapshot, ev Event) {
	instances := s.backends[ev.Service]
	idx := -1
	for i, b := range instances {
		if b.Address == ev.Backend.Address {
			idx = i
			break
		}
	}

	switch ev.Type {
	case EventAdd, EventUpdate:
		if idx >= 0 {
			instances[idx] = *ev.Backend
		} else {
			instances = append(instances, *ev.Backend)
		}
		s.backends[ev.Service] = instances
	case EventRemove:
		if idx >= 0 {
			instances = append(instances[:idx], instances[idx+1:]...)
		}
		if len(instances) == 0 {
			delete(s.backends, ev.Service)
		} else {
			s.backends[ev.Service] = instances
		}
	}
}
