// Package routing implements the route table and rule matcher at the core
// of the edge router.
//
// The route table holds an immutable Snapshot of routes and backend
// instances. Discovery and health-check updates are applied through
// Table.Rebuild, which derives a new snapshot copy-on-write and publishes
// it with an atomic pointer swap; request handlers read the latest snapshot
// through Table.Current without locking and keep using it for the lifetime
// of the request even if it is superseded mid-flight.
//
// The Matcher evaluates host and path-prefix predicates against a request
// descriptor in descending specificity order: exact host before wildcard
// host, longer path prefix before shorter, declaration order as the tie
// breaker. Matching is deterministic for a given snapshot.
//
// Example:
//
//	table := routing.NewTable(logger)
//	table.Rebuild([]routing.Event{
//		{Type: routing.EventAdd, Timestamp: time.Now(), Route: &routing.Route{
//			ID: "live", Host: "live.example.test", Service: "live", EntryPoint: "web",
//		}},
//		{Type: routing.EventAdd, Timestamp: time.Now(), Service: "live",
//			Backend: &routing.Backend{Address: "10.0.0.1:8069", Weight: 1}},
//	})
//
//	matcher := routing.NewMatcher()
//	route, ok := matcher.Match(routing.Request{
//		Host: "live.example.test", Path: "/", Method: "GET", EntryPoint: "web",
//	}, table.Current())
package routing
