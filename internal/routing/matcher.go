package routing

import (
	"net"
	"strings"
)

// Matcher evaluates routing predicates against request descriptors.
//
// Routes are ranked by descending specificity: an exact host match beats a
// wildcard host match, and within the same host class a longer path prefix
// beats a shorter one. Ties are broken by route declaration order, so
// matching is deterministic for a given snapshot.
type Matcher struct{}

// NewMatcher creates a matcher.
func NewMatcher() *Matcher {
	return &Matcher{}
}

// Match returns the most specific route in the snapshot that matches the
// request, or false when no route matches. It is a pure function of its
// inputs and safe for concurrent use.
func (m *Matcher) Match(req Request, snapshot *Snapshot) (*Route, bool) {
	host := normalizeHost(req.Host)
	path := req.Path
	if path == "" {
		path = "/"
	}

	var (
		best          *Route
		bestExactHost bool
		bestPrefixLen int
	)

	for _, route := range snapshot.Routes() {
		if route.EntryPoint != "" && req.EntryPoint != "" && route.EntryPoint != req.EntryPoint {
			continue
		}

		exactHost, hostOK := matchHost(route.Host, host)
		if !hostOK {
			continue
		}

		prefix := route.PathPrefix
		if prefix == "" {
			prefix = "/"
		}
		if !matchPathPrefix(prefix, path) {
			continue
		}

		// Earlier declarations win ties, so only a strictly more
		// specific route replaces the current best.
		if best == nil || moreSpecific(exactHost, len(prefix), bestExactHost, bestPrefixLen) {
			best = route
			bestExactHost = exactHost
			bestPrefixLen = len(prefix)
		}
	}

	if best == nil {
		return nil, false
	}
	return best, true
}

func moreSpecific(exactHost bool, prefixLen int, bestExactHost bool, bestPrefixLen int) bool {
	if exactHost != bestExactHost {
		return exactHost
	}
	return prefixLen > bestPrefixLen
}

// matchHost matches a request host against a route host pattern. The first
// return value reports whether the match was exact rather than wildcard.
func matchHost(pattern, host string) (exact bool, ok bool) {
	pattern = strings.ToLower(pattern)

	if !strings.HasPrefix(pattern, "*.") {
		return true, pattern == host
	}

	// "*.example.test" matches one additional label, not the apex.
	suffix := pattern[1:] // ".example.test"
	if !strings.HasSuffix(host, suffix) {
		return false, false
	}
	label := host[:len(host)-len(suffix)]
	return false, label != "" && !strings.Contains(label, ".")
}

// matchPathPrefix reports whether path falls under prefix on a path
// segment boundary.
func matchPathPrefix(prefix, path string) bool {
	if prefix == "/" {
		return true
	}
	prefix = strings.TrimSuffix(prefix, "/")
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

// normalizeHost lowercases the host and strips any port.
func normalizeHost(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(host)
}
