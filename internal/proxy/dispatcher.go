// Package proxy implements the request dispatcher and listener entrypoints.
//
// Each inbound request moves through a fixed lifecycle: accepted, matched
// against the current route table snapshot, forwarded to a balancer-selected
// backend, and completed once the response has been streamed back. Requests
// with no matching route are rejected with a fixed status and never contact
// a backend; a backend connection failure is retried once against a
// different instance of the same target set before the request fails with a
// fixed upstream-error status.
package proxy

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"edge-router/internal/balancer"
	"edge-router/internal/circuitbreaker"
	apperrors "edge-router/internal/common/errors"
	"edge-router/internal/common/logging"
	"edge-router/internal/metrics"
	"edge-router/internal/routing"
)

// Fixed user-visible responses. Internal error detail never leaks into a
// response body.
const (
	noRouteStatus  = http.StatusNotFound
	noRouteBody    = "no available route"
	noHealthyBody  = "service unavailable"
	upstreamStatus = http.StatusBadGateway
	upstreamBody   = "bad gateway"
)

// requestState labels a request's position in the dispatch lifecycle for
// logs.
type requestState string

const (
	stateAccepted   requestState = "accepted"
	stateMatched    requestState = "matched"
	stateForwarding requestState = "forwarding"
	stateCompleted  requestState = "completed"
	stateRejected   requestState = "rejected"
	stateFailed     requestState = "failed"
)

// Config holds dispatcher settings.
type Config struct {
	Strategy         string        // balancer strategy for all routes
	DialTimeout      time.Duration // backend connect timeout
	IdleTimeout      time.Duration // per-stream idle timeout on an active forward
	RetryBufferLimit int           // max request body bytes buffered for failover retry
}

// Dispatcher matches inbound requests against the route table and streams
// them to a selected backend. It implements http.Handler and is shared by
// all entrypoints.
type Dispatcher struct {
	table       *routing.Table
	matcher     *routing.Matcher
	breakers    *circuitbreaker.Manager
	transport   http.RoundTripper
	strategy    string
	bufferLimit int64
	idleTimeout time.Duration
	logger      logging.Logger

	mu        sync.Mutex
	balancers map[string]balancer.Balancer // route ID -> balancer
}

// NewDispatcher creates a dispatcher over the given table.
func NewDispatcher(table *routing.Table, breakers *circuitbreaker.Manager, config Config, logger logging.Logger) *Dispatcher {
	if config.DialTimeout <= 0 {
		config.DialTimeout = 10 * time.Second
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 90 * time.Second
	}
	if config.RetryBufferLimit <= 0 {
		config.RetryBufferLimit = 1 << 20
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Dispatcher{
		table:    table,
		matcher:  routing.NewMatcher(),
		breakers: breakers,
		transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: config.DialTimeout,
			}).DialContext,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConnsPerHost:   32,
			ResponseHeaderTimeout: 30 * time.Second,
		},
		strategy:    config.Strategy,
		bufferLimit: int64(config.RetryBufferLimit),
		idleTimeout: config.IdleTimeout,
		logger:      logger,
		balancers:   make(map[string]balancer.Balancer),
	}
}

// ServeHTTP dispatches one request.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	state := stateAccepted
	requestID := uuid.NewString()
	entrypoint := EntryPointName(r.Context())

	desc := routing.Request{
		Host:       r.Host,
		Path:       r.URL.Path,
		Method:     r.Method,
		EntryPoint: entrypoint,
	}

	snapshot := d.table.Current()
	route, ok := d.matcher.Match(desc, snapshot)
	if !ok {
		state = stateRejected
		rejectErr := apperrors.NoRouteError(desc.Host, desc.Path)
		metrics.RequestsTotal.WithLabelValues(entrypoint, "none", statusClass(noRouteStatus)).Inc()
		d.logger.Debug("No route matched",
			logging.Field{Key: "request_id", Value: requestID},
			logging.Field{Key: "error", Value: rejectErr.Error()},
			logging.Field{Key: "state", Value: string(state)},
		)
		http.Error(w, noRouteBody, noRouteStatus)
		return
	}
	state = stateMatched

	targets := snapshot.Backends(route.Service)
	bal := d.balancerFor(route.ID)

	backend, err := bal.Select(targets)
	if err != nil {
		state = stateFailed
		rejectErr := apperrors.NoHealthyBackendError(route.Service)
		metrics.RequestsTotal.WithLabelValues(entrypoint, route.ID, statusClass(http.StatusServiceUnavailable)).Inc()
		d.logger.Warn("No healthy backend",
			logging.Field{Key: "request_id", Value: requestID},
			logging.Field{Key: "route", Value: route.ID},
			logging.Field{Key: "error", Value: rejectErr.Error()},
			logging.Field{Key: "state", Value: string(state)},
		)
		http.Error(w, noHealthyBody, http.StatusServiceUnavailable)
		return
	}

	// A failover retry must replay the body, so small bodies are buffered
	// up to the configured limit when the target set offers a second
	// instance. Anything else streams straight through without retry
	// eligibility.
	body := io.Reader(r.Body)
	length := r.ContentLength
	canRetry := false
	var replay []byte
	if len(targets) > 1 {
		buf, err := io.ReadAll(io.LimitReader(r.Body, d.bufferLimit+1))
		if err != nil {
			http.Error(w, "unreadable request body", http.StatusBadRequest)
			return
		}
		if int64(len(buf)) <= d.bufferLimit {
			replay = buf
			body = bytes.NewReader(buf)
			length = int64(len(buf))
			canRetry = true
		} else {
			body = io.MultiReader(bytes.NewReader(buf), r.Body)
		}
	}

	state = stateForwarding
	start := time.Now()

	status, err := d.forward(w, r, backend, body, length, requestID)
	bal.Done(backend)

	if err != nil && canRetry {
		// One retry against a different instance of the same target
		// set, if one exists.
		retry, retryErr := d.selectOther(bal, targets, backend.Address)
		if retryErr == nil {
			metrics.RetriesTotal.WithLabelValues(route.Service).Inc()
			d.logger.Debug("Retrying against another instance",
				logging.Field{Key: "request_id", Value: requestID},
				logging.Field{Key: "failed", Value: backend.Address},
				logging.Field{Key: "retry", Value: retry.Address},
			)
			status, err = d.forward(w, r, retry, bytes.NewReader(replay), int64(len(replay)), requestID)
			bal.Done(retry)
		}
	}

	if err != nil {
		state = stateFailed
		metrics.RequestsTotal.WithLabelValues(entrypoint, route.ID, statusClass(upstreamStatus)).Inc()
		d.logger.Warn("Backend unreachable",
			logging.Field{Key: "request_id", Value: requestID},
			logging.Field{Key: "route", Value: route.ID},
			logging.Field{Key: "service", Value: route.Service},
			logging.Field{Key: "error", Value: err.Error()},
			logging.Field{Key: "state", Value: string(state)},
		)
		http.Error(w, upstreamBody, upstreamStatus)
		return
	}

	state = stateCompleted
	metrics.RequestsTotal.WithLabelValues(entrypoint, route.ID, statusClass(status)).Inc()
	metrics.UpstreamLatency.WithLabelValues(route.Service).Observe(time.Since(start).Seconds())

	d.logger.Debug("Request completed",
		logging.Field{Key: "request_id", Value: requestID},
		logging.Field{Key: "route", Value: route.ID},
		logging.Field{Key: "backend", Value: backend.Address},
		logging.Field{Key: "status", Value: status},
		logging.Field{Key: "state", Value: string(state)},
	)
}

// forward sends the request to one backend and streams the response back.
// It returns the upstream status code, or an error when the backend could
// not be reached; once response headers have been written no error is
// returned.
func (d *Dispatcher) forward(w http.ResponseWriter, r *http.Request, backend *routing.Backend, body io.Reader, contentLength int64, requestID string) (int, error) {
	outReq := cloneRequest(r, backend.Address, body, contentLength, requestID)

	var resp *http.Response
	err := d.breakers.Get(backend.Address).Execute(func() error {
		var rtErr error
		resp, rtErr = d.transport.RoundTrip(outReq)
		return rtErr
	})
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return 0, apperrors.TimeoutError(fmt.Sprintf("backend %s timed out", backend.Address), err)
		}
		return 0, apperrors.BackendUnreachableError(backend.Address, err)
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	upstream := newIdleTimeoutReader(resp.Body, d.idleTimeout)
	defer upstream.Stop()

	if _, err := io.Copy(w, upstream); err != nil {
		// Headers are already on the wire; the caller must not retry.
		d.logger.Debug("Response stream interrupted",
			logging.Field{Key: "request_id", Value: requestID},
			logging.Field{Key: "backend", Value: backend.Address},
			logging.Field{Key: "error", Value: err.Error()},
		)
	}

	return resp.StatusCode, nil
}

// idleTimeoutReader closes the wrapped body when no bytes arrive for the
// configured duration, bounding how long a stalled backend can hold an
// active forward open.
type idleTimeoutReader struct {
	rc      io.ReadCloser
	timeout time.Duration
	timer   *time.Timer
}

func newIdleTimeoutReader(rc io.ReadCloser, timeout time.Duration) *idleTimeoutReader {
	r := &idleTimeoutReader{rc: rc, timeout: timeout}
	if timeout > 0 {
		r.timer = time.AfterFunc(timeout, func() { rc.Close() })
	}
	return r
}

func (r *idleTimeoutReader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	if r.timer != nil && err == nil {
		r.timer.Reset(r.timeout)
	}
	return n, err
}

func (r *idleTimeoutReader) Stop() {
	if r.timer != nil {
		r.timer.Stop()
	}
}

// selectOther picks an instance from the target set other than the failed
// one.
func (d *Dispatcher) selectOther(bal balancer.Balancer, targets []routing.Backend, failedAddress string) (*routing.Backend, error) {
	remaining := make([]routing.Backend, 0, len(targets))
	for _, b := range targets {
		if b.Address != failedAddress {
			remaining = append(remaining, b)
		}
	}
	return bal.Select(remaining)
}

// balancerFor returns the route's balancer, creating it on first use.
// Balancers persist across snapshot rebuilds so rotation cursors and
// in-flight counters survive discovery updates.
func (d *Dispatcher) balancerFor(routeID string) balancer.Balancer {
	d.mu.Lock()
	defer d.mu.Unlock()

	if b, ok := d.balancers[routeID]; ok {
		return b
	}
	b, err := balancer.New(d.strategy)
	if err != nil {
		// Unknown strategies are rejected at config validation; this
		// is a safety net only.
		d.logger.Error("Falling back to round robin",
			apperrors.InternalError(fmt.Sprintf("balancer strategy %q", d.strategy), err))
		b = balancer.NewRoundRobin()
	}
	d.balancers[routeID] = b
	return b
}

// cloneRequest builds the outbound request for one forward attempt.
func cloneRequest(r *http.Request, backendAddress string, body io.Reader, contentLength int64, requestID string) *http.Request {
	outReq := r.Clone(r.Context())
	outReq.URL.Scheme = "http"
	outReq.URL.Host = backendAddress
	outReq.RequestURI = ""
	outReq.Body = io.NopCloser(body)
	outReq.ContentLength = contentLength

	removeHopByHopHeaders(outReq.Header)
	outReq.Header.Set("X-Request-Id", requestID)
	outReq.Header.Set("X-Forwarded-Host", r.Host)
	if r.TLS != nil {
		outReq.Header.Set("X-Forwarded-Proto", "https")
	} else {
		outReq.Header.Set("X-Forwarded-Proto", "http")
	}
	if clientIP, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		prior := r.Header.Get("X-Forwarded-For")
		if prior != "" {
			clientIP = prior + ", " + clientIP
		}
		outReq.Header.Set("X-Forwarded-For", clientIP)
	}

	return outReq
}

// Hop-by-hop headers per RFC 7230 section 6.1; they are meaningful for the
// inbound connection only.
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopByHopHeaders(header http.Header) {
	for _, name := range header.Values("Connection") {
		for _, h := range strings.Split(name, ",") {
			header.Del(strings.TrimSpace(h))
		}
	}
	for _, h := range hopByHopHeaders {
		header.Del(h)
	}
}

func copyHeaders(dst, src http.Header) {
	for k, values := range src {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
}

func statusClass(status int) string {
	return fmt.Sprintf("%dxx", status/100)
}
