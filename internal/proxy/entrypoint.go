package proxy

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"
)

type entryPointKey struct{}

// EntryPointName returns the name of the listener a request arrived on, or
// "" when the request did not pass through an entrypoint.
func EntryPointName(ctx context.Context) string {
	name, _ := ctx.Value(entryPointKey{}).(string)
	return name
}

// EntryPoint is one named network listener. Every entrypoint shares the
// dispatcher; the listener name travels with the request so routes can be
// pinned to one entrypoint.
type EntryPoint struct {
	name    string
	srv     *http.Server
	tlsCert string
	tlsKey  string
}

// NewEntryPoint creates a listener on addr. When both tlsCert and tlsKey
// are set, the listener terminates TLS; otherwise it accepts plaintext.
func NewEntryPoint(name, addr string, handler http.Handler, idleTimeout time.Duration, tlsCert, tlsKey string) *EntryPoint {
	if idleTimeout <= 0 {
		idleTimeout = 120 * time.Second
	}

	wrapped := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), entryPointKey{}, name)
		handler.ServeHTTP(w, r.WithContext(ctx))
	})

	return &EntryPoint{
		name: name,
		srv: &http.Server{
			Addr:        addr,
			Handler:     wrapped,
			ReadTimeout: 30 * time.Second,
			IdleTimeout: idleTimeout,
		},
		tlsCert: tlsCert,
		tlsKey:  tlsKey,
	}
}

// Name returns the entrypoint name.
func (e *EntryPoint) Name() string { return e.name }

// Addr returns the configured listen address.
func (e *EntryPoint) Addr() string { return e.srv.Addr }

// Start begins serving in a goroutine. Listener failures other than a
// graceful shutdown are reported on errCh.
func (e *EntryPoint) Start(errCh chan<- error) {
	go func() {
		var err error
		if e.tlsCert != "" && e.tlsKey != "" {
			e.srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			err = e.srv.ListenAndServeTLS(e.tlsCert, e.tlsKey)
		} else {
			err = e.srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
}

// Shutdown stops accepting connections and drains in-flight requests until
// ctx expires. It returns ctx.Err() when the drain deadline passes with
// connections still open.
func (e *EntryPoint) Shutdown(ctx context.Context) error {
	return e.srv.Shutdown(ctx)
}
