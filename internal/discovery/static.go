package discovery

import (
	"context"

	"edge-router/internal/routing"
)

// StaticProvider emits a fixed set of definitions once and then idles until
// canceled. It backs the declarative route list supplied by configuration.
type StaticProvider struct {
	defs *Definitions
}

// NewStaticProvider creates a provider over config-supplied definitions.
func NewStaticProvider(defs *Definitions) *StaticProvider {
	return &StaticProvider{defs: defs}
}

// Name identifies the provider.
func (p *StaticProvider) Name() string { return "static" }

// Watch emits every definition as an add event and blocks until ctx is
// canceled.
func (p *StaticProvider) Watch(ctx context.Context, events chan<- routing.Event) error {
	for _, ev := range diffDefinitions(nil, p.defs) {
		select {
		case <-ctx.Done():
			return nil
		case events <- ev:
		}
	}

	<-ctx.Done()
	return nil
}
