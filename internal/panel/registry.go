package panel

import (
	"fmt"
	"log/slog"
)

// Factory builds an adapter bound to one panel's credentials.
type Factory func(creds Credentials, logger *slog.Logger) Adapter

// Registry maps panel kinds to adapter factories. It replaces scattered
// string-tag dispatch: the orchestration boundary resolves a kind exactly
// once and everything downstream works against the Adapter interface.
type Registry struct {
	factories map[Kind]Factory
}

// NewRegistry returns a registry with all supported backend families bound.
func NewRegistry() *Registry {
	return &Registry{
		factories: map[Kind]Factory{
			KindMarzban:     newMarzbanAdapter,
			KindMarzneshin:  newMarzneshinAdapter,
			KindXUI:         newXUIAdapter,
			KindHiddify:     newHiddifyAdapter,
			KindWGDashboard: newWGDashboardAdapter,
		},
	}
}

// Register overrides or adds a factory; tests use this to inject fakes.
func (r *Registry) Register(kind Kind, factory Factory) {
	r.factories[kind] = factory
}

// Resolve builds an adapter for the given kind and credentials.
func (r *Registry) Resolve(kind Kind, creds Credentials, logger *slog.Logger) (Adapter, error) {
	factory, ok := r.factories[kind]
	if !ok {
		return nil, fmt.Errorf("panel: unknown kind %q", kind)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return factory(creds, logger), nil
}
