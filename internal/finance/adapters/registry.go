package adapters

import (
	"strings"

	"github.com/AlexProc13/external-payment/internal/finance/domain"
)

// Registry holds the static set of adapter factories, keyed by provider
// code. Providers are resolved from validated database rows, never from
// identifiers carried in request payloads.
type Registry struct {
	factories map[string]domain.Factory
}

// NewRegistry builds a registry from the given factories.
func NewRegistry(factories ...domain.Factory) *Registry {
	index := make(map[string]domain.Factory, len(factories))
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		code := strings.ToLower(strings.TrimSpace(factory.Provider()))
		if code == "" {
			continue
		}
		index[code] = factory
	}
	return &Registry{factories: index}
}

// ProviderExists reports whether a factory is registered for the code.
func (r *Registry) ProviderExists(code string) bool {
	if r == nil {
		return false
	}
	_, ok := r.factories[strings.ToLower(strings.TrimSpace(code))]
	return ok
}

// NewAdapter builds an adapter for the provider code.
func (r *Registry) NewAdapter(code string, cfg domain.AdapterConfig) (domain.Adapter, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	factory, ok := r.factories[strings.ToLower(strings.TrimSpace(code))]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return factory.NewAdapter(cfg)
}
