package adapters

import (
	"strings"

	"github.com/smallbiznis/paysync/internal/payment/domain"
)

type Registry struct {
	factories map[string]domain.AdapterFactory
	configs   map[string]domain.AdapterConfig
}

func NewRegistry(factories ...domain.AdapterFactory) *Registry {
	registry := &Registry{
		factories: map[string]domain.AdapterFactory{},
		configs:   map[string]domain.AdapterConfig{},
	}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		provider := normalize(factory.Provider())
		if provider == "" {
			continue
		}
		registry.factories[provider] = factory
	}
	return registry
}

// Configure stores the settings used by Adapter for a provider.
func (r *Registry) Configure(cfg domain.AdapterConfig) *Registry {
	provider := normalize(cfg.Provider)
	if provider == "" {
		return r
	}
	cfg.Provider = provider
	r.configs[provider] = cfg
	return r
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	_, ok := r.factories[normalize(provider)]
	return ok
}

func (r *Registry) NewAdapter(provider string, cfg domain.AdapterConfig) (domain.PaymentAdapter, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	factory, ok := r.factories[normalize(provider)]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return factory.NewAdapter(cfg)
}

// Adapter builds the adapter for a provider from its configured settings.
func (r *Registry) Adapter(provider string) (domain.PaymentAdapter, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	provider = normalize(provider)
	cfg, ok := r.configs[provider]
	if !ok {
		if !r.ProviderExists(provider) {
			return nil, domain.ErrProviderNotFound
		}
		return nil, domain.ErrInvalidConfig
	}
	return r.NewAdapter(provider, cfg)
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
