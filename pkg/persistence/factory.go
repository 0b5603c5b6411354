package persistence

import (
	"errors"
	"persistkit/pkg/domain"
	"sync"
)

// Factory creates persistence contexts bound to one store and one entity
// registry. It is safe for concurrent use; the contexts it creates are not.
type Factory struct {
	store    domain.Store
	registry *domain.Registry
	opts     options

	mu     sync.Mutex
	closed bool
}

// NewFactory constructs a factory.
func NewFactory(store domain.Store, registry *domain.Registry, opts ...Option) (*Factory, error) {
	if store == nil {
		return nil, errors.New("persistence: store is required")
	}
	if registry == nil {
		return nil, errors.New("persistence: registry is required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Factory{store: store, registry: registry, opts: o}, nil
}

// CreateContext opens a new persistence context.
func (f *Factory) CreateContext() (*Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, domain.ErrFactoryClosed
	}
	c := newContext(f.store, f.registry, f.opts)
	f.opts.logger.Debug("persistence context created", "context", c.id)
	return c, nil
}

// Registry returns the entity registry shared by all contexts.
func (f *Factory) Registry() *domain.Registry { return f.registry }

// Store returns the backing store.
func (f *Factory) Store() domain.Store { return f.store }

// Close stops the factory from creating contexts. Contexts already created
// stay usable until closed. The store is owned by the caller.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return domain.ErrFactoryClosed
	}
	f.closed = true
	return nil
}
