package adapter

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Pool opens each named connection once and reuses it.
type Pool struct {
	mu       sync.Mutex
	lookup   func(name string) (Config, error)
	logger   *slog.Logger
	adapters map[string]Adapter
}

// NewPool returns a Pool that resolves connection names with lookup.
func NewPool(lookup func(name string) (Config, error), logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pool{lookup: lookup, logger: logger, adapters: make(map[string]Adapter)}
}

// Get returns the connected adapter for the named connection.
func (p *Pool) Get(ctx context.Context, name string) (Adapter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a, ok := p.adapters[name]; ok {
		return a, nil
	}
	cfg, err := p.lookup(name)
	if err != nil {
		return nil, err
	}
	a, err := Connect(ctx, cfg, p.logger)
	if err != nil {
		return nil, err
	}
	p.adapters[name] = a
	return a, nil
}

// Query runs sql on the named connection.
func (p *Pool) Query(ctx context.Context, connection, sql string) (*ResultSet, error) {
	a, err := p.Get(ctx, connection)
	if err != nil {
		return nil, err
	}
	return a.Query(ctx, sql)
}

// Close closes every open connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for name, a := range p.adapters {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(p.adapters, name)
	}
	return errors.Join(errs...)
}
