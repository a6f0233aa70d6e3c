package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

// Factory builds an unconnected adapter. A nil logger discards output.
type Factory func(*slog.Logger) Adapter

// Connection types are matched case-insensitively, so "Snowflake" in a
// project file finds the adapter registered as "snowflake".
var factories = struct {
	sync.RWMutex
	byType map[string]Factory
}{byType: make(map[string]Factory)}

func normalizeType(t string) string { return strings.ToLower(strings.TrimSpace(t)) }

// Register makes factory available for a connection type. Adapter packages
// call it from init; registering a type again replaces the factory.
func Register(connectionType string, factory Factory) {
	factories.Lock()
	defer factories.Unlock()
	factories.byType[normalizeType(connectionType)] = factory
}

// Get returns the factory for a connection type.
func Get(connectionType string) (Factory, bool) {
	factories.RLock()
	defer factories.RUnlock()
	f, ok := factories.byType[normalizeType(connectionType)]
	return f, ok
}

// IsRegistered reports whether connectionType has an adapter.
func IsRegistered(connectionType string) bool {
	_, ok := Get(connectionType)
	return ok
}

// ListAdapters returns the registered connection types in order.
func ListAdapters() []string {
	factories.RLock()
	defer factories.RUnlock()
	types := make([]string, 0, len(factories.byType))
	for t := range factories.byType {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// NewAdapter builds the adapter for cfg.Type without connecting it.
func NewAdapter(cfg Config, logger *slog.Logger) (Adapter, error) {
	if normalizeType(cfg.Type) == "" {
		return nil, errors.New("adapter type not specified")
	}
	factory, ok := Get(cfg.Type)
	if !ok {
		return nil, &UnknownAdapterError{Type: cfg.Type, Available: ListAdapters()}
	}
	return factory(logger), nil
}

// Connect builds the adapter for cfg and opens the connection.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (Adapter, error) {
	a, err := NewAdapter(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := a.Connect(ctx, cfg); err != nil {
		return nil, fmt.Errorf("connection %s: %w", cfg.Name, err)
	}
	return a, nil
}

// UnknownAdapterError reports a connection type no adapter serves.
type UnknownAdapterError struct {
	Type      string
	Available []string
}

func (e *UnknownAdapterError) Error() string {
	return fmt.Sprintf("unknown adapter type %q (available: %s); check the connections section of leapmetrics.yaml",
		e.Type, strings.Join(e.Available, ", "))
}
