package dialect

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Dialect registry
var (
	dialectsMu sync.RWMutex
	dialects   = make(map[string]Dialect)
	aliases    = make(map[string]string)
)

// ErrDialectRequired is returned when a dialect is required but not provided.
var ErrDialectRequired = errors.New("dialect is required")

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Get returns a dialect by name or alias.
func Get(name string) (Dialect, bool) {
	dialectsMu.RLock()
	defer dialectsMu.RUnlock()
	key := normalize(name)
	if canonical, ok := aliases[key]; ok {
		key = canonical
	}
	d, ok := dialects[key]
	return d, ok
}

// MustGet returns a dialect by name and an error naming the registered
// dialects when it is unknown.
func MustGet(name string) (Dialect, error) {
	if name == "" {
		return nil, ErrDialectRequired
	}
	d, ok := Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown query type %q, supported query types are: %s", name, strings.Join(List(), ", "))
	}
	return d, nil
}

// Register registers a dialect in the global registry under its name and
// any extra aliases. Called by dialect implementations in their init() functions.
func Register(d Dialect, extra ...string) {
	dialectsMu.Lock()
	defer dialectsMu.Unlock()
	name := normalize(d.Name())
	dialects[name] = d
	for _, a := range extra {
		aliases[normalize(a)] = name
	}
}

// List returns all registered dialect names (sorted).
func List() []string {
	dialectsMu.RLock()
	defer dialectsMu.RUnlock()
	names := make([]string, 0, len(dialects))
	for name := range dialects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
