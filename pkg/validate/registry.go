package validate

import (
	"sort"
	"sync"
)

// Kind is the object kind a rule checks.
type Kind string

// Object kinds, in the order the analyzer visits them.
const (
	KindProject    Kind = "project"
	KindModel      Kind = "model"
	KindView       Kind = "view"
	KindField      Kind = "field"
	KindIdentifier Kind = "identifier"
	KindTopic      Kind = "topic"
	KindDashboard  Kind = "dashboard"
)

// Kinds lists every object kind.
var Kinds = []Kind{KindProject, KindModel, KindView, KindField, KindIdentifier, KindTopic, KindDashboard}

// Check inspects the current object of ctx.
type Check func(ctx *Context) []Diagnostic

// RuleDef is a registered validation rule.
type RuleDef struct {
	ID          string   // Unique identifier, e.g., "VF03"
	Name        string   // Human-readable name, e.g., "field-type"
	Kind        Kind     // Object kind the rule runs on
	Description string   // Human-readable description
	Severity    Severity // Default severity
	Check       Check
}

var globalRegistry = &registry{rules: make(map[string]RuleDef)}

type registry struct {
	mu    sync.RWMutex
	rules map[string]RuleDef
}

// Register adds a rule to the global registry.
// Call this from init() functions in rule packages.
func Register(rule RuleDef) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	globalRegistry.rules[rule.ID] = rule
}

// GetAll returns all registered rules sorted by ID.
func GetAll() []RuleDef {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	rules := make([]RuleDef, 0, len(globalRegistry.rules))
	for _, rule := range globalRegistry.rules {
		rules = append(rules, rule)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules
}

// GetByID returns a rule by its ID.
func GetByID(id string) (RuleDef, bool) {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()
	rule, ok := globalRegistry.rules[id]
	return rule, ok
}

// GetByKind returns the rules of one kind sorted by ID.
func GetByKind(kind Kind) []RuleDef {
	var out []RuleDef
	for _, rule := range GetAll() {
		if rule.Kind == kind {
			out = append(out, rule)
		}
	}
	return out
}

// Count returns the number of registered rules.
func Count() int {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()
	return len(globalRegistry.rules)
}
