// Package validate statically checks a semantic layer project.
//
// Rules are registered per object kind and run by an Analyzer over every
// model, view, field, identifier, topic and dashboard of a project. Nothing
// is executed against a warehouse. A failing object never stops the checks
// of its siblings; the one exception is a join graph that cannot be built,
// which ends the run with that single error.
//
// Rules live in the rules subpackage and register themselves on import:
//
//	import _ "github.com/leapstack-labs/leapmetrics/pkg/validate/rules"
package validate

import (
	"fmt"
	"strings"
)

// Severity indicates the importance of a diagnostic.
type Severity int

// Severity levels for diagnostics.
const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a severity name.
func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSeverity parses "error" or "warning".
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(s) {
	case "error":
		return SeverityError, nil
	case "warning", "warn":
		return SeverityWarning, nil
	}
	return SeverityError, fmt.Errorf("unknown severity %q", s)
}

// WarningPrefix starts the message of every warning.
const WarningPrefix = "Warning:"

// Diagnostic is one validation finding.
type Diagnostic struct {
	RuleID   string   `json:"rule_id"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	File     string   `json:"file,omitempty"`
	Line     int      `json:"line,omitempty"`
	Column   int      `json:"column,omitempty"`

	ModelName     string `json:"model_name,omitempty"`
	ViewName      string `json:"view_name,omitempty"`
	FieldName     string `json:"field_name,omitempty"`
	TopicName     string `json:"topic_name,omitempty"`
	DashboardName string `json:"dashboard_name,omitempty"`
}

// IsWarning reports whether d is a warning.
func (d Diagnostic) IsWarning() bool { return strings.HasPrefix(d.Message, WarningPrefix) }

// Config controls which rules run and their severity.
type Config struct {
	// DisabledRules contains rule IDs to skip
	DisabledRules map[string]bool

	// SeverityOverrides changes the default severity of rules
	SeverityOverrides map[string]Severity
}

// NewConfig creates a default configuration with all rules enabled.
func NewConfig() *Config {
	return &Config{
		DisabledRules:     make(map[string]bool),
		SeverityOverrides: make(map[string]Severity),
	}
}

// IsDisabled returns true if the rule should be skipped.
func (c *Config) IsDisabled(ruleID string) bool {
	if c == nil {
		return false
	}
	return c.DisabledRules[ruleID]
}

// GetSeverity returns the severity for a rule, applying any override.
func (c *Config) GetSeverity(ruleID string, defaultSeverity Severity) Severity {
	if c != nil {
		if sev, ok := c.SeverityOverrides[ruleID]; ok {
			return sev
		}
	}
	return defaultSeverity
}

// Disable disables a rule by ID.
func (c *Config) Disable(ruleID string) *Config {
	c.DisabledRules[ruleID] = true
	return c
}

// SetSeverity overrides the severity for a rule.
func (c *Config) SetSeverity(ruleID string, severity Severity) *Config {
	c.SeverityOverrides[ruleID] = severity
	return c
}
