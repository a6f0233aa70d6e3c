// Package config loads leapmetrics.yaml. Values are layered with koanf:
// defaults, then the config file, then LEAPMETRICS_ environment variables,
// then explicitly set command-line flags.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/adapter"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/leapstack-labs/leapmetrics/pkg/validate"
)

// Config is the project configuration.
type Config struct {
	ProjectDir   string             `koanf:"project_dir"`
	LogLevel     string             `koanf:"log_level"`
	Timezone     string             `koanf:"timezone"`
	WeekStartDay string             `koanf:"week_start_day"`
	Env          string             `koanf:"env"`
	Output       string             `koanf:"output"`
	Connections  []ConnectionConfig `koanf:"connections"`
	Server       ServerConfig       `koanf:"server"`
	State        StateConfig        `koanf:"state"`
	Validate     ValidateConfig     `koanf:"validate"`

	// ConfigFile is the file the config was read from, if any.
	ConfigFile string `koanf:"-"`
}

// ConnectionConfig is a named warehouse connection.
type ConnectionConfig = core.ConnectionConfig

// ServerConfig configures `leapmetrics serve`.
type ServerConfig struct {
	Addr        string   `koanf:"addr"`
	JWTSecret   string   `koanf:"jwt_secret"`
	CORSOrigins []string `koanf:"cors_origins"`
	// RateLimit is the sustained number of query requests per second; zero
	// disables limiting.
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`
}

// StateConfig locates the query history database.
type StateConfig struct {
	Path string `koanf:"path"`
}

// ValidateConfig adjusts validation rules.
type ValidateConfig struct {
	DisabledRules     []string          `koanf:"disabled_rules"`
	SeverityOverrides map[string]string `koanf:"severity_overrides"`
}

// Connection returns the connection with the given name.
func (c *Config) Connection(name string) (ConnectionConfig, error) {
	for _, conn := range c.Connections {
		if conn.Name == name {
			return conn, nil
		}
	}
	names := make([]string, len(c.Connections))
	for i, conn := range c.Connections {
		names[i] = conn.Name
	}
	return ConnectionConfig{}, fmt.Errorf("connection %q not found in %s (available: %s)",
		name, c.fileLabel(), strings.Join(names, ", "))
}

// ConnectionTypes maps connection names to their type, the form the
// project uses to pick a dialect per model.
func (c *Config) ConnectionTypes() map[string]string {
	out := make(map[string]string, len(c.Connections))
	for _, conn := range c.Connections {
		out[conn.Name] = strings.ToLower(conn.Type)
	}
	return out
}

// ValidationConfig converts the validate section into analyzer settings.
func (c *Config) ValidationConfig() (*validate.Config, error) {
	vc := validate.NewConfig()
	for _, id := range c.Validate.DisabledRules {
		vc.Disable(id)
	}
	for id, s := range c.Validate.SeverityOverrides {
		sev, err := validate.ParseSeverity(s)
		if err != nil {
			return nil, fmt.Errorf("validate.severity_overrides.%s: %w", id, err)
		}
		vc.SetSeverity(id, sev)
	}
	return vc, nil
}

// SlogLevel parses log_level, defaulting to warn.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// validateConnections checks the connection list.
func (c *Config) validateConnections() error {
	seen := make(map[string]bool)
	for i, conn := range c.Connections {
		if conn.Name == "" {
			return fmt.Errorf("connections.%d is missing the required key name", i)
		}
		if seen[conn.Name] {
			return fmt.Errorf("connection %s is declared more than once", conn.Name)
		}
		seen[conn.Name] = true
		if conn.Type == "" {
			return fmt.Errorf("connection %s is missing the required key type", conn.Name)
		}
		if !adapter.IsRegistered(strings.ToLower(conn.Type)) {
			return &adapter.UnknownAdapterError{Type: conn.Type, Available: adapter.ListAdapters()}
		}
	}
	return nil
}

func (c *Config) fileLabel() string {
	if c.ConfigFile != "" {
		return c.ConfigFile
	}
	return FileName
}
