package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Config file names, in lookup order.
const (
	FileName    = "leapmetrics.yaml"
	FileNameAlt = "leapmetrics.yml"
)

// EnvPrefix prefixes environment overrides: LEAPMETRICS_LOG_LEVEL sets
// log_level and LEAPMETRICS_SERVER__ADDR sets server.addr.
const EnvPrefix = "LEAPMETRICS_"

// Default configuration values.
const (
	DefaultStatePath  = ".leapmetrics/history.db"
	DefaultServerAddr = ":8080"
	DefaultLogLevel   = "warn"
	DefaultOutput     = "auto"
)

// maxUpwardSearchLevels limits how far up the directory tree to search for config files.
const maxUpwardSearchLevels = 10

// flagKeys maps flag names to the config keys they override, where the two
// differ.
var flagKeys = map[string]string{
	"project-dir": "project_dir",
	"log-level":   "log_level",
	"addr":        "server.addr",
	"state":       "state.path",
	"jwt-secret":  "server.jwt_secret",
}

// Load reads configuration. cfgFile names an explicit config file; when
// empty the file is searched for upward from the project dir. flags may be
// nil.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(map[string]any{
		"log_level":   DefaultLogLevel,
		"output":      DefaultOutput,
		"state.path":  DefaultStatePath,
		"server.addr": DefaultServerAddr,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	root := projectRoot(flags)
	if cfgFile == "" {
		cfgFile = findConfigFile(root)
	} else if abs, err := filepath.Abs(cfgFile); err == nil && !flagChanged(flags, "project-dir") {
		root = filepath.Dir(abs)
	}
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				key = strings.ReplaceAll(f.Name, "-", "_")
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.ConfigFile = cfgFile

	if cfg.ProjectDir == "" {
		cfg.ProjectDir = root
	} else {
		cfg.ProjectDir = resolvePathRelativeTo(cfg.ProjectDir, root)
	}
	cfg.State.Path = resolvePathRelativeTo(cfg.State.Path, cfg.ProjectDir)
	expandConnections(cfg.Connections)
	cfg.Server.JWTSecret = expandEnvVars(cfg.Server.JWTSecret)

	if err := cfg.validateConnections(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// envKey turns LEAPMETRICS_SERVER__ADDR into server.addr.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func flagChanged(flags *pflag.FlagSet, name string) bool {
	return flags != nil && flags.Lookup(name) != nil && flags.Changed(name)
}

// projectRoot picks the explicit --project-dir, else the nearest directory
// above the working directory holding a config file, else the working
// directory.
func projectRoot(flags *pflag.FlagSet) string {
	if flagChanged(flags, "project-dir") {
		dir, _ := flags.GetString("project-dir")
		if abs, err := filepath.Abs(dir); err == nil {
			return abs
		}
		return filepath.Clean(dir)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	if root := FindProjectRoot(cwd); root != "" {
		return root
	}
	return cwd
}

// findConfigFile returns the config file in dir, or "".
func findConfigFile(dir string) string {
	for _, name := range []string{FileName, FileNameAlt} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// FindProjectRoot walks up from startDir to the first directory holding a
// config file. Returns "" if none is found.
func FindProjectRoot(startDir string) string {
	dir := startDir
	for i := 0; i < maxUpwardSearchLevels; i++ {
		if findConfigFile(dir) != "" {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the variable's value. Unset variables
// are left as written.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if val, ok := os.LookupEnv(match[2 : len(match)-1]); ok {
			return val
		}
		return match
	})
}

func expandConnections(conns []ConnectionConfig) {
	for i := range conns {
		c := &conns[i]
		c.Host = expandEnvVars(c.Host)
		c.Path = expandEnvVars(c.Path)
		c.Database = expandEnvVars(c.Database)
		c.Username = expandEnvVars(c.Username)
		c.Password = expandEnvVars(c.Password)
		c.Account = expandEnvVars(c.Account)
		c.Warehouse = expandEnvVars(c.Warehouse)
		c.Role = expandEnvVars(c.Role)
		c.ProjectID = expandEnvVars(c.ProjectID)
		c.CredentialsJSON = expandEnvVars(c.CredentialsJSON)
		for k, v := range c.Options {
			c.Options[k] = expandEnvVars(v)
		}
	}
}
